package tenant

import "strings"

// Model is a generation model a request may select.
type Model string

const (
	// ModelLite is the default model.
	ModelLite Model = "gpt-4o-mini"
	// ModelPro is the higher quality model.
	ModelPro Model = "gpt-4o"
)

// ParseModel accepts a model name or a mode alias ("lite", "pro"). Anything else is rejected.
func ParseModel(s string) (Model, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModelLite), "lite":
		return ModelLite, true
	case string(ModelPro), "pro":
		return ModelPro, true
	}
	return "", false
}

// Mode returns the mode alias of m.
func (m Model) Mode() string {
	if m == ModelPro {
		return "pro"
	}
	return "lite"
}

// Or returns m, or fallback when m is empty.
func (m Model) Or(fallback Model) Model {
	if m == "" {
		return fallback
	}
	return m
}
