package chat

import (
	"regexp"
	"strings"
)

// Masker replaces personal data in visitor messages before they leave the process.
// Patterns run from most to least specific so a card number is not masked as a phone.
type Masker struct {
	rules []maskRule
}

type maskRule struct {
	re      *regexp.Regexp
	replace func(match string) string
}

func fixed(s string) func(string) string {
	return func(string) string { return s }
}

// NewMasker returns a Masker for emails, card numbers, SSNs, passport numbers and phones.
func NewMasker() *Masker {
	return &Masker{rules: []maskRule{
		{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), maskEmail},
		{regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), fixed("**** **** **** ****")},
		{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), fixed("***-**-****")},
		{regexp.MustCompile(`\b\d{4}\s\d{6}\b`), fixed("**** ******")},
		{regexp.MustCompile(`(?:\+7|\b8)[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{2}[-.\s]?\d{2}\b`), fixed("+7 (***) ***-**-**")},
		{regexp.MustCompile(`\+\d{10,15}\b`), fixed("+*** *** *** ***")},
		{regexp.MustCompile(`\b\d{10,15}\b`), fixed("*** *** *** ***")},
	}}
}

func maskEmail(email string) string {
	user, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***@***.com"
	}
	if len(user) > 2 {
		return user[:2] + "***@" + domain
	}
	return "***@" + domain
}

// Mask returns text with personal data replaced and the number of replacements.
func (m *Masker) Mask(text string) (string, int) {
	n := 0
	for _, r := range m.rules {
		text = r.re.ReplaceAllStringFunc(text, func(match string) string {
			n++
			return r.replace(match)
		})
	}
	return text, n
}
