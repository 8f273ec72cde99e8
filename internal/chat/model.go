package chat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/tenant"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// ModelFile holds the per-tenant generation model choice.
const ModelFile = "model_config.json"

// AvailableModels lists the selectable models with their display names.
var AvailableModels = map[tenant.Model]string{
	tenant.ModelLite: "LITE (fast and economical)",
	tenant.ModelPro:  "PRO (more capable and accurate)",
}

// ModelConfig is the tenant's model selection as returned to the dashboard.
type ModelConfig struct {
	Model           tenant.Model            `json:"model"`
	Mode            string                  `json:"mode"`
	CurrentName     string                  `json:"current_model_name"`
	AvailableModels map[tenant.Model]string `json:"available_models"`
}

type modelFile struct {
	Model           string         `json:"model"`
	Mode            string         `json:"mode,omitempty"`
	AvailableModels []tenant.Model `json:"available_models,omitempty"`
}

// ModelStore reads and writes model_config.json under the tenant data root.
type ModelStore struct {
	mu       sync.Mutex
	fallback tenant.Model
	logger   *zap.Logger
}

// NewModelStore returns a store that answers fallback when a tenant has not chosen a model.
func NewModelStore(fallback tenant.Model, logger *zap.Logger) *ModelStore {
	if _, ok := AvailableModels[fallback]; !ok {
		fallback = tenant.ModelLite
	}
	return &ModelStore{fallback: fallback, logger: utils.LoggerOrNop(logger)}
}

func modelPath(ctx context.Context) (string, error) {
	root, err := tenant.DataRoot(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, ModelFile), nil
}

// Stored returns the tenant's saved model, or the fallback.
func (s *ModelStore) Stored(ctx context.Context) (tenant.Model, error) {
	path, err := modelPath(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var f modelFile
	if err := utils.ReadJSON(path, &f); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("unreadable model config, using default",
				zap.String("tenant", tenant.ID(ctx)), zap.Error(err))
		}
		return s.fallback, nil
	}
	raw := f.Model
	if raw == "" {
		raw = f.Mode
	}
	m, ok := tenant.ParseModel(raw)
	if !ok {
		return s.fallback, nil
	}
	return m, nil
}

// Effective returns the per-request model override when present, else the stored model.
func (s *ModelStore) Effective(ctx context.Context) (tenant.Model, error) {
	tc, err := tenant.FromContext(ctx)
	if err != nil {
		return "", err
	}
	if tc.Model != "" {
		return tc.Model, nil
	}
	return s.Stored(ctx)
}

// Config returns the dashboard view of the tenant's model selection.
func (s *ModelStore) Config(ctx context.Context) (ModelConfig, error) {
	m, err := s.Stored(ctx)
	if err != nil {
		return ModelConfig{}, err
	}
	return ModelConfig{Model: m, Mode: m.Mode(), CurrentName: AvailableModels[m], AvailableModels: AvailableModels}, nil
}

// Set saves the tenant's model. raw may be a model name or a mode alias.
func (s *ModelStore) Set(ctx context.Context, raw string) (ModelConfig, error) {
	m, ok := tenant.ParseModel(raw)
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: unknown model %q", kb.ErrInvalid, raw)
	}
	path, err := modelPath(ctx)
	if err != nil {
		return ModelConfig{}, err
	}
	s.mu.Lock()
	err = utils.WriteJSONAtomic(path, modelFile{
		Model:           string(m),
		Mode:            m.Mode(),
		AvailableModels: []tenant.Model{tenant.ModelLite, tenant.ModelPro},
	})
	s.mu.Unlock()
	if err != nil {
		return ModelConfig{}, fmt.Errorf("failed to write model config: %w", err)
	}
	return s.Config(ctx)
}
