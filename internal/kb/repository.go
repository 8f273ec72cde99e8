package kb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// Repository persists knowledge base documents. Implementations must be safe for
// concurrent use; read-modify-write sequences are serialized by Manager.
type Repository interface {
	ListInfos(ctx context.Context, root string) ([]Info, error)
	GetInfo(ctx context.Context, loc Location) (Info, error)
	PutInfo(ctx context.Context, loc Location, info Info) error
	Delete(ctx context.Context, loc Location) error

	Entries(ctx context.Context, loc Location) ([]models.Entry, error)
	PutEntries(ctx context.Context, loc Location, entries []models.Entry) error

	Settings(ctx context.Context, loc Location) (Settings, error)
	PutSettings(ctx context.Context, loc Location, s Settings) error

	CurrentID(ctx context.Context, root string) (string, error)
	SetCurrentID(ctx context.Context, root, id string) error
}

// FileRepository keeps each knowledge base as JSON files under <root>/knowledge_bases/<id>/.
type FileRepository struct{}

// NewFileRepository returns a FileRepository.
func NewFileRepository() *FileRepository {
	return &FileRepository{}
}

var _ Repository = (*FileRepository)(nil)

// ListInfos returns the metadata of every knowledge base directory under root, sorted by
// creation time. Directories without readable metadata are listed by id only.
func (r *FileRepository) ListInfos(ctx context.Context, root string) ([]Info, error) {
	dirents, err := os.ReadDir(BasesDir(root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	infos := make([]Info, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() || !ValidID(d.Name()) {
			continue
		}
		info, err := r.GetInfo(ctx, Location{Root: root, ID: d.Name()})
		if err != nil {
			info = Info{ID: d.Name(), Name: d.Name(), AnalyzeClients: true}
		}
		infos = append(infos, info)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].ID == DefaultID || infos[j].ID == DefaultID {
			return infos[i].ID == DefaultID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos, nil
}

// GetInfo reads kb_info.json. A missing knowledge base directory is ErrNotFound.
func (r *FileRepository) GetInfo(ctx context.Context, loc Location) (Info, error) {
	if _, err := os.Stat(loc.Dir()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, fmt.Errorf("knowledge base %s: %w", loc.ID, ErrNotFound)
		}
		return Info{}, fmt.Errorf("failed to stat knowledge base: %w", err)
	}
	var info Info
	if err := utils.ReadJSON(loc.InfoPath(), &info); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{ID: loc.ID, Name: loc.ID, AnalyzeClients: true}, nil
		}
		return Info{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	info.ID = loc.ID
	return info, nil
}

// PutInfo writes kb_info.json, creating the directory if needed.
func (r *FileRepository) PutInfo(ctx context.Context, loc Location, info Info) error {
	info.ID = loc.ID
	if err := utils.WriteJSONAtomic(loc.InfoPath(), info); err != nil {
		return fmt.Errorf("failed to write knowledge base info: %w", err)
	}
	return nil
}

// Delete removes the knowledge base directory with all derived artifacts.
func (r *FileRepository) Delete(ctx context.Context, loc Location) error {
	if err := os.RemoveAll(loc.Dir()); err != nil {
		return fmt.Errorf("failed to delete knowledge base: %w", err)
	}
	return nil
}

// Entries reads knowledge.json. A missing file is an empty knowledge base.
func (r *FileRepository) Entries(ctx context.Context, loc Location) ([]models.Entry, error) {
	var entries []models.Entry
	if err := utils.ReadJSON(loc.EntriesPath(), &entries); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.Entry{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	return entries, nil
}

// PutEntries replaces knowledge.json.
func (r *FileRepository) PutEntries(ctx context.Context, loc Location, entries []models.Entry) error {
	if entries == nil {
		entries = []models.Entry{}
	}
	if err := utils.WriteJSONAtomic(loc.EntriesPath(), entries); err != nil {
		return fmt.Errorf("failed to write entries: %w", err)
	}
	return nil
}

// Settings reads the style settings, falling back to defaults when none are stored.
func (r *FileRepository) Settings(ctx context.Context, loc Location) (Settings, error) {
	var s Settings
	if err := utils.ReadJSON(loc.SettingsPath(), &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return DefaultSettings(), fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return s, nil
}

// PutSettings writes the style settings.
func (r *FileRepository) PutSettings(ctx context.Context, loc Location, s Settings) error {
	if err := utils.WriteJSONAtomic(loc.SettingsPath(), s.Clamp()); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

type currentPointer struct {
	CurrentKBID string `json:"current_kb_id"`
}

// CurrentID returns the tenant's current-KB pointer, or "" when unset or unreadable.
func (r *FileRepository) CurrentID(ctx context.Context, root string) (string, error) {
	var p currentPointer
	if err := utils.ReadJSON(CurrentPointerPath(root), &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return p.CurrentKBID, nil
}

// SetCurrentID writes the tenant's current-KB pointer.
func (r *FileRepository) SetCurrentID(ctx context.Context, root, id string) error {
	if err := utils.WriteJSONAtomic(CurrentPointerPath(root), currentPointer{CurrentKBID: id}); err != nil {
		return fmt.Errorf("failed to write current knowledge base: %w", err)
	}
	return nil
}
