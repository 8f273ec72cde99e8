// Package kb stores tenants' knowledge bases: entries, metadata, settings and the
// current-KB pointer, and manages their lifecycle.
package kb

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/hyperjump/neurobot/internal/tenant"
)

// DefaultID is the id of the knowledge base every tenant has.
const DefaultID = "default"

// DefaultName is the display name of the default knowledge base.
const DefaultName = "Default knowledge base"

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is safe to use as a directory name.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Location addresses one knowledge base of one tenant on disk.
type Location struct {
	Root string // tenant data root
	ID   string
}

// LocationFor returns the Location of kbID for the tenant in ctx.
func LocationFor(ctx context.Context, kbID string) (Location, error) {
	root, err := tenant.DataRoot(ctx)
	if err != nil {
		return Location{}, err
	}
	if !ValidID(kbID) {
		return Location{}, fmt.Errorf("%w: knowledge base id %q", ErrInvalid, kbID)
	}
	return Location{Root: filepath.Clean(root), ID: kbID}, nil
}

// Key identifies the location in caches and lock tables.
func (l Location) Key() string {
	return filepath.Clean(l.Root) + "\x00" + l.ID
}

func (l Location) String() string {
	return l.Dir()
}

// BasesDir is the directory holding all knowledge bases of the tenant.
func BasesDir(root string) string { return filepath.Join(root, "knowledge_bases") }

// Dir is the knowledge base directory.
func (l Location) Dir() string { return filepath.Join(BasesDir(l.Root), l.ID) }

// EntriesPath is the knowledge.json file of [{question, answer}].
func (l Location) EntriesPath() string { return filepath.Join(l.Dir(), "knowledge.json") }

// InfoPath is the kb_info.json metadata file.
func (l Location) InfoPath() string { return filepath.Join(l.Dir(), "kb_info.json") }

// SettingsPath is the persona/prompt settings file.
func (l Location) SettingsPath() string { return filepath.Join(l.Dir(), "settings.json") }

// FingerprintPath is the question -> hash file of the last successful sync.
func (l Location) FingerprintPath() string { return filepath.Join(l.Dir(), "last_fingerprint.json") }

// IndexPath is the binary vector index file.
func (l Location) IndexPath() string { return filepath.Join(l.Dir(), "vector_KB", "index.bin") }

// DocstorePath is the id -> question sidecar file.
func (l Location) DocstorePath() string { return filepath.Join(l.Dir(), "vector_KB", "docstore.json") }

// CurrentPointerPath is the tenant's current_kb.json.
func CurrentPointerPath(root string) string { return filepath.Join(root, "current_kb.json") }
