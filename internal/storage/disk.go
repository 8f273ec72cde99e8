package storage

import (
	"errors"
	"io/fs"
	"os"
)

// SizeOf returns the combined size in bytes of the given files.
// Empty and missing paths count as zero; other stat errors are returned.
func SizeOf(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
		}
	}
	return total, nil
}
