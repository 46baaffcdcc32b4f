package ops

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/msvignesh01/eduflow/internal/errors"
)

// ExportInput contains parameters for the DataExport operation.
type ExportInput struct {
	Path string // optional, default: <base>/exports/<name>-<timestamp>.json
	Name string // optional file name stem for the default path
}

// ExportOutput contains the result of the DataExport operation.
type ExportOutput struct {
	Path       string    `json:"path"`
	Bytes      int       `json:"bytes"`
	ExportedAt time.Time `json:"exported_at"`
}

// DataExport writes the local documents of every collection to a JSON file.
// The file is written to a temporary name and renamed into place, so a
// failed export never clobbers an earlier one.
func DataExport(app *App, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	dir := ExportsDir(app.BaseDir)

	path := input.Path
	if path == "" {
		path = defaultExportPath(dir, input.Name, now)
	}
	if err := ValidatePath(path, PathCheckWrite, dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create exports directory: %w", err))
	}

	data, err := app.Data.Export()
	if err != nil {
		return nil, err
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, errors.NewInternal(err)
	}
	tmp := path + "." + hex.EncodeToString(suffix) + ".tmp"
	f, err := openNoFollow(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if f != nil {
			f.Close()
		}
		if !ok {
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := f.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := f.Close(); err != nil {
		return nil, errors.NewInternal(err)
	}
	f = nil

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tmp, path); err != nil {
		// Windows refuses to rename over an existing file; keep the old export.
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	ok = true

	app.Log.Info().Str("path", path).Int("bytes", len(data)).Msg("exported local data")
	return &ExportOutput{Path: path, Bytes: len(data), ExportedAt: now}, nil
}

func defaultExportPath(dir, name string, now time.Time) string {
	stem := "eduflow"
	if name != "" {
		stem = SanitizeForFilename(name)
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, now.Format("2006-01-02T150405"), ExportExt))
}
