package ops

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/offline"
)

// MaxImportBytes bounds the size of an import file.
const MaxImportBytes = 16 << 20

// ImportInput contains parameters for the DataImport operation.
type ImportInput struct {
	Path string // required, directly inside the exports directory
}

// DataImport restores a DataExport file. Restored documents are queued as
// updates so the remote store catches up.
func DataImport(ctx context.Context, app *App, input ImportInput) (*offline.ImportResult, error) {
	if err := ValidatePath(input.Path, PathCheckRead, ExportsDir(app.BaseDir)); err != nil {
		return nil, err
	}
	f, err := openNoFollow(input.Path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImportBytes+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if len(data) > MaxImportBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("import file exceeds %d bytes", MaxImportBytes))
	}

	res, err := app.Data.Import(ctx, data)
	if err != nil {
		return nil, err
	}
	app.Log.Info().Str("path", input.Path).Int("imported", res.Imported).Int("skipped", res.Skipped).Msg("imported local data")
	return &res, nil
}
