//go:build windows

package ops

import (
	"os"

	"github.com/msvignesh01/eduflow/internal/errors"
)

// openNoFollow opens path. Windows has no O_NOFOLLOW; ValidatePath rejects
// symlinks before the open.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	switch {
	case err == nil:
		return f, nil
	case os.IsNotExist(err):
		return nil, errors.NewNotFound(path)
	default:
		return nil, errors.NewInternal(err)
	}
}
