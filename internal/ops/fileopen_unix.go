//go:build !windows

package ops

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/msvignesh01/eduflow/internal/errors"
)

// openNoFollow opens path without following a symlink in its final
// component. ValidatePath has already pinned every other component.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case stderrors.Is(err, syscall.ELOOP):
		return nil, errors.NewInvalidRequest("export path is a symlink")
	case stderrors.Is(err, syscall.ENOENT):
		return nil, errors.NewNotFound(path)
	default:
		return nil, errors.NewInternal(err)
	}
}
