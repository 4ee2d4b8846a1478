package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/batchflow/internal/store"
)

// Lock is an exclusive lock file. It is advisory: it only excludes other
// processes that use the same lock path.
type Lock struct {
	path string
}

// AcquireLock creates path exclusively. If the file already exists the call
// fails with an error wrapping store.ErrLocked that names the holder.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			holder, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w: %s held by %s (remove the file if that process is gone)",
				store.ErrLocked, path, strings.TrimSpace(string(holder)))
		}
		return nil, err
	}
	_, werr := fmt.Fprintf(f, "pid=%s since=%s\n",
		strconv.Itoa(os.Getpid()), time.Now().UTC().Format(time.RFC3339))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
