package catalog

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/phrazzld/batchflow/internal/domain"
)

// ErrUnreadable marks an item whose content cannot be read or decoded.
// Such items are skipped permanently by the batch builder.
var ErrUnreadable = errors.New("work item unreadable")

// Reader loads item content by identity.
type Reader interface {
	Read(ctx context.Context, id string) (domain.WorkItem, error)
}

// FileReader reads items from a source directory.
type FileReader struct {
	dir string
	ext string
}

// NewFileReader returns a reader over dir for files with extension ext.
func NewFileReader(dir, ext string) *FileReader {
	if ext == "" {
		ext = DefaultExtension
	}
	return &FileReader{dir: dir, ext: ext}
}

// Read implements Reader. Every line is prefixed with its 1-based number as
// "<line N> text", with surrounding whitespace trimmed.
func (r *FileReader) Read(ctx context.Context, id string) (domain.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.WorkItem{}, err
	}
	path := filepath.Join(r.dir, id+r.ext)
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	if !utf8.Valid(data) {
		return domain.WorkItem{}, fmt.Errorf("%w: %s: invalid UTF-8", ErrUnreadable, path)
	}

	return domain.WorkItem{
		ID:      id,
		Path:    path,
		Content: NumberLines(data),
	}, nil
}

// NumberLines renders text in the line-addressed form the instruction expects.
func NumberLines(data []byte) string {
	var b strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	n := 0
	for sc.Scan() {
		n++
		if n > 1 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "<line %d> %s", n, strings.TrimSpace(sc.Text()))
	}
	return b.String()
}
