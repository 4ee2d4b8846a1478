package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/platform/logger"
)

// Default values used when Options leaves a field empty.
const (
	DefaultExtension    = ".txt"
	DefaultMarkerSuffix = "_original.txt"
)

// ErrSourceUnavailable is returned when the source directory cannot be listed.
var ErrSourceUnavailable = errors.New("catalog source unavailable")

// Options selects and orders catalog candidates.
type Options struct {
	SourceDir string
	// MarkerDir holds completion markers; a missing directory means no markers.
	MarkerDir    string
	Extension    string
	MarkerSuffix string
	// Limit truncates the catalog; <= 0 keeps every candidate.
	Limit int
	// Sample shuffles candidates before truncating to Limit.
	Sample bool
	// Rand drives sampling. Nil uses a time-seeded source.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.Extension == "" {
		o.Extension = DefaultExtension
	}
	if o.MarkerSuffix == "" {
		o.MarkerSuffix = DefaultMarkerSuffix
	}
	return o
}

// Build lists candidate identities under SourceDir, drops every identity
// with a completion marker, and returns the rest in a stable order.
func Build(ctx context.Context, opts Options) ([]string, error) {
	opts = opts.withDefaults()
	log := logger.FromContext(ctx)

	entries, err := os.ReadDir(opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, opts.SourceDir, err)
	}

	completed, err := markers(opts.MarkerDir, opts.MarkerSuffix)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || filepath.Ext(e.Name()) != opts.Extension {
			continue
		}
		id := strings.TrimSuffix(e.Name(), opts.Extension)
		if _, done := completed[id]; done {
			skipped++
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if opts.Sample && opts.Limit > 0 {
		r := opts.Rand
		if r == nil {
			r = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		r.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}

	log.Info("catalog built",
		slog.String("source_dir", opts.SourceDir),
		slog.Int("items", len(ids)),
		slog.Int("already_completed", skipped),
		slog.Bool("sampled", opts.Sample))

	return ids, nil
}

// markers returns the identities that carry a completion marker.
func markers(dir, suffix string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if dir == "" {
		return out, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("%w: marker dir %s: %v", ErrSourceUnavailable, dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		out[strings.TrimSuffix(name, suffix)] = struct{}{}
	}
	return out, nil
}

// Reset installs catalog into state and starts a fresh pass: the cursor goes
// back to the start and the exhaustion flag is cleared.
func Reset(state *domain.SubmissionState, catalog []string) {
	state.ResetCatalog(catalog)
}
