package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/phrazzld/batchflow/internal/domain"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/store"
)

const (
	upsertResultSQL = `INSERT INTO item_results (item_id, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (item_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`

	upsertMetaSQL = `INSERT INTO result_store_meta (id, last_updated, total_count)
VALUES (1, $1, (SELECT COUNT(*) FROM item_results))
ON CONFLICT (id) DO UPDATE SET last_updated = EXCLUDED.last_updated, total_count = EXCLUDED.total_count
RETURNING total_count`

	selectResultsSQL = `SELECT item_id, payload FROM item_results ORDER BY item_id`

	selectMetaSQL = `SELECT last_updated, total_count FROM result_store_meta WHERE id = 1`
)

// ResultRepository implements store.ResultRepository.
type ResultRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.ResultRepository = (*ResultRepository)(nil)

// NewResultRepository creates a repository over db. The schema must already
// be migrated.
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db, now: time.Now}
}

// Merge implements store.ResultRepository.
func (r *ResultRepository) Merge(ctx context.Context, updates map[string]json.RawMessage) (*store.ResultSummary, error) {
	ids := make([]string, 0, len(updates))
	for id := range updates {
		if id == "" {
			return nil, fmt.Errorf("%w: empty item id", store.ErrInvalidEntity)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := r.now().UTC()
	sum := &store.ResultSummary{}

	err := store.RunInTransaction(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		for _, id := range ids {
			inserted, err := upsertResult(ctx, tx, id, updates[id], now)
			if err != nil {
				return err
			}
			if inserted {
				sum.Added++
			} else {
				sum.Updated++
			}
		}
		if err := tx.QueryRowContext(ctx, upsertMetaSQL, now).Scan(&sum.TotalCount); err != nil {
			return fmt.Errorf("update result metadata: %w", MapError(err))
		}
		return nil
	})
	if err != nil {
		return nil, store.NewStoreError("result store", "merge", "postgres", err)
	}

	logger.FromContext(ctx).Debug("merged results into postgres",
		slog.Int("added", sum.Added),
		slog.Int("updated", sum.Updated),
		slog.Int("total", sum.TotalCount))
	return sum, nil
}

// upsertResult writes one payload and reports whether the row is new.
func upsertResult(ctx context.Context, q store.DBTX, id string, payload json.RawMessage, now time.Time) (bool, error) {
	var inserted bool
	if err := q.QueryRowContext(ctx, upsertResultSQL, id, []byte(payload), now).Scan(&inserted); err != nil {
		return false, fmt.Errorf("upsert result %s: %w", id, MapError(err))
	}
	return inserted, nil
}

// Load implements store.ResultRepository.
func (r *ResultRepository) Load(ctx context.Context) (*domain.ResultStore, error) {
	rs := domain.NewResultStore()

	rows, err := r.db.QueryContext(ctx, selectResultsSQL)
	if err != nil {
		return nil, store.NewStoreError("result store", "load", "postgres", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, store.NewStoreError("result store", "load", "postgres", MapError(err))
		}
		rs.Results[id] = json.RawMessage(payload)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("result store", "load", "postgres", MapError(err))
	}

	var last time.Time
	var total int
	err = r.db.QueryRowContext(ctx, selectMetaSQL).Scan(&last, &total)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rs.TotalCount = len(rs.Results)
	case err != nil:
		return nil, store.NewStoreError("result store", "load", "postgres", MapError(err))
	default:
		rs.LastUpdated = last.UTC()
		rs.TotalCount = total
	}
	return rs, nil
}
