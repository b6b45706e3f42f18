package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/pkg/database"
)

const (
	// DefaultRecordLimit is used when a query does not set a limit
	DefaultRecordLimit = 50
	// MaxRecordLimit caps a single query page
	MaxRecordLimit = 500
)

// recordRepository implements RecordRepository interface
type recordRepository struct {
	db database.Querier
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db database.Querier) RecordRepository {
	return &recordRepository{db: db}
}

const recordColumns = `id, user_id, provider, dataset, external_id, recorded_at, body, ingested_at`

// UpsertBatch writes all records in one transaction keyed by their natural key.
// A re-ingested record keeps its ID and takes the new body.
func (r *recordRepository) UpsertBatch(ctx context.Context, records []*domain.Record) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	query := `
		INSERT INTO records (id, user_id, provider, dataset, external_id, recorded_at, body, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, provider, dataset, external_id) DO UPDATE SET
			recorded_at = EXCLUDED.recorded_at,
			body = EXCLUDED.body,
			ingested_at = EXCLUDED.ingested_at
		RETURNING id, (xmax = 0) AS inserted
	`

	var inserted, updated int
	err := inTx(ctx, r.db, func(q database.Querier) error {
		inserted, updated = 0, 0
		now := time.Now().UTC()

		for _, rec := range records {
			if rec.ID == "" {
				rec.ID = uuid.New().String()
			}
			if rec.IngestedAt.IsZero() {
				rec.IngestedAt = now
			}

			var isInsert bool
			err := q.QueryRowContext(ctx, query,
				rec.ID,
				rec.UserID,
				rec.Provider,
				rec.Dataset,
				rec.ExternalID,
				rec.RecordedAt,
				[]byte(rec.Body),
				rec.IngestedAt,
			).Scan(&rec.ID, &isInsert)
			if err != nil {
				return fmt.Errorf("failed to upsert record %s/%s: %w", rec.Dataset, rec.ExternalID, err)
			}

			if isInsert {
				inserted++
			} else {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return inserted, updated, nil
}

// Query retrieves a page of records ordered by (recorded_at, id)
func (r *recordRepository) Query(ctx context.Context, filter RecordFilter) ([]*domain.Record, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{filter.UserID}
	)
	addArg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Dataset != "" {
		where = append(where, "dataset = "+addArg(filter.Dataset))
	}
	if filter.Provider != "" {
		where = append(where, "provider = "+addArg(filter.Provider))
	}
	if filter.Start != nil {
		where = append(where, "recorded_at >= "+addArg(*filter.Start))
	}
	if filter.End != nil {
		where = append(where, "recorded_at <= "+addArg(*filter.End))
	}

	order, cmp := "DESC", "<"
	if filter.Ascending {
		order, cmp = "ASC", ">"
	}
	if filter.After != nil {
		where = append(where, fmt.Sprintf("(recorded_at, id) %s (%s, %s)",
			cmp, addArg(filter.After.RecordedAt), addArg(filter.After.ID)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	if limit > MaxRecordLimit {
		limit = MaxRecordLimit
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM records
		WHERE %s
		ORDER BY recorded_at %s, id %s
		LIMIT %s
	`, recordColumns, strings.Join(where, " AND "), order, order, addArg(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// Summarize aggregates a user's records recorded since the given time
func (r *recordRepository) Summarize(ctx context.Context, userID string, since time.Time, topN int) (*domain.RecordSummary, error) {
	summary := &domain.RecordSummary{
		Counts:     make(map[domain.Dataset]int, len(domain.Datasets)),
		TopArtists: []domain.ArtistCount{},
	}

	datasets := make([]string, 0, len(domain.Datasets))
	for _, d := range domain.Datasets {
		summary.Counts[d] = 0
		datasets = append(datasets, string(d))
	}

	countQuery := `
		SELECT dataset, COUNT(*)
		FROM records
		WHERE user_id = $1 AND recorded_at >= $2 AND dataset = ANY($3)
		GROUP BY dataset
	`
	rows, err := r.db.QueryContext(ctx, countQuery, userID, since, pq.Array(datasets))
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	for rows.Next() {
		var (
			dataset domain.Dataset
			count   int
		)
		if err := rows.Scan(&dataset, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan record count: %w", err)
		}
		summary.Counts[dataset] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating record counts: %w", err)
	}
	rows.Close()

	artistQuery := `
		SELECT body->>'artist' AS artist, COUNT(*) AS plays
		FROM records
		WHERE user_id = $1 AND dataset = 'tracks' AND recorded_at >= $2
			AND COALESCE(body->>'artist', '') <> ''
		GROUP BY artist
		ORDER BY plays DESC, artist
		LIMIT $3
	`
	rows, err = r.db.QueryContext(ctx, artistQuery, userID, since, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate artists: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ac domain.ArtistCount
		if err := rows.Scan(&ac.Artist, &ac.Count); err != nil {
			return nil, fmt.Errorf("failed to scan artist count: %w", err)
		}
		summary.TopArtists = append(summary.TopArtists, ac)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artist counts: %w", err)
	}

	workoutQuery := `
		SELECT
			COALESCE(SUM((body->>'distance_km')::double precision), 0),
			COALESCE(SUM((body->>'duration_s')::double precision), 0)
		FROM records
		WHERE user_id = $1 AND dataset = 'workouts' AND recorded_at >= $2
	`
	var distanceKm, durationSec float64
	if err := r.db.QueryRowContext(ctx, workoutQuery, userID, since).Scan(&distanceKm, &durationSec); err != nil {
		return nil, fmt.Errorf("failed to aggregate workouts: %w", err)
	}
	summary.WorkoutDistanceKm = distanceKm
	summary.WorkoutDurationHours = durationSec / 3600

	return summary, nil
}

// Stream calls fn for every record of the user, dataset by dataset in recorded order.
// Rows are fetched page by page so the whole store is never held in memory.
func (r *recordRepository) Stream(ctx context.Context, userID string, fn func(*domain.Record) error) error {
	for _, dataset := range domain.Datasets {
		var after *PageCursor
		for {
			page, err := r.Query(ctx, RecordFilter{
				UserID:    userID,
				Dataset:   dataset,
				After:     after,
				Limit:     MaxRecordLimit,
				Ascending: true,
			})
			if err != nil {
				return fmt.Errorf("failed to stream %s: %w", dataset, err)
			}

			for _, rec := range page {
				if err := fn(rec); err != nil {
					return err
				}
			}

			if len(page) < MaxRecordLimit {
				break
			}
			last := page[len(page)-1]
			after = &PageCursor{RecordedAt: last.RecordedAt, ID: last.ID}
		}
	}
	return nil
}

// DeleteByProvider removes a user's records ingested from one provider
func (r *recordRepository) DeleteByProvider(ctx context.Context, userID string, provider domain.Provider) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return 0, fmt.Errorf("failed to delete provider records: %w", err)
	}
	return result.RowsAffected()
}

// DeleteByUser removes every record of a user
func (r *recordRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	return result.RowsAffected()
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	rec := &domain.Record{}
	var body []byte

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Provider,
		&rec.Dataset,
		&rec.ExternalID,
		&rec.RecordedAt,
		&body,
		&rec.IngestedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Body = body
	return rec, nil
}
