package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/repository"
)

// RecordQuery filters a record listing; Cursor is the token of the previous page
type RecordQuery struct {
	Dataset  string
	Provider string
	Start    *time.Time
	End      *time.Time
	Limit    int
	Cursor   string
}

// RecordPage is one page of records, newest first
type RecordPage struct {
	Records    []*domain.Record
	NextCursor string
}

// RecordService lists stored records
type RecordService struct {
	records repository.RecordRepository
}

// NewRecordService creates a new record service
func NewRecordService(records repository.RecordRepository) *RecordService {
	return &RecordService{records: records}
}

// List returns a page of userID's records. NextCursor is empty on the last page.
func (s *RecordService) List(ctx context.Context, userID string, q RecordQuery) (*RecordPage, error) {
	filter := repository.RecordFilter{UserID: userID, Start: q.Start, End: q.End}

	if q.Dataset != "" {
		ds, err := domain.ParseDataset(q.Dataset)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		filter.Dataset = ds
	}
	if q.Provider != "" {
		p, err := domain.ParseProvider(q.Provider)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		filter.Provider = p
	}
	if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
		return nil, fmt.Errorf("%w: end is before start", ErrInvalidInput)
	}

	switch {
	case q.Limit < 0 || q.Limit > repository.MaxRecordLimit:
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, repository.MaxRecordLimit)
	case q.Limit == 0:
		filter.Limit = repository.DefaultRecordLimit
	default:
		filter.Limit = q.Limit
	}

	after, err := repository.DecodePageCursor(q.Cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	filter.After = after

	records, err := s.records.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	page := &RecordPage{Records: records}
	if len(records) == filter.Limit {
		last := records[len(records)-1]
		page.NextCursor = repository.EncodePageCursor(&repository.PageCursor{RecordedAt: last.RecordedAt, ID: last.ID})
	}
	return page, nil
}
