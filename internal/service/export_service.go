package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"go.uber.org/zap"
)

// ExportResult describes a written export archive
type ExportResult struct {
	FileName string           `json:"file_name"`
	Records  int              `json:"records"`
	Bytes    int64            `json:"file_size"`
	Datasets []domain.Dataset `json:"datasets"`
}

// ExportService packages a user's records into a ZIP archive with
// <dataset>.json, <dataset>.csv and schema.json
type ExportService struct {
	records repository.RecordRepository
	audit   *AuditService
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService creates a new export service
func NewExportService(records repository.RecordRepository, audit *AuditService, logger *zap.Logger) *ExportService {
	return &ExportService{records: records, audit: audit, logger: logger, now: time.Now}
}

// FileName names the archive of userID
func (s *ExportService) FileName(userID string) string {
	return fmt.Sprintf("data_vault_export_%s_%s.zip", userID, s.now().UTC().Format("20060102_150405"))
}

// HasRecords reports whether userID has anything to export
func (s *ExportService) HasRecords(ctx context.Context, userID string) (bool, error) {
	recs, err := s.records.Query(ctx, repository.RecordFilter{UserID: userID, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// Export writes the archive of userID to w
func (s *ExportService) Export(ctx context.Context, userID string, w io.Writer) (*ExportResult, error) {
	ok, err := s.HasRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNothingToExport
	}

	counter := &countingWriter{w: w}
	zw := zip.NewWriter(counter)
	pkg := &exportPackage{zip: zw, fields: make(map[domain.Dataset][]string)}

	if err := s.records.Stream(ctx, userID, pkg.add); err != nil {
		return nil, fmt.Errorf("failed to stream records: %w", err)
	}
	if err := pkg.finishDataset(); err != nil {
		return nil, err
	}

	schema := map[string]any{
		"export_date":   s.now().UTC().Format(time.RFC3339),
		"user_id":       userID,
		"total_records": pkg.total,
		"datasets":      pkg.datasets,
		"fields":        pkg.fields,
	}
	if err := pkg.writeJSONFile("schema.json", schema); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}

	result := &ExportResult{
		FileName: s.FileName(userID),
		Records:  pkg.total,
		Bytes:    counter.n,
		Datasets: pkg.datasets,
	}

	s.audit.Record(ctx, userID, domain.AuditActionExport, nil, map[string]any{
		"records":   result.Records,
		"file_size": result.Bytes,
	})
	s.logger.Info("Export written",
		zap.String("user_id", userID),
		zap.Int("records", result.Records),
		zap.Int64("bytes", result.Bytes),
	)

	return result, nil
}

// exportPackage writes one dataset at a time: its JSON entry is streamed,
// its CSV rows are buffered until the dataset ends
type exportPackage struct {
	zip      *zip.Writer
	datasets []domain.Dataset
	fields   map[domain.Dataset][]string
	total    int

	current  domain.Dataset
	jsonFile io.Writer
	count    int
	csvBuf   bytes.Buffer
	csv      *csv.Writer
	columns  []string
}

var baseColumns = []string{"id", "recorded_at", "provider", "external_id"}

func (p *exportPackage) add(rec *domain.Record) error {
	if rec.Dataset != p.current {
		if err := p.finishDataset(); err != nil {
			return err
		}
		if err := p.startDataset(rec); err != nil {
			return err
		}
	}

	row, err := exportRow(rec)
	if err != nil {
		return err
	}

	line, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	sep := ",\n  "
	if p.count == 0 {
		sep = "\n  "
	}
	if _, err := io.WriteString(p.jsonFile, sep); err != nil {
		return err
	}
	if _, err := p.jsonFile.Write(line); err != nil {
		return err
	}

	values := make([]string, len(p.columns))
	for i, col := range p.columns {
		values[i] = csvValue(row[col])
	}
	if err := p.csv.Write(values); err != nil {
		return err
	}

	p.count++
	p.total++
	return nil
}

func (p *exportPackage) startDataset(first *domain.Record) error {
	f, err := p.zip.Create(string(first.Dataset) + ".json")
	if err != nil {
		return fmt.Errorf("failed to create archive entry: %w", err)
	}
	if _, err := io.WriteString(f, "["); err != nil {
		return err
	}

	var body map[string]any
	_ = json.Unmarshal(first.Body, &body)
	extra := make([]string, 0, len(body))
	for k := range body {
		if !slices.Contains(baseColumns, k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)

	p.current = first.Dataset
	p.jsonFile = f
	p.count = 0
	p.columns = append(append([]string{}, baseColumns...), extra...)
	p.csvBuf.Reset()
	p.csv = csv.NewWriter(&p.csvBuf)
	p.datasets = append(p.datasets, first.Dataset)
	p.fields[first.Dataset] = p.columns

	return p.csv.Write(p.columns)
}

func (p *exportPackage) finishDataset() error {
	if p.jsonFile == nil {
		return nil
	}
	if _, err := io.WriteString(p.jsonFile, "\n]\n"); err != nil {
		return err
	}
	p.jsonFile = nil

	p.csv.Flush()
	if err := p.csv.Error(); err != nil {
		return fmt.Errorf("failed to encode csv: %w", err)
	}
	f, err := p.zip.Create(string(p.current) + ".csv")
	if err != nil {
		return fmt.Errorf("failed to create archive entry: %w", err)
	}
	_, err = f.Write(p.csvBuf.Bytes())
	return err
}

func (p *exportPackage) writeJSONFile(name string, v any) error {
	f, err := p.zip.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create archive entry: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exportRow(rec *domain.Record) (map[string]any, error) {
	row := map[string]any{}
	if len(rec.Body) > 0 {
		if err := json.Unmarshal(rec.Body, &row); err != nil {
			return nil, fmt.Errorf("record %s has a non-object body: %w", rec.ID, err)
		}
	}
	row["id"] = rec.ID
	row["recorded_at"] = rec.RecordedAt.UTC().Format(time.RFC3339)
	row["provider"] = string(rec.Provider)
	row["external_id"] = rec.ExternalID
	return row, nil
}

func csvValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
