package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	blobcore "crmcore/internal/blob/core"
)

// ExportFormat selects the encoding of an export blob.
type ExportFormat string

// Supported export formats.
const (
	ExportJSONLines ExportFormat = "jsonl"
	ExportCSV       ExportFormat = "csv"
)

// ParseExportFormat accepts "jsonl", "json" and "csv".
func ParseExportFormat(s string) (ExportFormat, error) {
	switch s {
	case "jsonl", "json", "ndjson":
		return ExportJSONLines, nil
	case "csv":
		return ExportCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f ExportFormat) contentType() string {
	if f == ExportCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

// Export writes the selected records to sink and returns the written blob.
// Records are read through the entity API; ids that no longer exist are
// deselected and skipped. The selection is otherwise left untouched.
func (s *EntityStore[T]) Export(ctx context.Context, sink blobcore.Store, format ExportFormat) (blobcore.Info, error) {
	ids := s.selection.Selected()
	if len(ids) == 0 {
		return blobcore.Info{}, ErrEmptySelection
	}
	if format != ExportJSONLines && format != ExportCSV {
		return blobcore.Info{}, fmt.Errorf("unsupported export format %q", format)
	}

	var (
		info     blobcore.Info
		exported int
	)
	err := s.cfg.observe(ctx, fmt.Sprintf("export_%s", s.entity), func(ctx context.Context) error {
		records := make([]T, 0, len(ids))
		for _, id := range ids {
			rec, err := s.api.Get(ctx, id)
			if err != nil {
				if s.ownsNotFound(err) {
					s.selection.Deselect(id)
					continue
				}
				return fmt.Errorf("read %s %d: %w", s.entity, id, err)
			}
			records = append(records, rec)
		}
		exported = len(records)
		body, err := encodeRecords(records, format)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("exports/%s/%s-%s.%s", s.entity.Namespace(),
			s.cfg.clock.Now().Format("20060102T150405Z"), uuid.NewString(), format)
		info, err = sink.Put(ctx, key, bytes.NewReader(body), blobcore.PutOptions{
			ContentType: format.contentType(),
			Metadata: map[string]string{
				"entity": string(s.entity),
				"count":  strconv.Itoa(len(records)),
				"format": string(format),
			},
		})
		return err
	})
	if err != nil {
		s.notifier.Error(failureMessage(s.entity, "export", err))
		return blobcore.Info{}, err
	}
	s.cfg.logger.Info("selection exported", "entity", s.entity, "key", info.Key, "records", exported, "driver", sink.Driver())
	s.notifier.Success(bulkSuccessMessage(s.entity, "exported", exported))
	return info, nil
}

func encodeRecords[T any](records []T, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	if format == ExportJSONLines {
		enc := json.NewEncoder(&buf)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	}

	rows := make([]map[string]any, 0, len(records))
	columns := map[string]struct{}{}
	for _, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, err
		}
		for col := range row {
			columns[col] = struct{}{}
		}
		rows = append(rows, row)
	}
	header := make([]string, 0, len(columns))
	for col := range columns {
		header = append(header, col)
	}
	sort.Strings(header)

	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		line := make([]string, len(header))
		for i, col := range header {
			line[i] = csvCell(row[col])
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func csvCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, _ := json.Marshal(val)
		return string(raw)
	}
}
