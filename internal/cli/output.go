package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"crmcore/pkg/domain"
)

// column renders one field of T in table output.
type column[T any] struct {
	header string
	value  func(T) any
}

func (a *app) render(w io.Writer, v any, table func() *uitable.Table) error {
	if a.settings.Output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, table())
	return err
}

func renderTable[T any](a *app, w io.Writer, items []T, cols []column[T], payload any) error {
	return a.render(w, payload, func() *uitable.Table {
		bold := color.New(color.Bold)
		if a.settings.NoColor {
			bold.DisableColor()
		}
		tbl := uitable.New()
		tbl.Separator = "  "
		tbl.MaxColWidth = 48
		headers := make([]any, len(cols))
		for i, c := range cols {
			headers[i] = bold.Sprint(c.header)
		}
		tbl.AddRow(headers...)
		for _, item := range items {
			row := make([]any, len(cols))
			for i, c := range cols {
				row[i] = c.value(item)
			}
			tbl.AddRow(row...)
		}
		tbl.RightAlign(0)
		return tbl
	})
}

func optionalID(id *domain.EntityID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

func relative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}

func money(value float64, currency string) string {
	return strings.TrimSpace(humanize.CommafWithDigits(value, 2) + " " + currency)
}

func parseIDs(args []string) ([]domain.EntityID, error) {
	ids := make([]domain.EntityID, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := domain.ParseEntityID(part)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one id is required")
	}
	return ids, nil
}

func parseID(arg string) (domain.EntityID, error) {
	ids, err := parseIDs([]string{arg})
	if err != nil {
		return 0, err
	}
	if len(ids) != 1 {
		return 0, fmt.Errorf("expected a single id, got %q", arg)
	}
	return ids[0], nil
}

func optionalIDFlag(raw int64) *domain.EntityID {
	if raw <= 0 {
		return nil
	}
	id := domain.EntityID(raw)
	return &id
}

// parseFilters turns key=value pairs into search criteria; _min and _max
// bounds must be numeric.
func parseFilters(pairs []string, q string) (domain.SearchCriteria, error) {
	criteria := domain.SearchCriteria{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid filter %q (want key=value)", pair)
		}
		key = strings.TrimSpace(key)
		if strings.HasSuffix(key, "_min") || strings.HasSuffix(key, "_max") {
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("filter %s needs a number, got %q", key, value)
			}
			criteria[key] = n
			continue
		}
		criteria[key] = value
	}
	if q != "" {
		criteria["q"] = q
	}
	return criteria, nil
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use RFC3339 or YYYY-MM-DD)", raw)
}
