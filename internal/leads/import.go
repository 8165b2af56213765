package leads

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// RowError describes a spreadsheet row that could not become a lead.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportRow is a parsed spreadsheet row with its 1-based row number.
type ImportRow struct {
	Row  int
	Lead Lead
}

type ImportResult struct {
	Created int        `json:"created"`
	Skipped []RowError `json:"skipped,omitempty"`
}

// ReadXLSX reads leads from the first sheet of a workbook. Columns are found
// by header name (name, phone, email, source, priority, notes); phone is required.
func ReadXLSX(r io.Reader) ([]ImportRow, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("empty sheet")
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		var key string
		switch {
		case strings.Contains(l, "phone") || strings.Contains(l, "mobile") || l == "number":
			key = "phone"
		case strings.Contains(l, "mail"):
			key = "email"
		case strings.Contains(l, "name"):
			key = "name"
		case strings.Contains(l, "source"):
			key = "source"
		case strings.Contains(l, "priority"):
			key = "priority"
		case strings.Contains(l, "note"):
			key = "notes"
		default:
			continue
		}
		if _, seen := cols[key]; !seen {
			cols[key] = i
		}
	}
	if _, ok := cols["phone"]; !ok {
		return nil, nil, fmt.Errorf("no phone column in header")
	}

	cell := func(r []string, key string) string {
		i, ok := cols[key]
		if !ok || i >= len(r) {
			return ""
		}
		return strings.TrimSpace(r[i])
	}

	var (
		out     []ImportRow
		skipped []RowError
		seen    = map[string]bool{}
	)
	for i, r := range rows[1:] {
		rowNum := i + 2
		phone := NormalizePhone(cell(r, "phone"))
		if phone == "" {
			skipped = append(skipped, RowError{Row: rowNum, Reason: "missing phone"})
			continue
		}
		if seen[phone] {
			skipped = append(skipped, RowError{Row: rowNum, Reason: "duplicate phone"})
			continue
		}
		l := Lead{
			Name:   cell(r, "name"),
			Phone:  phone,
			Email:  cell(r, "email"),
			Source: cell(r, "source"),
			Notes:  cell(r, "notes"),
		}
		if p := cell(r, "priority"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n < MinPriority || n > MaxPriority {
				skipped = append(skipped, RowError{Row: rowNum, Reason: "priority must be 1-10"})
				continue
			}
			l.Priority = n
		}
		seen[phone] = true
		out = append(out, ImportRow{Row: rowNum, Lead: l})
	}
	return out, skipped, nil
}

// Import creates leads read from a workbook, assigning them to campaignID when set.
// Numbers already present in the pool are skipped.
func (p *Pool) Import(ctx context.Context, campaignID string, r io.Reader) (ImportResult, error) {
	rows, skipped, err := ReadXLSX(r)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Skipped: skipped}
	for _, row := range rows {
		l := row.Lead
		if _, err := p.repo.FindByPhone(ctx, l.Phone); err == nil {
			res.Skipped = append(res.Skipped, RowError{Row: row.Row, Reason: "phone already in pool"})
			continue
		}
		if l.Source == "" {
			l.Source = "import"
		}
		l.CampaignID = campaignID
		if _, err := p.Create(ctx, l); err != nil {
			return res, fmt.Errorf("row %d: %w", row.Row, err)
		}
		res.Created++
	}
	return res, nil
}
