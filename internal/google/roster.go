package google

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/sheets/v4"

	"github.com/pavelanni/interntest/internal/model"
)

// Roster sheet columns (zero-based).
const (
	colDate = 1
	colPIN  = 3
	colName = 4
)

var rosterDateLayouts = []string{
	"02.01.2006 15:04:05",
	"02.01.2006",
	"2006-01-02",
}

// spreadsheetEpoch is day zero of spreadsheet serial dates.
var spreadsheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// SheetRoster reads the intern roster from a spreadsheet worksheet.
type SheetRoster struct {
	svc       *sheets.Service
	sheetID   string
	worksheet string
	loc       *time.Location
}

func NewSheetRoster(svc *sheets.Service, sheetID, worksheet string, loc *time.Location) *SheetRoster {
	return &SheetRoster{svc: svc, sheetID: sheetID, worksheet: worksheet, loc: loc}
}

// FetchRoster returns every valid roster row. Invalid rows are logged and skipped.
func (r *SheetRoster) FetchRoster(ctx context.Context) ([]model.InternImport, error) {
	title, err := r.resolveWorksheet(ctx)
	if err != nil {
		return nil, err
	}
	vr, err := r.svc.Spreadsheets.Values.Get(r.sheetID, fmt.Sprintf("'%s'!A:E", title)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read worksheet %q: %w", title, err)
	}
	return ParseRosterRows(vr.Values, r.loc), nil
}

// resolveWorksheet returns the configured worksheet title, or the first
// worksheet when it does not exist.
func (r *SheetRoster) resolveWorksheet(ctx context.Context) (string, error) {
	ss, err := r.svc.Spreadsheets.Get(r.sheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get spreadsheet: %w", err)
	}
	if len(ss.Sheets) == 0 {
		return "", fmt.Errorf("spreadsheet %s has no worksheets", r.sheetID)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == r.worksheet {
			return r.worksheet, nil
		}
	}
	first := ss.Sheets[0].Properties.Title
	slog.Warn("worksheet not found, using first sheet", "worksheet", r.worksheet, "first", first)
	return first, nil
}

// ParseRosterRows converts sheet rows into roster records. The first row is
// a header.
func ParseRosterRows(rows [][]interface{}, loc *time.Location) []model.InternImport {
	var out []model.InternImport
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) <= colName {
			slog.Debug("roster row too short", "row", i+1)
			continue
		}
		pin := strings.Join(strings.Fields(cellString(row[colPIN])), "")
		name := strings.TrimSpace(cellString(row[colName]))
		if pin == "" || name == "" {
			slog.Warn("roster row missing pin or name", "row", i+1)
			continue
		}
		day, err := ParseRosterDate(row[colDate], loc)
		if err != nil {
			slog.Warn("roster row has bad date", "row", i+1, "name", name, "error", err)
			continue
		}
		out = append(out, model.InternImport{PIN: pin, FullName: name, EligibilityDay: day})
	}
	return out
}

func cellString(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	default:
		return fmt.Sprint(c)
	}
}

// ParseRosterDate accepts spreadsheet serial numbers and the usual text
// layouts and returns midnight of that day in loc.
func ParseRosterDate(v interface{}, loc *time.Location) (time.Time, error) {
	var serial float64
	switch c := v.(type) {
	case float64:
		serial = c
	case string:
		s := strings.TrimSpace(c)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty date")
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			serial = f
			break
		}
		for _, layout := range rosterDateLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported date cell %T", v)
	}
	if serial <= 0 {
		return time.Time{}, fmt.Errorf("invalid serial date %v", serial)
	}
	t := spreadsheetEpoch.AddDate(0, 0, int(serial))
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}
