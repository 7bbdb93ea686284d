// Package shiftfile turns uploaded work-schedule tables (CSV or XLSX) into
// candidate calendar events.
//
// Files in the wild are messy: the date header is rarely the first row, day
// columns may hold bare day numbers anchored by a month cell elsewhere, and
// shift cells mix named codes with explicit time ranges. The parser is a
// best-effort heuristic transform; the batch import engine downstream is
// what guarantees safety.
package shiftfile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/daybook-ai/calendar-assistant/internal/model"
)

// shiftSpan is a named shift's start/end clock time. crossesMidnight marks
// overnight shifts ending on the following day.
type shiftSpan struct {
	startHour, startMin int
	endHour, endMin     int
	crossesMidnight     bool
	label               string
}

// shiftCodes maps the cell codes commonly seen in schedule tables.
var shiftCodes = map[string]shiftSpan{
	"早":  {6, 0, 14, 0, false, "早班"},
	"中":  {14, 0, 22, 0, false, "中班"},
	"午":  {14, 0, 22, 0, false, "中班"},
	"晚":  {22, 0, 6, 0, true, "晚班"},
	"夜":  {22, 0, 6, 0, true, "夜班"},
	"A":  {6, 0, 14, 0, false, "早班"},
	"B":  {14, 0, 22, 0, false, "中班"},
	"N":  {22, 0, 6, 0, true, "夜班"},
	"D":  {9, 0, 18, 0, false, "日班"},
	"全":  {9, 0, 18, 0, false, "全日班"},
}

// offCodes are cells meaning no shift that day.
var offCodes = map[string]bool{
	"休": true, "例": true, "假": true, "OFF": true, "X": true, "-": true, "/": true,
}

var (
	timeRangePattern = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*[-~–～]\s*(\d{1,2}):(\d{2})`)
	monthAnchor      = regexp.MustCompile(`(?:(\d{4})\s*[年/.-])?\s*(\d{1,2})\s*月`)
	fullDate         = regexp.MustCompile(`^(\d{4})[/.-](\d{1,2})[/.-](\d{1,2})$`)
	monthDay         = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})$`)
)

const xlsxMagic = "PK\x03\x04"

// Parse reads a shift table and returns the named person's shifts as
// candidate events, sorted by start time. ref anchors year/month inference
// for headers that only carry day numbers.
func Parse(r io.Reader, filename, personName string, ref time.Time, loc *time.Location) ([]model.CandidateEvent, error) {
	if loc == nil {
		loc = time.Local
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read shift file: %w", err)
	}

	var grid [][]string
	if isXLSX(data, filename) {
		grid, err = readXLSX(data)
	} else {
		grid, err = readCSV(data)
	}
	if err != nil {
		return nil, err
	}

	return extract(grid, personName, ref, loc)
}

func isXLSX(data []byte, filename string) bool {
	if strings.HasSuffix(strings.ToLower(filename), ".xlsx") {
		return true
	}
	return bytes.HasPrefix(data, []byte(xlsxMagic))
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

// extract walks the grid: locate the date header row, anchor its month,
// find the person's row, and convert each dated, non-off cell to an event.
func extract(grid [][]string, personName string, ref time.Time, loc *time.Location) ([]model.CandidateEvent, error) {
	headerIdx, dates := findDateHeader(grid, ref, loc)
	if headerIdx < 0 {
		return nil, fmt.Errorf("no date header row found")
	}

	personRow := findPersonRow(grid, headerIdx, personName)
	if personRow < 0 {
		return nil, fmt.Errorf("no row found for %q", personName)
	}

	var events []model.CandidateEvent
	row := grid[personRow]
	for col, day := range dates {
		if day.IsZero() || col >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" || offCodes[strings.ToUpper(cell)] {
			continue
		}
		if ev, ok := cellToEvent(cell, personName, day, loc); ok {
			events = append(events, ev)
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

// findDateHeader picks the row with the most date-like cells and resolves
// each to a concrete day. Bare day numbers are anchored by a month cell in
// the rows above, falling back to ref's month.
func findDateHeader(grid [][]string, ref time.Time, loc *time.Location) (int, map[int]time.Time) {
	year, month := ref.Year(), int(ref.Month())
	for i, row := range grid {
		if i > 4 {
			break
		}
		for _, cell := range row {
			if m := monthAnchor.FindStringSubmatch(cell); m != nil {
				if m[1] != "" {
					year, _ = strconv.Atoi(m[1])
				}
				month, _ = strconv.Atoi(m[2])
			}
		}
	}

	bestIdx, bestCount := -1, 0
	var bestDates map[int]time.Time
	for i, row := range grid {
		dates := make(map[int]time.Time)
		for col, cell := range row {
			if d, ok := parseDateCell(strings.TrimSpace(cell), year, month, loc); ok {
				dates[col] = d
			}
		}
		if len(dates) > bestCount {
			bestIdx, bestCount, bestDates = i, len(dates), dates
		}
	}
	// A real schedule header covers at least a few days.
	if bestCount < 3 {
		return -1, nil
	}
	return bestIdx, bestDates
}

func parseDateCell(cell string, year, month int, loc *time.Location) (time.Time, bool) {
	if cell == "" {
		return time.Time{}, false
	}
	if m := fullDate.FindStringSubmatch(cell); m != nil {
		return time.Date(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), 0, 0, 0, 0, loc), true
	}
	if m := monthDay.FindStringSubmatch(cell); m != nil {
		return time.Date(year, time.Month(atoi(m[1])), atoi(m[2]), 0, 0, 0, 0, loc), true
	}
	if day, err := strconv.Atoi(cell); err == nil && day >= 1 && day <= 31 {
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc), true
	}
	return time.Time{}, false
}

func findPersonRow(grid [][]string, headerIdx int, personName string) int {
	for i := headerIdx + 1; i < len(grid); i++ {
		row := grid[i]
		for col := 0; col < len(row) && col < 2; col++ {
			if strings.TrimSpace(row[col]) == personName {
				return i
			}
		}
	}
	return -1
}

func cellToEvent(cell, personName string, day time.Time, loc *time.Location) (model.CandidateEvent, bool) {
	if m := timeRangePattern.FindStringSubmatch(cell); m != nil {
		start := time.Date(day.Year(), day.Month(), day.Day(), atoi(m[1]), atoi(m[2]), 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), atoi(m[3]), atoi(m[4]), 0, 0, loc)
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}
		return model.CandidateEvent{
			Title: personName + " 上班",
			Start: start,
			End:   end,
		}, true
	}

	span, ok := shiftCodes[strings.ToUpper(cell)]
	if !ok {
		return model.CandidateEvent{}, false
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), span.startHour, span.startMin, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), span.endHour, span.endMin, 0, 0, loc)
	if span.crossesMidnight {
		end = end.AddDate(0, 0, 1)
	}
	return model.CandidateEvent{
		Title: personName + " " + span.label,
		Start: start,
		End:   end,
	}, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
