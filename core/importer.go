package core

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultImportCapacity = 50

	byteOrderMark = "\ufeff"
	maxSheetLine  = 1024 * 1024
)

var (
	RequiredColumns = []string{"title", "description", "date", "time", "location"}
	OptionalColumns = []string{"maxAttendees", "category", "imageUrl", "price"}
)

type ImportState int

const (
	ImportIdle ImportState = iota
	ImportParsing
	ImportSubmitting
)

func (s ImportState) String() string {
	switch s {
	case ImportParsing:
		return "parsing"
	case ImportSubmitting:
		return "submitting"
	default:
		return "idle"
	}
}

type EventInserter interface {
	InsertEvents(ctx context.Context, events []Event) (int64, error)
}

type Upload struct {
	Filename    string
	ContentType string
	Content     io.Reader
}

type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Queued  int          `json:"queued"`
	Skipped []SkippedRow `json:"skipped,omitempty"`
}

// Row is one CSV data row and the 1-based line it was read from.
type Row struct {
	Line   int
	Fields []string
	// Problem is set when the line itself could not be read as CSV.
	Problem string
}

type Sheet struct {
	Header []string
	Rows   []Row
}

type Importer interface {
	Import(ctx context.Context, upload Upload) (*ImportResult, error)
	State() ImportState
}

type importer struct {
	mu       sync.Mutex
	state    ImportState
	inserter EventInserter
	catalog  Catalog
}

func NewImporter(inserter EventInserter, catalog Catalog) Importer {
	return &importer{inserter: inserter, catalog: catalog}
}

func (i *importer) State() ImportState {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.state
}

func (i *importer) transition(from ImportState, to ImportState) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != from {
		return false
	}

	i.state = to

	return true
}

func (i *importer) reset() {
	i.mu.Lock()
	i.state = ImportIdle
	i.mu.Unlock()
}

func (i *importer) Import(ctx context.Context, upload Upload) (*ImportResult, error) {
	logger := log.Ctx(ctx).With().Str("component", "importer").Str("file", upload.Filename).Logger()

	err := CheckMediaType(upload.ContentType)
	if err != nil {
		return nil, err
	}

	if !i.transition(ImportIdle, ImportParsing) {
		return nil, ErrImportInProgress
	}
	defer i.reset()

	sheet, err := ParseSheet(upload.Content)
	if err != nil {
		logger.Warn().Err(err).Msg("csv rejected")
		return nil, err
	}

	events, skipped := MapRows(sheet)
	result := &ImportResult{Queued: len(events), Skipped: skipped}

	for _, s := range skipped {
		logger.Debug().Int("line", s.Line).Str("reason", s.Reason).Msg("row skipped")
	}

	if len(events) == 0 {
		logger.Info().Int("skipped", len(skipped)).Msg("nothing to import")
		return result, nil
	}

	i.transition(ImportParsing, ImportSubmitting)

	_, err = i.inserter.InsertEvents(ctx, events)
	if err != nil {
		logger.Error().Err(err).Int("rows", len(events)).Msg("batch insert failed")
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}

	logger.Info().Int("queued", len(events)).Int("skipped", len(skipped)).Msg("events imported")

	err = i.catalog.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("catalog reload after import failed")
	}

	return result, nil
}

func CheckMediaType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "text/csv" {
		return ErrUnsupportedMediaType
	}

	return nil
}

// ParseSheet reads the upload one line at a time, drops blank rows and validates the header
// against RequiredColumns. A data line that is not valid CSV is kept as a row with a Problem so a
// stray quote costs only its own line.
func ParseSheet(content io.Reader) (*Sheet, error) {
	scanner := bufio.NewScanner(content)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSheetLine)

	var rows []Row

	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if line == 1 {
			text = strings.TrimPrefix(text, byteOrderMark)
		}

		if strings.TrimSpace(text) == "" {
			continue
		}

		fields, err := parseLine(text)
		if err != nil {
			if len(rows) == 0 {
				return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedCSV, line, err)
			}

			rows = append(rows, Row{Line: line, Problem: err.Error()})

			continue
		}

		if blank(fields) {
			continue
		}

		rows = append(rows, Row{Line: line, Fields: trim(fields)})
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCSV, err)
	}

	if len(rows) < 2 {
		return nil, ErrTooFewRows
	}

	sheet := &Sheet{Header: rows[0].Fields, Rows: rows[1:]}

	missing := MissingColumns(sheet.Header)
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	return sheet, nil
}

func parseLine(text string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	fields, err := reader.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, parseErr.Err
		}

		return nil, err
	}

	return fields, nil
}

func MissingColumns(header []string) []string {
	var missing []string

	for _, column := range RequiredColumns {
		if !slices.Contains(header, column) {
			missing = append(missing, column)
		}
	}

	return missing
}

// MapRows projects every data row onto an Event. Rows that cannot be mapped are returned as
// skipped with the reason.
func MapRows(sheet *Sheet) ([]Event, []SkippedRow) {
	var (
		events  []Event
		skipped []SkippedRow
	)

	for _, row := range sheet.Rows {
		if row.Problem != "" {
			skipped = append(skipped, SkippedRow{Line: row.Line, Reason: row.Problem})
			continue
		}

		if len(row.Fields) != len(sheet.Header) {
			skipped = append(skipped, SkippedRow{
				Line:   row.Line,
				Reason: fmt.Sprintf("expected %d fields, got %d", len(sheet.Header), len(row.Fields)),
			})

			continue
		}

		values := make(map[string]string, len(sheet.Header))
		for j, column := range sheet.Header {
			values[column] = row.Fields[j]
		}

		event, err := MapRow(values)
		if err != nil {
			skipped = append(skipped, SkippedRow{Line: row.Line, Reason: err.Error()})
			continue
		}

		events = append(events, event)
	}

	return events, skipped
}

func MapRow(values map[string]string) (Event, error) {
	event := Event{
		Title:            values["title"],
		Description:      values["description"],
		Time:             values["time"],
		Location:         values["location"],
		Category:         values["category"],
		MaxAttendees:     DefaultImportCapacity,
		CurrentAttendees: 0,
	}

	if event.Category == "" {
		event.Category = DefaultCategory
	}

	date, err := ParseDate(values["date"])
	if err != nil {
		return Event{}, err
	}

	event.Date = date

	if v := values["maxAttendees"]; v != "" {
		event.MaxAttendees, err = strconv.Atoi(v)
		if err != nil {
			return Event{}, fmt.Errorf("invalid maxAttendees %q", v)
		}
	}

	if v := values["imageUrl"]; v != "" {
		event.ImageUrl = &v
	}

	if v := values["price"]; v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Event{}, fmt.Errorf("invalid price %q", v)
		}

		event.Price = &price
	}

	err = ValidateEvent(event)
	if err != nil {
		return Event{}, err
	}

	return event, nil
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}

	return true
}

func trim(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}

	return out
}
