package core

// ledger.go turns raw ledger bytes into a validated GameBatch.
//
// Validation runs in stages and each stage stops the parse on failure:
//  1. File: size bounds, file name and game date, binary content
//  2. Structure: CSV syntax, header row, required columns, row limit
//  3. Rows: every record is validated; bad rows become warnings as long as
//     at least one row survives, otherwise the first row error is returned
//  4. Aggregate: enough valid rows remain after exclusions
//
// The date check in stage 1 means a file named for an impossible date is
// rejected before any row is read.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"sort"
	"strings"
	"time"
)

// Ledger limits.
const (
	MinLedgerBytes = 10
	MaxLedgerBytes = 10 * 1024 * 1024
	MaxLedgerRows  = 100
	MinLedgerRows  = 2
)

// ParseOptions tune ledger validation. Zero values take the package defaults.
type ParseOptions struct {
	MinBytes int64
	MaxBytes int64
	MaxRows  int
	MinRows  int
	// Exclude lists nicknames dropped from the batch after validation.
	// Matching is case-insensitive on trimmed names.
	Exclude []string
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.MinBytes <= 0 {
		o.MinBytes = MinLedgerBytes
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = MaxLedgerBytes
	}
	if o.MaxRows <= 0 {
		o.MaxRows = MaxLedgerRows
	}
	if o.MinRows <= 0 {
		o.MinRows = MinLedgerRows
	}
	return o
}

// ParsedLedger is a validated batch plus the non-fatal problems found while
// building it.
type ParsedLedger struct {
	Batch    GameBatch
	Warnings []*UploadError
	// Excluded counts rows dropped by ParseOptions.Exclude.
	Excluded int
}

// ReadLedger reads at most maxBytes+1 bytes from r so oversized uploads are
// detected without buffering them whole.
func ReadLedger(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = MaxLedgerBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, NewError(KindFileValidation, SubReadFailed, nil, WithCause(err))
	}
	return data, nil
}

// RawLedger is a ledger that passed file-level and CSV checks but whose rows
// have not been validated yet.
type RawLedger struct {
	GameDate   time.Time
	SourceName string
	Header     []string
	Records    [][]string
	lines      []int
}

// DecodeLedger runs the file-level and structural stages. name is the
// uploaded file name and carries the game date.
func DecodeLedger(name string, data []byte, opts ParseOptions) (*RawLedger, error) {
	opts = opts.withDefaults()

	gameDate, err := validateFile(name, data, opts)
	if err != nil {
		return nil, err
	}

	records, lines, err := readRecords(data)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, NewError(KindParsing, SubMissingHeader, nil)
	}
	return &RawLedger{
		GameDate:   gameDate,
		SourceName: baseName(name),
		Header:     records[0],
		Records:    records[1:],
		lines:      lines[1:],
	}, nil
}

// Validate runs the header, row and aggregate stages.
func (l *RawLedger) Validate(opts ParseOptions) (*ParsedLedger, error) {
	opts = opts.withDefaults()

	headerIdx, err := ValidateHeaders(l.Header)
	if err != nil {
		return nil, err
	}

	if len(l.Records) > opts.MaxRows {
		return nil, NewError(KindDataValidation, SubTooManyRows, map[string]any{
			"max":   opts.MaxRows,
			"count": len(l.Records),
		})
	}

	validator := NewRowValidator(headerIdx)
	out := &ParsedLedger{Batch: GameBatch{GameDate: l.GameDate, SourceName: l.SourceName}}
	var rowErrors []*UploadError

	for i, record := range l.Records {
		res := validator.ValidateRow(l.line(i), record)
		out.Warnings = append(out.Warnings, res.Warnings...)
		if !res.Valid() {
			rowErrors = append(rowErrors, res.Errors...)
			continue
		}
		out.Batch.Rows = append(out.Batch.Rows, res.Row)
	}

	if len(out.Batch.Rows) == 0 {
		if len(rowErrors) > 0 {
			return nil, rowErrors[0]
		}
		return nil, NewError(KindDataValidation, SubInsufficientRows, map[string]any{
			"min":   opts.MinRows,
			"count": 0,
		})
	}
	// Rejected rows are reported ahead of softer warnings.
	out.Warnings = append(rowErrors, out.Warnings...)

	if len(opts.Exclude) > 0 {
		out.Batch.Rows, out.Excluded = excludeRows(out.Batch.Rows, opts.Exclude)
	}

	if len(out.Batch.Rows) < opts.MinRows {
		return nil, NewError(KindDataValidation, SubInsufficientRows, map[string]any{
			"min":   opts.MinRows,
			"count": len(out.Batch.Rows),
		})
	}
	return out, nil
}

func (l *RawLedger) line(i int) int {
	if i < len(l.lines) {
		return l.lines[i]
	}
	return i + 2
}

// ParseLedger decodes and validates a ledger file in one call.
func ParseLedger(name string, data []byte, opts ParseOptions) (*ParsedLedger, error) {
	raw, err := DecodeLedger(name, data, opts)
	if err != nil {
		return nil, err
	}
	return raw.Validate(opts)
}

func validateFile(name string, data []byte, opts ParseOptions) (time.Time, error) {
	var t time.Time
	size := int64(len(data))
	switch {
	case size == 0:
		return t, NewError(KindFileValidation, SubEmptyFile, map[string]any{"filename": baseName(name)})
	case size < opts.MinBytes:
		return t, NewError(KindFileValidation, SubFileTooSmall, map[string]any{"size": size, "min": opts.MinBytes})
	case size > opts.MaxBytes:
		return t, NewError(KindFileValidation, SubFileTooLarge, map[string]any{"size": size, "max": opts.MaxBytes})
	}

	date, err := ParseLedgerFilename(name)
	if err != nil {
		return t, err
	}
	if looksBinary(data) {
		return t, NewError(KindFileValidation, SubBinaryContent, map[string]any{"filename": baseName(name)})
	}
	return date, nil
}

// readRecords parses CSV with doubled-quote escaping and returns each record
// with its starting line number. Blank lines are skipped.
func readRecords(data []byte) ([][]string, []int, error) {
	r := csv.NewReader(NormalizeLedgerReader(bytes.NewReader(data)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var records [][]string
	var lines []int
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			ctx := map[string]any{"line": 0, "reason": err.Error()}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				ctx["line"] = pe.Line
				ctx["reason"] = pe.Err.Error()
			}
			return nil, nil, NewError(KindParsing, SubMalformedCSV, ctx, WithCause(err))
		}
		if isEmptyRecord(rec) {
			continue
		}
		line, _ := r.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
	return records, lines, nil
}

func isEmptyRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func excludeRows(rows []LedgerRow, exclude []string) ([]LedgerRow, int) {
	drop := make(map[string]struct{}, len(exclude))
	for _, n := range exclude {
		drop[normalizeNickname(n)] = struct{}{}
	}
	kept := rows[:0:0]
	for _, row := range rows {
		if _, ok := drop[normalizeNickname(row.Nickname)]; ok {
			continue
		}
		kept = append(kept, row)
	}
	return kept, len(rows) - len(kept)
}

func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// SortedResults returns per-player results ordered by net descending.
// Equal nets keep first-appearance order.
func SortedResults(b GameBatch) []PlayerGameResult {
	results := b.Results()
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].NetCents > results[j].NetCents
	})
	return results
}
