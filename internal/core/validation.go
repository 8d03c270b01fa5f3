package core

// validation.go provides header and row validation for ledger files.
//
// Validation happens at two levels:
//  1. Header validation: every required column is present under its name or an alias
//  2. Row validation: each cell is checked against its ColumnSpec (text length, cents, timestamp)
//
// ValidateRow returns every problem with a row so callers can report all of
// them at once. Problems that reject the row are Errors; problems that only
// lose optional data are Warnings.

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ColumnKind is the value type of a ledger column.
type ColumnKind int

const (
	ColumnText ColumnKind = iota
	ColumnCents
	ColumnTimestamp
)

// MaxTextFieldLen is the maximum length of a nickname or player id.
const MaxTextFieldLen = 50

// ColumnSpec describes one ledger column.
type ColumnSpec struct {
	Name     string   // canonical name, used in error context
	Aliases  []string // alternative header names
	Kind     ColumnKind
	Required bool
}

// Canonical column names.
const (
	ColNickname     = "nickname"
	ColPlayerID     = "id"
	ColSessionStart = "session_start_at"
	ColSessionEnd   = "session_end_at"
	ColBuyIn        = "buyIn"
	ColBuyOut       = "buyOut"
	ColStack        = "stack"
	ColNet          = "net"
)

// LedgerColumns lists every column a ledger may carry.
var LedgerColumns = []ColumnSpec{
	{Name: ColNickname, Aliases: []string{"player_nickname"}, Kind: ColumnText, Required: true},
	{Name: ColPlayerID, Aliases: []string{"player_id"}, Kind: ColumnText, Required: true},
	{Name: ColSessionStart, Kind: ColumnTimestamp},
	{Name: ColSessionEnd, Kind: ColumnTimestamp},
	{Name: ColBuyIn, Aliases: []string{"buy_in"}, Kind: ColumnCents, Required: true},
	{Name: ColBuyOut, Aliases: []string{"buy_out"}, Kind: ColumnCents},
	{Name: ColStack, Kind: ColumnCents, Required: true},
	{Name: ColNet, Kind: ColumnCents, Required: true},
}

// HeaderIndex maps canonical column names to their position in a record.
type HeaderIndex map[string]int

// normalizeHeader lowercases a header and removes separators so "buy_in",
// "Buy In" and "buyIn" compare equal.
func normalizeHeader(s string) string {
	s = strings.ToLower(CleanCell(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

// ValidateHeaders maps header cells onto LedgerColumns.
// The first occurrence of a column wins. Missing required columns are
// reported together as Parsing/missing_columns.
func ValidateHeaders(header []string) (HeaderIndex, error) {
	names := make(map[string]string, len(LedgerColumns)*2)
	for _, spec := range LedgerColumns {
		names[normalizeHeader(spec.Name)] = spec.Name
		for _, a := range spec.Aliases {
			names[normalizeHeader(a)] = spec.Name
		}
	}

	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		name, ok := names[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, seen := idx[name]; !seen {
			idx[name] = i
		}
	}

	var missing []string
	for _, spec := range LedgerColumns {
		if !spec.Required {
			continue
		}
		if _, ok := idx[spec.Name]; !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		return nil, NewError(KindParsing, SubMissingColumns, map[string]any{"columns": missing})
	}
	return idx, nil
}

// RowResult is the outcome of validating one record.
type RowResult struct {
	Row      LedgerRow
	Errors   []*UploadError
	Warnings []*UploadError
}

// Valid reports whether the row can be used.
func (r RowResult) Valid() bool {
	return len(r.Errors) == 0
}

// RowValidator validates ledger records against LedgerColumns.
type RowValidator struct {
	headerIdx HeaderIndex
}

// NewRowValidator creates a validator for a validated header index.
func NewRowValidator(headerIdx HeaderIndex) *RowValidator {
	return &RowValidator{headerIdx: headerIdx}
}

// ValidateRow validates a single record. line is the 1-based file line used
// in error context.
func (v *RowValidator) ValidateRow(line int, record []string) RowResult {
	res := RowResult{Row: LedgerRow{Line: line}}

	fail := func(sub string, ctx map[string]any) {
		ctx["line"] = line
		res.Errors = append(res.Errors, NewError(KindDataValidation, sub, ctx))
	}
	warn := func(sub string, ctx map[string]any) {
		ctx["line"] = line
		res.Warnings = append(res.Warnings, NewError(KindDataValidation, sub, ctx))
	}

	for _, spec := range LedgerColumns {
		raw := v.cell(spec.Name, record)

		if raw == "" {
			if spec.Required {
				fail(SubMissingField, map[string]any{"field": spec.Name})
			}
			continue
		}

		switch spec.Kind {
		case ColumnText:
			raw = SanitizeText(raw)
			if raw == "" {
				fail(SubMissingField, map[string]any{"field": spec.Name})
				continue
			}
			if len([]rune(raw)) > MaxTextFieldLen {
				fail(SubFieldTooLong, map[string]any{"field": spec.Name, "max": MaxTextFieldLen})
				continue
			}
			v.setText(&res.Row, spec.Name, raw)

		case ColumnCents:
			cents, err := ParseCents(raw)
			if err != nil {
				if spec.Required {
					fail(SubInvalidNumber, map[string]any{"field": spec.Name, "value": raw})
				} else {
					warn(SubInvalidNumber, map[string]any{"field": spec.Name, "value": raw})
				}
				continue
			}
			v.setCents(&res.Row, spec.Name, cents)

		case ColumnTimestamp:
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				warn(SubInvalidTimestamp, map[string]any{"field": spec.Name, "value": raw})
				continue
			}
			ts = ts.UTC()
			if spec.Name == ColSessionStart {
				res.Row.SessionStart = &ts
			} else {
				res.Row.SessionEnd = &ts
			}
		}
	}

	if res.Valid() && res.Row.BuyInCents < 0 {
		fail(SubNegativeBuyIn, map[string]any{"field": ColBuyIn, "value": res.Row.BuyInCents})
	}

	if res.Valid() {
		expected := res.Row.BuyOutCents + res.Row.StackCents - res.Row.BuyInCents
		if diff := expected - res.Row.NetCents; diff > 1 || diff < -1 {
			warn(SubNetMismatch, map[string]any{"expected": expected, "net": res.Row.NetCents})
		}
	}
	return res
}

func (v *RowValidator) cell(name string, record []string) string {
	pos, ok := v.headerIdx[name]
	if !ok || pos >= len(record) {
		return ""
	}
	return CleanCell(record[pos])
}

func (v *RowValidator) setText(row *LedgerRow, name, value string) {
	switch name {
	case ColNickname:
		row.Nickname = value
	case ColPlayerID:
		row.PlayerID = value
	}
}

func (v *RowValidator) setCents(row *LedgerRow, name string, cents int64) {
	switch name {
	case ColBuyIn:
		row.BuyInCents = cents
	case ColBuyOut:
		row.BuyOutCents = cents
		row.HasBuyOut = true
	case ColStack:
		row.StackCents = cents
	case ColNet:
		row.NetCents = cents
	}
}

// Amount bounds. The exponent bound keeps rounding cheap; values outside
// it are never real ledger amounts.
const (
	MaxCents       = 1_000_000_000_000
	maxCentsExpAbs = 18
)

var maxCentsDec = decimal.NewFromInt(MaxCents)

// ParseCents parses a finite numeric cell as integer cents. Fractional cents
// are rounded half away from zero. Magnitudes above MaxCents are rejected.
func ParseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, err
	}
	if d.IsZero() {
		return 0, nil
	}
	if exp := d.Exponent(); exp > maxCentsExpAbs || exp < -maxCentsExpAbs {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	d = d.Round(0)
	if d.Abs().GreaterThan(maxCentsDec) {
		return 0, fmt.Errorf("amount %q exceeds %d cents", s, int64(MaxCents))
	}
	return d.IntPart(), nil
}
