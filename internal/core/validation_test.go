package core

import (
	"strings"
	"testing"
)

func TestValidateHeaders_Aliases(t *testing.T) {
	tests := []struct {
		name   string
		header []string
	}{
		{"canonical", []string{"nickname", "id", "buyIn", "buyOut", "stack", "net"}},
		{"snake case", []string{"player_nickname", "player_id", "buy_in", "buy_out", "stack", "net"}},
		{"spaced and cased", []string{" Player Nickname ", "PLAYER-ID", "Buy In", "stack", "Net"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := ValidateHeaders(tt.header)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if idx[ColNickname] != 0 || idx[ColPlayerID] != 1 || idx[ColBuyIn] != 2 {
				t.Errorf("idx = %v", idx)
			}
		})
	}
}

func TestValidateHeaders_FirstOccurrenceWins(t *testing.T) {
	idx, err := ValidateHeaders([]string{"net", "nickname", "id", "buyIn", "stack", "net"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx[ColNet] != 0 {
		t.Errorf("net index = %d, want 0", idx[ColNet])
	}
}

func TestValidateRow(t *testing.T) {
	idx, err := ValidateHeaders([]string{"nickname", "id", "session_start_at", "buyIn", "buyOut", "stack", "net"})
	if err != nil {
		t.Fatal(err)
	}
	v := NewRowValidator(idx)

	tests := []struct {
		name         string
		record       []string
		wantValid    bool
		wantErrors   []string
		wantWarnings []string
	}{
		{"valid", []string{"Alice", "a1", "", "1000", "500", "2000", "1500"}, true, nil, nil},
		{"rounding tolerance", []string{"Alice", "a1", "", "1000", "", "2000", "1001"}, true, nil, nil},
		{"short record", []string{"Alice", "a1"}, false, []string{SubMissingField, SubMissingField, SubMissingField}, nil},
		{"markup only nickname", []string{"<b></b>", "a1", "", "1000", "", "2000", "1000"}, false, []string{SubMissingField}, nil},
		{"long nickname", []string{strings.Repeat("x", 51), "a1", "", "1000", "", "2000", "1000"}, false, []string{SubFieldTooLong}, nil},
		{"bad required number", []string{"Alice", "a1", "", "ten", "", "2000", "1000"}, false, []string{SubInvalidNumber}, nil},
		{"bad optional number", []string{"Alice", "a1", "", "1000", "lots", "2000", "1000"}, true, nil, []string{SubInvalidNumber}},
		{"huge exponent", []string{"Alice", "a1", "", "1000", "", "2000", "1e99999999"}, false, []string{SubInvalidNumber}, nil},
		{"beyond int64", []string{"Alice", "a1", "", "99999999999999999999999", "", "2000", "1000"}, false, []string{SubInvalidNumber}, nil},
		{"negative buy-in", []string{"Alice", "a1", "", "-5", "", "0", "5"}, false, []string{SubNegativeBuyIn}, nil},
		{"bad timestamp", []string{"Alice", "a1", "yesterday", "1000", "", "2000", "1000"}, true, nil, []string{SubInvalidTimestamp}},
		{"net mismatch", []string{"Alice", "a1", "", "1000", "", "2000", "900"}, true, nil, []string{SubNetMismatch}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateRow(7, tt.record)
			if res.Valid() != tt.wantValid {
				t.Fatalf("Valid() = %v, want %v (errors %v)", res.Valid(), tt.wantValid, res.Errors)
			}
			if got := subkinds(res.Errors); got != strings.Join(tt.wantErrors, ",") {
				t.Errorf("errors = %s, want %v", got, tt.wantErrors)
			}
			if got := subkinds(res.Warnings); got != strings.Join(tt.wantWarnings, ",") {
				t.Errorf("warnings = %s, want %v", got, tt.wantWarnings)
			}
			for _, e := range append(res.Errors, res.Warnings...) {
				if e.Context["line"] != 7 {
					t.Errorf("%s line = %v, want 7", e.Subkind, e.Context["line"])
				}
			}
		})
	}
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1500", 1500, false},
		{"-1275", -1275, false},
		{"1,500", 1500, false},
		{"10.5", 11, false},
		{"-10.5", -11, false},
		{"0", 0, false},
		{"1e3", 1000, false},
		{"abc", 0, true},
		{"NaN", 0, true},
		{"12$", 0, true},
		{"1000000000000", MaxCents, false},
		{"-1000000000000", -MaxCents, false},
		{"1000000000001", 0, true},
		{"99999999999999999999999", 0, true},
		{"1e99999999", 0, true},
		{"1e-99999999", 0, true},
		{"0e99999999", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseCents(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCents(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCents(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func subkinds(errs []*UploadError) string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Subkind
	}
	return strings.Join(out, ",")
}
