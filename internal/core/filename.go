package core

import (
	"regexp"
	"strconv"
	"time"
)

// ledgerNameRe matches ledgerYY_MM_DD.csv and ledgerYY_MM_DD(n).csv.
var ledgerNameRe = regexp.MustCompile(`^ledger(\d{2})_(\d{2})_(\d{2})(?:\((\d+)\))?\.csv$`)

// ParseLedgerFilename extracts the game date from a ledger file name.
// Directory components are ignored. Two-digit years map to 20YY.
//
// A name with the wrong shape is FileValidation/invalid_filename; a well-shaped
// name whose month or day is not a real calendar value is
// DataValidation/invalid_date_format.
func ParseLedgerFilename(name string) (time.Time, error) {
	base := baseName(name)
	m := ledgerNameRe.FindStringSubmatch(base)
	if m == nil {
		return time.Time{}, NewError(KindFileValidation, SubInvalidFilename, map[string]any{"filename": base})
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	if month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month), 2000+year) {
		return time.Time{}, NewError(KindDataValidation, SubInvalidDateFormat, map[string]any{
			"filename": base,
			"month":    month,
			"day":      day,
		})
	}
	return time.Date(2000+year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

func daysIn(m time.Month, year int) int {
	// Day 0 of the following month is the last day of m.
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
