package review

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/VaralaVishal/Pan-Management-System/internal/extraction"
)

// FieldErrors maps a field name to its error message.
type FieldErrors map[string]string

// Result maps a row index to that row's field errors. A row with no
// entry is valid.
type Result map[int]FieldErrors

// Accepted date shape: day, month, four-digit year. The two separators
// may differ from each other ("21-07/2025" is recognized text, not a
// typo worth rejecting).
var dateShape = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})$`)

// ValidateRow applies the per-field rules to a single row. It never
// mutates the row; callers re-run it after each edit and before save.
//
// The day check stops at 31 for every month: day 31 of a 30-day month
// passes. Recognized digits are low quality and a human reviewer
// should see the row inline rather than have it rejected outright.
func ValidateRow(row extraction.Row) FieldErrors {
	errs := FieldErrors{}

	amount := strings.TrimSpace(row.Amount)
	if amount == "" {
		errs["amount"] = "Required"
	} else if _, err := strconv.ParseFloat(strings.ReplaceAll(amount, ",", ""), 64); err != nil {
		errs["amount"] = "Must be a number"
	}

	if strings.TrimSpace(row.Mark) == "" {
		errs["mark"] = "Required"
	}

	date := strings.TrimSpace(row.Date)
	if date == "" {
		errs["date"] = "Required"
	} else if m := dateShape.FindStringSubmatch(date); m == nil {
		errs["date"] = "Invalid format"
	} else {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		var out []string
		if day < 1 || day > 31 {
			out = append(out, "Invalid day")
		}
		if month < 1 || month > 12 {
			out = append(out, "Invalid month")
		}
		if len(out) > 0 {
			errs["date"] = strings.Join(out, "; ")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateRows validates every row and returns a fresh Result.
func ValidateRows(rows []extraction.Row) Result {
	result := Result{}
	for i, row := range rows {
		if errs := ValidateRow(row); errs != nil {
			result[i] = errs
		}
	}
	return result
}
