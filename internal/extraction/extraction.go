// Package extraction turns recognized bill text into candidate entry
// rows. Recognized text is unreliable in spacing and noise, so a single
// rigid pattern would reject too much real data; extraction instead
// tries three strategies per line, from strict to lenient, and keeps
// whatever fields it can find.
package extraction

import "strings"

// Row is a provisional entry extracted from one line of recognized
// text. All fields stay as strings until save so the user can edit
// them freely (including thousands separators in the amount).
type Row struct {
	Amount string `json:"amount"`
	Mark   string `json:"mark"`
	Date   string `json:"date"`
	Extra  string `json:"extra"`
	// Raw is the original source line, kept for audit. Empty for rows
	// the user added by hand.
	Raw string `json:"raw"`
}

// SplitLines splits raw recognized text into trimmed, non-empty lines,
// preserving top-to-bottom order.
func SplitLines(text string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Extract attempts to pull amount, mark, date and extra text out of a
// single line. It tries the strict columnar pattern first, then a
// loose token scan, then a positional split, stopping at the first
// strategy that produces anything. The returned bool is false when no
// strategy found structured data; the row still carries the source
// line so callers can report what was skipped.
func Extract(line string) (Row, bool) {
	if m := strictPattern.FindStringSubmatch(line); m != nil {
		return Row{
			Amount: m[1],
			Mark:   m[2],
			Date:   strings.TrimSpace(m[3]),
			Extra:  strings.TrimSpace(m[4]),
			Raw:    line,
		}, true
	}

	// Loose scan: find the fields independently anywhere in the line.
	// A date is optional here; a missing date is preferred to a wrong
	// one fabricated from noise.
	amount := amountPattern.FindString(line)
	mark := markPattern.FindString(line)
	if amount != "" && mark != "" {
		return Row{
			Amount: amount,
			Mark:   mark,
			Date:   datePattern.FindString(line),
			Raw:    line,
		}, true
	}

	// Positional fallback: assume column order amount, mark, date.
	// A token failing its shape check becomes an empty field rather
	// than aborting the whole row.
	parts := strings.Fields(line)
	if len(parts) >= 3 {
		row := Row{Raw: line}
		if amountToken.MatchString(parts[0]) {
			row.Amount = parts[0]
		}
		if markToken.MatchString(parts[1]) {
			row.Mark = parts[1]
		}
		if dateToken.MatchString(parts[2]) {
			row.Date = parts[2]
		}
		row.Extra = strings.Join(parts[3:], " ")
		return row, true
	}

	return Row{Raw: line}, false
}

// RowsFromText runs the full pipeline over recognized text: segment
// into lines, extract per line, and keep only rows that carry at least
// an amount and a mark. Lines yielding nothing usable are skipped;
// that is a routine outcome of heuristic matching, not an error.
func RowsFromText(text string) []Row {
	rows := make([]Row, 0)
	for _, line := range SplitLines(text) {
		row, ok := Extract(line)
		if !ok {
			continue
		}
		if row.Amount == "" || row.Mark == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
