package utils

import (
	"regexp"
	"strings"
)

var (
	lineBreakPattern  = regexp.MustCompile(`\r?\n`)
	keyWhitespace     = regexp.MustCompile(`\s+`)
	tableRulerPattern = regexp.MustCompile(`^[\s-]+$`)
)

// Record is one block of "-instance" output as normalized key/value pairs
type Record map[string]string

// Get returns the value for key and whether the key was present
func (r Record) Get(key string) (string, bool) {
	v, ok := r[key]
	return v, ok
}

// NormalizeKey removes all whitespace from a CLI key, so "Is Pool Healthy?"
// becomes "IsPoolHealthy?".
func NormalizeKey(key string) string {
	return keyWhitespace.ReplaceAllString(key, "")
}

// SplitLines splits command output on CRLF or LF line endings
func SplitLines(output string) []string {
	return lineBreakPattern.Split(output, -1)
}

// ParseKeyValues tokenizes lines into a Record by splitting each line on its
// first colon. Lines without a colon are ignored; later duplicates win.
func ParseKeyValues(lines []string) Record {
	record := make(Record)
	for _, line := range lines {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := NormalizeKey(line[:idx])
		if key == "" {
			continue
		}
		record[key] = strings.TrimSpace(line[idx+1:])
	}
	return record
}

// ParseRecords splits "-instance" output into records. A new record starts at
// every line whose normalized key equals marker; text before the first marker
// line is a header and is discarded.
func ParseRecords(output, marker string) []Record {
	var (
		records []Record
		current []string
		started bool
	)

	for _, line := range SplitLines(output) {
		if isMarkerLine(line, marker) {
			if started {
				records = append(records, ParseKeyValues(current))
			}
			started = true
			current = current[:0]
		}
		if started {
			current = append(current, line)
		}
	}
	if started {
		records = append(records, ParseKeyValues(current))
	}

	return records
}

func isMarkerLine(line, marker string) bool {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return false
	}
	return NormalizeKey(line[:idx]) == marker
}

// ParseTable returns the whitespace separated fields of every row that follows
// the dashed ruler line of a tabular listing. Blank rows are skipped. Output
// without a ruler yields no rows.
func ParseTable(output string) [][]string {
	var (
		rows      [][]string
		pastRuler bool
	)

	for _, line := range SplitLines(output) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !pastRuler {
			if strings.Contains(trimmed, "-") && tableRulerPattern.MatchString(trimmed) {
				pastRuler = true
			}
			continue
		}
		rows = append(rows, strings.Fields(trimmed))
	}

	return rows
}
