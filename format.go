package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Err, format, args...)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// formatTime returns a compact local timestamp, or "-" for nil.
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}

	return t.Local().Format("2006-01-02 15:04")
}

// formatAge renders t relative to now ("3 minutes ago", "2 hours from now").
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return humanize.Time(t)
}

// truncate shortens s to n runes with a trailing ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n-1]) + "…"
}

// Accepted layouts for time flags.
var timeFlagLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// parseTimeFlag accepts an absolute time (RFC 3339 or a date) or a signed
// duration relative to now ("-24h", "72h"). Empty yields def.
func parseTimeFlag(name, value string, now, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}

	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(d), nil
	}

	for _, layout := range timeFlagLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("--%s: cannot parse %q as a date, RFC 3339 time, or duration", name, value)
}

// timeWindow parses a --start/--end style pair and checks the order.
func timeWindow(startName, startVal, endName, endVal string, now, defStart, defEnd time.Time) (time.Time, time.Time, error) {
	start, err := parseTimeFlag(startName, startVal, now, defStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	end, err := parseTimeFlag(endName, endVal, now, defEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--%s (%s) must be after --%s (%s)",
			endName, end.Format(time.RFC3339), startName, start.Format(time.RFC3339))
	}

	return start, end, nil
}
