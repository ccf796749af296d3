package ingest

import (
	"strings"
	"time"
)

// Recognised header names.
const (
	colDeviceName = "Device_Name"
	colValue      = "Value"
	colUnit       = "Unit"
)

// timestampColumns are tried in order on every row; the first non-empty
// cell wins.
var timestampColumns = []string{"Timestamp", "Date", "Time"}

// zone-less layouts accepted after the date/time separator is normalised.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// columns maps recognised header names to indexes; -1 means absent.
type columns struct {
	deviceName int
	value      int
	unit       int
	timestamps []int
	count      int
}

func mapColumns(header []string) columns {
	c := columns{deviceName: -1, value: -1, unit: -1, count: len(header)}
	for i, name := range header {
		switch {
		case strings.EqualFold(name, colDeviceName) && c.deviceName < 0:
			c.deviceName = i
		case strings.EqualFold(name, colValue) && c.value < 0:
			c.value = i
		case strings.EqualFold(name, colUnit) && c.unit < 0:
			c.unit = i
		}
	}
	for _, want := range timestampColumns {
		for i, name := range header {
			if strings.EqualFold(name, want) {
				c.timestamps = append(c.timestamps, i)
				break
			}
		}
	}
	return c
}

// timestamp returns the first non-empty timestamp cell of a row.
func (c columns) timestamp(fields []string) string {
	for _, idx := range c.timestamps {
		if v := c.field(fields, idx); v != "" {
			return v
		}
	}
	return ""
}

// field returns the cleaned value at idx, or "" when the column is absent.
func (c columns) field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

// splitLines trims the document, drops a leading byte order mark and
// splits it on LF or CRLF. An empty document yields no lines.
func splitLines(text string) []string {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "\ufeff"))
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// splitFields splits a line on commas, trims each field and strips one
// layer of surrounding double quotes. Quoted commas are not supported.
func splitFields(line string) []string {
	fields := strings.Split(line, ",")
	for i, f := range fields {
		fields[i] = unquote(strings.TrimSpace(f))
	}
	return fields
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// parseTimestamp reads a CSV timestamp. "2025-01-15 14:30:00" is read as
// "2025-01-15T14:30:00"; values without a zone are taken in loc. The
// second result is false when raw is empty or unparsable.
func parseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if strings.Contains(raw, " ") && !strings.Contains(raw, "T") {
		raw = strings.Replace(raw, " ", "T", 1)
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
