// Package formatter renders rows and admonition-style messages into the
// stable tabular/markup form checks embed in their report fragments.
// Formatter is an interface so an alternate renderer can be substituted
// without touching check code.
package formatter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Formatter renders structured data into report markup.
type Formatter interface {
	Table(rows []map[string]any) string
	DictTable(data map[string]any, keyHeader, valueHeader string) string
	Literal(text string) string
	Note(message string) string
	Warning(message string) string
	Critical(message string) string
	ErrorBlock(message string) string
	Tip(message string) string
}

// AsciiDocFormatter is the default report formatter, emitting AsciiDoc
// tables and admonition blocks.
type AsciiDocFormatter struct{}

// tabularCommands lists shell commands whose output the caller should
// treat as tabular when deciding how to render it.
var tabularCommands = []string{
	"df", "ps", "free", "top", "netstat", "ss", "lsof", "iostat", "vmstat", "mpstat", "sar", "du",
}

// Table renders rows as an AsciiDoc table whose columns are the first
// row's keys, sorted. Checks that need a
// guaranteed column order should use TableOrdered instead.
func (AsciiDocFormatter) Table(rows []map[string]any) string {
	if len(rows) == 0 {
		return "[NOTE]\n====\nNo data to display.\n====\n"
	}
	columns := sortedKeys(rows[0])
	return buildTable(columns, rows)
}

// TableOrdered renders rows with an explicit, caller-chosen column
// order, used when a map's natural key order would not match the
// original data's column sequence.
func (AsciiDocFormatter) TableOrdered(columns []string, rows []map[string]any) string {
	if len(rows) == 0 {
		return "[NOTE]\n====\nNo data to display.\n====\n"
	}
	return buildTable(columns, rows)
}

func buildTable(columns []string, rows []map[string]any) string {
	var b strings.Builder
	b.WriteString("|===\n")
	b.WriteString("|" + strings.Join(columns, "|") + "\n")
	for _, row := range rows {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = escapeAsciiDoc(stringify(row[col]))
		}
		b.WriteString("|" + strings.Join(values, "|") + "\n")
	}
	b.WriteString("|===\n")
	return b.String()
}

func (AsciiDocFormatter) DictTable(data map[string]any, keyHeader, valueHeader string) string {
	if len(data) == 0 {
		return "[NOTE]\n====\nNo data to display.\n====\n"
	}
	var b strings.Builder
	b.WriteString("|===\n")
	b.WriteString(fmt.Sprintf("|%s|%s\n", keyHeader, valueHeader))
	for _, key := range sortedKeys(data) {
		b.WriteString(fmt.Sprintf("|%s|%s\n", escapeAsciiDoc(key), escapeAsciiDoc(stringify(data[key]))))
	}
	b.WriteString("|===\n")
	return b.String()
}

func (AsciiDocFormatter) Literal(text string) string {
	if text == "" {
		text = "(empty)"
	}
	return fmt.Sprintf("[source,text]\n----\n%s\n----\n", text)
}

func (AsciiDocFormatter) Note(message string) string {
	return fmt.Sprintf("[NOTE]\n====\n%s\n====\n", message)
}

func (AsciiDocFormatter) Warning(message string) string {
	return fmt.Sprintf("[WARNING]\n====\n%s\n====\n", message)
}

func (AsciiDocFormatter) Critical(message string) string {
	return fmt.Sprintf("[IMPORTANT]\n====\n%s\n====\n", message)
}

func (AsciiDocFormatter) ErrorBlock(message string) string {
	return fmt.Sprintf("[CAUTION]\n====\n%s\n====\n", message)
}

func (AsciiDocFormatter) Tip(message string) string {
	return fmt.Sprintf("[TIP]\n====\n%s\n====\n", message)
}

// ShellOutput formats a shell command's stdout, rendering it as a table
// when the command is known to produce tabular output and has a
// multi-column header, falling back to a literal block otherwise.
func (f AsciiDocFormatter) ShellOutput(command, output string) string {
	if strings.TrimSpace(output) == "" {
		return f.Note("No output from command.")
	}

	lower := strings.ToLower(command)
	isTabular := false
	for _, c := range tabularCommands {
		if strings.Contains(lower, c) {
			isTabular = true
			break
		}
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if isTabular && len(lines) > 1 {
		header := strings.Fields(lines[0])
		if len(header) >= 2 {
			return parseTabularOutput(lines, header)
		}
	}

	return f.Literal(output)
}

func parseTabularOutput(lines []string, header []string) string {
	var b strings.Builder
	b.WriteString("|===\n")
	b.WriteString("|" + strings.Join(header, "|") + "\n")

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := splitFieldsLimited(line, len(header))
		for len(parts) < len(header) {
			parts = append(parts, "")
		}
		if len(parts) > len(header) {
			parts = parts[:len(header)]
		}
		for i, p := range parts {
			parts[i] = escapeAsciiDoc(p)
		}
		b.WriteString("|" + strings.Join(parts, "|") + "\n")
	}
	b.WriteString("|===\n")
	return b.String()
}

// splitFieldsLimited splits on whitespace but stops once it has
// produced limit fields, leaving the remainder of the line in the last
// field, matching Python's str.split(None, limit-1) semantics.
func splitFieldsLimited(line string, limit int) []string {
	fields := strings.Fields(line)
	if limit <= 0 || len(fields) <= limit {
		return fields
	}
	return append(fields[:limit-1], strings.Join(fields[limit-1:], " "))
}

func escapeAsciiDoc(text string) string {
	text = strings.ReplaceAll(text, "|", "\\|")
	text = strings.ReplaceAll(text, "[", "\\[")
	text = strings.ReplaceAll(text, "]", "\\]")
	return text
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TruncateField returns a copy of rows with field_name's value
// shortened to maxLength (suffixed with "...") when it exceeds that
// length, leaving the input rows and other fields untouched.
func TruncateField(rows []map[string]any, fieldName string, maxLength int) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		copied := make(map[string]any, len(row))
		for k, v := range row {
			copied[k] = v
		}
		if v, ok := copied[fieldName]; ok && v != nil {
			s := stringify(v)
			if len(s) > maxLength {
				cut := maxLength - 3
				if cut < 0 {
					cut = 0
				}
				copied[fieldName] = s[:cut] + "..."
			}
		}
		out[i] = copied
	}
	return out
}
