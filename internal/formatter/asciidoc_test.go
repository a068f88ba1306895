package formatter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableEmptyRendersNote(t *testing.T) {
	out := AsciiDocFormatter{}.Table(nil)
	assert.Contains(t, out, "[NOTE]")
	assert.Contains(t, out, "No data to display")
}

func TestTableSortsColumnsAndEscapes(t *testing.T) {
	out := AsciiDocFormatter{}.Table([]map[string]any{
		{"b_col": "x|y", "a_col": 1},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "|===", lines[0])
	assert.Equal(t, "|a_col|b_col", lines[1])
	assert.Equal(t, `|1|x\|y`, lines[2])
	assert.Equal(t, "|===", lines[3])
}

func TestTableOrderedKeepsCallerColumnOrder(t *testing.T) {
	out := AsciiDocFormatter{}.TableOrdered([]string{"z", "a"}, []map[string]any{{"a": 1, "z": 2}})
	assert.Contains(t, out, "|z|a\n")
	assert.Contains(t, out, "|2|1\n")
}

func TestDictTable(t *testing.T) {
	out := AsciiDocFormatter{}.DictTable(map[string]any{"total_urp": 5.0}, "metric", "value")
	assert.Contains(t, out, "|metric|value")
	assert.Contains(t, out, "|total_urp|5")
}

func TestAdmonitionBlocks(t *testing.T) {
	f := AsciiDocFormatter{}
	assert.Contains(t, f.Note("n"), "[NOTE]")
	assert.Contains(t, f.Warning("w"), "[WARNING]")
	assert.Contains(t, f.Critical("c"), "[IMPORTANT]")
	assert.Contains(t, f.ErrorBlock("e"), "[CAUTION]")
	assert.Contains(t, f.Tip("t"), "[TIP]")
}

func TestShellOutputTabular(t *testing.T) {
	output := "Filesystem Size Used\n/dev/sda1 50G 40G\n"
	out := AsciiDocFormatter{}.ShellOutput("df -h", output)
	assert.Contains(t, out, "|Filesystem|Size|Used")
	assert.Contains(t, out, "|/dev/sda1|50G|40G")
}

func TestShellOutputNonTabularFallsBackToLiteral(t *testing.T) {
	out := AsciiDocFormatter{}.ShellOutput("uptime", "up 12 days")
	assert.Contains(t, out, "[source,text]")
	assert.Contains(t, out, "up 12 days")
}

func TestShellOutputEmptyBecomesNote(t *testing.T) {
	out := AsciiDocFormatter{}.ShellOutput("df -h", "   ")
	assert.Contains(t, out, "No output from command")
}

func TestSplitFieldsLimited(t *testing.T) {
	fields := splitFieldsLimited("a b c d e", 3)
	assert.Equal(t, []string{"a", "b", "c d e"}, fields)

	fields = splitFieldsLimited("a b", 3)
	assert.Equal(t, []string{"a", "b"}, fields)
}

func TestTruncateField(t *testing.T) {
	rows := []map[string]any{{"query": strings.Repeat("x", 50), "calls": 3}}
	out := TruncateField(rows, "query", 20)

	assert.Len(t, out[0]["query"].(string), 20)
	assert.True(t, strings.HasSuffix(out[0]["query"].(string), "..."))
	assert.Equal(t, 3, out[0]["calls"])
	assert.Len(t, rows[0]["query"].(string), 50, "input rows untouched")
}
