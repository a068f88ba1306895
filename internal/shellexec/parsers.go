package shellexec

import (
	"strconv"
	"strings"
)

// sizeMultipliers converts a unit suffix to a byte multiplier.
var sizeMultipliers = map[string]float64{
	"B": 1, "K": 1024, "M": 1024 * 1024, "G": 1024 * 1024 * 1024,
	"T": 1024 * 1024 * 1024 * 1024,
	"KB": 1024, "MB": 1024 * 1024, "GB": 1024 * 1024 * 1024,
	"TB": 1024 * 1024 * 1024 * 1024,
	"KIB": 1024, "MIB": 1024 * 1024, "GIB": 1024 * 1024 * 1024,
	"TIB": 1024 * 1024 * 1024 * 1024,
}

// ParseSizeToBytes normalizes a size string into bytes. Both the
// nodetool shape ("108.45 KB", unit in its own field) and the df -h
// shape ("50G", "1.2T", unit glued to the number) are accepted.
func ParseSizeToBytes(s string) int64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "0" || strings.Contains(strings.ToLower(s), "bytes") {
		return 0
	}

	var numPart, unitPart string
	if parts := strings.Fields(s); len(parts) >= 2 {
		numPart, unitPart = parts[0], parts[1]
	} else {
		numPart = s
		for i, r := range s {
			if (r < '0' || r > '9') && r != '.' && r != '-' {
				numPart, unitPart = s[:i], s[i:]
				break
			}
		}
	}

	num, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0
	}
	mult, ok := sizeMultipliers[strings.ToUpper(strings.TrimSpace(unitPart))]
	if !ok {
		mult = 1
	}
	return int64(num * mult)
}

// ShellParser is the fallback parser for generic `{"operation":"shell"}`
// commands: it returns one row per non-empty output line, under "line".
type ShellParser struct{}

func (ShellParser) Parse(command, stdout string) (Parsed, error) {
	lines := splitNonEmpty(stdout)
	rows := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, map[string]any{"line": l})
	}
	return Parsed{Rows: rows}, nil
}

// RedisCLIParser parses `redis-cli INFO`-style `key:value` output into a
// single attribute map, converting every value that parses as a number
// to float64.
type RedisCLIParser struct{}

func (RedisCLIParser) Parse(command, stdout string) (Parsed, error) {
	attrs := make(map[string]any)
	for _, line := range splitNonEmpty(stdout) {
		if strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			attrs[key] = f
		} else {
			attrs[key] = val
		}
	}
	return Parsed{Attrs: attrs}, nil
}

// NodetoolParser dispatches by the nodetool subcommand, mirroring the
// original NodetoolParser.parse table.
type NodetoolParser struct{}

func (p NodetoolParser) Parse(command, stdout string) (Parsed, error) {
	sub := nodetoolSubcommand(command)
	switch sub {
	case "status":
		return Parsed{Rows: parseNodetoolStatus(stdout)}, nil
	case "tpstats":
		return Parsed{Rows: parseNodetoolTpstats(stdout)}, nil
	case "compactionstats":
		return Parsed{Attrs: parseNodetoolCompactionstats(stdout)}, nil
	default:
		return Parsed{Rows: []map[string]any{{"command": command, "output": stdout}}}, nil
	}
}

func nodetoolSubcommand(command string) string {
	fields := strings.Fields(command)
	for i, f := range fields {
		if f == "nodetool" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	if len(fields) > 0 {
		return fields[len(fields)-1]
	}
	return ""
}

var statusCodes = map[string]bool{
	"UN": true, "UL": true, "UJ": true, "UM": true,
	"DN": true, "DL": true, "DJ": true, "DM": true,
}

// parseNodetoolStatus parses `nodetool status` output into one row per
// node, carrying forward the current datacenter header.
func parseNodetoolStatus(output string) []map[string]any {
	var rows []map[string]any
	currentDC := "unknown"

	for _, line := range splitNonEmpty(output) {
		if strings.Contains(line, "Datacenter:") {
			parts := strings.SplitN(line, "Datacenter:", 2)
			if len(parts) > 1 {
				currentDC = strings.TrimSpace(parts[1])
			}
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 8 || !statusCodes[parts[0]] {
			continue
		}
		tokens, _ := strconv.Atoi(parts[4])
		owns, _ := strconv.ParseFloat(strings.TrimSuffix(parts[5], "%"), 64)
		rows = append(rows, map[string]any{
			"datacenter":             currentDC,
			"status":                 string(parts[0][0]),
			"state":                  string(parts[0][1]),
			"address":                parts[1],
			"load_bytes":             ParseSizeToBytes(parts[2] + " " + parts[3]),
			"tokens":                 tokens,
			"owns_effective_percent": owns,
			"host_id":                parts[6],
			"rack":                   parts[7],
		})
	}
	return rows
}

// parseNodetoolTpstats parses `nodetool tpstats` thread-pool rows,
// skipping the header and any malformed summary lines.
func parseNodetoolTpstats(output string) []map[string]any {
	var rows []map[string]any
	lines := splitNonEmpty(output)

	headerIdx := -1
	for i, l := range lines {
		if strings.Contains(strings.ToLower(l), "pool name") {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		return rows
	}

	for _, line := range lines[headerIdx+1:] {
		parts := strings.Fields(line)
		if len(parts) < 6 {
			continue
		}
		active, err1 := strconv.Atoi(parts[1])
		pending, err2 := strconv.Atoi(parts[2])
		completed, err3 := strconv.ParseInt(parts[3], 10, 64)
		blocked, err4 := strconv.Atoi(parts[4])
		allTimeBlocked, err5 := strconv.Atoi(parts[5])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		rows = append(rows, map[string]any{
			"pool_name":         parts[0],
			"active":            active,
			"pending":           pending,
			"completed":         completed,
			"blocked":           blocked,
			"all_time_blocked":  allTimeBlocked,
		})
	}
	return rows
}

func parseNodetoolCompactionstats(output string) map[string]any {
	pendingTasks := 0
	for _, line := range splitNonEmpty(output) {
		if strings.Contains(strings.ToLower(line), "pending tasks") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) > 1 {
				if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					pendingTasks = n
				}
			}
		}
	}
	return map[string]any{"pending_tasks": pendingTasks}
}

// FreeParser parses `free` output into a single attribute map in bytes,
// scaling by the command's -b, -k or -g flag (MiB otherwise, as for
// `free -m`). Human-readable `free -h` values are not parsed and come out
// as 0.
type FreeParser struct{}

func (FreeParser) Parse(command, stdout string) (Parsed, error) {
	lines := splitNonEmpty(stdout)
	attrs := make(map[string]any)
	unitMultiplier := int64(1024 * 1024) // `free -m` reports MiB
	if strings.Contains(command, "-b") {
		unitMultiplier = 1
	} else if strings.Contains(command, "-k") {
		unitMultiplier = 1024
	} else if strings.Contains(command, "-g") {
		unitMultiplier = 1024 * 1024 * 1024
	}

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "Mem":
			attrs["mem_total_bytes"] = parseIntOr0(fields[1]) * unitMultiplier
			attrs["mem_used_bytes"] = parseIntOr0(fields[2]) * unitMultiplier
			attrs["mem_free_bytes"] = parseIntOr0(fields[3]) * unitMultiplier
		case "Swap":
			attrs["swap_total_bytes"] = parseIntOr0(fields[1]) * unitMultiplier
			attrs["swap_used_bytes"] = parseIntOr0(fields[2]) * unitMultiplier
			attrs["swap_free_bytes"] = parseIntOr0(fields[3]) * unitMultiplier
		}
	}
	return Parsed{Attrs: attrs}, nil
}

// DfParser parses `df -h` output into one row per mounted filesystem,
// with unit-suffixed sizes normalized to bytes. Sizes without a unit
// suffix, such as the 1K-block counts of `df -k`, are taken as bytes.
type DfParser struct{}

func (DfParser) Parse(command, stdout string) (Parsed, error) {
	lines := splitNonEmpty(stdout)
	var rows []map[string]any
	for i, line := range lines {
		if i == 0 && strings.Contains(strings.ToLower(line), "filesystem") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		usePercent, _ := strconv.ParseFloat(strings.TrimSuffix(fields[4], "%"), 64)
		rows = append(rows, map[string]any{
			"filesystem":       fields[0],
			"size_bytes":       ParseSizeToBytes(fields[1]),
			"used_bytes":       ParseSizeToBytes(fields[2]),
			"available_bytes":  ParseSizeToBytes(fields[3]),
			"use_percent":      usePercent,
			"mounted_on":       fields[5],
		})
	}
	return Parsed{Rows: rows}, nil
}

func parseIntOr0(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
