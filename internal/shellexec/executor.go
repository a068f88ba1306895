// Package shellexec executes shell/nodetool/redis-cli style operations
// and converts their stdout into structured rows, enforcing a command
// safelist unless the caller explicitly opts out.
package shellexec

import (
	"fmt"
	"strings"
)

// Parser converts a command's raw stdout into either an ordered sequence
// of row-maps or a single attribute map.
type Parser interface {
	Parse(command string, stdout string) (Parsed, error)
}

// Parsed is the structured result of running a Parser over stdout.
type Parsed struct {
	Rows  []map[string]any
	Attrs map[string]any
}

// RowMaps returns the parsed result as row maps, folding a single
// attribute map into one row.
func (p Parsed) RowMaps() []map[string]any {
	if p.Rows != nil {
		return p.Rows
	}
	if p.Attrs != nil {
		return []map[string]any{p.Attrs}
	}
	return nil
}

// HostExecutor is the minimal surface Executor needs from the SSH pool: run
// one command on the primary host.
type HostExecutor interface {
	Execute(host, command string) (stdout string, exitCode int, err error)
}

// HostExecutorFunc adapts a closure to HostExecutor, letting callers
// bind their SSH pool and context without a dedicated adapter type.
type HostExecutorFunc func(host, command string) (stdout string, exitCode int, err error)

func (f HostExecutorFunc) Execute(host, command string) (string, int, error) {
	return f(host, command)
}

// safeCommands is the default safelist of command names the executor will
// run without an explicit unsafe-allowed flag.
var safeCommands = map[string]bool{
	"df": true, "free": true, "ps": true, "uptime": true, "w": true,
	"top": true, "vmstat": true, "iostat": true, "netstat": true, "ss": true,
	"lsof": true, "dmesg": true, "journalctl": true, "systemctl": true,
	"nodetool": true, "cqlsh": true, "redis-cli": true, "valkey-cli": true,
	"mongo": true, "mongosh": true, "du": true, "ls": true, "find": true,
	"grep": true, "awk": true, "sed": true, "cat": true, "tail": true,
	"head": true, "wc": true, "sort": true, "uniq": true, "hostname": true,
	"uname": true, "whoami": true, "id": true,
}

// emptyOKCommands legitimately may return no lines. Run hands their empty
// output to the parser like any other output and adds no note; empty
// output from any other command that exits 0 is replaced by a
// "command produced no output" note. Neither case is an error.
var emptyOKCommands = map[string]bool{
	"find": true, "grep": true, "locate": true, "ls": true, "awk": true,
	"sed": true, "lsof": true,
}

var dangerousMeta = []string{";", "&&", "||", "`", "$(", "${", "$"}

// UnsafeCommandError reports that a command was rejected by the safelist
// or metacharacter check.
type UnsafeCommandError struct {
	Command string
	Reason  string
}

func (e *UnsafeCommandError) Error() string {
	return fmt.Sprintf("shellexec: command %q rejected: %s", e.Command, e.Reason)
}

// Executor dispatches shell/nodetool/redis-cli operations, parses their
// output, and enforces the command safelist unless AllowUnsafe is set.
type Executor struct {
	AllowUnsafe bool
	parsers     map[string]Parser
}

// New creates an Executor with the built-in parser set registered.
func New() *Executor {
	e := &Executor{parsers: make(map[string]Parser)}
	e.RegisterParser("nodetool", NodetoolParser{})
	e.RegisterParser("shell", ShellParser{})
	e.RegisterParser("redis-cli", RedisCLIParser{})
	return e
}

// RegisterParser adds or replaces the parser used for one operation kind,
// so new tools can be supported without touching Run.
func (e *Executor) RegisterParser(operation string, p Parser) {
	e.parsers[operation] = p
}

// Sanitize validates a command against the safelist and dangerous
// metacharacters, unless AllowUnsafe is set (in which case the bypass is
// the caller's responsibility to log at warning level).
func (e *Executor) Sanitize(command string) error {
	if e.AllowUnsafe {
		return nil
	}
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return &UnsafeCommandError{Command: command, Reason: "empty command"}
	}
	for _, meta := range dangerousMeta {
		if strings.Contains(trimmed, meta) {
			return &UnsafeCommandError{Command: command, Reason: "dangerous metacharacter " + meta}
		}
	}
	name := commandName(trimmed)
	if !safeCommands[name] {
		return &UnsafeCommandError{Command: command, Reason: "not in safelist"}
	}
	return nil
}

func commandName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	name := fields[0]
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// IsEmptyOK reports whether empty stdout for this command name is expected
// rather than an error condition.
func IsEmptyOK(command string) bool {
	return emptyOKCommands[commandName(command)]
}

// Run sanitizes, executes via the given host runner, and parses the
// result using the parser registered for operation.
func (e *Executor) Run(host, operation, command string, runner HostExecutor) (Parsed, string, int, error) {
	if err := e.Sanitize(command); err != nil {
		return Parsed{}, "", -1, err
	}

	stdout, exitCode, err := runner.Execute(host, command)
	if err != nil {
		return Parsed{}, stdout, exitCode, err
	}

	if stdout == "" && !IsEmptyOK(command) && exitCode == 0 {
		return Parsed{Attrs: map[string]any{"note": "command produced no output"}}, stdout, exitCode, nil
	}

	parser, ok := e.parsers[operation]
	if !ok {
		return Parsed{Rows: []map[string]any{{"command": command, "output": stdout}}}, stdout, exitCode, nil
	}
	parsed, err := parser.Parse(command, stdout)
	return parsed, stdout, exitCode, err
}
