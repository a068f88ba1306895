package shellexec_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/dbhealth/internal/shellexec"
)

func TestSanitizeAcceptsSafelistedCommands(t *testing.T) {
	e := shellexec.New()
	for _, cmd := range []string{"df -h", "free -m", "nodetool status", "redis-cli INFO", "/usr/bin/lsof -p 1234"} {
		assert.NoError(t, e.Sanitize(cmd), cmd)
	}
}

func TestSanitizeRejectsDangerousMetacharacters(t *testing.T) {
	e := shellexec.New()
	for _, cmd := range []string{
		"df -h; rm -rf /",
		"free && reboot",
		"cat `whoami`",
		"cat $(id)",
		"echo ${HOME}",
		"ls || true",
	} {
		err := e.Sanitize(cmd)
		require.Error(t, err, cmd)
		var unsafeErr *shellexec.UnsafeCommandError
		assert.ErrorAs(t, err, &unsafeErr)
	}
}

func TestSanitizeRejectsNonSafelistedCommand(t *testing.T) {
	e := shellexec.New()
	err := e.Sanitize("rm -rf /var/lib/cassandra")
	require.Error(t, err)
	var unsafeErr *shellexec.UnsafeCommandError
	require.ErrorAs(t, err, &unsafeErr)
	assert.Contains(t, unsafeErr.Reason, "safelist")
}

func TestSanitizeAllowUnsafeBypasses(t *testing.T) {
	e := shellexec.New()
	e.AllowUnsafe = true
	assert.NoError(t, e.Sanitize("rm -rf / ; echo done"))
}

func TestIsEmptyOK(t *testing.T) {
	assert.True(t, shellexec.IsEmptyOK("grep ERROR /var/log/kafka/server.log"))
	assert.True(t, shellexec.IsEmptyOK("find /data -name '*.hprof'"))
	assert.False(t, shellexec.IsEmptyOK("free -m"))
}

// scriptedExecutor fakes the SSH hop for Run.
type scriptedExecutor struct {
	stdout   string
	exitCode int
	err      error
	calls    int
}

func (s *scriptedExecutor) Execute(host, command string) (string, int, error) {
	s.calls++
	return s.stdout, s.exitCode, s.err
}

func TestRunRejectsUnsafeBeforeExecuting(t *testing.T) {
	e := shellexec.New()
	runner := &scriptedExecutor{}

	_, _, _, err := e.Run("h1", "shell", "rm -rf /", runner)
	require.Error(t, err)
	assert.Equal(t, 0, runner.calls, "unsafe command must never reach the host")
}

func TestRunEmptyOutputBecomesNote(t *testing.T) {
	e := shellexec.New()
	runner := &scriptedExecutor{stdout: "", exitCode: 0}

	parsed, _, _, err := e.Run("h1", "shell", "free -m", runner)
	require.NoError(t, err)
	assert.Contains(t, parsed.Attrs, "note")
}

func TestRunEmptyOutputOKForEmptyOKCommands(t *testing.T) {
	e := shellexec.New()
	runner := &scriptedExecutor{stdout: "", exitCode: 0}

	parsed, _, _, err := e.Run("h1", "shell", "grep pattern file", runner)
	require.NoError(t, err)
	assert.NotContains(t, parsed.Attrs, "note")
}

func TestRunPropagatesExecutionError(t *testing.T) {
	e := shellexec.New()
	runner := &scriptedExecutor{err: errors.New("connection reset")}

	_, _, _, err := e.Run("h1", "shell", "df -h", runner)
	require.Error(t, err)
}

func TestParsedRowMaps(t *testing.T) {
	rows := shellexec.Parsed{Rows: []map[string]any{{"a": 1}}}.RowMaps()
	assert.Equal(t, []map[string]any{{"a": 1}}, rows)

	folded := shellexec.Parsed{Attrs: map[string]any{"k": "v"}}.RowMaps()
	assert.Equal(t, []map[string]any{{"k": "v"}}, folded)

	assert.Nil(t, shellexec.Parsed{}.RowMaps())
}

func TestHostExecutorFunc(t *testing.T) {
	var gotHost, gotCommand string
	runner := shellexec.HostExecutorFunc(func(host, command string) (string, int, error) {
		gotHost, gotCommand = host, command
		return "out", 0, nil
	})

	stdout, code, err := runner.Execute("h1", "df -h")
	require.NoError(t, err)
	assert.Equal(t, "out", stdout)
	assert.Equal(t, 0, code)
	assert.Equal(t, "h1", gotHost)
	assert.Equal(t, "df -h", gotCommand)
}

func TestRunParsesViaRegisteredParser(t *testing.T) {
	e := shellexec.New()
	runner := &scriptedExecutor{stdout: "used_memory:1024\nmaxmemory:4096\n", exitCode: 0}

	parsed, _, _, err := e.Run("h1", "redis-cli", "redis-cli INFO memory", runner)
	require.NoError(t, err)
	assert.Equal(t, 1024.0, parsed.Attrs["used_memory"])
	assert.Equal(t, 4096.0, parsed.Attrs["maxmemory"])
}
