package shellexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSizeToBytes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"108.45 KB", 111052},
		{"1.5 GiB", 1610612736},
		{"512 MB", 536870912},
		{"50G", 53687091200},
		{"1.2T", 1319413953331},
		{"512M", 536870912},
		{"0", 0},
		{"", 0},
		{"garbage", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseSizeToBytes(tc.in), tc.in)
	}
}

func TestNodetoolStatusParser(t *testing.T) {
	output := `Datacenter: dc1
=======================
Status=Up/Down
|/ State=Normal/Leaving/Joining/Moving
--  Address     Load       Tokens  Owns (effective)  Host ID                               Rack
UN  10.0.0.1    108.45 KB  256     32.6%             11111111-2222-3333-4444-555555555555  rack1
DN  10.0.0.2    2.5 GB     256     33.1%             66666666-7777-8888-9999-000000000000  rack2
`
	parsed, err := NodetoolParser{}.Parse("nodetool status", output)
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 2)

	first := parsed.Rows[0]
	assert.Equal(t, "dc1", first["datacenter"])
	assert.Equal(t, "U", first["status"])
	assert.Equal(t, "N", first["state"])
	assert.Equal(t, "10.0.0.1", first["address"])
	assert.Equal(t, int64(111052), first["load_bytes"])
	assert.Equal(t, 256, first["tokens"])
	assert.Equal(t, 32.6, first["owns_effective_percent"])
	assert.Equal(t, "rack1", first["rack"])

	second := parsed.Rows[1]
	assert.Equal(t, "D", second["status"])
}

func TestNodetoolTpstatsParser(t *testing.T) {
	output := `Pool Name                    Active   Pending      Completed   Blocked  All time blocked
ReadStage                         0         0         103488         0                 0
MutationStage                     1         5        1204918         2                 7
Some malformed line
`
	parsed, err := NodetoolParser{}.Parse("nodetool tpstats", output)
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 2)

	assert.Equal(t, "MutationStage", parsed.Rows[1]["pool_name"])
	assert.Equal(t, 2, parsed.Rows[1]["blocked"])
	assert.Equal(t, 7, parsed.Rows[1]["all_time_blocked"])
}

func TestNodetoolCompactionstatsParser(t *testing.T) {
	parsed, err := NodetoolParser{}.Parse("nodetool compactionstats", "pending tasks: 12\n")
	require.NoError(t, err)
	assert.Equal(t, 12, parsed.Attrs["pending_tasks"])
}

func TestFreeParser(t *testing.T) {
	output := `              total        used        free      shared  buff/cache   available
Mem:          32000       24000        2000        1000        6000        7000
Swap:          8000           0        8000
`
	parsed, err := FreeParser{}.Parse("free -m", output)
	require.NoError(t, err)

	assert.Equal(t, int64(32000)*1024*1024, parsed.Attrs["mem_total_bytes"])
	assert.Equal(t, int64(24000)*1024*1024, parsed.Attrs["mem_used_bytes"])
	assert.Equal(t, int64(8000)*1024*1024, parsed.Attrs["swap_total_bytes"])
}

func TestFreeParserByteFlag(t *testing.T) {
	output := "Mem: 1024 512 512\n"
	parsed, err := FreeParser{}.Parse("free -b", output)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), parsed.Attrs["mem_total_bytes"])
}

func TestDfParser(t *testing.T) {
	output := `Filesystem      Size  Used Avail Use% Mounted on
/dev/nvme0n1p1   50G   40G   10G  80% /var/lib/kafka
tmpfs           7.8G     0  7.8G   0% /dev/shm
`
	parsed, err := DfParser{}.Parse("df -h", output)
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 2)

	first := parsed.Rows[0]
	assert.Equal(t, "/dev/nvme0n1p1", first["filesystem"])
	assert.Equal(t, int64(50)*1024*1024*1024, first["size_bytes"])
	assert.Equal(t, 80.0, first["use_percent"])
	assert.Equal(t, "/var/lib/kafka", first["mounted_on"])
}

func TestRedisCLIParser(t *testing.T) {
	output := `# Memory
used_memory:1048576
maxmemory:0
mem_fragmentation_ratio:1.08
redis_version:7.2.4
`
	parsed, err := RedisCLIParser{}.Parse("redis-cli INFO memory", output)
	require.NoError(t, err)

	assert.Equal(t, 1048576.0, parsed.Attrs["used_memory"])
	assert.Equal(t, 1.08, parsed.Attrs["mem_fragmentation_ratio"])
	assert.Equal(t, "7.2.4", parsed.Attrs["redis_version"])
}

func TestShellParser(t *testing.T) {
	parsed, err := ShellParser{}.Parse("uptime", "line one\n\nline two\n")
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 2)
	assert.Equal(t, "line one", parsed.Rows[0]["line"])
}
