package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandkasten-go/internal/config"
)

func TestParseTimeFile(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantOK  bool
		wantSec float64
		wantRSS uint64
		wantExit int
	}{
		{name: "valid", in: "1.234 5678 0\n", wantOK: true, wantSec: 1.234, wantRSS: 5678, wantExit: 0},
		{name: "nonzero exit", in: "0.001 100 137\n", wantOK: true, wantSec: 0.001, wantRSS: 100, wantExit: 137},
		{name: "too few fields", in: "1.234 5678\n", wantOK: false},
		{name: "empty", in: "", wantOK: false},
		{name: "garbage", in: "not a number here\n", wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sec, rss, exit, ok := parseTimeFile(tc.in)
			require.Equal(t, tc.wantOK, ok)
			if !tc.wantOK {
				return
			}
			assert.Equal(t, tc.wantSec, sec)
			assert.Equal(t, tc.wantRSS, rss)
			assert.Equal(t, tc.wantExit, exit)
		})
	}
}

func TestLossyUTF8PassesThroughValidInput(t *testing.T) {
	assert.Equal(t, "hello", lossyUTF8([]byte("hello")))
}

func TestLossyUTF8ReplacesInvalidSequences(t *testing.T) {
	invalid := []byte{'a', 0xff, 'b'}
	got := lossyUTF8(invalid)
	assert.Contains(t, got, "�")
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
}

func TestLimitedWriterTruncatesAtLimit(t *testing.T) {
	var buf []byte
	lw := &limitedWriter{w: sliceWriter{&buf}, limit: 3}

	n, err := lw.Write([]byte("abcdef"))

	require.NoError(t, err)
	assert.Equal(t, 6, n, "Write must report the full length consumed even when truncating")
	assert.Equal(t, []byte("abc"), buf)
}

func TestLimitedWriterZeroLimitDiscardsEverything(t *testing.T) {
	var buf []byte
	lw := &limitedWriter{w: sliceWriter{&buf}, limit: 0}

	_, err := lw.Write([]byte("abc"))

	require.NoError(t, err)
	assert.Empty(t, buf)
}

func TestBuildArgsNetworkDisabledByDefault(t *testing.T) {
	rc := RunConfig{
		NsjailPath: "/usr/bin/nsjail",
		Program:    "/box/main",
		Cwd:        "/box",
		Limits:     config.Limits{CPUs: 1, TimeSeconds: 5, MemoryMB: 256, FilesizeMB: 16, FileDescriptors: 64, Processes: 8},
	}

	args := rc.buildArgs("/tmp/time-out")

	assert.Contains(t, args, "--clone_newnet")
	assert.NotContains(t, args, "--disable_clone_newnet")
}

func TestBuildArgsNetworkEnabledMountsResolvConf(t *testing.T) {
	rc := RunConfig{
		NsjailPath: "/usr/bin/nsjail",
		Program:    "/box/main",
		Cwd:        "/box",
		Limits:     config.Limits{Network: true},
	}

	args := rc.buildArgs("/tmp/time-out")

	assert.Contains(t, args, "--disable_clone_newnet")
	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	assert.Contains(t, joined, "/etc/resolv.conf:/etc/resolv.conf")
}

func TestBuildArgsUsesCgroupFlagsWhenConfigured(t *testing.T) {
	rc := RunConfig{
		NsjailPath: "/usr/bin/nsjail",
		Program:    "/box/main",
		Cwd:        "/box",
		UseCgroup:  true,
		Limits:     config.Limits{MemoryMB: 512, Processes: 32},
	}

	args := rc.buildArgs("/tmp/time-out")

	assert.Contains(t, args, "--cgroup_mem_max")
	assert.NotContains(t, args, "--rlimit_as")
}

func TestBuildArgsSkipsZeroSizeTempMounts(t *testing.T) {
	rc := RunConfig{
		NsjailPath: "/usr/bin/nsjail",
		Program:    "/box/main",
		Cwd:        "/box",
		Mounts:     []Mount{TempMount("/tmp", 0)},
	}

	args := rc.buildArgs("/tmp/time-out")

	for _, a := range args {
		assert.NotContains(t, a, "tmpfs")
	}
}

func TestRunParsesSuccessfulInvocation(t *testing.T) {
	tmpDir := t.TempDir()
	fakeTime := filepath.Join(tmpDir, "time")
	script := "#!/bin/sh\nfor a in \"$@\"; do\n  if [ \"$prev\" = \"-o\" ]; then outfile=\"$a\"; fi\n  prev=\"$a\"\ndone\necho '0.5 2048 0' > \"$outfile\"\nexit 0\n"
	require.NoError(t, os.WriteFile(fakeTime, []byte(script), 0o755))

	rc := RunConfig{
		NsjailPath: "/usr/bin/nsjail",
		TimePath:   fakeTime,
		TmpDir:     tmpDir,
		Program:    "/box/main",
		Cwd:        "/box",
		Limits:     config.Limits{TimeSeconds: 5, StdoutMaxBytes: 1024, StderrMaxBytes: 1024},
	}

	result, err := rc.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, result.Status)
	assert.Equal(t, uint64(500), result.TimeMS)
	assert.Equal(t, uint64(2048), result.MemoryKB)
}

func TestRunReturnsErrorOnInvalidTimeFile(t *testing.T) {
	tmpDir := t.TempDir()
	fakeTime := filepath.Join(tmpDir, "time")
	script := "#!/bin/sh\nfor a in \"$@\"; do\n  if [ \"$prev\" = \"-o\" ]; then outfile=\"$a\"; fi\n  prev=\"$a\"\ndone\necho 'garbage' > \"$outfile\"\nexit 0\n"
	require.NoError(t, os.WriteFile(fakeTime, []byte(script), 0o755))

	rc := RunConfig{
		NsjailPath: "/usr/bin/nsjail",
		TimePath:   fakeTime,
		TmpDir:     tmpDir,
		Program:    "/box/main",
		Cwd:        "/box",
		Limits:     config.Limits{TimeSeconds: 5},
	}

	_, err := rc.Run(context.Background())

	assert.Error(t, err)
}

type sliceWriter struct {
	buf *[]byte
}

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
