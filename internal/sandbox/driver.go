// Package sandbox turns a compile or run step into an isolated child
// process: it shells out to an nsjail-compatible isolation tool wrapped in
// a GNU-time-compatible measurement tool, enforces CPU/wall-time/memory/
// fd/process/tmpfs/network/output-byte limits, and parses the resulting
// elapsed-time/peak-rss/exit-code line.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"sandkasten-go/internal/apierr"
	"sandkasten-go/internal/config"
)

// EnvVar is one name=value pair passed through to the sandboxed process.
type EnvVar struct {
	Name  string
	Value string
}

// RunConfig describes one sandbox invocation: a compile step or a run step.
// Both orchestrators build one of these and call Run.
type RunConfig struct {
	NsjailPath string
	TimePath   string
	UseCgroup  bool

	// TmpDir is an ephemeral working directory, owned by the caller, used
	// to stage the measurement tool's output file. It is never mounted
	// into the sandbox itself.
	TmpDir string

	Program string
	Args    []string
	Env     []EnvVar
	Cwd     string
	Stdin   []byte
	Mounts  []Mount
	Limits  config.Limits
}

// Result is the outcome of one sandbox invocation: spec.md's RunResult.
type Result struct {
	Status         int    `json:"status"`
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	TimeMS         uint64 `json:"time_ms"`
	MemoryKB       uint64 `json:"memory_kb"`
	Limits         config.Limits `json:"limits"`
}

const (
	sandboxUID      = "65534"
	sandboxGID      = "65534"
	sandboxHostname = "box"
)

// Run invokes the configured isolation tool, wrapped in the measurement
// tool, and returns the parsed result. A non-zero child exit status
// (including a signal-kill status like 137) is a successful Result, not an
// error: only spawn/IO/measurement-file failures are returned as errors.
func (rc RunConfig) Run(ctx context.Context) (Result, error) {
	timeFile := filepath.Join(rc.TmpDir, "time")
	if err := os.WriteFile(timeFile, nil, 0o644); err != nil {
		return Result{}, apierr.Wrap(apierr.KindIO, fmt.Errorf("creating time file: %w", err))
	}

	// The isolation tool enforces the wall-time limit itself; this context
	// deadline is a backstop against the tool itself hanging.
	backstop := time.Duration(rc.Limits.TimeSeconds+10) * time.Second
	ctx, cancel := context.WithTimeout(ctx, backstop)
	defer cancel()

	args := rc.buildArgs(timeFile)
	cmd := exec.CommandContext(ctx, rc.TimePath, args...)

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: int64(rc.Limits.StdoutMaxBytes)}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: int64(rc.Limits.StderrMaxBytes)}

	if len(rc.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(rc.Stdin)
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !isExitError(err, &exitErr) {
			return Result{}, apierr.Wrap(apierr.KindSpawn, err)
		}
		// Non-zero exit from the isolation tool itself (not the sandboxed
		// program) still requires a valid time file below; fall through.
	}

	timeContents, err := os.ReadFile(timeFile)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.KindIO, fmt.Errorf("reading time file: %w", err))
	}

	elapsedSeconds, maxRSSKB, exitCode, ok := parseTimeFile(string(timeContents))
	if !ok {
		return Result{}, apierr.New(apierr.KindInvalidTimeFile, "measurement tool did not produce a valid time file")
	}

	return Result{
		Status:   exitCode,
		Stdout:   lossyUTF8(stdoutBuf.Bytes()),
		Stderr:   lossyUTF8(stderrBuf.Bytes()),
		TimeMS:   uint64(elapsedSeconds*1000 + 0.5),
		MemoryKB: maxRSSKB,
		Limits:   rc.Limits,
	}, nil
}

func isExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// buildArgs assembles the `time -q -f "%e %M %x" -o <file> -- nsjail ...`
// command line, following the nsjail flag conventions shown across the
// example pack's standalone sandbox wrappers.
func (rc RunConfig) buildArgs(timeFile string) []string {
	args := []string{
		"-q",
		"-f", "%e %M %x",
		"-o", timeFile,
		"--",
		rc.NsjailPath,
		"-q",
		"--user", sandboxUID,
		"--group", sandboxGID,
		"--hostname", sandboxHostname,
		"--cwd", rc.Cwd,
		"--max_cpus", formatFloat(rc.Limits.CPUs),
		"--time_limit", strconv.FormatUint(rc.Limits.TimeSeconds, 10),
		"--rlimit_fsize", strconv.FormatUint(rc.Limits.FilesizeMB, 10),
		"--rlimit_nofile", strconv.FormatUint(rc.Limits.FileDescriptors, 10),
	}

	if rc.UseCgroup {
		args = append(args,
			"--cgroup_mem_max", strconv.FormatUint(rc.Limits.MemoryMB*1_000_000, 10),
			"--cgroup_mem_swap_max", "0",
			"--cgroup_pids_max", strconv.FormatUint(rc.Limits.Processes, 10),
		)
	} else {
		args = append(args,
			"--rlimit_as", strconv.FormatUint(rc.Limits.MemoryMB, 10),
			"--rlimit_nproc", strconv.FormatUint(rc.Limits.Processes, 10),
		)
	}

	if rc.Limits.Network {
		args = append(args, "--disable_clone_newnet")
	} else {
		args = append(args, "--clone_newnet")
	}

	for _, e := range rc.Env {
		args = append(args, "-E", e.Name+"="+e.Value)
	}

	mounts := append([]Mount{}, rc.Mounts...)
	mounts = append(mounts,
		ReadOnlyMount("/dev/null", "/dev/null"),
		ReadOnlyMount("/dev/urandom", "/dev/urandom"),
	)
	if rc.Limits.Network {
		mounts = append(mounts, ReadOnlyMount("/etc/resolv.conf", "/etc/resolv.conf"))
	}

	for _, m := range mounts {
		switch m.Kind {
		case ReadOnly:
			args = append(args, "-R", m.Src+":"+m.Dest)
		case ReadWrite:
			args = append(args, "-B", m.Src+":"+m.Dest)
		case Temp:
			if m.SizeMB == 0 {
				continue
			}
			args = append(args, "-m", fmt.Sprintf("none:%s:tmpfs:size=%d", m.Dest, m.SizeMB*1_000_000))
		}
	}

	args = append(args,
		"--symlink", "/proc/self/fd:/dev/fd",
		"--symlink", "/dev/null:/etc/passwd",
	)

	args = append(args, "--")
	args = append(args, rc.Program)
	args = append(args, rc.Args...)
	return args
}

func formatFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", f), "0"), ".")
}

// parseTimeFile parses the measurement tool's single-line output
// "<elapsed_seconds> <max_rss_kb> <exit_code>".
func parseTimeFile(contents string) (elapsedSeconds float64, maxRSSKB uint64, exitCode int, ok bool) {
	fields := strings.Fields(contents)
	if len(fields) < 3 {
		return 0, 0, 0, false
	}
	var err error
	elapsedSeconds, err = strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, 0, false
	}
	maxRSSKB, err = strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	exitCode, err = strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, 0, false
	}
	return elapsedSeconds, maxRSSKB, exitCode, true
}

// lossyUTF8 decodes b as UTF-8, replacing invalid sequences with U+FFFD, so
// the returned string is always valid UTF-8 regardless of program output.
func lossyUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// limitedWriter caps the number of bytes forwarded to the underlying
// writer; bytes past the limit are silently discarded rather than causing
// a write error, matching the caller's expectation that stdout/stderr are
// always bounded.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.limit <= 0 || lw.written >= lw.limit {
		return len(p), nil
	}
	remaining := lw.limit - lw.written
	toWrite := p
	if int64(len(toWrite)) > remaining {
		toWrite = toWrite[:remaining]
	}
	n, err := lw.w.Write(toWrite)
	lw.written += int64(n)
	if err != nil {
		return n, err
	}
	return len(p), nil
}
