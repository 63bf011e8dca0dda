// Package program implements the data-addressed program cache: computing
// a program's content-addressed id, the on-disk Program Store, the Build
// and Run orchestrators, and the TTL eviction loop.
package program

import (
	"regexp"

	"sandkasten-go/internal/config"
	"sandkasten-go/internal/sandbox"
)

// File is one named auxiliary source file uploaded by a client; the main
// file uses MainFile instead.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// EnvVar is one name/value environment variable pair passed to a build or
// run step.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MainFile is the optionally-named entrypoint file of a build request; an
// unset Name resolves to the environment's default_main_file_name.
type MainFile struct {
	Name    *string `json:"name,omitempty"`
	Content string  `json:"content"`
}

// BuildRequest is spec.md's BuildRequest.
type BuildRequest struct {
	EnvironmentID string            `json:"environment_id"`
	MainFile      MainFile          `json:"main_file"`
	Files         []File            `json:"files"`
	EnvVars       []EnvVar          `json:"env_vars"`
	CompileLimits config.LimitsOpt  `json:"compile_limits"`
}

// RunRequest is spec.md's RunRequest.
type RunRequest struct {
	Stdin     *string          `json:"stdin,omitempty"`
	Args      []string         `json:"args"`
	Files     []File           `json:"files"`
	EnvVars   []EnvVar         `json:"env_vars"`
	RunLimits config.LimitsOpt `json:"run_limits"`
}

// BuildRunRequest is the combined body accepted by POST /run.
type BuildRunRequest struct {
	Build BuildRequest `json:"build"`
	Run   RunRequest   `json:"run"`
}

// RunResult is spec.md's RunResult, an alias of the sandbox driver's
// Result so the wire and internal representations never drift.
type RunResult = sandbox.Result

// BuildResult is spec.md's BuildResult.
type BuildResult struct {
	ProgramID     string       `json:"program_id"`
	TTLSeconds    uint64       `json:"ttl_seconds"`
	Cached        bool         `json:"cached"`
	CompileResult *RunResult   `json:"compile_result,omitempty"`
}

// BuildRunResult is the combined response of POST /run.
type BuildRunResult struct {
	ProgramID string     `json:"program_id"`
	Build     *RunResult `json:"build,omitempty"`
	Run       RunResult  `json:"run"`
}

// Validation bounds from spec.md §6.
const (
	MaxAuxFiles      = 10
	MaxFileContent   = 65536
	MaxEnvVars       = 16
	MaxEnvValueLen   = 256
	MaxStdinBytes    = 65536
	MaxArgs          = 100
	MaxArgLen        = 4096
)

var (
	fileNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,32}$`)
	onlyDotsRe = regexp.MustCompile(`^\.+$`)
	envNameRe  = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)
)

// ValidFileName reports whether name satisfies spec.md's file name rule:
// [A-Za-z0-9._-]{1,32}, not composed entirely of dots.
func ValidFileName(name string) bool {
	return fileNameRe.MatchString(name) && !onlyDotsRe.MatchString(name)
}

// ValidEnvName reports whether name satisfies spec.md's env-var name
// rule: [A-Za-z0-9_]{1,64}, not the single underscore.
func ValidEnvName(name string) bool {
	return envNameRe.MatchString(name) && name != "_"
}
