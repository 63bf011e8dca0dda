// Package config loads and validates the process configuration: host/port,
// on-disk layout, concurrency limits, resource limits, and the paths to the
// external isolation and measurement tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Limits is the fully-resolved resource cap structure enforced by the
// sandbox driver on every compile or run.
type Limits struct {
	CPUs            float64 `json:"cpus"`
	TimeSeconds     uint64  `json:"time_s"`
	MemoryMB        uint64  `json:"memory_mb"`
	TmpfsMB         uint64  `json:"tmpfs_mb"`
	FilesizeMB      uint64  `json:"filesize_mb"`
	FileDescriptors uint64  `json:"file_descriptors"`
	Processes       uint64  `json:"processes"`
	StdoutMaxBytes  uint64  `json:"stdout_max"`
	StderrMaxBytes  uint64  `json:"stderr_max"`
	Network         bool    `json:"network"`
}

// LimitsOpt is the caller-supplied partial form of Limits: every field may
// be left unset (nil), in which case it resolves to the configured maximum.
type LimitsOpt struct {
	CPUs            *float64 `json:"cpus,omitempty"`
	TimeSeconds     *uint64  `json:"time_s,omitempty"`
	MemoryMB        *uint64  `json:"memory_mb,omitempty"`
	TmpfsMB         *uint64  `json:"tmpfs_mb,omitempty"`
	FilesizeMB      *uint64  `json:"filesize_mb,omitempty"`
	FileDescriptors *uint64  `json:"file_descriptors,omitempty"`
	Processes       *uint64  `json:"processes,omitempty"`
	StdoutMaxBytes  *uint64  `json:"stdout_max,omitempty"`
	StderrMaxBytes  *uint64  `json:"stderr_max,omitempty"`
	Network         *bool    `json:"network,omitempty"`
}

// ExceededLimit names one field of a LimitsOpt that exceeded its configured
// maximum during Resolve.
type ExceededLimit struct {
	Field string  `json:"field"`
	Max   float64 `json:"max"`
}

// Resolve merges opt over max: unset fields take max's value; set fields
// must not exceed max, else they're collected and returned as exceeded.
func Resolve(opt LimitsOpt, max Limits) (Limits, []ExceededLimit) {
	resolved := max
	var exceeded []ExceededLimit

	if opt.CPUs != nil {
		if *opt.CPUs > max.CPUs {
			exceeded = append(exceeded, ExceededLimit{"cpus", max.CPUs})
		} else {
			resolved.CPUs = *opt.CPUs
		}
	}
	if opt.TimeSeconds != nil {
		if *opt.TimeSeconds > max.TimeSeconds {
			exceeded = append(exceeded, ExceededLimit{"time_s", float64(max.TimeSeconds)})
		} else {
			resolved.TimeSeconds = *opt.TimeSeconds
		}
	}
	if opt.MemoryMB != nil {
		if *opt.MemoryMB > max.MemoryMB {
			exceeded = append(exceeded, ExceededLimit{"memory_mb", float64(max.MemoryMB)})
		} else {
			resolved.MemoryMB = *opt.MemoryMB
		}
	}
	if opt.TmpfsMB != nil {
		if *opt.TmpfsMB > max.TmpfsMB {
			exceeded = append(exceeded, ExceededLimit{"tmpfs_mb", float64(max.TmpfsMB)})
		} else {
			resolved.TmpfsMB = *opt.TmpfsMB
		}
	}
	if opt.FilesizeMB != nil {
		if *opt.FilesizeMB > max.FilesizeMB {
			exceeded = append(exceeded, ExceededLimit{"filesize_mb", float64(max.FilesizeMB)})
		} else {
			resolved.FilesizeMB = *opt.FilesizeMB
		}
	}
	if opt.FileDescriptors != nil {
		if *opt.FileDescriptors > max.FileDescriptors {
			exceeded = append(exceeded, ExceededLimit{"file_descriptors", float64(max.FileDescriptors)})
		} else {
			resolved.FileDescriptors = *opt.FileDescriptors
		}
	}
	if opt.Processes != nil {
		if *opt.Processes > max.Processes {
			exceeded = append(exceeded, ExceededLimit{"processes", float64(max.Processes)})
		} else {
			resolved.Processes = *opt.Processes
		}
	}
	if opt.StdoutMaxBytes != nil {
		if *opt.StdoutMaxBytes > max.StdoutMaxBytes {
			exceeded = append(exceeded, ExceededLimit{"stdout_max", float64(max.StdoutMaxBytes)})
		} else {
			resolved.StdoutMaxBytes = *opt.StdoutMaxBytes
		}
	}
	if opt.StderrMaxBytes != nil {
		if *opt.StderrMaxBytes > max.StderrMaxBytes {
			exceeded = append(exceeded, ExceededLimit{"stderr_max", float64(max.StderrMaxBytes)})
		} else {
			resolved.StderrMaxBytes = *opt.StderrMaxBytes
		}
	}
	if opt.Network != nil {
		// network is a bool toggle, not a ceiling; requesting true when the
		// configured max disallows it is an exceeded limit, requesting false
		// is always permitted.
		if *opt.Network && !max.Network {
			exceeded = append(exceeded, ExceededLimit{"network", 0})
		} else {
			resolved.Network = *opt.Network
		}
	}

	return resolved, exceeded
}

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	Host   string `json:"host"`
	Port   uint16 `json:"port"`
	Server string `json:"server"`

	RedisURL string `json:"redis_url"`
	CacheTTL uint64 `json:"cache_ttl"`

	ProgramsDir string `json:"programs_dir"`
	JobsDir     string `json:"jobs_dir"`

	ProgramTTLSeconds    uint64 `json:"program_ttl"`
	PruneIntervalSeconds uint64 `json:"prune_interval"`

	MaxConcurrentJobs int `json:"max_concurrent_jobs"`

	CompileLimits Limits `json:"compile_limits"`
	RunLimits     Limits `json:"run_limits"`

	BaseResourceUsageRuns    int `json:"base_resource_usage_runs"`
	BaseResourceUsagePermits int `json:"base_resource_usage_permits"`

	UseCgroup bool   `json:"use_cgroup"`
	NsjailPath string `json:"nsjail_path"`
	TimePath   string `json:"time_path"`

	EnvironmentsPath []string `json:"environments_path"`

	// RateLimitPerSecond and RateLimitBurst configure the ambient,
	// best-effort per-client-IP HTTP rate limiter. RateLimitPerSecond <= 0
	// disables the limiter entirely; it is not part of spec.md's
	// admission-control contract, only a floor in front of it.
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	RateLimitBurst     int     `json:"rate_limit_burst"`
}

// PublicConfig is the reduced subset returned from GET /config: no
// filesystem paths, no tool paths, no cache connection string.
type PublicConfig struct {
	ProgramTTLSeconds    uint64 `json:"program_ttl"`
	MaxConcurrentJobs    int    `json:"max_concurrent_jobs"`
	CompileLimits        Limits `json:"compile_limits"`
	RunLimits            Limits `json:"run_limits"`
	BaseResourceUsageRuns int   `json:"base_resource_usage_runs"`
}

// Public projects the non-secret, non-path subset of Config.
func (c Config) Public() PublicConfig {
	return PublicConfig{
		ProgramTTLSeconds:     c.ProgramTTLSeconds,
		MaxConcurrentJobs:     c.MaxConcurrentJobs,
		CompileLimits:         c.CompileLimits,
		RunLimits:             c.RunLimits,
		BaseResourceUsageRuns: c.BaseResourceUsageRuns,
	}
}

// Default returns a configuration with conservative defaults suitable for
// local development; production deployments override every field via file
// or environment.
func Default() Config {
	return Config{
		Host:   "0.0.0.0",
		Port:   8080,
		Server: "http://localhost:8080",

		ProgramsDir: "data/programs",
		JobsDir:     "data/jobs",

		ProgramTTLSeconds:    24 * 60 * 60,
		PruneIntervalSeconds: 60,

		MaxConcurrentJobs: 8,

		CompileLimits: Limits{
			CPUs: 2, TimeSeconds: 30, MemoryMB: 1024, TmpfsMB: 64,
			FilesizeMB: 32, FileDescriptors: 1024, Processes: 64,
			StdoutMaxBytes: 65536, StderrMaxBytes: 65536, Network: false,
		},
		RunLimits: Limits{
			CPUs: 1, TimeSeconds: 5, MemoryMB: 256, TmpfsMB: 16,
			FilesizeMB: 16, FileDescriptors: 256, Processes: 16,
			StdoutMaxBytes: 65536, StderrMaxBytes: 65536, Network: false,
		},

		BaseResourceUsageRuns:    5,
		BaseResourceUsagePermits: 1,

		UseCgroup:  false,
		NsjailPath: "/usr/bin/nsjail",
		TimePath:   "/usr/bin/time",

		EnvironmentsPath: []string{"environments"},

		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
	}
}

// Load reads a base JSON config file (path from SANDKASTEN_CONFIG_PATH, or
// "config.json" if unset, skipped entirely if missing) over Default, then
// applies SANDKASTEN__-prefixed, "__"-nested environment variable overrides,
// then validates the result.
func Load() (Config, error) {
	cfg := Default()

	path := os.Getenv("SANDKASTEN_CONFIG_PATH")
	if path == "" {
		path = "config.json"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if v := os.Getenv("SANDKASTEN__ENVIRONMENTS_PATH"); v != "" {
		cfg.EnvironmentsPath = strings.Split(strings.TrimSpace(v), ":")
	}

	nsjail, err := filepath.Abs(cfg.NsjailPath)
	if err != nil {
		return Config{}, fmt.Errorf("resolving nsjail_path: %w", err)
	}
	cfg.NsjailPath = nsjail

	timePath, err := filepath.Abs(cfg.TimePath)
	if err != nil {
		return Config{}, fmt.Errorf("resolving time_path: %w", err)
	}
	cfg.TimePath = timePath

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides walks the SANDKASTEN__SECTION__FIELD scheme over the
// subset of fields plain environment override makes sense for. Unknown
// keys are ignored rather than rejected, matching a best-effort provider
// chain.
func applyEnvOverrides(cfg *Config) {
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setUint := func(key string, dst *uint64) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setStr("SANDKASTEN__HOST", &cfg.Host)
	setStr("SANDKASTEN__SERVER", &cfg.Server)
	setStr("SANDKASTEN__REDIS_URL", &cfg.RedisURL)
	setUint("SANDKASTEN__CACHE_TTL", &cfg.CacheTTL)
	setStr("SANDKASTEN__PROGRAMS_DIR", &cfg.ProgramsDir)
	setStr("SANDKASTEN__JOBS_DIR", &cfg.JobsDir)
	setUint("SANDKASTEN__PROGRAM_TTL", &cfg.ProgramTTLSeconds)
	setUint("SANDKASTEN__PRUNE_INTERVAL", &cfg.PruneIntervalSeconds)
	setInt("SANDKASTEN__MAX_CONCURRENT_JOBS", &cfg.MaxConcurrentJobs)
	setInt("SANDKASTEN__BASE_RESOURCE_USAGE_RUNS", &cfg.BaseResourceUsageRuns)
	setInt("SANDKASTEN__BASE_RESOURCE_USAGE_PERMITS", &cfg.BaseResourceUsagePermits)
	setBool("SANDKASTEN__USE_CGROUP", &cfg.UseCgroup)
	setStr("SANDKASTEN__NSJAIL_PATH", &cfg.NsjailPath)
	setStr("SANDKASTEN__TIME_PATH", &cfg.TimePath)

	if v, ok := os.LookupEnv("SANDKASTEN__PORT"); ok {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Port = uint16(n)
		}
	}

	setUint("SANDKASTEN__COMPILE_LIMITS__TIME_S", &cfg.CompileLimits.TimeSeconds)
	setUint("SANDKASTEN__COMPILE_LIMITS__MEMORY_MB", &cfg.CompileLimits.MemoryMB)
	setUint("SANDKASTEN__RUN_LIMITS__TIME_S", &cfg.RunLimits.TimeSeconds)
	setUint("SANDKASTEN__RUN_LIMITS__MEMORY_MB", &cfg.RunLimits.MemoryMB)
}

// Validate collects every field-level problem rather than failing on the
// first one encountered.
func (c Config) Validate() error {
	var errs []string

	if c.ProgramsDir == "" {
		errs = append(errs, "programs_dir must not be empty")
	}
	if c.JobsDir == "" {
		errs = append(errs, "jobs_dir must not be empty")
	}
	if c.MaxConcurrentJobs < 1 {
		errs = append(errs, "max_concurrent_jobs must be >= 1")
	}
	if c.BaseResourceUsageRuns < 1 {
		errs = append(errs, "base_resource_usage_runs must be >= 1")
	}
	if c.BaseResourceUsagePermits < 1 || c.BaseResourceUsagePermits > c.MaxConcurrentJobs {
		errs = append(errs, "base_resource_usage_permits must be between 1 and max_concurrent_jobs")
	}
	if len(c.EnvironmentsPath) == 0 {
		errs = append(errs, "environments_path must not be empty")
	}
	if c.NsjailPath == "" {
		errs = append(errs, "nsjail_path must not be empty")
	}
	if c.TimePath == "" {
		errs = append(errs, "time_path must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnsureDirs creates ProgramsDir and JobsDir if they do not already exist.
func (c Config) EnsureDirs() error {
	if err := os.MkdirAll(c.ProgramsDir, 0o755); err != nil {
		return fmt.Errorf("creating programs_dir: %w", err)
	}
	if err := os.MkdirAll(c.JobsDir, 0o755); err != nil {
		return fmt.Errorf("creating jobs_dir: %w", err)
	}
	return nil
}
