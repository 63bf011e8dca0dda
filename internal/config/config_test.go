package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUsesMaxForUnsetFields(t *testing.T) {
	max := Limits{CPUs: 2, TimeSeconds: 30, MemoryMB: 1024, Network: false}

	resolved, exceeded := Resolve(LimitsOpt{}, max)

	assert.Empty(t, exceeded)
	assert.Equal(t, max, resolved)
}

func TestResolveRejectsFieldsAboveMax(t *testing.T) {
	max := Limits{CPUs: 2, TimeSeconds: 30, MemoryMB: 1024}
	tooManyCPUs := 4.0
	tooMuchTime := uint64(60)

	_, exceeded := Resolve(LimitsOpt{CPUs: &tooManyCPUs, TimeSeconds: &tooMuchTime}, max)

	require.Len(t, exceeded, 2)
	assert.Equal(t, "cpus", exceeded[0].Field)
	assert.Equal(t, "time_s", exceeded[1].Field)
}

func TestResolveAllowsFieldsAtOrBelowMax(t *testing.T) {
	max := Limits{CPUs: 2, MemoryMB: 1024}
	wantCPUs := 1.5
	wantMemory := uint64(512)

	resolved, exceeded := Resolve(LimitsOpt{CPUs: &wantCPUs, MemoryMB: &wantMemory}, max)

	assert.Empty(t, exceeded)
	assert.Equal(t, wantCPUs, resolved.CPUs)
	assert.Equal(t, wantMemory, resolved.MemoryMB)
}

func TestResolveNetworkIsAToggleNotACeiling(t *testing.T) {
	disallowed := Limits{Network: false}
	allowed := Limits{Network: true}
	wantNetwork := true

	_, exceeded := Resolve(LimitsOpt{Network: &wantNetwork}, disallowed)
	assert.Len(t, exceeded, 1)
	assert.Equal(t, "network", exceeded[0].Field)

	resolved, exceeded := Resolve(LimitsOpt{Network: &wantNetwork}, allowed)
	assert.Empty(t, exceeded)
	assert.True(t, resolved.Network)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.ProgramsDir = ""
	cfg.JobsDir = ""
	cfg.MaxConcurrentJobs = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "programs_dir")
	assert.Contains(t, err.Error(), "jobs_dir")
	assert.Contains(t, err.Error(), "max_concurrent_jobs")
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	cfg.NsjailPath = "/usr/bin/nsjail"
	cfg.TimePath = "/usr/bin/time"

	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsPermitsOutsideRange(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrentJobs = 4
	cfg.BaseResourceUsagePermits = 5

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_resource_usage_permits")
}

func TestPublicOmitsPathsAndSecrets(t *testing.T) {
	cfg := Default()
	cfg.RedisURL = "redis://secret@localhost:6379"
	cfg.ProgramsDir = "/data/programs"

	pub := cfg.Public()

	assert.Equal(t, cfg.ProgramTTLSeconds, pub.ProgramTTLSeconds)
	assert.Equal(t, cfg.MaxConcurrentJobs, pub.MaxConcurrentJobs)
	assert.Equal(t, cfg.BaseResourceUsageRuns, pub.BaseResourceUsageRuns)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SANDKASTEN_CONFIG_PATH", "/does/not/exist/config.json")
	t.Setenv("SANDKASTEN__HOST", "127.0.0.1")
	t.Setenv("SANDKASTEN__PORT", "9090")
	t.Setenv("SANDKASTEN__MAX_CONCURRENT_JOBS", "16")
	t.Setenv("SANDKASTEN__NSJAIL_PATH", "/usr/bin/nsjail")
	t.Setenv("SANDKASTEN__TIME_PATH", "/usr/bin/time")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, uint16(9090), cfg.Port)
	assert.Equal(t, 16, cfg.MaxConcurrentJobs)
}

func TestLoadResolvesToolPathsToAbsolute(t *testing.T) {
	t.Setenv("SANDKASTEN_CONFIG_PATH", "/does/not/exist/config.json")
	t.Setenv("SANDKASTEN__NSJAIL_PATH", "./nsjail")
	t.Setenv("SANDKASTEN__TIME_PATH", "./time")

	cfg, err := Load()

	require.NoError(t, err)
	assert.True(t, len(cfg.NsjailPath) > 0 && cfg.NsjailPath[0] == '/')
	assert.True(t, len(cfg.TimePath) > 0 && cfg.TimePath[0] == '/')
}
