package benchmark

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"sandkasten-go/internal/apierr"
	"sandkasten-go/internal/concurrency"
	"sandkasten-go/internal/config"
	"sandkasten-go/internal/environments"
	"sandkasten-go/internal/metrics"
	"sandkasten-go/internal/program"
)

// Service computes and memoizes per-environment base resource usage
// (spec.md §4.8). A per-environment writer lock serializes concurrent
// benchmark requests for the same environment; different environments
// benchmark concurrently.
type Service struct {
	cfg          config.Config
	environments *environments.Registry
	orchestrator *program.Orchestrator
	jobs         *concurrency.JobSemaphore
	envLocks     *concurrency.KeyedRWLock[string]
	redis        *redisOverlay

	mu    sync.RWMutex
	cache map[string]ResourceUsage
}

// NewService constructs the Benchmark Service.
func NewService(cfg config.Config, reg *environments.Registry, orch *program.Orchestrator, jobs *concurrency.JobSemaphore) *Service {
	return &Service{
		cfg:          cfg,
		environments: reg,
		orchestrator: orch,
		jobs:         jobs,
		envLocks:     concurrency.NewKeyedRWLock[string](),
		redis:        newRedisOverlay(cfg.RedisURL, cfg.CacheTTL),
		cache:        make(map[string]ResourceUsage),
	}
}

// Get returns the memoized base resource usage for an environment,
// computing it on first request. Concurrent callers for the same
// environment id are serialized; callers for different ids proceed in
// parallel.
func (s *Service) Get(ctx context.Context, environmentID string) (ResourceUsage, error) {
	env, ok := s.environments.Get(environmentID)
	if !ok {
		return ResourceUsage{}, apierr.WithDetails(apierr.KindEnvironmentNotFound, "unknown environment", environmentID)
	}

	if usage, ok := s.memoized(environmentID); ok {
		return usage, nil
	}
	if usage, ok := s.redis.get(ctx, environmentID); ok {
		s.store(environmentID, usage)
		return usage, nil
	}

	guard := s.envLocks.Lock(environmentID)
	defer guard.Release()

	// Re-check now that we hold the writer lock: another goroutine may
	// have computed it while we were waiting.
	if usage, ok := s.memoized(environmentID); ok {
		return usage, nil
	}
	if usage, ok := s.redis.get(ctx, environmentID); ok {
		s.store(environmentID, usage)
		return usage, nil
	}

	usage, err := s.compute(ctx, env)
	if err != nil {
		return ResourceUsage{}, err
	}

	s.store(environmentID, usage)
	s.redis.set(ctx, environmentID, usage)
	return usage, nil
}

func (s *Service) memoized(environmentID string) (ResourceUsage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	usage, ok := s.cache[environmentID]
	return usage, ok
}

func (s *Service) store(environmentID string, usage ResourceUsage) {
	s.mu.Lock()
	s.cache[environmentID] = usage
	s.mu.Unlock()
}

// compute builds the environment's test program once, then runs it
// base_resource_usage_runs times, reserving extra semaphore headroom
// (base_resource_usage_permits - 1, beyond the one each run already
// acquires) so concurrent unrelated jobs don't skew the measurement.
func (s *Service) compute(ctx context.Context, env environments.Environment) (ResourceUsage, error) {
	extra := int64(s.cfg.BaseResourceUsagePermits - 1)
	if extra > 0 {
		release, err := s.jobs.AcquireMany(ctx, extra)
		if err != nil {
			return ResourceUsage{}, apierr.Wrap(apierr.KindIO, err)
		}
		defer release()
	}

	buildResult, lease, err := s.orchestrator.Build(ctx, testBuildRequest(env))
	if err != nil {
		return ResourceUsage{}, err
	}
	defer lease.Release()

	n := s.cfg.BaseResourceUsageRuns
	times := make([]float64, n)
	memories := make([]float64, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			result, runErr := s.orchestrator.Run(gctx, buildResult.ProgramID, program.RunRequest{}, lease)
			if runErr != nil {
				return runErr
			}
			metrics.Get().RecordBenchmarkRun(env.ID)
			times[i] = float64(result.TimeMS)
			memories[i] = float64(result.MemoryKB)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ResourceUsage{}, err
	}

	usage := ResourceUsage{
		Run: RunStats{
			Time:   computeStat(times),
			Memory: computeStat(memories),
		},
	}
	if buildResult.CompileResult != nil {
		usage.Build = &BuildSummary{
			Status: buildResult.CompileResult.Status,
			TimeMs: buildResult.CompileResult.TimeMS,
			MemKB:  buildResult.CompileResult.MemoryKB,
		}
	}
	return usage, nil
}

func testBuildRequest(env environments.Environment) program.BuildRequest {
	files := make([]program.File, 0, len(env.Test.Files))
	for _, f := range env.Test.Files {
		files = append(files, program.File{Name: f.Name, Content: f.Content})
	}
	return program.BuildRequest{
		EnvironmentID: env.ID,
		MainFile: program.MainFile{
			Name:    &env.Test.MainFile.Name,
			Content: env.Test.MainFile.Content,
		},
		Files: files,
	}
}
