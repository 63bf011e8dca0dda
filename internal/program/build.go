package program

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"sandkasten-go/internal/apierr"
	"sandkasten-go/internal/concurrency"
	"sandkasten-go/internal/config"
	"sandkasten-go/internal/environments"
	"sandkasten-go/internal/logging"
	"sandkasten-go/internal/metrics"
	"sandkasten-go/internal/sandbox"
)

// Orchestrator wires the Environment Registry, Program Store, Sandbox
// Driver, and Concurrency Layer together to implement the Build and Run
// Orchestrators (spec.md §4.4, §4.5).
type Orchestrator struct {
	cfg          config.Config
	environments *environments.Registry
	store        *Store
	programLocks *concurrency.KeyedRWLock[string]
	jobs         *concurrency.JobSemaphore
}

// NewOrchestrator constructs an Orchestrator from its collaborators.
func NewOrchestrator(cfg config.Config, reg *environments.Registry, store *Store, jobs *concurrency.JobSemaphore) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		environments: reg,
		store:        store,
		programLocks: concurrency.NewKeyedRWLock[string](),
		jobs:         jobs,
	}
}

// ReadLease is the held-open read lock returned alongside a BuildResult;
// the caller must Release it once done (Run holds it for the run's
// duration; a cached-only caller may release it immediately).
type ReadLease struct {
	guard *concurrency.ReadGuard[string]
}

// Release releases the underlying program read lock.
func (l *ReadLease) Release() {
	if l != nil && l.guard != nil {
		l.guard.Release()
	}
}

// ProgramExists reports whether a published program with this id exists,
// without acquiring any lock. Used by the HTTP layer to fail fast on an
// unknown id before attempting to take a read lease.
func (o *Orchestrator) ProgramExists(id string) bool {
	return o.store.Exists(id)
}

// AcquireProgramReadLease takes a bare read lease on id, for callers (the
// POST /programs/{id}/run handler) that did not just come from Build and
// so have no lease yet. The eviction loop can't delete the program's
// directory while this lease is held.
func (o *Orchestrator) AcquireProgramReadLease(id string) *ReadLease {
	return &ReadLease{guard: o.programLocks.RLock(id)}
}

// Build implements spec.md §4.4's algorithm in full, including the
// double-checked locking and publish-ordering durability contract
// delegated to Store.WriteNew.
func (o *Orchestrator) Build(ctx context.Context, req BuildRequest) (BuildResult, *ReadLease, error) {
	start := time.Now()

	env, ok := o.environments.Get(req.EnvironmentID)
	if !ok {
		return BuildResult{}, nil, apierr.WithDetails(apierr.KindEnvironmentNotFound, "unknown environment", req.EnvironmentID)
	}

	if err := ValidateBuildRequest(req); err != nil {
		return BuildResult{}, nil, err
	}

	compileLimits, exceeded := config.Resolve(req.CompileLimits, o.cfg.CompileLimits)
	if len(exceeded) > 0 {
		return BuildResult{}, nil, apierr.WithDetails(apierr.KindCompileLimitsExceeded, "compile limits exceeded", exceeded)
	}

	id := ComputeID(env, req.MainFile, req.Files, req.EnvVars)

	// Step 1: optimistic read lock, check cache. On a hit, the read lease
	// is handed back to the caller (not released here) so a subsequent Run
	// on this program id is protected from the eviction loop for as long
	// as the caller holds it.
	readGuard := o.programLocks.RLock(id)
	if o.store.Exists(id) {
		result, err := o.cachedResult(id, env)
		if err != nil {
			readGuard.Release()
			return BuildResult{}, nil, err
		}
		metrics.Get().RecordBuild(req.EnvironmentID, true, time.Since(start))
		return result, &ReadLease{guard: readGuard}, nil
	}
	readGuard.Release()

	// Step 2: double-checked locking under the write lock.
	writeGuard := o.programLocks.Lock(id)
	if o.store.Exists(id) {
		result, err := o.cachedResult(id, env)
		if err != nil {
			writeGuard.Release()
			return BuildResult{}, nil, err
		}
		lease := &ReadLease{guard: writeGuard.Downgrade()}
		metrics.Get().RecordBuild(req.EnvironmentID, true, time.Since(start))
		return result, lease, nil
	}

	mainFileName := env.DefaultMainFileName
	if req.MainFile.Name != nil {
		mainFileName = *req.MainFile.Name
	}
	if err := ValidateFiles(req.Files, mainFileName); err != nil {
		writeGuard.Release()
		return BuildResult{}, nil, err
	}

	compileResult, err := o.populateProgram(ctx, id, env, req, mainFileName, compileLimits)
	if err != nil {
		writeGuard.Release()
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindCompileError {
			metrics.Get().RecordCompileFailure(req.EnvironmentID)
		}
		// Any failure past this point may have left a partially populated
		// program directory (e.g. compile()'s /program mount target, or a
		// WriteNew call that never ran). Delete it unconditionally rather
		// than waiting for the eviction loop to reclaim it.
		if rmErr := o.store.Delete(id); rmErr != nil {
			logging.S().Warnf("failed to clean up partial program %s: %v", id, rmErr)
		}
		return BuildResult{}, nil, err
	}

	lease := &ReadLease{guard: writeGuard.Downgrade()}
	metrics.Get().RecordBuild(req.EnvironmentID, false, time.Since(start))
	return BuildResult{
		ProgramID:     id,
		TTLSeconds:    o.cfg.ProgramTTLSeconds,
		Cached:        false,
		CompileResult: compileResult,
	}, lease, nil
}

func (o *Orchestrator) cachedResult(id string, env environments.Environment) (BuildResult, error) {
	var compileResult *RunResult
	if env.CompileScript != nil {
		cr, err := o.store.ReadCompileResult(id)
		if err != nil {
			return BuildResult{}, err
		}
		compileResult = cr
	}
	return BuildResult{
		ProgramID:     id,
		TTLSeconds:    o.cfg.ProgramTTLSeconds,
		Cached:        true,
		CompileResult: compileResult,
	}, nil
}

// populateProgram performs the miss path of spec.md §4.4 steps 5-8: either
// invoking the compile script in the sandbox, or copying sources directly,
// then publishing via Store.WriteNew.
func (o *Orchestrator) populateProgram(ctx context.Context, id string, env environments.Environment, req BuildRequest, mainFileName string, compileLimits config.Limits) (*RunResult, error) {
	files := make(map[string][]byte, len(req.Files)+1)

	if env.CompileScript == nil {
		files[mainFileName] = []byte(req.MainFile.Content)
		for _, f := range req.Files {
			files[f.Name] = []byte(f.Content)
		}
		err := o.store.WriteNew(id, NewBuild{
			RunScript:     env.RunScript,
			MainFileName:  mainFileName,
			Closure:       env.Closure,
			EnvironmentID: env.ID,
			Files:         files,
		})
		return nil, err
	}

	result, err := o.compile(ctx, id, env, req, mainFileName, compileLimits)
	if err != nil {
		return nil, err
	}
	if result.Status != 0 {
		return nil, apierr.WithDetails(apierr.KindCompileError, "compilation failed", result)
	}

	compiledFiles, err := o.collectCompiledFiles(id)
	if err != nil {
		return nil, err
	}

	writeErr := o.store.WriteNew(id, NewBuild{
		RunScript:     env.RunScript,
		MainFileName:  mainFileName,
		Closure:       env.Closure,
		EnvironmentID: env.ID,
		Files:         compiledFiles,
		CompileResult: &result,
	})
	if writeErr != nil {
		return nil, writeErr
	}
	return &result, nil
}

// compile runs the environment's compile_script in the sandbox, mounting a
// read-write /program (the eventual files/ directory) so the script can
// deposit compiled artifacts there directly.
func (o *Orchestrator) compile(ctx context.Context, programID string, env environments.Environment, req BuildRequest, mainFileName string, limits config.Limits) (sandbox.Result, error) {
	release, err := o.jobs.Acquire(ctx)
	if err != nil {
		return sandbox.Result{}, apierr.Wrap(apierr.KindIO, err)
	}
	defer release()

	jobID := uuid.NewString()
	jobDir := filepath.Join(o.cfg.JobsDir, jobID)
	if err := os.MkdirAll(filepath.Join(jobDir, "box"), 0o755); err != nil {
		return sandbox.Result{}, apierr.Wrap(apierr.KindIO, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(jobDir); rmErr != nil {
			logging.S().Warnf("failed to remove job tempdir %s: %v", jobDir, rmErr)
		}
	}()

	boxDir := filepath.Join(jobDir, "box")
	if err := os.WriteFile(filepath.Join(boxDir, mainFileName), []byte(req.MainFile.Content), 0o644); err != nil {
		return sandbox.Result{}, apierr.Wrap(apierr.KindIO, err)
	}
	args := []string{mainFileName}
	for _, f := range req.Files {
		if err := os.WriteFile(filepath.Join(boxDir, f.Name), []byte(f.Content), 0o644); err != nil {
			return sandbox.Result{}, apierr.Wrap(apierr.KindIO, err)
		}
		args = append(args, f.Name)
	}

	programFilesDir := filepath.Join(o.store.path(programID), "files")
	if err := os.MkdirAll(programFilesDir, 0o755); err != nil {
		return sandbox.Result{}, apierr.Wrap(apierr.KindIO, err)
	}
	mounts := append([]sandbox.Mount{
		sandbox.ReadWriteMount(programFilesDir, "/program"),
		sandbox.ReadOnlyMount(boxDir, "/box"),
		sandbox.TempMount("/tmp", limits.TmpfsMB),
	}, sandbox.MountsFromClosure(env.Closure)...)

	envVars := make([]sandbox.EnvVar, 0, len(req.EnvVars))
	for _, e := range req.EnvVars {
		envVars = append(envVars, sandbox.EnvVar{Name: e.Name, Value: e.Value})
	}

	rc := sandbox.RunConfig{
		NsjailPath: o.cfg.NsjailPath,
		TimePath:   o.cfg.TimePath,
		UseCgroup:  o.cfg.UseCgroup,
		TmpDir:     jobDir,
		Program:    *env.CompileScript,
		Args:       args,
		Env:        envVars,
		Cwd:        "/box",
		Mounts:     mounts,
		Limits:     limits,
	}
	return rc.Run(ctx)
}

// collectCompiledFiles reads back whatever the compile script wrote under
// the program's files/ directory so it can be re-published via
// Store.WriteNew (which always (re)writes files/ itself as part of the
// publish-ordering contract).
func (o *Orchestrator) collectCompiledFiles(programID string) (map[string][]byte, error) {
	dir := filepath.Join(o.store.path(programID), "files")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]byte{}, nil
		}
		return nil, apierr.Wrap(apierr.KindIO, err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, apierr.Wrap(apierr.KindIO, err)
		}
		out[e.Name()] = data
	}
	return out, nil
}
