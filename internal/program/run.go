package program

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"sandkasten-go/internal/apierr"
	"sandkasten-go/internal/config"
	"sandkasten-go/internal/logging"
	"sandkasten-go/internal/metrics"
	"sandkasten-go/internal/sandbox"
)

// Run implements spec.md §4.5: resolve limits, confirm the program exists,
// touch last_run, read back its metadata, and invoke the sandbox driver.
// lease must already be held by the caller (typically the same lease
// returned by Build) for the run's full duration.
func (o *Orchestrator) Run(ctx context.Context, programID string, req RunRequest, lease *ReadLease) (RunResult, error) {
	start := time.Now()

	runLimits, exceeded := config.Resolve(req.RunLimits, o.cfg.RunLimits)
	if len(exceeded) > 0 {
		return RunResult{}, apierr.WithDetails(apierr.KindRunLimitsExceeded, "run limits exceeded", exceeded)
	}
	if err := ValidateRunRequest(req); err != nil {
		return RunResult{}, err
	}

	if !o.store.Exists(programID) {
		return RunResult{}, apierr.New(apierr.KindProgramNotFound, "program does not exist")
	}

	if err := o.store.Touch(programID); err != nil {
		return RunResult{}, err
	}

	meta, err := o.store.Read(programID)
	if err != nil {
		return RunResult{}, err
	}

	release, err := o.jobs.Acquire(ctx)
	if err != nil {
		return RunResult{}, apierr.Wrap(apierr.KindIO, err)
	}
	defer release()

	jobID := uuid.NewString()
	jobDir := filepath.Join(o.cfg.JobsDir, jobID)
	boxDir := filepath.Join(jobDir, "box")
	if err := os.MkdirAll(boxDir, 0o755); err != nil {
		return RunResult{}, apierr.Wrap(apierr.KindIO, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(jobDir); rmErr != nil {
			logging.S().Warnf("failed to remove job tempdir %s: %v", jobDir, rmErr)
		}
	}()

	for _, f := range req.Files {
		if err := os.WriteFile(filepath.Join(boxDir, f.Name), []byte(f.Content), 0o644); err != nil {
			return RunResult{}, apierr.Wrap(apierr.KindIO, err)
		}
	}

	args := append([]string{meta.MainFileName}, req.Args...)

	envVars := make([]sandbox.EnvVar, 0, len(req.EnvVars))
	for _, e := range req.EnvVars {
		envVars = append(envVars, sandbox.EnvVar{Name: e.Name, Value: e.Value})
	}

	mounts := append([]sandbox.Mount{
		sandbox.ReadOnlyMount(filepath.Join(o.store.path(programID), "files"), "/program"),
		sandbox.ReadOnlyMount(boxDir, "/box"),
		sandbox.TempMount("/tmp", runLimits.TmpfsMB),
	}, sandbox.MountsFromClosure(meta.Closure)...)

	var stdin []byte
	if req.Stdin != nil {
		stdin = []byte(*req.Stdin)
	}

	rc := sandbox.RunConfig{
		NsjailPath: o.cfg.NsjailPath,
		TimePath:   o.cfg.TimePath,
		UseCgroup:  o.cfg.UseCgroup,
		TmpDir:     jobDir,
		Program:    meta.RunScript,
		Args:       args,
		Env:        envVars,
		Cwd:        "/box",
		Stdin:      stdin,
		Mounts:     mounts,
		Limits:     runLimits,
	}

	result, err := rc.Run(ctx)
	statusBucket := "error"
	if err == nil {
		statusBucket = statusBucketFor(result.Status)
	}
	metrics.Get().RecordRun(meta.EnvironmentID, statusBucket, time.Since(start))
	return result, err
}

func statusBucketFor(status int) string {
	switch {
	case status == 0:
		return "ok"
	case status >= 128:
		return "killed"
	default:
		return "nonzero"
	}
}
