package program

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sandkasten-go/internal/apierr"
)

// Store persists and retrieves program artifacts by id under
// {programsDir}/{id}/, per spec.md §4.3.
type Store struct {
	programsDir string
}

// NewStore constructs a Store rooted at programsDir.
func NewStore(programsDir string) *Store {
	return &Store{programsDir: programsDir}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.programsDir, id)
}

// Exists reports whether the program directory is valid, i.e. its `ok`
// sentinel exists.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(filepath.Join(s.path(id), "ok"))
	return err == nil
}

// Read loads a valid program's metadata for use by the run orchestrator.
type ReadResult struct {
	RunScript     string
	MainFileName  string
	Closure       []string
	EnvironmentID string
}

// Read returns the run-time metadata of a published program.
func (s *Store) Read(id string) (ReadResult, error) {
	dir := s.path(id)

	runScript, err := os.ReadFile(filepath.Join(dir, "run_script"))
	if err != nil {
		return ReadResult{}, apierr.Wrap(apierr.KindIO, err)
	}
	mainFile, err := os.ReadFile(filepath.Join(dir, "main_file"))
	if err != nil {
		return ReadResult{}, apierr.Wrap(apierr.KindIO, err)
	}
	closureRaw, err := os.ReadFile(filepath.Join(dir, "closure"))
	if err != nil {
		return ReadResult{}, apierr.Wrap(apierr.KindIO, err)
	}
	environmentID, err := os.ReadFile(filepath.Join(dir, "environment_id"))
	if err != nil {
		return ReadResult{}, apierr.Wrap(apierr.KindIO, err)
	}

	return ReadResult{
		RunScript:     string(runScript),
		MainFileName:  string(mainFile),
		Closure:       splitNonEmptyLines(string(closureRaw)),
		EnvironmentID: string(environmentID),
	}, nil
}

// ReadCompileResult loads the persisted compile_result, if the program
// directory has one.
func (s *Store) ReadCompileResult(id string) (*RunResult, error) {
	data, err := os.ReadFile(filepath.Join(s.path(id), "compile_result"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierr.Wrap(apierr.KindIO, err)
	}
	var result RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apierr.Wrap(apierr.KindIO, err)
	}
	return &result, nil
}

// NewBuild describes the artifacts a freshly built program publishes.
type NewBuild struct {
	RunScript     string
	MainFileName  string
	Closure       []string
	EnvironmentID string
	Files         map[string][]byte // filename -> content, written under files/
	CompileResult *RunResult        // nil if the environment has no compile step
}

// WriteNew creates the program directory and publishes it, following the
// durability contract: files/ -> compile_result (if any) -> ok ->
// last_run. The `ok` sentinel is the sole validity marker; on any failure
// the partially populated directory is removed before returning.
func (s *Store) WriteNew(id string, nb NewBuild) (err error) {
	dir := s.path(id)

	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				err = fmt.Errorf("%w (cleanup also failed: %v)", err, rmErr)
			}
		}
	}()

	filesDir := filepath.Join(dir, "files")
	if mkErr := os.MkdirAll(filesDir, 0o755); mkErr != nil {
		return apierr.Wrap(apierr.KindIO, mkErr)
	}
	for name, content := range nb.Files {
		if wErr := os.WriteFile(filepath.Join(filesDir, name), content, 0o644); wErr != nil {
			return apierr.Wrap(apierr.KindIO, wErr)
		}
	}
	if wErr := os.WriteFile(filepath.Join(dir, "run_script"), []byte(nb.RunScript), 0o644); wErr != nil {
		return apierr.Wrap(apierr.KindIO, wErr)
	}
	if wErr := os.WriteFile(filepath.Join(dir, "main_file"), []byte(nb.MainFileName), 0o644); wErr != nil {
		return apierr.Wrap(apierr.KindIO, wErr)
	}
	if wErr := os.WriteFile(filepath.Join(dir, "closure"), []byte(strings.Join(nb.Closure, "\n")), 0o644); wErr != nil {
		return apierr.Wrap(apierr.KindIO, wErr)
	}
	if wErr := os.WriteFile(filepath.Join(dir, "environment_id"), []byte(nb.EnvironmentID), 0o644); wErr != nil {
		return apierr.Wrap(apierr.KindIO, wErr)
	}

	if nb.CompileResult != nil {
		data, mErr := json.Marshal(nb.CompileResult)
		if mErr != nil {
			return apierr.Wrap(apierr.KindIO, mErr)
		}
		if wErr := os.WriteFile(filepath.Join(dir, "compile_result"), data, 0o644); wErr != nil {
			return apierr.Wrap(apierr.KindIO, wErr)
		}
	}

	if wErr := os.WriteFile(filepath.Join(dir, "ok"), nil, 0o644); wErr != nil {
		return apierr.Wrap(apierr.KindIO, wErr)
	}

	if tErr := s.Touch(id); tErr != nil {
		return tErr
	}

	return nil
}

// Touch rewrites the program's last_run timestamp to now.
func (s *Store) Touch(id string) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(filepath.Join(s.path(id), "last_run"), []byte(now), 0o644); err != nil {
		return apierr.Wrap(apierr.KindIO, err)
	}
	return nil
}

// LastRun reads the program's last_run timestamp.
func (s *Store) LastRun(id string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(s.path(id), "last_run"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// Delete removes the program's entire directory.
func (s *Store) Delete(id string) error {
	return os.RemoveAll(s.path(id))
}

// ProgramsDir exposes the root directory for the eviction loop's scan.
func (s *Store) ProgramsDir() string {
	return s.programsDir
}

func splitNonEmptyLines(s string) []string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
