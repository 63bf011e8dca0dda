// Package environments loads the immutable environment definitions from
// disk at startup and provides O(1) lookup thereafter.
package environments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"sandkasten-go/internal/logging"
)

// EngineVersion is compared against each environment's declared version;
// a mismatch is loaded anyway but logged as a warning, matching the
// original's "built for a different version" tolerance.
const EngineVersion = "1.0.0"

// TestProgram is the environment's self-test program, used by the
// Benchmark Service to measure baseline resource usage.
type TestProgram struct {
	MainFile       MainFile `json:"main_file"`
	Files          []File   `json:"files"`
	ExpectedStdout *string  `json:"expected_stdout,omitempty"`
}

// MainFile names the test program's entrypoint and its contents.
type MainFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// File is one auxiliary file bundled with the test program.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Environment is an immutable package describing how to compile and run
// source code in one language, loaded once at startup.
type Environment struct {
	ID                   string          `json:"-"`
	Name                 string          `json:"name"`
	Version              string          `json:"version"`
	DefaultMainFileName  string          `json:"default_main_file_name"`
	CompileScript        *string         `json:"compile_script,omitempty"`
	RunScript            string          `json:"run_script"`
	Closure              []string        `json:"closure"`
	Test                 TestProgram     `json:"test"`
	Example              *string         `json:"example,omitempty"`
	Meta                 json.RawMessage `json:"meta,omitempty"`
	EngineVersion        string          `json:"sandkasten_version"`
}

// Registry is the immutable, loaded-once set of environments, indexed by
// id.
type Registry struct {
	byID map[string]Environment
}

// Load walks each directory in paths, loading every *.json file as one
// environment keyed by its filename (without extension). The first
// definition of a given id wins; later ones are skipped with a warning.
func Load(paths []string) (*Registry, error) {
	reg := &Registry{byID: make(map[string]Environment)}

	for _, dir := range paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logging.S().Warnf("could not open environments directory %s: %v", dir, err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(entry.Name(), ".json")
			path := filepath.Join(dir, entry.Name())

			if _, exists := reg.byID[id]; exists {
				logging.S().Warnf("skipping environment %s: already defined", id)
				continue
			}

			data, err := os.ReadFile(path)
			if err != nil {
				logging.S().Errorf("could not read %s: %v", path, err)
				continue
			}

			var env Environment
			if err := json.Unmarshal(data, &env); err != nil {
				logging.S().Errorf("could not parse %s as an environment: %v", path, err)
				continue
			}
			env.ID = id

			if env.EngineVersion != "" && env.EngineVersion != EngineVersion {
				logging.S().Warnf("environment %s was built for engine version %s (running %s)", id, env.EngineVersion, EngineVersion)
			}
			if env.RunScript == "" {
				logging.S().Errorf("environment %s has no run_script, skipping", id)
				continue
			}

			logging.S().Debugf("loaded environment %s from %s", id, path)
			reg.byID[id] = env
		}
	}

	return reg, nil
}

// Get looks up an environment by id.
func (r *Registry) Get(id string) (Environment, bool) {
	env, ok := r.byID[id]
	return env, ok
}

// All returns every loaded environment, keyed by id. The caller must treat
// the returned map as read-only.
func (r *Registry) All() map[string]Environment {
	return r.byID
}
