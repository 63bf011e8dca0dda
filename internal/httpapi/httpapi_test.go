package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandkasten-go/internal/benchmark"
	"sandkasten-go/internal/concurrency"
	"sandkasten-go/internal/config"
	"sandkasten-go/internal/environments"
	"sandkasten-go/internal/program"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func fakeTimeBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "time")
	script := "#!/bin/sh\nfor a in \"$@\"; do\n  if [ \"$prev\" = \"-o\" ]; then outfile=\"$a\"; fi\n  prev=\"$a\"\ndone\necho '0.02 256 0' > \"$outfile\"\nexit 0\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	envDir := t.TempDir()
	env := environments.Environment{
		DefaultMainFileName: "main.py",
		Name:                "Python",
		RunScript:           "python3 main.py",
		Test: environments.TestProgram{
			MainFile: environments.MainFile{Name: "main.py", Content: "print(1)"},
		},
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(envDir, "python.json"), data, 0o644))

	reg, err := environments.Load([]string{envDir})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.ProgramsDir = t.TempDir()
	cfg.JobsDir = t.TempDir()
	cfg.NsjailPath = "/bin/true"
	cfg.TimePath = fakeTimeBinary(t)
	cfg.RateLimitPerSecond = 0

	store := program.NewStore(cfg.ProgramsDir)
	jobs := concurrency.NewJobSemaphore(int64(cfg.MaxConcurrentJobs))
	orch := program.NewOrchestrator(cfg, reg, store, jobs)
	bench := benchmark.NewService(cfg, reg, orch, jobs)

	return NewServer(cfg, reg, orch, bench)
}

func TestListEnvironmentsReturnsLoadedEnvironments(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/environments", nil)

	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]environmentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "python")
	assert.Equal(t, "main.py", body["python"].DefaultMainFileName)
}

func TestGetConfigReturnsPublicSubset(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/config", nil)

	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var pub config.PublicConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pub))
	assert.Equal(t, s.cfg.MaxConcurrentJobs, pub.MaxConcurrentJobs)
}

func TestCreateProgramThenRunProgram(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	createBody, _ := json.Marshal(program.BuildRequest{
		EnvironmentID: "python",
		MainFile:      program.MainFile{Content: "print(1)"},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/programs", bytes.NewReader(createBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var buildResult program.BuildResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buildResult))
	require.NotEmpty(t, buildResult.ProgramID)

	runBody, _ := json.Marshal(program.RunRequest{})
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/programs/"+buildResult.ProgramID+"/run", bytes.NewReader(runBody))
	req2.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w2, req2)

	require.Equal(t, http.StatusOK, w2.Code)
	var runResult program.RunResult
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &runResult))
	assert.Equal(t, 0, runResult.Status)
}

func TestRunProgramUnknownIDReturns404(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	runBody, _ := json.Marshal(program.RunRequest{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/programs/does-not-exist/run", bytes.NewReader(runBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuildAndRunInOneCall(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	body, _ := json.Marshal(program.BuildRunRequest{
		Build: program.BuildRequest{EnvironmentID: "python", MainFile: program.MainFile{Content: "print(1)"}},
		Run:   program.RunRequest{},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result program.BuildRunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 0, result.Run.Status)
}

func TestResourceUsageUnknownEnvironmentReturns404(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/environments/does-not-exist/resource_usage", nil)

	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProgramRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/programs", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")

	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpointIsMounted(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
