package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sandkasten-go/internal/apierr"
	"sandkasten-go/internal/program"
)

// environmentView is the per-entry shape returned by GET /environments.
type environmentView struct {
	Name                string      `json:"name"`
	Version             string      `json:"version"`
	DefaultMainFileName string      `json:"default_main_file_name"`
	Example             *string     `json:"example,omitempty"`
	Meta                interface{} `json:"meta,omitempty"`
}

func (s *Server) listEnvironments(c *gin.Context) {
	out := make(map[string]environmentView, len(s.environments.All()))
	for id, env := range s.environments.All() {
		var meta interface{}
		if len(env.Meta) > 0 {
			meta = env.Meta
		}
		out[id] = environmentView{
			Name:                env.Name,
			Version:             env.Version,
			DefaultMainFileName: env.DefaultMainFileName,
			Example:             env.Example,
			Meta:                meta,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) resourceUsage(c *gin.Context) {
	usage, err := s.benchmarks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (s *Server) createProgram(c *gin.Context) {
	var req program.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.New(apierr.KindInvalidFileNames, "malformed request body"))
		return
	}

	result, lease, err := s.orchestrator.Build(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	lease.Release()
	c.JSON(http.StatusCreated, result)
}

func (s *Server) runProgram(c *gin.Context) {
	var req program.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.New(apierr.KindInvalidFileNames, "malformed request body"))
		return
	}

	programID := c.Param("id")
	if !s.orchestrator.ProgramExists(programID) {
		respondError(c, apierr.New(apierr.KindProgramNotFound, "program does not exist"))
		return
	}

	lease := s.orchestrator.AcquireProgramReadLease(programID)
	defer lease.Release()

	result, err := s.orchestrator.Run(c.Request.Context(), programID, req, lease)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) buildAndRun(c *gin.Context) {
	var req program.BuildRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.New(apierr.KindInvalidFileNames, "malformed request body"))
		return
	}

	buildResult, lease, err := s.orchestrator.Build(c.Request.Context(), req.Build)
	if err != nil {
		respondError(c, err)
		return
	}
	defer lease.Release()

	runResult, err := s.orchestrator.Run(c.Request.Context(), buildResult.ProgramID, req.Run, lease)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, program.BuildRunResult{
		ProgramID: buildResult.ProgramID,
		Build:     buildResult.CompileResult,
		Run:       runResult,
	})
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Public())
}

func respondError(c *gin.Context, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Wrap(apierr.KindIO, err)
	}
	c.JSON(apiErr.Status(), apiErr.ToEnvelope())
}
