package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"kce.dev/kce/internal/httpapi/dto"
	"kce.dev/kce/internal/provenance"
)

// RunHandler serves read-only run introspection backed by the provenance
// graph itself -- there is no separate run-state database to fall out of
// sync with.
type RunHandler struct {
	recorder *provenance.Recorder
}

func NewRunHandler(recorder *provenance.Recorder) *RunHandler {
	return &RunHandler{recorder: recorder}
}

func (h *RunHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("runId")

	summary, err := h.recorder.DescribeRun(ctx, runID)
	if err != nil {
		slog.DebugContext(ctx, "run not found", "run_id", runID, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.FromSummary(summary))
}
