package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"kce.dev/kce/internal/httpapi/dto"
	"kce.dev/kce/internal/kg"
)

// QueryHandler runs a raw SPARQL-lite ASK/SELECT against the live graph.
// It never accepts INSERT/DELETE text -- kg.Store.Query itself rejects
// update forms, so this handler stays strictly read-only by construction.
type QueryHandler struct {
	store *kg.Store
}

func NewQueryHandler(store *kg.Store) *QueryHandler {
	return &QueryHandler{store: store}
}

func (h *QueryHandler) Post(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.store.Query(ctx, req.Query)
	if err != nil {
		slog.WarnContext(ctx, "introspection query failed", "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	resp := dto.QueryResponse{}
	switch result.Kind {
	case kg.ResultBool:
		resp.Kind = "bool"
		resp.Bool = result.Bool
	default:
		resp.Kind = "bindings"
		resp.Bindings = dto.BindingsToJSON(result.Bindings)
	}

	c.JSON(http.StatusOK, resp)
}
