package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sagaflow/internal/state"
	"sagaflow/internal/store"
	"sagaflow/internal/supervisor"
)

type Handler struct {
	orchestrator  Orchestrator
	maxInputBytes int
}

func NewHandler(orchestrator Orchestrator) *Handler {
	return &Handler{
		orchestrator:  orchestrator,
		maxInputBytes: MaxInputBytes,
	}
}

func NewRouter(orchestrator Orchestrator) *gin.Engine {
	r := gin.New()
	h := NewHandler(orchestrator)
	r.POST("/sagas", h.PostSagas)
	r.GET("/sagas/:id", h.GetSaga)
	r.POST("/sagas/:id/cancel", h.CancelSaga)
	return r
}

func (h *Handler) PostSagas(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidJSON})
		return
	}

	req.Definition = strings.TrimSpace(req.Definition)
	if req.Definition == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrMissingDefinition})
		return
	}
	if len(req.Input) > h.maxInputBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: ErrInputTooLarge})
		return
	}

	id, err := h.orchestrator.Submit(c.Request.Context(), req.Definition, req.Input)
	if err != nil {
		if errors.Is(err, supervisor.ErrUnknownDefinition) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrUnknownDefinition})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ErrSubmit})
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{InstanceID: id, Status: string(state.Created)})
}

func (h *Handler) GetSaga(c *gin.Context) {
	in, err := h.orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ErrStore})
		return
	}
	c.JSON(http.StatusOK, in)
}

func (h *Handler) CancelSaga(c *gin.Context) {
	if err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ErrStore})
		return
	}
	c.JSON(http.StatusAccepted, SubmitResponse{InstanceID: c.Param("id")})
}
