package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/service"
	"github.com/renewly/renewly/internal/types"
)

type EventHandler struct {
	service service.EventService
	log     *logger.Logger
}

func NewEventHandler(svc service.EventService, log *logger.Logger) *EventHandler {
	return &EventHandler{service: svc, log: log}
}

// ListEvents godoc
// @Summary List subscription events
// @Router /events [get]
func (h *EventHandler) ListEvents(c *gin.Context) {
	filter := types.NewEventFilter()
	if err := c.ShouldBindQuery(filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": result})
}

// GetEvent godoc
// @Summary Get subscription event
// @Router /events/{id} [get]
func (h *EventHandler) GetEvent(c *gin.Context) {
	event, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// MarkNotified godoc
// @Summary Mark event as customer-notified
// @Router /events/{id}/notify [post]
func (h *EventHandler) MarkNotified(c *gin.Context) {
	if err := h.service.MarkCustomerNotified(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "event marked as notified"})
}
