package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/renewly/renewly/internal/api/dto"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/service"
	"github.com/renewly/renewly/internal/types"
)

type SubscriptionHandler struct {
	service   service.SubscriptionService
	hierarchy service.HierarchyService
	lines     service.ProductLineService
	log       *logger.Logger
}

func NewSubscriptionHandler(
	svc service.SubscriptionService,
	hierarchy service.HierarchyService,
	lines service.ProductLineService,
	log *logger.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		service:   svc,
		hierarchy: hierarchy,
		lines:     lines,
		log:       log,
	}
}

// CreateSubscription godoc
// @Summary Create subscription
// @Router /subscriptions [post]
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request payload").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetSubscription godoc
// @Summary Get subscription
// @Router /subscriptions/{id} [get]
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	resp, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListSubscriptions godoc
// @Summary List subscriptions
// @Router /subscriptions [get]
func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	filter := types.NewSubscriptionFilter()
	if err := c.ShouldBindQuery(filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateSubscription godoc
// @Summary Update subscription
// @Router /subscriptions/{id} [put]
func (h *SubscriptionHandler) UpdateSubscription(c *gin.Context) {
	var req dto.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request payload").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteSubscription godoc
// @Summary Delete subscription
// @Router /subscriptions/{id} [delete]
func (h *SubscriptionHandler) DeleteSubscription(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription deleted"})
}

// ActivateSubscription godoc
// @Summary Activate subscription
// @Router /subscriptions/{id}/activate [post]
func (h *SubscriptionHandler) ActivateSubscription(c *gin.Context) {
	resp, err := h.service.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PauseSubscription godoc
// @Summary Pause subscription
// @Router /subscriptions/{id}/pause [post]
func (h *SubscriptionHandler) PauseSubscription(c *gin.Context) {
	var req dto.PauseSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request payload").
				Mark(ierr.ErrValidation))
			return
		}
	}

	resp, err := h.service.Pause(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ResumeSubscription godoc
// @Summary Resume subscription
// @Router /subscriptions/{id}/resume [post]
func (h *SubscriptionHandler) ResumeSubscription(c *gin.Context) {
	resp, err := h.service.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelSubscription godoc
// @Summary Cancel subscription
// @Router /subscriptions/{id}/cancel [post]
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	var req dto.CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request payload").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Cancel(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// LinkParent godoc
// @Summary Link subscription to a parent
// @Router /subscriptions/{id}/parent [post]
func (h *SubscriptionHandler) LinkParent(c *gin.Context) {
	var req dto.LinkSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request payload").
			Mark(ierr.ErrValidation))
		return
	}

	if err := h.hierarchy.Link(c.Request.Context(), c.Param("id"), &req); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription linked"})
}

// UnlinkParent godoc
// @Summary Unlink subscription from its parent
// @Router /subscriptions/{id}/parent [delete]
func (h *SubscriptionHandler) UnlinkParent(c *gin.Context) {
	if err := h.hierarchy.Unlink(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription unlinked"})
}

// GetParent godoc
// @Summary Get parent subscription
// @Router /subscriptions/{id}/parent [get]
func (h *SubscriptionHandler) GetParent(c *gin.Context) {
	parent, err := h.hierarchy.GetParent(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, parent)
}

// GetChildren godoc
// @Summary List child subscriptions
// @Router /subscriptions/{id}/children [get]
func (h *SubscriptionHandler) GetChildren(c *gin.Context) {
	children, err := h.hierarchy.GetChildren(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, children)
}

// ValidateHierarchy godoc
// @Summary Validate subscription hierarchy
// @Router /subscriptions/{id}/hierarchy/validate [get]
func (h *SubscriptionHandler) ValidateHierarchy(c *gin.Context) {
	resp, err := h.hierarchy.ValidateHierarchy(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AddProductLine godoc
// @Summary Add a product to a subscription
// @Router /subscriptions/{id}/products [post]
func (h *SubscriptionHandler) AddProductLine(c *gin.Context) {
	var req dto.AddProductLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request payload").
			Mark(ierr.ErrValidation))
		return
	}

	line, err := h.lines.Add(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

// UpdateProductLine godoc
// @Summary Update a subscription product line
// @Router /subscriptions/{id}/products/{lineId} [put]
func (h *SubscriptionHandler) UpdateProductLine(c *gin.Context) {
	var req dto.UpdateProductLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request payload").
			Mark(ierr.ErrValidation))
		return
	}

	line, err := h.lines.Update(c.Request.Context(), c.Param("id"), c.Param("lineId"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// RemoveProductLine godoc
// @Summary Remove a product from a subscription
// @Router /subscriptions/{id}/products/{lineId} [delete]
func (h *SubscriptionHandler) RemoveProductLine(c *gin.Context) {
	if err := h.lines.Remove(c.Request.Context(), c.Param("id"), c.Param("lineId")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "product removed"})
}

// ListProductLines godoc
// @Summary List subscription product lines
// @Router /subscriptions/{id}/products [get]
func (h *SubscriptionHandler) ListProductLines(c *gin.Context) {
	lines, err := h.lines.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, lines)
}
