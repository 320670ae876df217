package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/types"
)

// RequestContext seeds the request-scoped context values used for
// audit attribution.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = types.GenerateUUID()
		}

		ctx := c.Request.Context()
		ctx = context.WithValue(ctx, types.CtxRequestID, requestID)
		ctx = context.WithValue(ctx, types.CtxEventSource, "api")
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			ctx = context.WithValue(ctx, types.CtxUserID, userID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// ErrorHandler converts errors attached to the gin context into the
// standard error response. Hints become the display message; safe
// details become the structured details map.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		status := ierr.HTTPStatusFromErr(err)
		resp := ierr.ErrorResponse{
			Success: false,
			Error: ierr.ErrorDetail{
				Display:       displayMessage(err),
				InternalError: err.Error(),
				Details:       safeDetails(err),
			},
		}

		if status >= 500 {
			log.Errorw("request failed",
				"request_id", types.GetRequestID(c.Request.Context()),
				"path", c.Request.URL.Path,
				"error", err,
			)
		}

		c.JSON(status, resp)
	}
}

func displayMessage(err error) string {
	hints := errors.GetAllHints(err)
	if len(hints) > 0 {
		return hints[0]
	}
	return "Something went wrong"
}

func safeDetails(err error) map[string]any {
	details := make(map[string]any)
	for _, payload := range errors.GetAllSafeDetails(err) {
		for _, detail := range payload.SafeDetails {
			raw, found := strings.CutPrefix(detail, "__json__:")
			if !found {
				continue
			}
			var parsed map[string]any
			if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
				continue
			}
			for k, v := range parsed {
				details[k] = v
			}
		}
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
