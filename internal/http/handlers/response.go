package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/rolegate/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"flow_not_found"`
	Message   string `json:"message" example:"flow not found"`
}

// fail aborts with the envelope. 5xx responses are logged with the request
// logger; cause, when given, is logged but never sent.
func fail(c *gin.Context, status int, code, msg string, cause ...error) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code)
		if len(cause) > 0 && cause[0] != nil {
			ev = ev.Err(cause[0])
		}
		ev.Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for other packages, such as the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failService answers with the mapping of err.
func failService(c *gin.Context, err error) {
	status, code, msg := serviceError(err)
	fail(c, status, code, msg, err)
}

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
