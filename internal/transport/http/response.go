package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatvoice/internal/app/services"
	platformerrors "chatvoice/internal/platform/errors"
)

// APIResponse is the envelope of every API reply. Kind is set on failures
// that carry a classified error.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
}

// RespondSuccess writes a success envelope.
func RespondSuccess(c *gin.Context, httpStatus int, data any, message string) {
	if message == "" {
		message = "ok"
	}
	c.JSON(httpStatus, APIResponse{Success: true, Data: data, Message: message, Code: httpStatus})
}

// RespondError writes a failure envelope with an explicit status.
func RespondError(c *gin.Context, httpStatus int, message string, data any) {
	c.JSON(httpStatus, APIResponse{Message: message, Code: httpStatus, Data: data})
}

// RespondFailure picks the status for err and writes a failure envelope.
func RespondFailure(c *gin.Context, err error, data any) {
	status := statusFor(err)
	resp := APIResponse{Message: err.Error(), Code: status, Data: data}
	var typed *platformerrors.Error
	if errors.As(err, &typed) {
		resp.Kind = string(typed.Kind)
	}
	c.JSON(status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotPlayable):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidMessage):
		return http.StatusBadRequest
	}
	switch platformerrors.KindOf(err) {
	case platformerrors.KindDomain, platformerrors.KindConfig:
		return http.StatusBadRequest
	case platformerrors.KindStorage, platformerrors.KindTransport:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
