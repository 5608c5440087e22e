package middleware

import (
	"errors"
	"net/http"

	"kidfun/internal/auth"
	"kidfun/internal/core"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON shape of every error response. Retryable tells the
// device whether trying again later can help or the request must change.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

var internalErrorBody = ErrorBody{
	Error:     "Internal server error",
	Code:      "INTERNAL_ERROR",
	Retryable: true,
}

// Specific codes devices branch on; everything else gets its kind's code
var errorCodes = []struct {
	err  error
	code string
}{
	{core.ErrDeviceNotAssigned, "DEVICE_NOT_ASSIGNED"},
	{core.ErrNoActiveSession, "NO_ACTIVE_SESSION"},
	{core.ErrSessionNotActive, "SESSION_NOT_ACTIVE"},
	{core.ErrSessionAlreadyActive, "SESSION_ALREADY_ACTIVE"},
	{core.ErrSessionDeviceMismatch, "SESSION_DEVICE_MISMATCH"},
	{core.ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{auth.ErrInvalidToken, "INVALID_TOKEN"},
	{core.ErrDeviceNotFound, "DEVICE_NOT_FOUND"},
	{core.ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{core.ErrProfileNotFound, "PROFILE_NOT_FOUND"},
	{core.ErrInvalidDeviceCode, "DEVICE_CODE_REQUIRED"},
}

// StatusFor maps an error to its HTTP status and response body
func StatusFor(err error) (int, ErrorBody) {
	body := ErrorBody{Error: err.Error()}

	var status int
	switch core.ErrorKind(err) {
	case core.ErrNotFound:
		status, body.Code = http.StatusNotFound, "NOT_FOUND"
	case core.ErrInvalidInput:
		status, body.Code = http.StatusBadRequest, "INVALID_INPUT"
	case core.ErrUnauthorized:
		status, body.Code = http.StatusForbidden, "UNAUTHORIZED"
	case core.ErrInvalidState:
		status, body.Code = http.StatusConflict, "INVALID_STATE"
	case core.ErrTransportUnavailable:
		status, body.Code = http.StatusServiceUnavailable, "TRANSPORT_UNAVAILABLE"
		body.Retryable = true
	default:
		// Internal details stay in the logs
		return http.StatusInternalServerError, internalErrorBody
	}

	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			body.Code = ec.code
			break
		}
	}

	return status, body
}

// AbortWithError writes the mapped error response and stops the chain
func AbortWithError(c *gin.Context, err error) {
	status, body := StatusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
