package server

import (
	"context"
	"net/http"

	"insider/internal/coordinator"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type errorBody struct {
	Code      coordinator.Code `json:"code"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
}

// writeError answers with the structured error body. Untyped errors become UNAVAILABLE.
func writeError(c *gin.Context, err error) {
	var typed *coordinator.Error
	if !errors.As(err, &typed) {
		message := "service unavailable"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			message = "request cancelled"
		}
		typed = &coordinator.Error{Code: coordinator.CodeUnavailable, Message: message, Err: err}
	}
	message := typed.Message
	if message == "" {
		message = string(typed.Code)
	}
	c.AbortWithStatusJSON(typed.Code.HTTPStatus(), gin.H{"error": errorBody{
		Code:      typed.Code,
		Message:   message,
		Retryable: typed.Retryable(),
	}})
	_ = c.Error(err)
}

func respond(c *gin.Context, status int, payload any, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(status, payload)
}

func respondOK(c *gin.Context, payload any, err error) {
	respond(c, http.StatusOK, payload, err)
}
