package handler

import (
	"errors"
	"net/http"

	"github.com/AnTengye/contractforge/middleware"
	"github.com/AnTengye/contractforge/model"
	"github.com/AnTengye/contractforge/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeInternal       = "INTERNAL"
)

var statusByCode = map[model.Code]int{
	model.CodeMissingInput:      http.StatusBadRequest,
	model.CodeEmptySignature:    http.StatusBadRequest,
	model.CodeEmptySignerName:   http.StatusBadRequest,
	model.CodeInvalidRole:       http.StatusBadRequest,
	model.CodeNotFound:          http.StatusNotFound,
	model.CodeInvalidState:      http.StatusConflict,
	model.CodeSlotAlreadySigned: http.StatusConflict,
	model.CodeInvalidTransition: http.StatusConflict,
	model.CodeNotExecuted:       http.StatusConflict,
	model.CodeAlreadyExists:     http.StatusConflict,
	model.CodeQuotaExceeded:     http.StatusConflict,
	model.CodeInvalidLink:       http.StatusForbidden,
	model.CodeStoreUnavailable:  http.StatusServiceUnavailable,
}

// respondError writes err as the JSON error envelope. Unknown errors are
// logged and reported as internal without their message.
func respondError(c *gin.Context, err error) {
	code := model.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		logger.Error(c.Request.Context(), "request failed", "error", err)
		c.Error(err)
		abortJSON(c, http.StatusInternalServerError, codeInternal, "Internal server error")
		return
	}

	msg := err.Error()
	var domainErr *model.Error
	if code == model.CodeStoreUnavailable && errors.As(err, &domainErr) {
		// The wrapped cause stays in the logs.
		logger.Warn(c.Request.Context(), "document store unavailable", "error", err)
		c.Error(err)
		msg = domainErr.Message
	}
	abortJSON(c, status, string(code), msg)
}

func badRequest(c *gin.Context, msg string) {
	abortJSON(c, http.StatusBadRequest, codeInvalidRequest, msg)
}

func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"code":       code,
		"request_id": middleware.GetRequestID(c),
	})
}
