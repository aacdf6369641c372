package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"yield-garden/internal/conversation"
	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/web3"
)

// envelope 是所有业务接口统一的响应格式。
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Error: message})
}

// failWithError 根据错误码选择 HTTP 状态码。
func failWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusFor(err)
	message := err.Error()
	if e, found := xerrors.From(err); found {
		message = e.Message()
	}
	fail(c, status, message)
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, conversation.CodeConversationNotFound, web3.CodeRegistryNotDeployed:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
