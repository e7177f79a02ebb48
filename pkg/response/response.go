package response

import (
	"errors"
	"net/http"

	appErr "woodland-client/pkg/errors"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Code int         `json:"code"`
	Data interface{} `json:"data"`
	Msg  string      `json:"msg"`
}

func Success(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data, "")
}

func SuccessWithMsg(c *gin.Context, data interface{}, msg string) {
	JSON(c, http.StatusOK, data, msg)
}

func Error(c *gin.Context, status int, msg string) {
	JSON(c, status, gin.H{}, msg)
}

// FromError writes err with the status that matches its kind and the
// user-facing message.
func FromError(c *gin.Context, err error) {
	_ = c.Error(err)
	Error(c, StatusOf(err), appErr.Message(err))
}

func StatusOf(err error) int {
	switch {
	case errors.Is(err, appErr.ErrGameNotOpen):
		return http.StatusNotFound
	case errors.Is(err, appErr.ErrUnauthorized),
		errors.Is(err, appErr.ErrMissingCredential),
		errors.Is(err, appErr.ErrCredentialExpired):
		return http.StatusUnauthorized
	case errors.Is(err, appErr.ErrNoRoute),
		errors.Is(err, appErr.ErrNoStep),
		errors.Is(err, appErr.ErrSubmitInFlight):
		return http.StatusConflict
	case errors.Is(err, appErr.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, appErr.ErrNetwork), errors.Is(err, appErr.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func JSON(c *gin.Context, status int, data interface{}, msg string) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(status, Body{
		Code: status,
		Data: data,
		Msg:  msg,
	})
}
