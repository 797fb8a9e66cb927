package response

import (
	"errors"
	"net/http"

	"github.com/GrainArc/GeoVersion/services"
	"github.com/gin-gonic/gin"
)

// Response 统一的返回结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Message: "success", Data: data})
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Message: message, Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: http.StatusCreated, Message: "created", Data: data})
}

func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Message: message})
}

func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{Code: http.StatusNotFound, Message: message})
}

func Forbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Response{Code: http.StatusForbidden, Message: message})
}

func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Code: http.StatusUnauthorized, Message: message})
}

func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Message: message})
}

// FromError 按业务错误类别选择状态码，冲突时附带冲突列表
func FromError(c *gin.Context, err error) {
	var conflictErr *services.ConflictError
	switch {
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: conflictErr.Error(),
			Data:    gin.H{"mergeRequestId": conflictErr.MergeRequestID, "conflicts": conflictErr.Conflicts},
		})
	case errors.Is(err, services.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, services.ErrForbidden):
		Forbidden(c, err.Error())
	case errors.Is(err, services.ErrBadRequest):
		BadRequest(c, err.Error())
	default:
		_ = c.Error(err)
		InternalError(c, "internal server error")
	}
}
