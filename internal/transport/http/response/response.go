package response

import "github.com/gin-gonic/gin"

const (
	CodeOK              = 0
	CodeBadRequest      = 40000
	CodeUnsupportedFile = 40001
	CodeInvalidQuery    = 40002
	CodeEmptyIndex      = 40003
	CodeSessionNotFound = 40401
	CodePayloadTooLarge = 41300
	CodeUnreadableFile  = 42200
	CodeInternalServer  = 50000
	CodeIndexMismatch   = 50001
	CodeServiceUnavail  = 50300
	CodeUpstreamTimeout = 50400
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}
