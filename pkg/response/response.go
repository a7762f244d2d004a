package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务错误码：每种核心失败都有独立编码，边界层据此选择状态码与文案
const (
	CodeEscrowNotFound      = 1001 // 托管单不存在
	CodeInvalidState        = 1002 // 当前状态不允许该操作
	CodeNotAParty           = 1003 // 不是交易参与方
	CodeSelfDealing         = 1004 // 不能接自己的单
	CodeAlreadyConfirmed    = 1005 // 重复确认
	CodeBalanceNotEnough    = 1006 // 可用余额不足
	CodeInvalidServiceType  = 1007 // 服务类型不存在或未启用
	CodeAccountNotFound     = 1008 // 账户不存在
	CodeDuplicateRequest    = 1009 // 重复请求
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
