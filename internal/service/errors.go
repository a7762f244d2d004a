package service

import "errors"

// 业务错误按种类定义哨兵变量，边界层通过 errors.Is 映射到具体响应码
// 存储层的 NotFound / 状态不合法 / 余额不足 见 repository 包
var (
	ErrUnauthorized       = errors.New("无权执行该操作")
	ErrNotAParty          = errors.New("不是该托管单的参与方")
	ErrSelfDealing        = errors.New("不能接自己创建的托管单")
	ErrAlreadyConfirmed   = errors.New("已确认过，请勿重复操作")
	ErrInvalidServiceType = errors.New("服务类型不存在或未启用")
	ErrInvalidParam       = errors.New("参数不合法")
)
