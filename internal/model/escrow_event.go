package model

import (
	"time"
)

// ============================================================================
// 托管事件类型常量
// ============================================================================

const (
	EventTypeCreated         = "CREATED"           // 创建
	EventTypeAccepted        = "ACCEPTED"          // 接单
	EventTypeFunded          = "FUNDED"            // 注资
	EventTypePartyAConfirmed = "PARTY_A_CONFIRMED" // 甲方确认
	EventTypePartyBConfirmed = "PARTY_B_CONFIRMED" // 乙方确认
	EventTypeCompleted       = "COMPLETED"         // 完成
	EventTypeCanceled        = "CANCELED"          // 取消
	EventTypeExpired         = "EXPIRED"           // 过期
)

// EscrowEvent 托管事件表
// 每次状态流转追加一条事件记录，用于审计与时间线重建
//
// 【重要】事件表只追加，不修改，不删除
type EscrowEvent struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	EscrowID  string    `gorm:"type:char(36);index;not null" json:"escrow_id"` // 所属托管单
	EventType string    `gorm:"type:varchar(32);not null" json:"event_type"`   // 事件类型
	ActorID   string    `gorm:"type:char(36)" json:"actor_id"`                 // 操作人（系统操作为 SYSTEM）
	Detail    string    `gorm:"type:text" json:"detail"`                       // 流转详情（JSON）
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (EscrowEvent) TableName() string {
	return "escrow_event"
}

// ActorSystem 系统操作人标识（自动接单、过期扫描等后台任务使用）
const ActorSystem = "SYSTEM"
