package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 托管单状态常量
// ============================================================================

const (
	EscrowStatusCreated           = "CREATED"            // 已创建（瞬时状态，落库即进入待接单）
	EscrowStatusPendingAcceptance = "PENDING_ACCEPTANCE" // 待接单
	EscrowStatusPendingFunding    = "PENDING_FUNDING"    // 待注资
	EscrowStatusFunded            = "FUNDED"             // 已注资（资金已锁定）
	EscrowStatusPartyAConfirmed   = "PARTY_A_CONFIRMED"  // 甲方已确认
	EscrowStatusPartyBConfirmed   = "PARTY_B_CONFIRMED"  // 乙方已确认
	EscrowStatusCompleted         = "COMPLETED"          // 已完成（终态）
	EscrowStatusCanceled          = "CANCELED"           // 已取消（终态）
	EscrowStatusExpired           = "EXPIRED"            // 已过期（终态）
)

// ValidStatusTransitions 合法的状态流转表
//
// 【重要】状态机只能单向推进，不允许回退或跳过确认环节
// FUNDED 之后必须经过至少一方确认才能到 COMPLETED
var ValidStatusTransitions = map[string][]string{
	EscrowStatusCreated:           {EscrowStatusPendingAcceptance, EscrowStatusCanceled, EscrowStatusExpired},
	EscrowStatusPendingAcceptance: {EscrowStatusPendingFunding, EscrowStatusCanceled, EscrowStatusExpired},
	EscrowStatusPendingFunding:    {EscrowStatusFunded, EscrowStatusCanceled, EscrowStatusExpired},
	EscrowStatusFunded:            {EscrowStatusPartyAConfirmed, EscrowStatusPartyBConfirmed, EscrowStatusCompleted, EscrowStatusCanceled},
	EscrowStatusPartyAConfirmed:   {EscrowStatusCompleted},
	EscrowStatusPartyBConfirmed:   {EscrowStatusCompleted},
}

// CanTransitionTo 判断状态是否允许流转
func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalStatus 判断是否终态（终态托管单只读）
func IsTerminalStatus(status string) bool {
	switch status {
	case EscrowStatusCompleted, EscrowStatusCanceled, EscrowStatusExpired:
		return true
	}
	return false
}

// CancelableStatuses 允许取消的状态集合
var CancelableStatuses = []string{
	EscrowStatusCreated,
	EscrowStatusPendingAcceptance,
	EscrowStatusPendingFunding,
	EscrowStatusFunded,
}

// CanCancel 判断当前状态是否允许取消
func CanCancel(status string) bool {
	for _, s := range CancelableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// CanConfirm 判断当前状态是否允许参与方确认
func CanConfirm(status string) bool {
	switch status {
	case EscrowStatusFunded, EscrowStatusPartyAConfirmed, EscrowStatusPartyBConfirmed:
		return true
	}
	return false
}

// ============================================================================
// 托管单实体
// ============================================================================

// Escrow 托管单表
// 甲方（创建方/付款方）与乙方（接单方/履约方）之间的一笔资金托管交易
//
// 【重要】不变式：
// 1. completed_at 与 canceled_at 至多只有一个被设置
// 2. 双方确认时间都被设置 ⇒ status == COMPLETED
// 3. platform_fee 在创建时按服务类型费率快照计算，之后费率变更不影响已有托管单
type Escrow struct {
	ID                 string          `gorm:"type:char(36);primaryKey" json:"id"`
	EscrowNo           string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"escrow_no"`          // 托管单号（对外展示）
	RequestID          string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`         // 幂等ID，创建方传入
	ServiceTypeID      string          `gorm:"type:char(36);index;not null" json:"service_type_id"`             // 服务类型ID
	CreatorOrgID       string          `gorm:"type:char(36);index" json:"creator_org_id"`                       // 甲方组织ID（可为空）
	CreatorUserID      string          `gorm:"type:char(36);index;not null" json:"creator_user_id"`             // 甲方用户ID
	CounterpartyOrgID  *string         `gorm:"type:char(36);index" json:"counterparty_org_id"`                  // 乙方组织ID（接单后绑定）
	CounterpartyUserID *string         `gorm:"type:char(36);index" json:"counterparty_user_id"`                 // 乙方用户ID（接单后绑定）
	IsOpen             bool            `gorm:"not null;default:false" json:"is_open"`                           // 是否公开单（任何人可接）
	Status             string          `gorm:"type:varchar(32);index;not null" json:"status"`                   // 状态
	Amount             decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`                       // 托管金额
	PlatformFee        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"platform_fee"`                 // 平台手续费（创建时快照）
	Currency           string          `gorm:"type:varchar(8);not null" json:"currency"`                        // 结算币种
	Metadata           string          `gorm:"type:text" json:"metadata"`                                       // 业务方自定义数据（JSON）
	PartyAConfirmedAt  *time.Time      `json:"party_a_confirmed_at"`                                            // 甲方确认时间
	PartyBConfirmedAt  *time.Time      `json:"party_b_confirmed_at"`                                            // 乙方确认时间
	FundedAt           *time.Time      `json:"funded_at"`                                                       // 注资时间
	CompletedAt        *time.Time      `json:"completed_at"`                                                    // 完成时间
	CanceledAt         *time.Time      `json:"canceled_at"`                                                     // 取消时间
	ExpiresAt          time.Time       `gorm:"index;not null" json:"expires_at"`                                // 过期时间
	CreatedAt          time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Escrow) TableName() string {
	return "escrow"
}

// TotalAmount 注资总额 = 托管金额 + 平台手续费
func (e *Escrow) TotalAmount() decimal.Decimal {
	return e.Amount.Add(e.PlatformFee)
}

// IsPartyA 判断用户是否为甲方
func (e *Escrow) IsPartyA(userID string) bool {
	return e.CreatorUserID == userID
}

// IsPartyB 判断用户是否为乙方
func (e *Escrow) IsPartyB(userID string) bool {
	return e.CounterpartyUserID != nil && *e.CounterpartyUserID == userID
}

// IsParty 判断用户是否为交易双方之一
func (e *Escrow) IsParty(userID string) bool {
	return e.IsPartyA(userID) || e.IsPartyB(userID)
}
