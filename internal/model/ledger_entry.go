package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 流水类型与资金桶常量
// ============================================================================

const (
	EntryTypeDeposit       = "DEPOSIT"        // 充值入账
	EntryTypeEscrowLock    = "ESCROW_LOCK"    // 托管锁定（可用 -> 履约中）
	EntryTypeEscrowRelease = "ESCROW_RELEASE" // 托管释放（甲方履约中扣减）
	EntryTypeEscrowReceive = "ESCROW_RECEIVE" // 托管入账（乙方可用增加）
	EntryTypePlatformFee   = "PLATFORM_FEE"   // 平台手续费扣除
	EntryTypeRefund        = "REFUND"         // 退款（履约中 -> 可用）
)

const (
	BucketAvailable  = "available"   // 可用余额桶
	BucketInContract = "in_contract" // 履约中余额桶
)

const (
	ReferenceTypeEscrow  = "ESCROW"  // 关联托管单
	ReferenceTypeDeposit = "DEPOSIT" // 关联充值请求
)

// ============================================================================
// 账户流水实体
// ============================================================================

// LedgerEntry 账户流水表
// 记录某个账户某个资金桶的一笔带符号余额变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水必须关联来源（reference_type + reference_id）—— 便于对账
// 3. 对任意 reference_id，全部流水的带符号之和等于该操作的净资金变动
//    （纯桶间转移为 0，手续费抽取为 -platform_fee）
// 4. 按流水汇总推导出的余额必须与账户表冗余存储的余额一致
type LedgerEntry struct {
	ID            string          `gorm:"type:char(36);primaryKey" json:"id"`
	EntryNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`       // 流水号（全局唯一）
	AccountID     string          `gorm:"type:char(36);index;not null" json:"account_id"`              // 账户ID
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`                   // 金额（正数入账，负数出账）
	Bucket        string          `gorm:"type:varchar(16);not null" json:"bucket"`                     // 资金桶
	EntryType     string          `gorm:"type:varchar(20);not null" json:"entry_type"`                 // 流水类型
	ReferenceType string          `gorm:"type:varchar(20);not null" json:"reference_type"`             // 关联对象类型
	ReferenceID   string          `gorm:"type:varchar(64);index;not null" json:"reference_id"`         // 关联对象ID
	Description   string          `gorm:"type:varchar(256)" json:"description"`                        // 备注
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
