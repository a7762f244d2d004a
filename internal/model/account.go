package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 账户所有者类型
// ============================================================================

const (
	OwnerTypeUser = "USER" // 个人账户
	OwnerTypeOrg  = "ORG"  // 组织账户
)

// Account 资金账户表
// 双桶余额设计：可用余额 + 履约中余额，是整个托管系统的核心数据
//
// 【重要】不变式：
// 1. available_balance 和 in_contract_balance 各自永不为负
// 2. 对外报告的总余额 = available_balance + in_contract_balance
// 3. 余额只能通过 AccountService 的四个原语变更，禁止直接赋值
// 4. 账户按（所有者，币种）惰性创建，首次使用时生成
type Account struct {
	ID                string          `gorm:"type:char(36);primaryKey" json:"id"`
	OwnerType         string          `gorm:"type:varchar(8);uniqueIndex:uk_owner_currency;not null" json:"owner_type"` // USER 或 ORG，二选一
	OwnerID           string          `gorm:"type:char(36);uniqueIndex:uk_owner_currency;not null" json:"owner_id"`     // 所有者ID
	Currency          string          `gorm:"type:varchar(8);uniqueIndex:uk_owner_currency;not null" json:"currency"`   // 币种
	AvailableBalance  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"available_balance"`           // 可用余额
	InContractBalance decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"in_contract_balance"`         // 履约中余额（已锁定到托管单）
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// TotalBalance 总余额 = 可用 + 履约中
func (a *Account) TotalBalance() decimal.Decimal {
	return a.AvailableBalance.Add(a.InContractBalance)
}
