package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AutoAcceptRule 自动接单规则表
// 接单方（乙方）预先配置的规则：命中规则的公开托管单由系统代为接单
type AutoAcceptRule struct {
	ID             string          `gorm:"type:char(36);primaryKey" json:"id"`
	ProviderUserID string          `gorm:"type:char(36);index;not null" json:"provider_user_id"`     // 接单方用户ID
	ProviderOrgID  string          `gorm:"type:char(36)" json:"provider_org_id"`                     // 接单方组织ID（可为空）
	ServiceTypeID  string          `gorm:"type:char(36);index;not null" json:"service_type_id"`      // 匹配的服务类型
	MinAmount      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"min_amount"`  // 金额下限（含）
	MaxAmount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"max_amount"`            // 金额上限（含）
	Enabled        bool            `gorm:"not null;default:true" json:"enabled"`                     // 是否启用
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AutoAcceptRule) TableName() string {
	return "auto_accept_rule"
}

// Matches 判断托管单是否命中本规则
// 金额区间为闭区间；创建方本人不能自动接自己的单
func (r *AutoAcceptRule) Matches(e *Escrow) bool {
	if !r.Enabled {
		return false
	}
	if r.ServiceTypeID != e.ServiceTypeID {
		return false
	}
	if r.ProviderUserID == e.CreatorUserID {
		return false
	}
	if e.Amount.LessThan(r.MinAmount) || e.Amount.GreaterThan(r.MaxAmount) {
		return false
	}
	return true
}
