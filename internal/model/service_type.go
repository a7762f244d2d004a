package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ServiceType 服务类型配置表
// 托管单创建时的只读输入，费率在创建时快照到托管单上
type ServiceType struct {
	ID                        string          `gorm:"type:char(36);primaryKey" json:"id"`
	Name                      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	FeePercent                decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"fee_percent"`                 // 平台费率（百分比）
	RequiresPartyAConfirm     bool            `gorm:"not null;default:true" json:"requires_party_a_confirm"`         // 完成是否需要甲方确认
	RequiresPartyBConfirm     bool            `gorm:"not null;default:true" json:"requires_party_b_confirm"`         // 完成是否需要乙方确认
	AutoAcceptable            bool            `gorm:"not null;default:false" json:"auto_acceptable"`                 // 是否允许自动接单
	Active                    bool            `gorm:"not null;default:true" json:"active"`                           // 是否启用
	CreatedAt                 time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ServiceType) TableName() string {
	return "service_type"
}

// ComputeFee 按费率计算平台手续费，保留两位小数
// fee = amount × fee_percent / 100
func (st *ServiceType) ComputeFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(st.FeePercent).Div(decimal.NewFromInt(100)).Round(2)
}
