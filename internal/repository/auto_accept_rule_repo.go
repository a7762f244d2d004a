package repository

import (
	"context"

	"escrowsystem/internal/model"

	"gorm.io/gorm"
)

type AutoAcceptRuleRepository struct {
	db *gorm.DB
}

func NewAutoAcceptRuleRepository(db *gorm.DB) *AutoAcceptRuleRepository {
	return &AutoAcceptRuleRepository{db: db}
}

func (r *AutoAcceptRuleRepository) Create(ctx context.Context, rule *model.AutoAcceptRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// ListEnabledByServiceType 查询某服务类型下启用的规则
// 按创建时间升序返回：先配置的规则先匹配（自动接单的平手规则）
func (r *AutoAcceptRuleRepository) ListEnabledByServiceType(ctx context.Context, serviceTypeID string) ([]*model.AutoAcceptRule, error) {
	var rules []*model.AutoAcceptRule
	err := r.db.WithContext(ctx).
		Where("service_type_id = ? AND enabled = ?", serviceTypeID, true).
		Order("created_at ASC").
		Find(&rules).Error
	return rules, err
}

func (r *AutoAcceptRuleRepository) ListByProvider(ctx context.Context, providerUserID string) ([]*model.AutoAcceptRule, error) {
	var rules []*model.AutoAcceptRule
	err := r.db.WithContext(ctx).
		Where("provider_user_id = ?", providerUserID).
		Order("created_at DESC").
		Find(&rules).Error
	return rules, err
}

func (r *AutoAcceptRuleRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.AutoAcceptRule{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
