package service

import (
	"context"
	"fmt"

	"escrowsystem/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 自动接单规则的配置入口（接单方自助配置）

type CreateRuleRequest struct {
	ProviderUserID string
	ProviderOrgID  string
	ServiceTypeID  string
	MinAmount      decimal.Decimal
	MaxAmount      decimal.Decimal
}

func (s *EscrowService) CreateAutoAcceptRule(ctx context.Context, req *CreateRuleRequest) (*model.AutoAcceptRule, error) {
	if req.MinAmount.IsNegative() || !req.MaxAmount.IsPositive() || req.MaxAmount.LessThan(req.MinAmount) {
		return nil, fmt.Errorf("%w: 金额区间不合法", ErrInvalidParam)
	}

	serviceType, err := s.serviceTypeRepo.GetByID(ctx, req.ServiceTypeID)
	if err != nil {
		return nil, ErrInvalidServiceType
	}
	if !serviceType.Active || !serviceType.AutoAcceptable {
		return nil, ErrInvalidServiceType
	}

	rule := &model.AutoAcceptRule{
		ID:             uuid.NewString(),
		ProviderUserID: req.ProviderUserID,
		ProviderOrgID:  req.ProviderOrgID,
		ServiceTypeID:  req.ServiceTypeID,
		MinAmount:      req.MinAmount,
		MaxAmount:      req.MaxAmount,
		Enabled:        true,
	}
	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("创建自动接单规则失败: %w", err)
	}
	return rule, nil
}

func (s *EscrowService) ListAutoAcceptRules(ctx context.Context, providerUserID string) ([]*model.AutoAcceptRule, error) {
	return s.ruleRepo.ListByProvider(ctx, providerUserID)
}

func (s *EscrowService) SetAutoAcceptRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	return s.ruleRepo.SetEnabled(ctx, ruleID, enabled)
}
