package repository

import (
	"context"

	"escrowsystem/internal/model"

	"gorm.io/gorm"
)

type EscrowEventRepository struct {
	db *gorm.DB
}

func NewEscrowEventRepository(db *gorm.DB) *EscrowEventRepository {
	return &EscrowEventRepository{db: db}
}

// Create 追加一条托管事件
// 事件与状态流转在同一事务内写入，只追加不修改
func (r *EscrowEventRepository) Create(ctx context.Context, tx *gorm.DB, event *model.EscrowEvent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(event).Error
}

func (r *EscrowEventRepository) ListByEscrowID(ctx context.Context, escrowID string) ([]*model.EscrowEvent, error) {
	var events []*model.EscrowEvent
	err := r.db.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
