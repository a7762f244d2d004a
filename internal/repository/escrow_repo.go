package repository

import (
	"context"
	"errors"
	"time"

	"escrowsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrEscrowNotFound      = errors.New("托管单不存在")
	ErrEscrowStatusInvalid = errors.New("托管单状态不允许该操作")
	ErrDuplicateRequest    = errors.New("重复请求")
)

type EscrowRepository struct {
	db *gorm.DB
}

func NewEscrowRepository(db *gorm.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

func (r *EscrowRepository) Create(ctx context.Context, tx *gorm.DB, escrow *model.Escrow) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(escrow).Error
}

func (r *EscrowRepository) GetByID(ctx context.Context, id string) (*model.Escrow, error) {
	var escrow model.Escrow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&escrow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	return &escrow, nil
}

// GetByIDForUpdate 加排他行锁读取托管单
//
// 【关键点】所有变更操作必须先锁托管单行，再锁账户行（固定顺序，防死锁）
// 行锁保证并发操作串行化：竞争失败的一方会看到已推进的状态，前置校验失败
func (r *EscrowRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Escrow, error) {
	var escrow model.Escrow
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&escrow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	return &escrow, nil
}

func (r *EscrowRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Escrow, error) {
	var escrow model.Escrow
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&escrow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &escrow, nil
}

// UpdateStatus 按状态机流转托管单状态，extra 为随流转一并更新的字段
//
// 【关键点】WHERE 条件带上 fromStatus，配合行锁双重保险：
// 即使并发方先提交改掉了状态，本次更新也会因影响行数为 0 而失败
func (r *EscrowRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrEscrowStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.Escrow{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrEscrowStatusInvalid
	}

	return nil
}

func (r *EscrowRepository) ListByUser(ctx context.Context, userID string, status string, page, pageSize int) ([]*model.Escrow, int64, error) {
	var escrows []*model.Escrow
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Escrow{}).
		Where("creator_user_id = ? OR counterparty_user_id = ?", userID, userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&escrows).Error

	return escrows, total, err
}

// ListPendingForProvider 查询接单方可接的公开托管单
// 过期时间在读取侧过滤：已过期但扫描任务尚未处理的单不再对外展示
func (r *EscrowRepository) ListPendingForProvider(ctx context.Context, providerUserID string, serviceTypeID string, limit int) ([]*model.Escrow, error) {
	var escrows []*model.Escrow
	query := r.db.WithContext(ctx).
		Where("status = ? AND is_open = ? AND creator_user_id <> ? AND expires_at > ?",
			model.EscrowStatusPendingAcceptance, true, providerUserID, time.Now())
	if serviceTypeID != "" {
		query = query.Where("service_type_id = ?", serviceTypeID)
	}
	err := query.
		Order("created_at ASC").
		Limit(limit).
		Find(&escrows).Error
	return escrows, err
}

// ListExpired 查询已过期且尚未注资的托管单，供过期扫描任务处理
// 已注资（FUNDED 及之后）的单不在扫描范围内：资金已锁定，只能由双方确认或取消
func (r *EscrowRepository) ListExpired(ctx context.Context, limit int) ([]*model.Escrow, error) {
	var escrows []*model.Escrow
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?",
			[]string{model.EscrowStatusCreated, model.EscrowStatusPendingAcceptance, model.EscrowStatusPendingFunding},
			time.Now()).
		Limit(limit).
		Find(&escrows).Error
	return escrows, err
}

// ListOpenPendingAcceptance 查询待自动接单的公开托管单
func (r *EscrowRepository) ListOpenPendingAcceptance(ctx context.Context, limit int) ([]*model.Escrow, error) {
	var escrows []*model.Escrow
	err := r.db.WithContext(ctx).
		Where("status = ? AND is_open = ? AND expires_at > ?",
			model.EscrowStatusPendingAcceptance, true, time.Now()).
		Order("created_at ASC").
		Limit(limit).
		Find(&escrows).Error
	return escrows, err
}
