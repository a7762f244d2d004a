package repository

import (
	"context"
	"errors"

	"escrowsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrServiceTypeNotFound = errors.New("服务类型不存在")

type ServiceTypeRepository struct {
	db *gorm.DB
}

func NewServiceTypeRepository(db *gorm.DB) *ServiceTypeRepository {
	return &ServiceTypeRepository{db: db}
}

func (r *ServiceTypeRepository) GetByID(ctx context.Context, id string) (*model.ServiceType, error) {
	var st model.ServiceType
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServiceTypeNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (r *ServiceTypeRepository) ListActive(ctx context.Context) ([]*model.ServiceType, error) {
	var types []*model.ServiceType
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("name ASC").
		Find(&types).Error
	return types, err
}

// Upsert 按名称幂等写入服务类型（启动时种子数据使用）
func (r *ServiceTypeRepository) Upsert(ctx context.Context, st *model.ServiceType) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(st).Error
}
