package repository

import (
	"context"
	"errors"

	"escrowsystem/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("可用余额不足")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByOwner(ctx context.Context, ownerType, ownerID, currency string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ? AND currency = ?", ownerType, ownerID, currency).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate 按（所有者，币种）惰性创建账户
// 并发首次创建依赖唯一索引 + ON CONFLICT DO NOTHING，不会产生重复账户
func (r *AccountRepository) GetOrCreate(ctx context.Context, ownerType, ownerID, currency string) (*model.Account, error) {
	account, err := r.GetByOwner(ctx, ownerType, ownerID, currency)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		ID:                uuid.NewString(),
		OwnerType:         ownerType,
		OwnerID:           ownerID,
		Currency:          currency,
		AvailableBalance:  decimal.Zero,
		InContractBalance: decimal.Zero,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_type"}, {Name: "owner_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByOwner(ctx, ownerType, ownerID, currency)
}

// GetByIDForUpdate 加排他行锁读取账户
//
// 【关键点】"读余额再决策"必须在排他锁内进行，
// 否则两笔并发注资都会看到扣减前的余额，造成超锁
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// DecreaseAvailable 扣减可用余额
// WHERE 带余额守卫，配合行锁双重保险，余额不足返回 ErrBalanceNotEnough
func (r *AccountRepository) DecreaseAvailable(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND available_balance >= ?", accountID, amount).
		Update("available_balance", gorm.Expr("available_balance - ?", amount))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.AvailableBalance.LessThan(amount) {
			return ErrBalanceNotEnough
		}
		return ErrAccountNotFound
	}

	return nil
}

func (r *AccountRepository) IncreaseAvailable(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Update("available_balance", gorm.Expr("available_balance + ?", amount))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// DecreaseInContract 扣减履约中余额（释放或退款时调用）
// 履约中余额不足说明出现了释放/退款竞态的双重执行，必须让事务失败回滚
func (r *AccountRepository) DecreaseInContract(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND in_contract_balance >= ?", accountID, amount).
		Update("in_contract_balance", gorm.Expr("in_contract_balance - ?", amount))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrBalanceNotEnough
	}

	return nil
}

func (r *AccountRepository) IncreaseInContract(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Update("in_contract_balance", gorm.Expr("in_contract_balance + ?", amount))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
