package service

import (
	"context"
	"errors"
	"fmt"

	"escrowsystem/internal/model"
	"escrowsystem/internal/repository"
	"escrowsystem/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 账户服务 —— 余额变更的唯一入口
// ============================================================================
//
// 四个原语：Deposit / LockForEscrow / ReleaseEscrow / RefundEscrow
// 每个原语要么整体成功（余额更新 + 配平的流水落库），要么整体失败无任何副作用
//
// 【关键点】锁定顺序约定：调用方先锁托管单行，再由本服务锁账户行
// 固定顺序保证两笔操作在同一（托管单，账户）对上竞争时不会互相死锁

type AccountService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
	}
}

func (s *AccountService) GetAccount(ctx context.Context, ownerType, ownerID, currency string) (*model.Account, error) {
	return s.accountRepo.GetOrCreate(ctx, ownerType, ownerID, currency)
}

func (s *AccountService) GetAccountByID(ctx context.Context, accountID string) (*model.Account, error) {
	return s.accountRepo.GetByID(ctx, accountID)
}

// Deposit 充值入账：可用余额增加，追加一条 DEPOSIT 流水
func (s *AccountService) Deposit(ctx context.Context, ownerType, ownerID, currency string, amount decimal.Decimal, referenceID string) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: 充值金额必须大于0", ErrInvalidParam)
	}

	account, err := s.accountRepo.GetOrCreate(ctx, ownerType, ownerID, currency)
	if err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.accountRepo.GetByIDForUpdate(ctx, tx, account.ID); err != nil {
			return err
		}

		if err := s.accountRepo.IncreaseAvailable(ctx, tx, account.ID, amount); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}

		entry := &model.LedgerEntry{
			ID:            uuid.NewString(),
			EntryNo:       idgen.GenerateEntryNo(),
			AccountID:     account.ID,
			Amount:        amount,
			Bucket:        model.BucketAvailable,
			EntryType:     model.EntryTypeDeposit,
			ReferenceType: model.ReferenceTypeDeposit,
			ReferenceID:   referenceID,
			Description:   "充值入账",
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return s.accountRepo.GetByID(ctx, account.ID)
}

// LockForEscrow 托管锁定：可用余额扣减、履约中余额等额增加
// 必须在调用方事务内执行，排他锁内读余额后决策，余额不足返回 ErrBalanceNotEnough
// 追加一对 ESCROW_LOCK 流水（可用桶出账 + 履约中桶入账，带符号之和为 0）
func (s *AccountService) LockForEscrow(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal, escrowID string) error {
	account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return err
	}

	if account.AvailableBalance.LessThan(amount) {
		return repository.ErrBalanceNotEnough
	}

	if err := s.accountRepo.DecreaseAvailable(ctx, tx, accountID, amount); err != nil {
		return fmt.Errorf("锁定扣减失败: %w", err)
	}
	if err := s.accountRepo.IncreaseInContract(ctx, tx, accountID, amount); err != nil {
		return fmt.Errorf("锁定入账失败: %w", err)
	}

	entries := []*model.LedgerEntry{
		{
			ID:            uuid.NewString(),
			EntryNo:       idgen.GenerateEntryNo(),
			AccountID:     accountID,
			Amount:        amount.Neg(),
			Bucket:        model.BucketAvailable,
			EntryType:     model.EntryTypeEscrowLock,
			ReferenceType: model.ReferenceTypeEscrow,
			ReferenceID:   escrowID,
			Description:   "托管锁定-可用余额转出",
		},
		{
			ID:            uuid.NewString(),
			EntryNo:       idgen.GenerateEntryNo(),
			AccountID:     accountID,
			Amount:        amount,
			Bucket:        model.BucketInContract,
			EntryType:     model.EntryTypeEscrowLock,
			ReferenceType: model.ReferenceTypeEscrow,
			ReferenceID:   escrowID,
			Description:   "托管锁定-履约中余额转入",
		},
	}
	for _, entry := range entries {
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录锁定流水失败: %w", err)
		}
	}

	return nil
}

// ReleaseEscrow 托管释放：甲方履约中余额扣减 grossAmount，
// 乙方可用余额增加 grossAmount - fee，手续费从中抽取
//
// 流水拆分为三条，保证两条不变式同时成立：
// 1. 按账户+桶汇总流水可推导出余额（释放与手续费都出自甲方履约中桶）
// 2. 本次操作全部流水带符号之和 = -fee（资金只因手续费抽取而减少）
//   甲方履约中: ESCROW_RELEASE -net, PLATFORM_FEE -fee（合计 -gross）
//   乙方可用:   ESCROW_RECEIVE +net
func (s *AccountService) ReleaseEscrow(ctx context.Context, tx *gorm.DB, fromAccountID, toAccountID string, grossAmount, fee decimal.Decimal, escrowID string) error {
	if fee.GreaterThan(grossAmount) {
		return fmt.Errorf("%w: 手续费不能超过释放总额", ErrInvalidParam)
	}
	netAmount := grossAmount.Sub(fee)

	// 两个账户按 ID 升序加锁，避免交叉释放时互相死锁
	firstID, secondID := fromAccountID, toAccountID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}
	if _, err := s.accountRepo.GetByIDForUpdate(ctx, tx, firstID); err != nil {
		return err
	}
	if firstID != secondID {
		if _, err := s.accountRepo.GetByIDForUpdate(ctx, tx, secondID); err != nil {
			return err
		}
	}

	if err := s.accountRepo.DecreaseInContract(ctx, tx, fromAccountID, grossAmount); err != nil {
		return fmt.Errorf("释放扣减失败: %w", err)
	}
	if err := s.accountRepo.IncreaseAvailable(ctx, tx, toAccountID, netAmount); err != nil {
		return fmt.Errorf("释放入账失败: %w", err)
	}

	entries := []*model.LedgerEntry{
		{
			ID:            uuid.NewString(),
			EntryNo:       idgen.GenerateEntryNo(),
			AccountID:     fromAccountID,
			Amount:        netAmount.Neg(),
			Bucket:        model.BucketInContract,
			EntryType:     model.EntryTypeEscrowRelease,
			ReferenceType: model.ReferenceTypeEscrow,
			ReferenceID:   escrowID,
			Description:   "托管释放-履约中余额转出",
		},
		{
			ID:            uuid.NewString(),
			EntryNo:       idgen.GenerateEntryNo(),
			AccountID:     fromAccountID,
			Amount:        fee.Neg(),
			Bucket:        model.BucketInContract,
			EntryType:     model.EntryTypePlatformFee,
			ReferenceType: model.ReferenceTypeEscrow,
			ReferenceID:   escrowID,
			Description:   "平台手续费扣除",
		},
		{
			ID:            uuid.NewString(),
			EntryNo:       idgen.GenerateEntryNo(),
			AccountID:     toAccountID,
			Amount:        netAmount,
			Bucket:        model.BucketAvailable,
			EntryType:     model.EntryTypeEscrowReceive,
			ReferenceType: model.ReferenceTypeEscrow,
			ReferenceID:   escrowID,
			Description:   "托管入账-扣除手续费后净额",
		},
	}
	for _, entry := range entries {
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录释放流水失败: %w", err)
		}
	}

	return nil
}

// RefundEscrow 托管退款：履约中余额原路退回可用余额
// 追加一对 REFUND 流水（带符号之和为 0，不产生资金增减）
func (s *AccountService) RefundEscrow(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal, escrowID string) error {
	if _, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID); err != nil {
		return err
	}

	if err := s.accountRepo.DecreaseInContract(ctx, tx, accountID, amount); err != nil {
		return fmt.Errorf("退款扣减失败: %w", err)
	}
	if err := s.accountRepo.IncreaseAvailable(ctx, tx, accountID, amount); err != nil {
		return fmt.Errorf("退款入账失败: %w", err)
	}

	entries := []*model.LedgerEntry{
		{
			ID:            uuid.NewString(),
			EntryNo:       idgen.GenerateEntryNo(),
			AccountID:     accountID,
			Amount:        amount.Neg(),
			Bucket:        model.BucketInContract,
			EntryType:     model.EntryTypeRefund,
			ReferenceType: model.ReferenceTypeEscrow,
			ReferenceID:   escrowID,
			Description:   "托管取消-履约中余额转出",
		},
		{
			ID:            uuid.NewString(),
			EntryNo:       idgen.GenerateEntryNo(),
			AccountID:     accountID,
			Amount:        amount,
			Bucket:        model.BucketAvailable,
			EntryType:     model.EntryTypeRefund,
			ReferenceType: model.ReferenceTypeEscrow,
			ReferenceID:   escrowID,
			Description:   "托管取消-可用余额退回",
		},
	}
	for _, entry := range entries {
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录退款流水失败: %w", err)
		}
	}

	return nil
}

// ListLedgerEntries 查询账户流水（审计/对账用）
func (s *AccountService) ListLedgerEntries(ctx context.Context, accountID string, limit, offset int) ([]*model.LedgerEntry, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledgerRepo.ListByAccountID(ctx, accountID, limit, offset)
}

// VerifyBalance 对账：按流水汇总推导余额，与账户表冗余余额比对
func (s *AccountService) VerifyBalance(ctx context.Context, accountID string) (bool, error) {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return false, err
	}

	availableSum, err := s.ledgerRepo.SumByAccountAndBucket(ctx, accountID, model.BucketAvailable)
	if err != nil {
		return false, err
	}
	inContractSum, err := s.ledgerRepo.SumByAccountAndBucket(ctx, accountID, model.BucketInContract)
	if err != nil {
		return false, err
	}

	if !availableSum.Equal(account.AvailableBalance) || !inContractSum.Equal(account.InContractBalance) {
		return false, nil
	}
	return true, nil
}

// IsBalanceNotEnough 判断错误是否为余额不足（边界层映射响应码用）
func IsBalanceNotEnough(err error) bool {
	return errors.Is(err, repository.ErrBalanceNotEnough)
}
