package service

// ============================================================================
// 托管引擎集成测试
// ============================================================================
//
// 需要真实的 MySQL 与 Redis：
//   export ESCROW_TEST_MYSQL_DSN="root:root@tcp(127.0.0.1:3306)/escrow_test?charset=utf8mb4&parseTime=True&loc=Local"
//   export ESCROW_TEST_REDIS_ADDR="127.0.0.1:6379"
// 未设置时自动跳过

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/model"
	"escrowsystem/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupIntegration(t *testing.T) (*EscrowService, *AccountService) {
	t.Helper()

	dsn := os.Getenv("ESCROW_TEST_MYSQL_DSN")
	redisAddr := os.Getenv("ESCROW_TEST_REDIS_ADDR")
	if dsn == "" || redisAddr == "" {
		t.Skip("跳过集成测试：需要设置 ESCROW_TEST_MYSQL_DSN 和 ESCROW_TEST_REDIS_ADDR")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(
		&model.ServiceType{},
		&model.Account{},
		&model.LedgerEntry{},
		&model.Escrow{},
		&model.EscrowEvent{},
		&model.AutoAcceptRule{},
		&model.OutboxMessage{},
	); err != nil {
		t.Fatalf("迁移测试表失败: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("跳过集成测试：Redis 不可用: %v", err)
	}

	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{EscrowEvents: "escrow.events.test"},
		},
		Business: config.BusinessConfig{
			EscrowExpiryHours: 72,
			DefaultCurrency:   "USD",
			MaxRetryCount:     5,
		},
	}

	escrowService := NewEscrowService(db, redisClient, cfg)
	return escrowService, escrowService.accountService
}

func mustServiceType(t *testing.T, s *EscrowService, feePercent string, reqA, reqB, autoAcceptable bool) *model.ServiceType {
	t.Helper()
	st := &model.ServiceType{
		ID:                    uuid.NewString(),
		Name:                  "test_" + uuid.NewString(),
		FeePercent:            decimal.RequireFromString(feePercent),
		RequiresPartyAConfirm: reqA,
		RequiresPartyBConfirm: reqB,
		AutoAcceptable:        autoAcceptable,
		Active:                true,
	}
	if err := s.db.Create(st).Error; err != nil {
		t.Fatalf("创建测试服务类型失败: %v", err)
	}
	return st
}

func mustDeposit(t *testing.T, accounts *AccountService, userID, amount string) *model.Account {
	t.Helper()
	account, err := accounts.Deposit(context.Background(), model.OwnerTypeUser, userID, "USD",
		decimal.RequireFromString(amount), uuid.NewString())
	if err != nil {
		t.Fatalf("充值失败: %v", err)
	}
	return account
}

func assertBalance(t *testing.T, accounts *AccountService, userID, wantAvailable, wantInContract string) {
	t.Helper()
	account, err := accounts.GetAccount(context.Background(), model.OwnerTypeUser, userID, "USD")
	if err != nil {
		t.Fatalf("查询账户失败: %v", err)
	}
	if !account.AvailableBalance.Equal(decimal.RequireFromString(wantAvailable)) {
		t.Errorf("可用余额 = %s, want %s", account.AvailableBalance, wantAvailable)
	}
	if !account.InContractBalance.Equal(decimal.RequireFromString(wantInContract)) {
		t.Errorf("履约中余额 = %s, want %s", account.InContractBalance, wantInContract)
	}
}

func assertLedgerConsistent(t *testing.T, accounts *AccountService, userID string) {
	t.Helper()
	account, err := accounts.GetAccount(context.Background(), model.OwnerTypeUser, userID, "USD")
	if err != nil {
		t.Fatalf("查询账户失败: %v", err)
	}
	ok, err := accounts.VerifyBalance(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("对账失败: %v", err)
	}
	if !ok {
		t.Errorf("账户 %s 流水汇总与余额不一致", account.ID)
	}
}

// 完整生命周期：充值 -> 创建 -> 接单 -> 注资 -> 双方确认 -> 完成
// 金额 100，费率 10%：甲方锁定 110，乙方到账 100，手续费 10
func TestEscrowFullLifecycle(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()
	mustDeposit(t, accounts, partyA, "200")

	requestID := uuid.NewString()
	escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     requestID,
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}
	if escrow.Status != model.EscrowStatusPendingAcceptance {
		t.Fatalf("创建后状态 = %s, want PENDING_ACCEPTANCE", escrow.Status)
	}
	if !escrow.PlatformFee.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("手续费快照 = %s, want 10", escrow.PlatformFee)
	}

	// 相同 request_id 重复提交返回同一笔
	dup, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     requestID,
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("幂等重放失败: %v", err)
	}
	if dup.ID != escrow.ID {
		t.Fatalf("幂等重放返回了不同的托管单: %s != %s", dup.ID, escrow.ID)
	}

	if _, err := s.AcceptEscrow(ctx, escrow.ID, partyB, ""); err != nil {
		t.Fatalf("接单失败: %v", err)
	}

	if _, err := s.FundEscrow(ctx, escrow.ID, partyA); err != nil {
		t.Fatalf("注资失败: %v", err)
	}
	assertBalance(t, accounts, partyA, "90", "110")

	confirmed, err := s.ConfirmEscrow(ctx, escrow.ID, partyA)
	if err != nil {
		t.Fatalf("甲方确认失败: %v", err)
	}
	if confirmed.Status != model.EscrowStatusPartyAConfirmed {
		t.Fatalf("甲方确认后状态 = %s, want PARTY_A_CONFIRMED", confirmed.Status)
	}

	completed, err := s.ConfirmEscrow(ctx, escrow.ID, partyB)
	if err != nil {
		t.Fatalf("乙方确认失败: %v", err)
	}
	if completed.Status != model.EscrowStatusCompleted {
		t.Fatalf("乙方确认后状态 = %s, want COMPLETED", completed.Status)
	}

	// 资金守恒：甲方 200 - 110 = 90，乙方 110 - 10 = 100，手续费 10 被抽取
	assertBalance(t, accounts, partyA, "90", "0")
	assertBalance(t, accounts, partyB, "100", "0")
	assertLedgerConsistent(t, accounts, partyA)
	assertLedgerConsistent(t, accounts, partyB)

	events, err := s.GetEscrowEvents(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("查询事件失败: %v", err)
	}
	if len(events) == 0 {
		t.Error("托管单生命周期应当产生事件记录")
	}
}

func TestCreateEscrowValidation(t *testing.T) {
	s, _ := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()

	_, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(-5),
	})
	if !errors.Is(err, ErrInvalidParam) {
		t.Errorf("负金额应返回 ErrInvalidParam, got %v", err)
	}

	_, err = s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        false,
		Amount:        decimal.NewFromInt(100),
	})
	if !errors.Is(err, ErrInvalidParam) {
		t.Errorf("定向单缺少乙方应返回 ErrInvalidParam, got %v", err)
	}

	_, err = s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:          uuid.NewString(),
		ServiceTypeID:      st.ID,
		CreatorUserID:      partyA,
		CounterpartyUserID: partyA,
		Amount:             decimal.NewFromInt(100),
	})
	if !errors.Is(err, ErrSelfDealing) {
		t.Errorf("自成交应返回 ErrSelfDealing, got %v", err)
	}

	_, err = s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: uuid.NewString(),
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if !errors.Is(err, ErrInvalidServiceType) {
		t.Errorf("未知服务类型应返回 ErrInvalidServiceType, got %v", err)
	}
}

func TestAcceptEscrowGuards(t *testing.T) {
	s, _ := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()
	outsider := uuid.NewString()

	// 定向单只能由指定乙方接
	directed, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:          uuid.NewString(),
		ServiceTypeID:      st.ID,
		CreatorUserID:      partyA,
		CounterpartyUserID: partyB,
		Amount:             decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建定向单失败: %v", err)
	}

	if _, err := s.AcceptEscrow(ctx, directed.ID, partyA, ""); !errors.Is(err, ErrSelfDealing) {
		t.Errorf("接自己的单应返回 ErrSelfDealing, got %v", err)
	}
	if _, err := s.AcceptEscrow(ctx, directed.ID, outsider, ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("非指定乙方接定向单应返回 ErrUnauthorized, got %v", err)
	}
	if _, err := s.AcceptEscrow(ctx, directed.ID, partyB, ""); err != nil {
		t.Fatalf("指定乙方接单失败: %v", err)
	}
	// 已接的单不能再接
	if _, err := s.AcceptEscrow(ctx, directed.ID, partyB, ""); !errors.Is(err, repository.ErrEscrowStatusInvalid) {
		t.Errorf("重复接单应返回状态不合法, got %v", err)
	}
}

func TestFundEscrowGuards(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()
	mustDeposit(t, accounts, partyA, "50") // 不足 110

	escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}
	if _, err := s.AcceptEscrow(ctx, escrow.ID, partyB, ""); err != nil {
		t.Fatalf("接单失败: %v", err)
	}

	// 只有甲方能注资
	if _, err := s.FundEscrow(ctx, escrow.ID, partyB); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("乙方注资应返回 ErrUnauthorized, got %v", err)
	}

	// 余额不足：注资失败，状态与余额均不变
	if _, err := s.FundEscrow(ctx, escrow.ID, partyA); !IsBalanceNotEnough(err) {
		t.Errorf("余额不足应返回 ErrBalanceNotEnough, got %v", err)
	}
	current, err := s.GetEscrowByID(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("查询托管单失败: %v", err)
	}
	if current.Status != model.EscrowStatusPendingFunding {
		t.Errorf("注资失败后状态 = %s, want PENDING_FUNDING", current.Status)
	}
	assertBalance(t, accounts, partyA, "50", "0")
	assertLedgerConsistent(t, accounts, partyA)
}

// 取消退款与注资对称：已注资的单取消后甲方余额原路退回
func TestCancelRefund(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()
	mustDeposit(t, accounts, partyA, "150")

	escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}
	if _, err := s.AcceptEscrow(ctx, escrow.ID, partyB, ""); err != nil {
		t.Fatalf("接单失败: %v", err)
	}
	if _, err := s.FundEscrow(ctx, escrow.ID, partyA); err != nil {
		t.Fatalf("注资失败: %v", err)
	}
	assertBalance(t, accounts, partyA, "40", "110")

	// 外部人无权取消
	if _, err := s.CancelEscrow(ctx, escrow.ID, uuid.NewString(), "test"); !errors.Is(err, ErrNotAParty) {
		t.Errorf("外部人取消应返回 ErrNotAParty, got %v", err)
	}

	canceled, err := s.CancelEscrow(ctx, escrow.ID, partyB, "乙方主动取消")
	if err != nil {
		t.Fatalf("取消失败: %v", err)
	}
	if canceled.Status != model.EscrowStatusCanceled {
		t.Fatalf("取消后状态 = %s, want CANCELED", canceled.Status)
	}
	// 含手续费全额退回
	assertBalance(t, accounts, partyA, "150", "0")
	assertLedgerConsistent(t, accounts, partyA)

	// 终态不可再取消
	if _, err := s.CancelEscrow(ctx, escrow.ID, partyA, "again"); !errors.Is(err, repository.ErrEscrowStatusInvalid) {
		t.Errorf("取消终态单应返回状态不合法, got %v", err)
	}
}

func TestConfirmEscrowGuards(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()
	mustDeposit(t, accounts, partyA, "110")

	escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}
	if _, err := s.AcceptEscrow(ctx, escrow.ID, partyB, ""); err != nil {
		t.Fatalf("接单失败: %v", err)
	}

	// 未注资不能确认
	if _, err := s.ConfirmEscrow(ctx, escrow.ID, partyA); !errors.Is(err, repository.ErrEscrowStatusInvalid) {
		t.Errorf("未注资确认应返回状态不合法, got %v", err)
	}

	if _, err := s.FundEscrow(ctx, escrow.ID, partyA); err != nil {
		t.Fatalf("注资失败: %v", err)
	}

	if _, err := s.ConfirmEscrow(ctx, escrow.ID, uuid.NewString()); !errors.Is(err, ErrNotAParty) {
		t.Errorf("外部人确认应返回 ErrNotAParty, got %v", err)
	}

	if _, err := s.ConfirmEscrow(ctx, escrow.ID, partyA); err != nil {
		t.Fatalf("甲方确认失败: %v", err)
	}
	// 同一方重复确认
	if _, err := s.ConfirmEscrow(ctx, escrow.ID, partyA); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Errorf("重复确认应返回 ErrAlreadyConfirmed, got %v", err)
	}
}

// 服务类型无需乙方确认时，甲方一次确认直接完成
func TestSingleConfirmCompletion(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "5", true, false, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()
	mustDeposit(t, accounts, partyA, "105")

	escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}
	if _, err := s.AcceptEscrow(ctx, escrow.ID, partyB, ""); err != nil {
		t.Fatalf("接单失败: %v", err)
	}
	if _, err := s.FundEscrow(ctx, escrow.ID, partyA); err != nil {
		t.Fatalf("注资失败: %v", err)
	}

	completed, err := s.ConfirmEscrow(ctx, escrow.ID, partyA)
	if err != nil {
		t.Fatalf("甲方确认失败: %v", err)
	}
	if completed.Status != model.EscrowStatusCompleted {
		t.Fatalf("无需乙方确认时状态 = %s, want COMPLETED", completed.Status)
	}
	assertBalance(t, accounts, partyA, "0", "0")
	assertBalance(t, accounts, partyB, "100", "0")
}

// 两个接单方并发抢同一公开单，只有一个能赢
func TestConcurrentDoubleAccept(t *testing.T) {
	s, _ := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()
	provider1 := uuid.NewString()
	provider2 := uuid.NewString()

	escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, provider := range []string{provider1, provider2} {
		wg.Add(1)
		go func(i int, provider string) {
			defer wg.Done()
			_, results[i] = s.AcceptEscrow(ctx, escrow.ID, provider, "")
		}(i, provider)
	}
	wg.Wait()

	successCount := 0
	for _, err := range results {
		if err == nil {
			successCount++
		} else if !errors.Is(err, repository.ErrEscrowStatusInvalid) {
			t.Errorf("失败方应返回状态不合法, got %v", err)
		}
	}
	if successCount != 1 {
		t.Fatalf("并发接单成功次数 = %d, want 1", successCount)
	}

	final, err := s.GetEscrowByID(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("查询托管单失败: %v", err)
	}
	if final.Status != model.EscrowStatusPendingFunding || final.CounterpartyUserID == nil {
		t.Errorf("并发接单后应恰好绑定一个乙方, status=%s", final.Status)
	}
}

// 同一甲方并发注资两笔托管单，余额只够一笔时恰好成功一笔
func TestConcurrentDoubleFund(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()
	mustDeposit(t, accounts, partyA, "110") // 只够一笔 100+10

	var escrowIDs []string
	for i := 0; i < 2; i++ {
		escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
			RequestID:     uuid.NewString(),
			ServiceTypeID: st.ID,
			CreatorUserID: partyA,
			IsOpen:        true,
			Amount:        decimal.NewFromInt(100),
		})
		if err != nil {
			t.Fatalf("创建托管单失败: %v", err)
		}
		if _, err := s.AcceptEscrow(ctx, escrow.ID, partyB, ""); err != nil {
			t.Fatalf("接单失败: %v", err)
		}
		escrowIDs = append(escrowIDs, escrow.ID)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, escrowID := range escrowIDs {
		wg.Add(1)
		go func(i int, escrowID string) {
			defer wg.Done()
			_, results[i] = s.FundEscrow(ctx, escrowID, partyA)
		}(i, escrowID)
	}
	wg.Wait()

	successCount, insufficientCount := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successCount++
		case IsBalanceNotEnough(err):
			insufficientCount++
		default:
			t.Errorf("意外错误: %v", err)
		}
	}
	if successCount != 1 || insufficientCount != 1 {
		t.Fatalf("并发注资结果 success=%d insufficient=%d, want 1/1", successCount, insufficientCount)
	}

	// 无论哪笔赢，锁定总额恰好 110，绝不超锁
	assertBalance(t, accounts, partyA, "0", "110")
	assertLedgerConsistent(t, accounts, partyA)
}

// 双方同时确认：行锁串行化后先提交方记录确认，后提交方读到已推进的状态
// 走完成分支，释放恰好发生一次
func TestConcurrentConfirm(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()
	mustDeposit(t, accounts, partyA, "200")

	escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}
	if _, err := s.AcceptEscrow(ctx, escrow.ID, partyB, ""); err != nil {
		t.Fatalf("接单失败: %v", err)
	}
	if _, err := s.FundEscrow(ctx, escrow.ID, partyA); err != nil {
		t.Fatalf("注资失败: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, user := range []string{partyA, partyB} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, results[i] = s.ConfirmEscrow(ctx, escrow.ID, user)
		}(i, user)
	}
	wg.Wait()

	// 两次确认各属一方，串行化后都应成功
	for i, err := range results {
		if err != nil {
			t.Errorf("并发确认第 %d 方失败: %v", i+1, err)
		}
	}

	final, err := s.GetEscrowByID(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("查询托管单失败: %v", err)
	}
	if final.Status != model.EscrowStatusCompleted {
		t.Fatalf("并发确认后状态 = %s, want COMPLETED", final.Status)
	}
	if final.PartyAConfirmedAt == nil || final.PartyBConfirmedAt == nil {
		t.Error("双方确认时间都应被记录")
	}

	// 释放恰好一次：乙方到账恰好一笔净额，托管单下有且仅有一条入账流水
	assertBalance(t, accounts, partyA, "90", "0")
	assertBalance(t, accounts, partyB, "100", "0")
	assertLedgerConsistent(t, accounts, partyA)
	assertLedgerConsistent(t, accounts, partyB)

	entries, err := accounts.ledgerRepo.ListByReference(ctx, model.ReferenceTypeEscrow, escrow.ID)
	if err != nil {
		t.Fatalf("查询托管单流水失败: %v", err)
	}
	receiveCount := 0
	for _, entry := range entries {
		if entry.EntryType == model.EntryTypeEscrowReceive {
			receiveCount++
		}
	}
	if receiveCount != 1 {
		t.Errorf("释放入账流水条数 = %d, want 1", receiveCount)
	}
}

// 取消与确认并发竞争同一已注资托管单：行锁 + 带原状态条件的更新保证
// 要么退款要么释放，绝不会两者都发生
func TestConcurrentCancelConfirm(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	// 只需甲方确认的服务类型：一次确认即完成，与取消形成最短竞争窗口
	st := mustServiceType(t, s, "10", true, false, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()
	mustDeposit(t, accounts, partyA, "110")

	escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}
	if _, err := s.AcceptEscrow(ctx, escrow.ID, partyB, ""); err != nil {
		t.Fatalf("接单失败: %v", err)
	}
	if _, err := s.FundEscrow(ctx, escrow.ID, partyA); err != nil {
		t.Fatalf("注资失败: %v", err)
	}

	var wg sync.WaitGroup
	var confirmErr, cancelErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, confirmErr = s.ConfirmEscrow(ctx, escrow.ID, partyA)
	}()
	go func() {
		defer wg.Done()
		_, cancelErr = s.CancelEscrow(ctx, escrow.ID, partyB, "竞争取消")
	}()
	wg.Wait()

	// 恰好一方成功，失败方拿到状态不合法
	successCount := 0
	for _, err := range []error{confirmErr, cancelErr} {
		if err == nil {
			successCount++
		} else if !errors.Is(err, repository.ErrEscrowStatusInvalid) {
			t.Errorf("失败方应返回状态不合法, got %v", err)
		}
	}
	if successCount != 1 {
		t.Fatalf("取消/确认竞争成功次数 = %d, want 1", successCount)
	}

	final, err := s.GetEscrowByID(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("查询托管单失败: %v", err)
	}

	// 终态与资金结果必须一致：完成则释放，取消则退款，绝无混合
	switch final.Status {
	case model.EscrowStatusCompleted:
		assertBalance(t, accounts, partyA, "0", "0")
		assertBalance(t, accounts, partyB, "100", "0")
	case model.EscrowStatusCanceled:
		assertBalance(t, accounts, partyA, "110", "0")
		assertBalance(t, accounts, partyB, "0", "0")
	default:
		t.Fatalf("竞争后状态 = %s, want COMPLETED 或 CANCELED", final.Status)
	}
	assertLedgerConsistent(t, accounts, partyA)
	assertLedgerConsistent(t, accounts, partyB)

	// 同一托管单下退款流水与释放入账流水互斥
	entries, err := accounts.ledgerRepo.ListByReference(ctx, model.ReferenceTypeEscrow, escrow.ID)
	if err != nil {
		t.Fatalf("查询托管单流水失败: %v", err)
	}
	hasRefund, hasReceive := false, false
	for _, entry := range entries {
		switch entry.EntryType {
		case model.EntryTypeRefund:
			hasRefund = true
		case model.EntryTypeEscrowReceive:
			hasReceive = true
		}
	}
	if hasRefund && hasReceive {
		t.Error("同一托管单不允许同时出现退款与释放流水")
	}
}

func TestExpireEscrow(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, false)
	partyA := uuid.NewString()
	partyB := uuid.NewString()

	past := time.Now().Add(-time.Hour)
	expired, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
		ExpiresAt:     &past,
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}

	if err := s.ExpireEscrow(ctx, expired.ID); err != nil {
		t.Fatalf("过期处理失败: %v", err)
	}
	final, err := s.GetEscrowByID(ctx, expired.ID)
	if err != nil {
		t.Fatalf("查询托管单失败: %v", err)
	}
	if final.Status != model.EscrowStatusExpired {
		t.Errorf("过期后状态 = %s, want EXPIRED", final.Status)
	}

	// 已注资的单不在过期范围内，资金必须走确认或取消路径
	mustDeposit(t, accounts, partyA, "110")
	funded, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}
	if _, err := s.AcceptEscrow(ctx, funded.ID, partyB, ""); err != nil {
		t.Fatalf("接单失败: %v", err)
	}
	if _, err := s.FundEscrow(ctx, funded.ID, partyA); err != nil {
		t.Fatalf("注资失败: %v", err)
	}
	if err := s.ExpireEscrow(ctx, funded.ID); !errors.Is(err, repository.ErrEscrowStatusInvalid) {
		t.Errorf("已注资的单过期应返回状态不合法, got %v", err)
	}
}

func TestCheckAutoAccept(t *testing.T) {
	s, _ := setupIntegration(t)
	ctx := context.Background()

	st := mustServiceType(t, s, "10", true, true, true)
	partyA := uuid.NewString()
	provider := uuid.NewString()

	rule := &model.AutoAcceptRule{
		ID:             uuid.NewString(),
		ProviderUserID: provider,
		ServiceTypeID:  st.ID,
		MinAmount:      decimal.NewFromInt(50),
		MaxAmount:      decimal.NewFromInt(200),
		Enabled:        true,
	}
	if err := s.db.Create(rule).Error; err != nil {
		t.Fatalf("创建测试规则失败: %v", err)
	}

	escrow, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}

	accepted, err := s.CheckAutoAccept(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("自动接单检查失败: %v", err)
	}
	if !accepted {
		t.Fatal("命中规则的公开单应被自动接单")
	}
	final, err := s.GetEscrowByID(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("查询托管单失败: %v", err)
	}
	if final.Status != model.EscrowStatusPendingFunding {
		t.Errorf("自动接单后状态 = %s, want PENDING_FUNDING", final.Status)
	}
	if final.CounterpartyUserID == nil || *final.CounterpartyUserID != provider {
		t.Error("自动接单后应绑定规则所属接单方")
	}

	// 金额超出规则区间时不命中
	outOfRange, err := s.CreateEscrow(ctx, &CreateEscrowRequest{
		RequestID:     uuid.NewString(),
		ServiceTypeID: st.ID,
		CreatorUserID: partyA,
		IsOpen:        true,
		Amount:        decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("创建托管单失败: %v", err)
	}
	accepted, err = s.CheckAutoAccept(ctx, outOfRange.ID)
	if err != nil {
		t.Fatalf("自动接单检查失败: %v", err)
	}
	if accepted {
		t.Error("金额超出规则区间不应自动接单")
	}
}

// 对账能发现被绕过原语直接篡改的余额
func TestVerifyBalanceDetectsDrift(t *testing.T) {
	s, accounts := setupIntegration(t)
	ctx := context.Background()

	userID := uuid.NewString()
	account := mustDeposit(t, accounts, userID, "100")

	ok, err := accounts.VerifyBalance(ctx, account.ID)
	if err != nil {
		t.Fatalf("对账失败: %v", err)
	}
	if !ok {
		t.Fatal("正常账户对账应当一致")
	}

	if err := s.db.Model(&model.Account{}).Where("id = ?", account.ID).
		Update("available_balance", decimal.NewFromInt(999)).Error; err != nil {
		t.Fatalf("篡改余额失败: %v", err)
	}

	ok, err = accounts.VerifyBalance(ctx, account.ID)
	if err != nil {
		t.Fatalf("对账失败: %v", err)
	}
	if ok {
		t.Error("篡改后的余额对账应当不一致")
	}
}
