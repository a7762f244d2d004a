package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/infrastructure/lock"
	"escrowsystem/internal/model"
	"escrowsystem/internal/repository"
	"escrowsystem/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 托管引擎 —— 生命周期状态机
// ============================================================================
//
// 状态流转：
//   CREATED -> PENDING_ACCEPTANCE -> PENDING_FUNDING -> FUNDED
//     -> {PARTY_A_CONFIRMED | PARTY_B_CONFIRMED} -> COMPLETED
//   侧向终态 CANCELED / EXPIRED
//
// 【关键点】所有变更操作的并发安全依赖两层保障：
// 1. 事务内先对托管单行加排他锁（FOR UPDATE），再锁账户行，固定顺序防死锁
// 2. 状态更新的 WHERE 条件带上原状态，竞争失败方影响行数为 0，前置校验报错
//
// 双方同时确认的平手规则：谁先拿到托管单行锁谁先提交，后提交的事务
// 读到已推进的状态，走完成分支；恰好一次释放，绝不会出现两次

type EscrowService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	escrowRepo      *repository.EscrowRepository
	eventRepo       *repository.EscrowEventRepository
	serviceTypeRepo *repository.ServiceTypeRepository
	ruleRepo        *repository.AutoAcceptRuleRepository
	outboxRepo      *repository.OutboxRepository
	accountService  *AccountService
}

func NewEscrowService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *EscrowService {
	return &EscrowService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		escrowRepo:      repository.NewEscrowRepository(db),
		eventRepo:       repository.NewEscrowEventRepository(db),
		serviceTypeRepo: repository.NewServiceTypeRepository(db),
		ruleRepo:        repository.NewAutoAcceptRuleRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		accountService:  NewAccountService(db),
	}
}

// ============================================================
// 创建
// ============================================================

type CreateEscrowRequest struct {
	RequestID          string          // 幂等ID
	ServiceTypeID      string          // 服务类型
	CreatorUserID      string          // 甲方用户
	CreatorOrgID       string          // 甲方组织（可为空）
	CounterpartyUserID string          // 定向单的乙方用户（公开单为空）
	CounterpartyOrgID  string          // 定向单的乙方组织
	IsOpen             bool            // 是否公开单
	Amount             decimal.Decimal // 托管金额
	Currency           string          // 币种（为空时取默认）
	Metadata           string          // 业务自定义数据（JSON）
	ExpiresAt          *time.Time      // 过期时间（为空时取默认时限）
}

// CreateEscrow 创建托管单
// 校验服务类型有效后按费率快照手续费，落库即进入 PENDING_ACCEPTANCE
func (s *EscrowService) CreateEscrow(ctx context.Context, req *CreateEscrowRequest) (*model.Escrow, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: 托管金额必须大于0", ErrInvalidParam)
	}
	if !req.IsOpen && req.CounterpartyUserID == "" {
		return nil, fmt.Errorf("%w: 定向单必须指定乙方", ErrInvalidParam)
	}
	if req.CounterpartyUserID == req.CreatorUserID && req.CounterpartyUserID != "" {
		return nil, ErrSelfDealing
	}

	// 幂等校验：相同 request_id 直接返回已有托管单
	existing, err := s.escrowRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询托管单失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	serviceType, err := s.serviceTypeRepo.GetByID(ctx, req.ServiceTypeID)
	if err != nil {
		if errors.Is(err, repository.ErrServiceTypeNotFound) {
			return nil, ErrInvalidServiceType
		}
		return nil, err
	}
	if !serviceType.Active {
		return nil, ErrInvalidServiceType
	}

	// 手续费按当前费率快照，之后费率调整不影响本单
	platformFee := serviceType.ComputeFee(req.Amount)

	currency := req.Currency
	if currency == "" {
		currency = s.cfg.Business.DefaultCurrency
	}

	expiresAt := time.Now().Add(time.Duration(s.cfg.Business.EscrowExpiryHours) * time.Hour)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	escrow := &model.Escrow{
		ID:            uuid.NewString(),
		EscrowNo:      idgen.GenerateEscrowNo(),
		RequestID:     req.RequestID,
		ServiceTypeID: serviceType.ID,
		CreatorOrgID:  req.CreatorOrgID,
		CreatorUserID: req.CreatorUserID,
		IsOpen:        req.IsOpen,
		Status:        model.EscrowStatusPendingAcceptance,
		Amount:        req.Amount,
		PlatformFee:   platformFee,
		Currency:      currency,
		Metadata:      req.Metadata,
		ExpiresAt:     expiresAt,
	}
	if req.CounterpartyUserID != "" {
		escrow.CounterpartyUserID = &req.CounterpartyUserID
	}
	if req.CounterpartyOrgID != "" {
		escrow.CounterpartyOrgID = &req.CounterpartyOrgID
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.escrowRepo.Create(ctx, tx, escrow); err != nil {
			return fmt.Errorf("创建托管单失败: %w", err)
		}

		if err := s.appendEvent(ctx, tx, escrow.ID, model.EventTypeCreated, req.CreatorUserID, map[string]interface{}{
			"amount":       escrow.Amount,
			"platform_fee": escrow.PlatformFee,
			"is_open":      escrow.IsOpen,
		}); err != nil {
			return err
		}

		return s.writeOutbox(ctx, tx, escrow, model.EventTypeCreated)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("托管单创建成功: escrowNo=%s, creator=%s, amount=%s, fee=%s",
		escrow.EscrowNo, escrow.CreatorUserID, escrow.Amount, escrow.PlatformFee)

	return escrow, nil
}

// ============================================================
// 接单
// ============================================================

// AcceptEscrow 乙方接单：PENDING_ACCEPTANCE -> PENDING_FUNDING
//
// 【关键点】两笔并发接单只有一个能赢：行锁串行化后，
// 后到的一方读到状态已不是 PENDING_ACCEPTANCE，返回状态不合法
func (s *EscrowService) AcceptEscrow(ctx context.Context, escrowID, partyBUserID, partyBOrgID string) (*model.Escrow, error) {
	var escrow *model.Escrow

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		escrow, err = s.escrowRepo.GetByIDForUpdate(ctx, tx, escrowID)
		if err != nil {
			return err
		}

		if escrow.Status != model.EscrowStatusPendingAcceptance {
			return repository.ErrEscrowStatusInvalid
		}
		if partyBUserID == escrow.CreatorUserID {
			return ErrSelfDealing
		}
		// 定向单只能由指定乙方接
		if !escrow.IsOpen && escrow.CounterpartyUserID != nil && *escrow.CounterpartyUserID != partyBUserID {
			return ErrUnauthorized
		}

		extra := map[string]interface{}{
			"counterparty_user_id": partyBUserID,
		}
		if partyBOrgID != "" {
			extra["counterparty_org_id"] = partyBOrgID
		}
		if err := s.escrowRepo.UpdateStatus(ctx, tx, escrowID, escrow.Status, model.EscrowStatusPendingFunding, extra); err != nil {
			return err
		}

		if err := s.appendEvent(ctx, tx, escrowID, model.EventTypeAccepted, partyBUserID, map[string]interface{}{
			"counterparty_user_id": partyBUserID,
		}); err != nil {
			return err
		}

		escrow.Status = model.EscrowStatusPendingFunding
		escrow.CounterpartyUserID = &partyBUserID
		if partyBOrgID != "" {
			escrow.CounterpartyOrgID = &partyBOrgID
		}

		return s.writeOutbox(ctx, tx, escrow, model.EventTypeAccepted)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("托管单已接单: escrowNo=%s, partyB=%s", escrow.EscrowNo, partyBUserID)
	return escrow, nil
}

// ============================================================
// 注资
// ============================================================

// FundEscrow 甲方注资：PENDING_FUNDING -> FUNDED
// 锁定总额 = 托管金额 + 平台手续费，从甲方可用余额转入履约中
//
// 【关键点】按付款账户加 Redis 分布式锁，同一账户的注资请求入口处串行；
// 资金正确性最终由事务内的账户行锁保证，两笔并发注资只够一笔时，
// 后到的一方在排他锁内读到扣减后的余额，返回余额不足
func (s *EscrowService) FundEscrow(ctx context.Context, escrowID, partyAUserID string) (*model.Escrow, error) {
	pre, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !pre.IsPartyA(partyAUserID) {
		return nil, ErrUnauthorized
	}

	ownerType, ownerID := partyAOwner(pre)
	account, err := s.accountService.GetAccount(ctx, ownerType, ownerID, pre.Currency)
	if err != nil {
		return nil, fmt.Errorf("获取甲方账户失败: %w", err)
	}

	fundLock := lock.NewFundLock(s.redisClient, account.ID, escrowID)
	if err := fundLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer fundLock.Unlock(ctx)

	var escrow *model.Escrow

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		escrow, err = s.escrowRepo.GetByIDForUpdate(ctx, tx, escrowID)
		if err != nil {
			return err
		}

		if escrow.Status != model.EscrowStatusPendingFunding {
			return repository.ErrEscrowStatusInvalid
		}
		if !escrow.IsPartyA(partyAUserID) {
			return ErrUnauthorized
		}

		total := escrow.TotalAmount()
		if err := s.accountService.LockForEscrow(ctx, tx, account.ID, total, escrow.ID); err != nil {
			return err
		}

		now := time.Now()
		extra := map[string]interface{}{
			"funded_at": &now,
		}
		if err := s.escrowRepo.UpdateStatus(ctx, tx, escrowID, escrow.Status, model.EscrowStatusFunded, extra); err != nil {
			return err
		}

		if err := s.appendEvent(ctx, tx, escrowID, model.EventTypeFunded, partyAUserID, map[string]interface{}{
			"account_id":   account.ID,
			"total_locked": total,
		}); err != nil {
			return err
		}

		escrow.Status = model.EscrowStatusFunded
		escrow.FundedAt = &now

		return s.writeOutbox(ctx, tx, escrow, model.EventTypeFunded)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("托管单注资成功: escrowNo=%s, total=%s", escrow.EscrowNo, escrow.TotalAmount())
	return escrow, nil
}

// ============================================================
// 确认与完成
// ============================================================

// ConfirmEscrow 参与方确认履约
// 一方确认后进入 PARTY_X_CONFIRMED；另一方确认（或按服务类型无需确认）时
// 走完成分支：释放资金给乙方、扣手续费、落 COMPLETED
func (s *EscrowService) ConfirmEscrow(ctx context.Context, escrowID, userID string) (*model.Escrow, error) {
	var escrow *model.Escrow

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		escrow, err = s.escrowRepo.GetByIDForUpdate(ctx, tx, escrowID)
		if err != nil {
			return err
		}

		if !model.CanConfirm(escrow.Status) {
			return repository.ErrEscrowStatusInvalid
		}
		if !escrow.IsParty(userID) {
			return ErrNotAParty
		}

		isPartyA := escrow.IsPartyA(userID)
		if isPartyA && escrow.PartyAConfirmedAt != nil {
			return ErrAlreadyConfirmed
		}
		if !isPartyA && escrow.PartyBConfirmedAt != nil {
			return ErrAlreadyConfirmed
		}

		serviceType, err := s.serviceTypeRepo.GetByID(ctx, escrow.ServiceTypeID)
		if err != nil {
			return err
		}

		now := time.Now()
		var eventType, confirmedColumn, nextStatus string
		var otherDone bool
		if isPartyA {
			eventType = model.EventTypePartyAConfirmed
			confirmedColumn = "party_a_confirmed_at"
			nextStatus = model.EscrowStatusPartyAConfirmed
			otherDone = escrow.PartyBConfirmedAt != nil || !serviceType.RequiresPartyBConfirm
			escrow.PartyAConfirmedAt = &now
		} else {
			eventType = model.EventTypePartyBConfirmed
			confirmedColumn = "party_b_confirmed_at"
			nextStatus = model.EscrowStatusPartyBConfirmed
			otherDone = escrow.PartyAConfirmedAt != nil || !serviceType.RequiresPartyAConfirm
			escrow.PartyBConfirmedAt = &now
		}

		if err := s.appendEvent(ctx, tx, escrowID, eventType, userID, nil); err != nil {
			return err
		}

		if !otherDone {
			extra := map[string]interface{}{confirmedColumn: &now}
			if err := s.escrowRepo.UpdateStatus(ctx, tx, escrowID, escrow.Status, nextStatus, extra); err != nil {
				return err
			}
			escrow.Status = nextStatus
			return nil
		}

		// 完成分支：对方已确认（或无需确认），本次确认触发释放
		extra := map[string]interface{}{
			confirmedColumn: &now,
			"completed_at":  &now,
		}
		if err := s.escrowRepo.UpdateStatus(ctx, tx, escrowID, escrow.Status, model.EscrowStatusCompleted, extra); err != nil {
			return err
		}
		escrow.Status = model.EscrowStatusCompleted
		escrow.CompletedAt = &now

		if err := s.completeEscrow(ctx, tx, escrow, userID); err != nil {
			return err
		}

		return s.writeOutbox(ctx, tx, escrow, model.EventTypeCompleted)
	})

	if err != nil {
		return nil, err
	}

	if escrow.Status == model.EscrowStatusCompleted {
		log.Printf("托管单已完成: escrowNo=%s", escrow.EscrowNo)
	} else {
		log.Printf("托管单确认记录: escrowNo=%s, user=%s, status=%s", escrow.EscrowNo, userID, escrow.Status)
	}
	return escrow, nil
}

// completeEscrow 完成托管：释放锁定资金给乙方并抽取手续费
// 仅由 ConfirmEscrow 的完成分支在事务内调用
func (s *EscrowService) completeEscrow(ctx context.Context, tx *gorm.DB, escrow *model.Escrow, actorID string) error {
	fromOwnerType, fromOwnerID := partyAOwner(escrow)
	fromAccount, err := s.accountService.GetAccount(ctx, fromOwnerType, fromOwnerID, escrow.Currency)
	if err != nil {
		return fmt.Errorf("获取甲方账户失败: %w", err)
	}

	toOwnerType, toOwnerID := partyBOwner(escrow)
	toAccount, err := s.accountService.GetAccount(ctx, toOwnerType, toOwnerID, escrow.Currency)
	if err != nil {
		return fmt.Errorf("获取乙方账户失败: %w", err)
	}

	grossAmount := escrow.TotalAmount()
	if err := s.accountService.ReleaseEscrow(ctx, tx, fromAccount.ID, toAccount.ID, grossAmount, escrow.PlatformFee, escrow.ID); err != nil {
		return err
	}

	return s.appendEvent(ctx, tx, escrow.ID, model.EventTypeCompleted, actorID, map[string]interface{}{
		"gross_amount": grossAmount,
		"platform_fee": escrow.PlatformFee,
		"net_amount":   grossAmount.Sub(escrow.PlatformFee),
	})
}

// ============================================================
// 取消
// ============================================================

// CancelEscrow 参与方取消托管单
// 已注资的单先全额退款（含手续费）回甲方可用余额，再落 CANCELED
func (s *EscrowService) CancelEscrow(ctx context.Context, escrowID, userID, reason string) (*model.Escrow, error) {
	var escrow *model.Escrow

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		escrow, err = s.escrowRepo.GetByIDForUpdate(ctx, tx, escrowID)
		if err != nil {
			return err
		}

		if !escrow.IsParty(userID) {
			return ErrNotAParty
		}
		if !model.CanCancel(escrow.Status) {
			return repository.ErrEscrowStatusInvalid
		}

		// 已注资：先退款再取消，取消与释放绝不会同时发生
		// （确认完成的并发方要么先提交让本次状态校验失败，要么后提交自己失败）
		if escrow.Status == model.EscrowStatusFunded {
			ownerType, ownerID := partyAOwner(escrow)
			account, err := s.accountService.GetAccount(ctx, ownerType, ownerID, escrow.Currency)
			if err != nil {
				return fmt.Errorf("获取甲方账户失败: %w", err)
			}
			if err := s.accountService.RefundEscrow(ctx, tx, account.ID, escrow.TotalAmount(), escrow.ID); err != nil {
				return err
			}
		}

		now := time.Now()
		extra := map[string]interface{}{
			"canceled_at": &now,
		}
		if err := s.escrowRepo.UpdateStatus(ctx, tx, escrowID, escrow.Status, model.EscrowStatusCanceled, extra); err != nil {
			return err
		}

		if err := s.appendEvent(ctx, tx, escrowID, model.EventTypeCanceled, userID, map[string]interface{}{
			"reason":      reason,
			"from_status": escrow.Status,
		}); err != nil {
			return err
		}

		escrow.Status = model.EscrowStatusCanceled
		escrow.CanceledAt = &now

		return s.writeOutbox(ctx, tx, escrow, model.EventTypeCanceled)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("托管单已取消: escrowNo=%s, user=%s, reason=%s", escrow.EscrowNo, userID, reason)
	return escrow, nil
}

// ============================================================
// 自动接单
// ============================================================

// CheckAutoAccept 检查并执行自动接单
// 公开待接单 + 服务类型允许自动接单时，按规则创建时间先后匹配，
// 命中第一条规则即代该接单方接单；无命中则不做任何事（幂等）
func (s *EscrowService) CheckAutoAccept(ctx context.Context, escrowID string) (bool, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return false, err
	}
	if escrow.Status != model.EscrowStatusPendingAcceptance || !escrow.IsOpen {
		return false, nil
	}

	serviceType, err := s.serviceTypeRepo.GetByID(ctx, escrow.ServiceTypeID)
	if err != nil {
		return false, err
	}
	if !serviceType.AutoAcceptable {
		return false, nil
	}

	rules, err := s.ruleRepo.ListEnabledByServiceType(ctx, escrow.ServiceTypeID)
	if err != nil {
		return false, err
	}

	for _, rule := range rules {
		if !rule.Matches(escrow) {
			continue
		}

		_, err := s.AcceptEscrow(ctx, escrowID, rule.ProviderUserID, rule.ProviderOrgID)
		if err != nil {
			// 竞态下被人工抢先接单：状态已推进，视为无事可做
			if errors.Is(err, repository.ErrEscrowStatusInvalid) {
				return false, nil
			}
			return false, err
		}

		log.Printf("自动接单成功: escrowNo=%s, provider=%s, rule=%s", escrow.EscrowNo, rule.ProviderUserID, rule.ID)
		return true, nil
	}

	return false, nil
}

// ============================================================
// 过期处理（由扫描任务调用）
// ============================================================

// ExpireEscrow 将已过期且未注资的托管单置为 EXPIRED
// 扫描与流转之间存在窗口，事务内重新校验状态与过期时间
func (s *EscrowService) ExpireEscrow(ctx context.Context, escrowID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		escrow, err := s.escrowRepo.GetByIDForUpdate(ctx, tx, escrowID)
		if err != nil {
			return err
		}

		switch escrow.Status {
		case model.EscrowStatusCreated, model.EscrowStatusPendingAcceptance, model.EscrowStatusPendingFunding:
		default:
			return repository.ErrEscrowStatusInvalid
		}
		if escrow.ExpiresAt.After(time.Now()) {
			return repository.ErrEscrowStatusInvalid
		}

		if err := s.escrowRepo.UpdateStatus(ctx, tx, escrowID, escrow.Status, model.EscrowStatusExpired, nil); err != nil {
			return err
		}

		if err := s.appendEvent(ctx, tx, escrowID, model.EventTypeExpired, model.ActorSystem, map[string]interface{}{
			"expires_at": escrow.ExpiresAt,
		}); err != nil {
			return err
		}

		escrow.Status = model.EscrowStatusExpired
		return s.writeOutbox(ctx, tx, escrow, model.EventTypeExpired)
	})
}

// ============================================================
// 查询
// ============================================================

func (s *EscrowService) GetEscrowByID(ctx context.Context, escrowID string) (*model.Escrow, error) {
	return s.escrowRepo.GetByID(ctx, escrowID)
}

func (s *EscrowService) ListEscrowsForUser(ctx context.Context, userID, status string, page, pageSize int) ([]*model.Escrow, int64, error) {
	return s.escrowRepo.ListByUser(ctx, userID, status, page, pageSize)
}

func (s *EscrowService) ListPendingForProvider(ctx context.Context, providerUserID, serviceTypeID string, limit int) ([]*model.Escrow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.escrowRepo.ListPendingForProvider(ctx, providerUserID, serviceTypeID, limit)
}

func (s *EscrowService) GetEscrowEvents(ctx context.Context, escrowID string) ([]*model.EscrowEvent, error) {
	if _, err := s.escrowRepo.GetByID(ctx, escrowID); err != nil {
		return nil, err
	}
	return s.eventRepo.ListByEscrowID(ctx, escrowID)
}

func (s *EscrowService) ListExpiredEscrows(ctx context.Context, limit int) ([]*model.Escrow, error) {
	return s.escrowRepo.ListExpired(ctx, limit)
}

func (s *EscrowService) ListOpenPendingAcceptance(ctx context.Context, limit int) ([]*model.Escrow, error) {
	return s.escrowRepo.ListOpenPendingAcceptance(ctx, limit)
}

// ============================================================
// 内部工具
// ============================================================

// partyAOwner 解析甲方资金账户所有者：组织单用组织账户，否则用个人账户
func partyAOwner(e *model.Escrow) (ownerType, ownerID string) {
	if e.CreatorOrgID != "" {
		return model.OwnerTypeOrg, e.CreatorOrgID
	}
	return model.OwnerTypeUser, e.CreatorUserID
}

// partyBOwner 解析乙方资金账户所有者
func partyBOwner(e *model.Escrow) (ownerType, ownerID string) {
	if e.CounterpartyOrgID != nil && *e.CounterpartyOrgID != "" {
		return model.OwnerTypeOrg, *e.CounterpartyOrgID
	}
	return model.OwnerTypeUser, *e.CounterpartyUserID
}

// appendEvent 追加托管事件（与状态流转同事务）
func (s *EscrowService) appendEvent(ctx context.Context, tx *gorm.DB, escrowID, eventType, actorID string, detail map[string]interface{}) error {
	detailJSON := ""
	if detail != nil {
		b, _ := json.Marshal(detail)
		detailJSON = string(b)
	}

	event := &model.EscrowEvent{
		ID:        uuid.NewString(),
		EscrowID:  escrowID,
		EventType: eventType,
		ActorID:   actorID,
		Detail:    detailJSON,
	}
	if err := s.eventRepo.Create(ctx, tx, event); err != nil {
		return fmt.Errorf("记录托管事件失败: %w", err)
	}
	return nil
}

// writeOutbox 写事务性发件箱，由 OutboxSender 异步投递到 Kafka
func (s *EscrowService) writeOutbox(ctx context.Context, tx *gorm.DB, escrow *model.Escrow, eventType string) error {
	payload := map[string]interface{}{
		"escrow_id":    escrow.ID,
		"escrow_no":    escrow.EscrowNo,
		"event_type":   eventType,
		"status":       escrow.Status,
		"amount":       escrow.Amount,
		"platform_fee": escrow.PlatformFee,
		"currency":     escrow.Currency,
		"occurred_at":  time.Now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: escrow.EscrowNo,
		Topic:      s.cfg.Kafka.Topic.EscrowEvents,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入发件箱失败: %w", err)
	}
	return nil
}
