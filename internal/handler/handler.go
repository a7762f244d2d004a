package handler

import (
	"errors"
	"strconv"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/repository"
	"escrowsystem/internal/service"
	"escrowsystem/pkg/idgen"
	"escrowsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService *service.AccountService
	escrowService  *service.EscrowService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		accountService: service.NewAccountService(db),
		escrowService:  service.NewEscrowService(db, rdb, cfg),
	}
}

// writeError 按错误种类映射业务响应码
//
// 【关键点】核心的每种失败都必须映射到具体错误码，
// 不允许笼统地返回"服务器内部错误"，否则调用方无法选择正确的提示与重试策略
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrEscrowNotFound):
		response.BusinessError(c, response.CodeEscrowNotFound, err.Error())
	case errors.Is(err, repository.ErrEscrowStatusInvalid):
		response.BusinessError(c, response.CodeInvalidState, err.Error())
	case errors.Is(err, repository.ErrBalanceNotEnough):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrServiceTypeNotFound), errors.Is(err, service.ErrInvalidServiceType):
		response.BusinessError(c, response.CodeInvalidServiceType, err.Error())
	case errors.Is(err, repository.ErrDuplicateRequest):
		response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
	case errors.Is(err, service.ErrNotAParty):
		response.BusinessError(c, response.CodeNotAParty, err.Error())
	case errors.Is(err, service.ErrSelfDealing):
		response.BusinessError(c, response.CodeSelfDealing, err.Error())
	case errors.Is(err, service.ErrAlreadyConfirmed):
		response.BusinessError(c, response.CodeAlreadyConfirmed, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		response.BusinessError(c, response.CodeUnauthorized, err.Error())
	case errors.Is(err, service.ErrInvalidParam):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询账户余额
// GET /api/v1/account/balance?owner_type=USER&owner_id=xxx&currency=USD
func (h *Handler) GetBalance(c *gin.Context) {
	ownerType := c.DefaultQuery("owner_type", "USER")
	ownerID := c.Query("owner_id")
	currency := c.DefaultQuery("currency", config.GlobalConfig.Business.DefaultCurrency)
	if ownerID == "" {
		response.ParamError(c, "owner_id 参数不能为空")
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), ownerType, ownerID, currency)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"account_id":          account.ID,
		"owner_type":          account.OwnerType,
		"owner_id":            account.OwnerID,
		"currency":            account.Currency,
		"available_balance":   account.AvailableBalance,
		"in_contract_balance": account.InContractBalance,
		"total_balance":       account.TotalBalance(),
	})
}

// DepositRequest 充值请求
type DepositRequest struct {
	OwnerType string          `json:"owner_type" binding:"required,oneof=USER ORG"`
	OwnerID   string          `json:"owner_id" binding:"required"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}

// Deposit 充值接口（简化版，实际应该走支付渠道）
// POST /api/v1/account/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = config.GlobalConfig.Business.DefaultCurrency
	}

	account, err := h.accountService.Deposit(c.Request.Context(), req.OwnerType, req.OwnerID, currency, req.Amount, idgen.GenerateDepositNo())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"account_id":        account.ID,
		"available_balance": account.AvailableBalance,
	})
}

// ListLedger 查询账户流水
// GET /api/v1/account/ledger?account_id=xxx&limit=20&offset=0
func (h *Handler) ListLedger(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		response.ParamError(c, "account_id 参数不能为空")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, total, err := h.accountService.ListLedgerEntries(c.Request.Context(), accountID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":   entries,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ============================================================
// 托管单相关接口
// ============================================================

// CreateEscrowRequest 创建托管单请求
type CreateEscrowRequest struct {
	RequestID          string          `json:"request_id" binding:"required"` // 幂等ID
	ServiceTypeID      string          `json:"service_type_id" binding:"required"`
	CreatorUserID      string          `json:"creator_user_id" binding:"required"`
	CreatorOrgID       string          `json:"creator_org_id"`
	CounterpartyUserID string          `json:"counterparty_user_id"` // 定向单指定乙方
	CounterpartyOrgID  string          `json:"counterparty_org_id"`
	IsOpen             bool            `json:"is_open"`
	Amount             decimal.Decimal `json:"amount" binding:"required"`
	Currency           string          `json:"currency"`
	Metadata           string          `json:"metadata"`
	ExpiresAt          *time.Time      `json:"expires_at"`
}

// CreateEscrow 创建托管单
// POST /api/v1/escrow/create
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowService.CreateEscrow(c.Request.Context(), &service.CreateEscrowRequest{
		RequestID:          req.RequestID,
		ServiceTypeID:      req.ServiceTypeID,
		CreatorUserID:      req.CreatorUserID,
		CreatorOrgID:       req.CreatorOrgID,
		CounterpartyUserID: req.CounterpartyUserID,
		CounterpartyOrgID:  req.CounterpartyOrgID,
		IsOpen:             req.IsOpen,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Metadata:           req.Metadata,
		ExpiresAt:          req.ExpiresAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, escrow)
}

// AcceptEscrowRequest 接单请求
type AcceptEscrowRequest struct {
	EscrowID string `json:"escrow_id" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
	OrgID    string `json:"org_id"`
}

// AcceptEscrow 乙方接单
// POST /api/v1/escrow/accept
func (h *Handler) AcceptEscrow(c *gin.Context) {
	var req AcceptEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowService.AcceptEscrow(c.Request.Context(), req.EscrowID, req.UserID, req.OrgID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, escrow)
}

// FundEscrowRequest 注资请求
type FundEscrowRequest struct {
	EscrowID string `json:"escrow_id" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
}

// FundEscrow 甲方注资
// POST /api/v1/escrow/fund
//
// 【关键点】注资是整个系统最核心的操作，需要保证：
// 1. 原子性：余额锁定、状态流转、流水与事件必须同时成功或同时失败
// 2. 并发安全：余额只够一笔时，并发注资只有一笔能成功
func (h *Handler) FundEscrow(c *gin.Context) {
	var req FundEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowService.FundEscrow(c.Request.Context(), req.EscrowID, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, escrow)
}

// ConfirmEscrowRequest 确认请求
type ConfirmEscrowRequest struct {
	EscrowID string `json:"escrow_id" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
}

// ConfirmEscrow 参与方确认履约
// POST /api/v1/escrow/confirm
func (h *Handler) ConfirmEscrow(c *gin.Context) {
	var req ConfirmEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowService.ConfirmEscrow(c.Request.Context(), req.EscrowID, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, escrow)
}

// CancelEscrowRequest 取消请求
type CancelEscrowRequest struct {
	EscrowID string `json:"escrow_id" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
	Reason   string `json:"reason"`
}

// CancelEscrow 取消托管单
// POST /api/v1/escrow/cancel
func (h *Handler) CancelEscrow(c *gin.Context) {
	var req CancelEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowService.CancelEscrow(c.Request.Context(), req.EscrowID, req.UserID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, escrow)
}

// GetEscrow 查询托管单详情
// GET /api/v1/escrow/detail?escrow_id=xxx
func (h *Handler) GetEscrow(c *gin.Context) {
	escrowID := c.Query("escrow_id")
	if escrowID == "" {
		response.ParamError(c, "escrow_id 参数不能为空")
		return
	}

	escrow, err := h.escrowService.GetEscrowByID(c.Request.Context(), escrowID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, escrow)
}

// ListEscrows 查询用户相关托管单列表
// GET /api/v1/escrow/list?user_id=xxx&status=FUNDED&page=1&page_size=10
func (h *Handler) ListEscrows(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}

	status := c.Query("status")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	escrows, total, err := h.escrowService.ListEscrowsForUser(c.Request.Context(), userID, status, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      escrows,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListPendingEscrows 查询接单方可接的公开托管单
// GET /api/v1/escrow/pending?provider_user_id=xxx&service_type_id=yyy&limit=20
func (h *Handler) ListPendingEscrows(c *gin.Context) {
	providerUserID := c.Query("provider_user_id")
	if providerUserID == "" {
		response.ParamError(c, "provider_user_id 参数不能为空")
		return
	}

	serviceTypeID := c.Query("service_type_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	escrows, err := h.escrowService.ListPendingForProvider(c.Request.Context(), providerUserID, serviceTypeID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"list": escrows})
}

// ListEscrowEvents 查询托管单事件时间线
// GET /api/v1/escrow/events?escrow_id=xxx
func (h *Handler) ListEscrowEvents(c *gin.Context) {
	escrowID := c.Query("escrow_id")
	if escrowID == "" {
		response.ParamError(c, "escrow_id 参数不能为空")
		return
	}

	events, err := h.escrowService.GetEscrowEvents(c.Request.Context(), escrowID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"list": events})
}

// ============================================================
// 自动接单规则接口
// ============================================================

// CreateRuleRequest 创建自动接单规则请求
type CreateRuleRequest struct {
	ProviderUserID string          `json:"provider_user_id" binding:"required"`
	ProviderOrgID  string          `json:"provider_org_id"`
	ServiceTypeID  string          `json:"service_type_id" binding:"required"`
	MinAmount      decimal.Decimal `json:"min_amount"`
	MaxAmount      decimal.Decimal `json:"max_amount" binding:"required"`
}

// CreateAutoAcceptRule 创建自动接单规则
// POST /api/v1/autoaccept/rule/create
func (h *Handler) CreateAutoAcceptRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	rule, err := h.escrowService.CreateAutoAcceptRule(c.Request.Context(), &service.CreateRuleRequest{
		ProviderUserID: req.ProviderUserID,
		ProviderOrgID:  req.ProviderOrgID,
		ServiceTypeID:  req.ServiceTypeID,
		MinAmount:      req.MinAmount,
		MaxAmount:      req.MaxAmount,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, rule)
}

// ListAutoAcceptRules 查询接单方配置的规则
// GET /api/v1/autoaccept/rule/list?provider_user_id=xxx
func (h *Handler) ListAutoAcceptRules(c *gin.Context) {
	providerUserID := c.Query("provider_user_id")
	if providerUserID == "" {
		response.ParamError(c, "provider_user_id 参数不能为空")
		return
	}

	rules, err := h.escrowService.ListAutoAcceptRules(c.Request.Context(), providerUserID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"list": rules})
}
