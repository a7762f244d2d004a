package job

import (
	"context"
	"log"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/service"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// EscrowExpiryJob 托管单过期扫描任务
// 把已过期且未注资的托管单置为 EXPIRED
// expires_at 本身只是建议性约束：核心流转不检查它，由本任务与读取侧过滤兜底
type EscrowExpiryJob struct {
	db            *gorm.DB
	escrowService *service.EscrowService
	cfg           *config.Config
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
}

func NewEscrowExpiryJob(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *EscrowExpiryJob {
	return &EscrowExpiryJob{
		db:            db,
		escrowService: service.NewEscrowService(db, rdb, cfg),
		cfg:           cfg,
		stopCh:        make(chan struct{}),
		interval:      30 * time.Second,
		batchSize:     100,
	}
}

func (j *EscrowExpiryJob) Start(ctx context.Context) {
	log.Println("[EscrowExpiryJob] 托管单过期扫描任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[EscrowExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[EscrowExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.expireEscrows(ctx)
		}
	}
}

func (j *EscrowExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *EscrowExpiryJob) expireEscrows(ctx context.Context) {
	escrows, err := j.escrowService.ListExpiredEscrows(ctx, j.batchSize)
	if err != nil {
		log.Printf("[EscrowExpiryJob] 查询过期托管单失败: %v", err)
		return
	}

	if len(escrows) == 0 {
		return
	}

	log.Printf("[EscrowExpiryJob] 发现 %d 个过期托管单", len(escrows))

	expiredCount := 0
	for _, escrow := range escrows {
		// 扫描到流转之间状态可能已被推进，ExpireEscrow 内部会重新校验
		if err := j.escrowService.ExpireEscrow(ctx, escrow.ID); err != nil {
			log.Printf("[EscrowExpiryJob] 过期处理失败: escrowNo=%s, err=%v", escrow.EscrowNo, err)
			continue
		}
		expiredCount++
		log.Printf("[EscrowExpiryJob] 托管单已过期关闭: escrowNo=%s, status=%s", escrow.EscrowNo, escrow.Status)
	}

	log.Printf("[EscrowExpiryJob] 本次关闭 %d 个过期托管单", expiredCount)
}
