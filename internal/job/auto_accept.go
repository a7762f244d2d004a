package job

import (
	"context"
	"log"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/infrastructure/lock"
	"escrowsystem/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AutoAcceptJob 自动接单扫描任务
// 周期性地把公开待接单的托管单逐个交给引擎做规则匹配；
// 多实例部署时用 Redis 全局锁保证同一时刻只有一个实例在扫描
type AutoAcceptJob struct {
	redisClient   *redis.Client
	escrowService *service.EscrowService
	cfg           *config.Config
	instanceID    string
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
}

func NewAutoAcceptJob(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *AutoAcceptJob {
	return &AutoAcceptJob{
		redisClient:   rdb,
		escrowService: service.NewEscrowService(db, rdb, cfg),
		cfg:           cfg,
		instanceID:    uuid.NewString(),
		stopCh:        make(chan struct{}),
		interval:      10 * time.Second,
		batchSize:     50,
	}
}

func (j *AutoAcceptJob) Start(ctx context.Context) {
	log.Println("[AutoAcceptJob] 自动接单扫描任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[AutoAcceptJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[AutoAcceptJob] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *AutoAcceptJob) Stop() {
	close(j.stopCh)
}

func (j *AutoAcceptJob) sweep(ctx context.Context) {
	sweepLock := lock.NewAutoAcceptSweepLock(j.redisClient, j.instanceID)
	ok, err := sweepLock.TryLock(ctx)
	if err != nil {
		log.Printf("[AutoAcceptJob] 获取扫描锁失败: %v", err)
		return
	}
	if !ok {
		// 其他实例正在扫描
		return
	}
	defer sweepLock.Unlock(ctx)

	escrows, err := j.escrowService.ListOpenPendingAcceptance(ctx, j.batchSize)
	if err != nil {
		log.Printf("[AutoAcceptJob] 查询待接单托管单失败: %v", err)
		return
	}

	if len(escrows) == 0 {
		return
	}

	acceptedCount := 0
	for _, escrow := range escrows {
		accepted, err := j.escrowService.CheckAutoAccept(ctx, escrow.ID)
		if err != nil {
			log.Printf("[AutoAcceptJob] 自动接单检查失败: escrowNo=%s, err=%v", escrow.EscrowNo, err)
			continue
		}
		if accepted {
			acceptedCount++
		}
	}

	if acceptedCount > 0 {
		log.Printf("[AutoAcceptJob] 本次自动接单 %d 笔", acceptedCount)
	}
}
