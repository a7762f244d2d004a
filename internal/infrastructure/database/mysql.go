package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/model"
	"escrowsystem/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("连接 MySQL 失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层 DB 失败: %v", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	err = db.AutoMigrate(
		&model.ServiceType{},
		&model.Escrow{},
		&model.EscrowEvent{},
		&model.Account{},
		&model.LedgerEntry{},
		&model.AutoAcceptRule{},
		&model.OutboxMessage{},
	)
	if err != nil {
		log.Fatalf("自动迁移表结构失败: %v", err)
	}

	DB = db
	log.Println("MySQL 连接成功")
	return db
}

// SeedServiceTypes 写入默认服务类型（按名称幂等，重复启动不会产生脏数据）
func SeedServiceTypes(db *gorm.DB) {
	repo := repository.NewServiceTypeRepository(db)
	ctx := context.Background()

	seeds := []*model.ServiceType{
		{
			ID:                    uuid.NewString(),
			Name:                  "standard_exchange",
			FeePercent:            decimal.NewFromInt(10),
			RequiresPartyAConfirm: true,
			RequiresPartyBConfirm: true,
			AutoAcceptable:        true,
			Active:                true,
		},
		{
			ID:                    uuid.NewString(),
			Name:                  "instant_delivery",
			FeePercent:            decimal.NewFromInt(5),
			RequiresPartyAConfirm: true,
			RequiresPartyBConfirm: false,
			AutoAcceptable:        false,
			Active:                true,
		},
	}

	for _, st := range seeds {
		if err := repo.Upsert(ctx, st); err != nil {
			log.Printf("服务类型种子写入失败: name=%s, err=%v", st.Name, err)
		}
	}
}
