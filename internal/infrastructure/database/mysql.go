package database

import (
	"fmt"
	"log"
	"time"

	"ledgerhub/internal/config"
	"ledgerhub/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitMySQL opens the metadata database and migrates the schema. Both account
// store backends share these tables; only fund movement differs between them.
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		// Needed so unique-index violations surface as gorm.ErrDuplicatedKey,
		// which the duplicate detection and idempotent inserts rely on.
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("failed to connect to MySQL: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get underlying DB: %v", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(
		&model.Participant{},
		&model.Account{},
		&model.Reservation{},
		&model.Posting{},
		&model.JournalEntry{},
		&model.Transfer{},
		&model.DuplicateCheck{},
		&model.FulfilDuplicateCheck{},
		&model.SettlementWindow{},
		&model.SettlementModel{},
		&model.Settlement{},
		&model.SettlementWindowRef{},
		&model.SettlementBalance{},
		&model.OutboxMessage{},
	)
	if err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	log.Println("MySQL connected")
	return db
}
