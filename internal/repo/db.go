package repo

import (
	"fmt"

	"woodland-client/internal/config"
	"woodland-client/internal/model"
	"woodland-client/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB opens the journal database and migrates its schema. It returns nil
// when the journal is disabled.
func OpenDB(conf config.JournalConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch conf.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		dialector = sqlite.Open(conf.DSN)
	case "postgres":
		dialector = postgres.Open(conf.DSN)
	case "mysql":
		dialector = mysql.Open(conf.DSN)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", conf.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}
	if err := db.AutoMigrate(&model.JournalEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	logger.Log.Info("journal database ready", zap.String("driver", conf.Driver))
	return db, nil
}
