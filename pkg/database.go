package pkg

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SAP-F-2025/grading-service/internal/config"
	"github.com/SAP-F-2025/grading-service/internal/models"
)

// InitDatabase opens the PostgreSQL connection and migrates the grading
// schema.
func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	logLevel := logger.Warn
	if !cfg.IsProduction() {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Question{},
		&models.QuestionVersion{},
		&models.Attempt{},
		&models.AttemptItem{},
		&models.Response{},
		&models.PublicLink{},
		&models.RubricScore{},
		&models.AIGrading{},
		&models.RegradeDecision{},
		&models.Appeal{},
		&models.Assessment{},
		&models.StudentTermGrade{},
		&models.StudentProfile{},
		&models.LeaderboardSnapshot{},
		&models.AuditEvent{},
	)
}
