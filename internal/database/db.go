package database

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Connect opens the postgres pool and stores it in DB.
func Connect(dsn string, logLevel logger.LogLevel) error {
	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Msg("Database connection established")
	return nil
}

// Models lists every table owned by the service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&AlertSettings{},
		&Station{},
		&Property{},
		&Camera{},
		&Responder{},
		&Alert{},
		&CameraLock{},
		&DispatchRecord{},
	}
}

// AutoMigrate brings every table in Models up to date.
func AutoMigrate(db *gorm.DB) error {
	models := Models()
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Int("tables", len(models)).Msg("Database schema migrated")
	return nil
}

// InitializeDefaults seeds the alert settings row and logs the effective values.
func InitializeDefaults(db *gorm.DB) error {
	settings, err := GetOrCreateAlertSettings(db)
	if err != nil {
		return fmt.Errorf("failed to create default alert settings: %w", err)
	}
	log.Info().
		Int("verification_delay_seconds", settings.VerificationDelaySeconds).
		Int("cooldown_minutes", settings.CooldownMinutes).
		Str("failure_policy", string(settings.FailurePolicy)).
		Msg("Alert settings loaded")
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// GetOrCreateAlertSettings loads the settings row, inserting the defaults
// the first time the service starts against an empty database.
func GetOrCreateAlertSettings(db *gorm.DB) (*AlertSettings, error) {
	var settings AlertSettings
	err := db.First(&settings).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		settings = *NewDefaultAlertSettings()
		if err := db.Create(&settings).Error; err != nil {
			return nil, fmt.Errorf("insert default alert settings: %w", err)
		}
	case err != nil:
		return nil, err
	}
	return &settings, nil
}

// UpdateAlertSettings persists every field of settings.
func UpdateAlertSettings(db *gorm.DB, settings *AlertSettings) error {
	return db.Save(settings).Error
}
