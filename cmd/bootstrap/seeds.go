package bootstrap

import (
	"github.com/google/uuid"
	"github.com/tripzi-app/calling/internal/models"
	"github.com/tripzi-app/calling/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SeedService writes development defaults into an empty database
type SeedService struct {
	db *gorm.DB
}

func (s *SeedService) SeedAll() error {
	return s.seedDemoUsers()
}

// seedDemoUsers creates two users with known credentials so the API can
// be exercised immediately in development. Skipped when users exist.
func (s *SeedService) seedDemoUsers() error {
	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	demo := []models.User{
		{
			UID:         "demo-alice",
			Email:       "alice@example.com",
			DisplayName: "Alice",
			APIKey:      "demo-alice-key",
			APISecret:   uuid.NewString(),
			Enabled:     true,
		},
		{
			UID:         "demo-bob",
			Email:       "bob@example.com",
			DisplayName: "Bob",
			APIKey:      "demo-bob-key",
			APISecret:   uuid.NewString(),
			Enabled:     true,
		},
	}
	for i := range demo {
		if err := models.CreateUser(s.db, &demo[i]); err != nil {
			return err
		}
		logger.Info("seeded demo user",
			zap.String("uid", demo[i].UID),
			zap.String("apiKey", demo[i].APIKey),
			zap.String("apiSecret", demo[i].APISecret))
	}
	return nil
}
