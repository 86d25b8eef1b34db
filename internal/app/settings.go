package app

import (
	"context"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

type SettingsService struct {
	repo ports.SettingsRepository
}

func NewSettingsService(repo ports.SettingsRepository) *SettingsService {
	return &SettingsService{repo: repo}
}

func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	return s.repo.Get(ctx)
}

func (s *SettingsService) Put(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	// Validation légère : les champs absents retombent sur les défauts.
	def := domain.DefaultSettings()
	if settings.DownloadRoot == "" {
		settings.DownloadRoot = def.DownloadRoot
	}
	if settings.UserAgent == "" {
		settings.UserAgent = def.UserAgent
	}
	if settings.MaxWorkers <= 0 {
		settings.MaxWorkers = def.MaxWorkers
	}
	if settings.RetryLimit < 0 {
		settings.RetryLimit = def.RetryLimit
	}
	if settings.RetryBaseDelay <= 0 {
		settings.RetryBaseDelay = def.RetryBaseDelay
	}
	if settings.AccountRatePerSec <= 0 {
		settings.AccountRatePerSec = def.AccountRatePerSec
	}
	if settings.AccountBurst <= 0 {
		settings.AccountBurst = def.AccountBurst
	}
	if len(settings.AllowedMediaKinds) == 0 {
		settings.AllowedMediaKinds = def.AllowedMediaKinds
	}
	if len(settings.AllowedDRMKinds) == 0 {
		settings.AllowedDRMKinds = def.AllowedDRMKinds
	}
	if settings.MaxNameLength <= 0 {
		settings.MaxNameLength = def.MaxNameLength
	}
	return s.repo.Put(ctx, settings)
}
