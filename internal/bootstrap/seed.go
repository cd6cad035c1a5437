package bootstrap

import (
	"context"
	"errors"

	profileRepo "anoa.com/fellowship/internal/modules/profile/repository"
	"anoa.com/fellowship/pkg/apperror"
	"go.uber.org/zap"
)

// DevProfiles are created in development so a fresh store has named users.
var DevProfiles = map[string]string{
	"admin": "Administrator",
	"demo":  "Demo User",
}

// SeedProfiles creates each missing profile. Existing profiles are left as
// they are.
func SeedProfiles(ctx context.Context, repo profileRepo.ProfileRepository, profiles map[string]string, log *zap.Logger) error {
	for id, name := range profiles {
		_, err := repo.FindByID(ctx, id)
		if err == nil {
			log.Debug("profile already exists, skipping seed", zap.String("user_id", id))
			continue
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		if _, err := repo.Save(ctx, id, name); err != nil {
			return err
		}
		log.Info("profile seeded", zap.String("user_id", id))
	}
	return nil
}
