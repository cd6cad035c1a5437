package profile

import (
	"context"
	"errors"
	"strings"

	"anoa.com/fellowship/internal/entity"
	profileDto "anoa.com/fellowship/internal/modules/profile/dto"
	profileRepo "anoa.com/fellowship/internal/modules/profile/repository"
	"anoa.com/fellowship/pkg/apperror"
	"github.com/microcosm-cc/bluemonday"
)

type ProfileService interface {
	GetCurrentProfile(ctx context.Context, userID string) (*entity.Profile, error)
	UpdateProfile(ctx context.Context, userID string, input profileDto.UpdateProfileInput) (*entity.Profile, error)
	// DisplayName resolves a user's display name, or "" when the user has no
	// profile yet.
	DisplayName(ctx context.Context, userID string) (string, error)
}

type profileService struct {
	repo      profileRepo.ProfileRepository
	sanitizer *bluemonday.Policy
}

func NewProfileService(repo profileRepo.ProfileRepository) ProfileService {
	return &profileService{
		repo:      repo,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (s *profileService) GetCurrentProfile(ctx context.Context, userID string) (*entity.Profile, error) {
	p, err := s.repo.FindByID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return &entity.Profile{ID: userID}, nil
	}
	return p, err
}

func (s *profileService) UpdateProfile(ctx context.Context, userID string, input profileDto.UpdateProfileInput) (*entity.Profile, error) {
	name := strings.TrimSpace(s.sanitizer.Sanitize(input.DisplayName))
	if name == "" {
		return nil, apperror.Invalid("display name must not be empty")
	}
	return s.repo.Save(ctx, userID, name)
}

func (s *profileService) DisplayName(ctx context.Context, userID string) (string, error) {
	p, err := s.repo.FindByID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.DisplayName, nil
}
