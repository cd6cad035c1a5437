package repository

import (
	"context"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
)

type profileRecord struct {
	DisplayName string `json:"displayName"`
}

type ProfileRepository interface {
	FindByID(ctx context.Context, userID string) (*entity.Profile, error)
	Save(ctx context.Context, userID, displayName string) (*entity.Profile, error)
}

type profileRepository struct {
	store docstore.Store
}

func NewProfileRepository(store docstore.Store) ProfileRepository {
	return &profileRepository{store: store}
}

// Key addresses the profile document of a user.
func Key(userID string) docstore.Key {
	return docstore.Doc("users", userID)
}

func (r *profileRepository) FindByID(ctx context.Context, userID string) (*entity.Profile, error) {
	doc, err := r.store.Get(ctx, Key(userID))
	if err != nil {
		return nil, err
	}
	var rec profileRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, err
	}
	return &entity.Profile{ID: userID, DisplayName: rec.DisplayName, UpdatedAt: doc.UpdateTime}, nil
}

func (r *profileRepository) Save(ctx context.Context, userID, displayName string) (*entity.Profile, error) {
	if err := r.store.Commit(ctx, docstore.NewBatch().Set(Key(userID), profileRecord{DisplayName: displayName})); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, userID)
}
