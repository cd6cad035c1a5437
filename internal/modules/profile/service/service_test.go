package profile

import (
	"context"
	"errors"
	"testing"

	"anoa.com/fellowship/internal/docstore/memory"
	profileDto "anoa.com/fellowship/internal/modules/profile/dto"
	profileRepo "anoa.com/fellowship/internal/modules/profile/repository"
	"anoa.com/fellowship/pkg/apperror"
)

func TestUpdateProfileSanitizesDisplayName(t *testing.T) {
	ctx := context.Background()
	svc := NewProfileService(profileRepo.NewProfileRepository(memory.New()))

	p, err := svc.UpdateProfile(ctx, "alice", profileDto.UpdateProfileInput{DisplayName: "  <b>Alice</b> "})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if p.DisplayName != "Alice" {
		t.Fatalf("expected sanitized name, got %q", p.DisplayName)
	}

	name, err := svc.DisplayName(ctx, "alice")
	if err != nil || name != "Alice" {
		t.Fatalf("DisplayName = %q, %v", name, err)
	}
}

func TestUpdateProfileRejectsMarkupOnlyName(t *testing.T) {
	svc := NewProfileService(profileRepo.NewProfileRepository(memory.New()))
	_, err := svc.UpdateProfile(context.Background(), "alice", profileDto.UpdateProfileInput{DisplayName: "<script></script>"})
	if !errors.Is(err, apperror.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestMissingProfileReadsEmpty(t *testing.T) {
	ctx := context.Background()
	svc := NewProfileService(profileRepo.NewProfileRepository(memory.New()))

	p, err := svc.GetCurrentProfile(ctx, "ghost")
	if err != nil || p.ID != "ghost" || p.DisplayName != "" {
		t.Fatalf("GetCurrentProfile = %+v, %v", p, err)
	}
	if name, err := svc.DisplayName(ctx, "ghost"); err != nil || name != "" {
		t.Fatalf("DisplayName = %q, %v", name, err)
	}
}
