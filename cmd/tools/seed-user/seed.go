package main

import (
	"context"
	"errors"
	"fmt"

	"shelfshare/internal/access"
	"shelfshare/internal/auth"
	"shelfshare/internal/models"
	"shelfshare/internal/storage"
)

type seedRequest struct {
	Login     string
	Password  string
	ShareWith []string
	Hasher    auth.PasswordHasher
}

type seedResult struct {
	User       models.User
	Created    bool
	SharedWith []models.User
}

// seedUser creates the account unless the login is already taken, then
// grants every ShareWith account read access to it. Accounts are never
// modified once created, so an existing login keeps its password.
func seedUser(ctx context.Context, repo storage.Repository, req seedRequest) (seedResult, error) {
	login, err := auth.NormalizeLogin(req.Login)
	if err != nil {
		return seedResult{}, fmt.Errorf("invalid login %q: %w", req.Login, err)
	}

	user, found, err := repo.FindUserByLogin(ctx, login)
	if err != nil {
		return seedResult{}, err
	}
	created := false
	if !found {
		if len(req.Password) < 8 {
			return seedResult{}, errors.New("password must be at least 8 characters")
		}
		hasher := req.Hasher
		if hasher == nil {
			hasher = auth.BcryptHasher{}
		}
		hash, err := hasher.Hash(req.Password)
		if err != nil {
			return seedResult{}, err
		}
		user, err = repo.CreateUser(ctx, login, hash)
		if err != nil {
			return seedResult{}, err
		}
		created = true
	}

	policy := access.NewPolicy(repo)
	shared := make([]models.User, 0, len(req.ShareWith))
	for _, raw := range req.ShareWith {
		targetLogin, err := auth.NormalizeLogin(raw)
		if err != nil {
			return seedResult{}, fmt.Errorf("invalid login %q: %w", raw, err)
		}
		target, ok, err := repo.FindUserByLogin(ctx, targetLogin)
		if err != nil {
			return seedResult{}, err
		}
		if !ok {
			return seedResult{}, fmt.Errorf("user %q not found", targetLogin)
		}
		if err := policy.Grant(ctx, user.ID, target.ID); err != nil {
			return seedResult{}, err
		}
		shared = append(shared, target)
	}

	return seedResult{User: user, Created: created, SharedWith: shared}, nil
}
