package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kevinaaaquil/bookswap/models"
	"github.com/kevinaaaquil/bookswap/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

type AccountStore interface {
	CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	SetUserRole(ctx context.Context, id primitive.ObjectID, role string) error
	AdminsCount(ctx context.Context) (int64, error)
}

// CreateAdmin registers a new admin account.
func CreateAdmin(ctx context.Context, st AccountStore, email, name, password string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || len(password) < 6 {
		return nil, fmt.Errorf("%w: email and a password of at least 6 characters are required", ErrInvalidInput)
	}
	if name == "" {
		name = "Administrator"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	user := &models.User{
		Name:      name,
		Email:     email,
		Password:  string(hash),
		Role:      models.RoleAdmin,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := st.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, fmt.Errorf("%w: %s is already registered", ErrConflict, email)
	}
	if err != nil {
		return nil, err
	}
	user.ID = id
	return user, nil
}

// EnsureAdmin seeds an admin when none exists. It returns false when an admin was already present.
func EnsureAdmin(ctx context.Context, st AccountStore, email, password string) (bool, error) {
	n, err := st.AdminsCount(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if existing, err := st.UserByEmail(ctx, strings.ToLower(email)); err == nil {
		return true, st.SetUserRole(ctx, existing.ID, models.RoleAdmin)
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	_, err = CreateAdmin(ctx, st, email, "", password)
	return err == nil, err
}

// Promote gives an existing account the admin role.
func Promote(ctx context.Context, st AccountStore, email string) (*models.User, error) {
	user, err := st.UserByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no user with email %s", ErrNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	if err := st.SetUserRole(ctx, user.ID, models.RoleAdmin); err != nil {
		return nil, err
	}
	user.Role = models.RoleAdmin
	return user, nil
}
