package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"user_directory/internal/model"
	"user_directory/internal/repository"
	"user_directory/internal/validation"
)

var (
	ErrDuplicateEmail     = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("username or password is invalid") // unknown email and wrong password look the same
	ErrNotFound           = errors.New("user not found")
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) (bool, error)
}

// TokenIssuer generates session tokens.
type TokenIssuer interface {
	Issue() (string, error)
}

// Validator checks a request against its constraints.
type Validator interface {
	Struct(req any) error
}

// UserService provides the account operations of the user directory
type UserService interface {
	Register(ctx context.Context, req model.RegisterRequest) (*model.UserResponse, error)
	Login(ctx context.Context, req model.LoginRequest) (*model.UserResponse, error)
	GetProfile(user *model.User) *model.UserResponse
	UpdateProfile(ctx context.Context, user *model.User, req model.UpdateUserRequest) (*model.UserResponse, error)
	DeleteByEmail(ctx context.Context, req model.EmailRequest) (*model.UserResponse, error)
	FindByEmail(ctx context.Context, req model.EmailRequest) (*model.UserResponse, error)
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

type userService struct {
	userRepo  repository.UserRepository
	validator Validator
	hasher    PasswordHasher
	tokens    TokenIssuer
}

// NewUserService creates a new UserService
func NewUserService(userRepo repository.UserRepository, validator Validator, hasher PasswordHasher, tokens TokenIssuer) UserService {
	return &userService{
		userRepo:  userRepo,
		validator: validator,
		hasher:    hasher,
		tokens:    tokens,
	}
}

// publicProfile strips the session token, which is only handed out by Register and Login.
func publicProfile(user *model.User) *model.UserResponse {
	profile := user.Profile()
	profile.Token = nil
	return &profile
}

// Register creates a new account and issues its first session token
func (s *userService) Register(ctx context.Context, req model.RegisterRequest) (*model.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	// Skip the expensive hash for an obvious duplicate. The unique index in Create is what
	// actually decides a race between two registrations.
	count, err := s.userRepo.CountByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if count != 0 {
		return nil, ErrDuplicateEmail
	}

	hashedPassword, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password for register: %w", err)
	}

	token, err := s.tokens.Issue()
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	user := &model.User{
		Email:        req.Email,
		Name:         req.Name,
		Phone:        req.Phone,
		PasswordHash: hashedPassword,
		Role:         req.Role,
		Token:        &token,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user in repository: %w", err)
	}

	log.Printf("INFO: user %s registered with role %s", user.Email, user.Role)
	profile := user.Profile()
	return &profile, nil
}

// Login verifies credentials and rotates the session token
func (s *userService) Login(ctx context.Context, req model.LoginRequest) (*model.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("error finding user by email: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(ctx, req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password for login: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue()
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	user, err = s.userRepo.Update(ctx, req.Email, model.UserPatch{Token: &token})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials // deleted between lookup and update
		}
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	profile := user.Profile()
	return &profile, nil
}

// GetProfile returns the public profile of an already authenticated user
func (s *userService) GetProfile(user *model.User) *model.UserResponse {
	return publicProfile(user)
}

// UpdateProfile applies the supplied fields to user; anything absent is left alone
func (s *userService) UpdateProfile(ctx context.Context, user *model.User, req model.UpdateUserRequest) (*model.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	patch := model.UserPatch{
		Name:  req.Name,
		Phone: req.Phone,
		Role:  req.Role,
	}
	if req.Password != nil {
		hashedPassword, err := s.hasher.Hash(ctx, *req.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password for update: %w", err)
		}
		patch.PasswordHash = &hashedPassword
	}

	updated, err := s.userRepo.Update(ctx, user.Email, patch)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return publicProfile(updated), nil
}

// DeleteByEmail removes an account and returns what it looked like
func (s *userService) DeleteByEmail(ctx context.Context, req model.EmailRequest) (*model.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	user, err := s.userRepo.Delete(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}

	log.Printf("INFO: user %s deleted", user.Email)
	return publicProfile(user), nil
}

// FindByEmail looks up the public profile of an account
func (s *userService) FindByEmail(ctx context.Context, req model.EmailRequest) (*model.UserResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("error finding user by email: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return publicProfile(user), nil
}

// Authenticate resolves the user holding token
func (s *userService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("error finding user by token: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

var _ Validator = (*validation.Validator)(nil)
