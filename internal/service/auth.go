package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rongwang/sitetrack-server/internal/models"
	"github.com/rongwang/sitetrack-server/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// Authorize logs a user in or registers a new one, returning a session token
func (s *DefaultService) Authorize(ctx context.Context, req models.AuthRequest) (*models.AuthResponse, error) {
	var (
		user *models.User
		err  error
	)

	switch req.Mode {
	case models.AuthModeLogin:
		user, err = s.login(ctx, req)
	case models.AuthModeRegister:
		user, err = s.register(ctx, req)
	default:
		return nil, invalidInput(CodeInvalidInput, "mode must be login or register")
	}
	if err != nil {
		return nil, err
	}

	token, err := s.generateJWT(user)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.AuthResponse{
		Status:    "success",
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
		User:      toUserResponse(user),
	}, nil
}

func (s *DefaultService) login(ctx context.Context, req models.AuthRequest) (*models.User, error) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	if identifier == "" || req.Password == "" {
		return nil, invalidInput(CodeMissingFields, "identifier and password are required")
	}

	var (
		user *models.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.repo.GetUserByEmail(ctx, identifier)
	} else {
		user, err = s.repo.GetUserByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	if user == nil {
		// Same bcrypt work as a real mismatch
		_ = bcrypt.CompareHashAndPassword(s.dummyPasswordHash(), []byte(req.Password))
		return nil, invalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, invalidCredentials()
	}

	return user, nil
}

func (s *DefaultService) register(ctx context.Context, req models.AuthRequest) (*models.User, error) {
	email := normalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)
	inviteCode := strings.TrimSpace(req.InviteCode)

	if email == "" || req.Password == "" || inviteCode == "" {
		return nil, invalidInput(CodeMissingFields, "email, password and inviteCode are required")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, invalidInput(CodeInvalidInput, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	role, ok := s.roleForInvite(inviteCode)
	if !ok {
		return nil, invalidInvite()
	}

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("error checking user existence: %w", err)
	}
	if existing != nil {
		return nil, userExists("a user with this email already exists")
	}
	if username != "" {
		existing, err = s.repo.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("error checking username: %w", err)
		}
		if existing != nil {
			return nil, userExists("this username is already taken")
		}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		ID:       uuid.New().String(),
		Email:    email,
		Password: string(hashedPassword),
		Role:     role,
	}
	if username != "" {
		user.Username = &username
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, userExists("a user with this email or username already exists")
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.log.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *DefaultService) roleForInvite(code string) (string, bool) {
	if s.adminInvite != "" && subtle.ConstantTimeCompare([]byte(code), []byte(s.adminInvite)) == 1 {
		return models.RoleAdmin, true
	}
	for _, valid := range s.inviteCodes {
		if subtle.ConstantTimeCompare([]byte(code), []byte(valid)) == 1 {
			return models.RoleInvestor, true
		}
	}
	return "", false
}

// EnsureSeedAdmin creates the bootstrap admin account if it is missing
func (s *DefaultService) EnsureSeedAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("error checking seed admin: %w", err)
	}
	if existing != nil {
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	err = s.repo.CreateUser(ctx, &models.User{
		ID:       uuid.New().String(),
		Email:    email,
		Password: string(hashedPassword),
		Role:     models.RoleAdmin,
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("error creating seed admin: %w", err)
	}

	s.log.Info("seed admin ensured", "email", email)
	return nil
}

func (s *DefaultService) GetProfile(ctx context.Context, caller models.Caller) (*models.UserResponse, error) {
	user, err := s.repo.GetUserByID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return nil, notFound("user not found")
	}
	resp := toUserResponse(user)
	return &resp, nil
}

// UpdateProfile changes the caller's email and/or username. The session
// token keeps the old username until the next login.
func (s *DefaultService) UpdateProfile(
	ctx context.Context,
	caller models.Caller,
	req models.UpdateProfileRequest,
) (*models.UserResponse, error) {
	user, err := s.repo.GetUserByID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return nil, notFound("user not found")
	}

	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		other, err := s.repo.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("error checking email: %w", err)
		}
		if other != nil && other.ID != user.ID {
			return nil, userExists("a user with this email already exists")
		}
		user.Email = email
	}

	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if err := validateUsername(username); err != nil {
			return nil, err
		}
		if username == "" {
			user.Username = nil
		} else {
			other, err := s.repo.GetUserByUsername(ctx, username)
			if err != nil {
				return nil, fmt.Errorf("error checking username: %w", err)
			}
			if other != nil && other.ID != user.ID {
				return nil, userExists("this username is already taken")
			}
			user.Username = &username
		}
	}

	if err := s.repo.UpdateUserProfile(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, userExists("a user with this email or username already exists")
		}
		return nil, fmt.Errorf("error updating profile: %w", err)
	}

	resp := toUserResponse(user)
	return &resp, nil
}

// ParseToken verifies a session token and returns the identity it carries
func (s *DefaultService) ParseToken(tokenString string) (*models.Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, unauthorized("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, unauthorized("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	username, _ := claims["username"].(string)
	sid, _ := claims["sid"].(string)
	if sub == "" || sid == "" || (role != models.RoleAdmin && role != models.RoleInvestor) {
		return nil, unauthorized("invalid token claims")
	}

	return &models.Caller{UserID: sub, Role: role, Username: username, SessionID: sid}, nil
}

// Helper methods
func (s *DefaultService) generateJWT(user *models.User) (string, error) {
	now := s.now()

	claims := jwt.MapClaims{
		"sub":      user.ID,
		"role":     user.Role,
		"username": user.DisplayName(),
		"sid":      uuid.New().String(), // one change tracker per login session
		"exp":      now.Add(s.tokenDuration).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *DefaultService) dummyPasswordHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.bcryptCost)
	})
	return s.dummyHash
}

func toUserResponse(user *models.User) models.UserResponse {
	resp := models.UserResponse{ID: user.ID, Email: user.Email, Role: user.Role}
	if user.Username != nil {
		resp.Username = *user.Username
	}
	return resp
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return invalidInput(CodeInvalidInput, "email address is not valid")
	}
	return nil
}

func validateUsername(username string) error {
	if strings.Contains(username, "@") {
		return invalidInput(CodeInvalidInput, "username must not contain @")
	}
	if len(username) > 64 {
		return invalidInput(CodeInvalidInput, "username is too long")
	}
	return nil
}
