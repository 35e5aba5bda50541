package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/lborres/templatex/core"
	"github.com/lborres/templatex/pkg/crypto"
)

const (
	DefaultVerifyTokenTTL = 24 * time.Hour
	DefaultResetTokenTTL  = time.Hour

	// ResetPasswordPath serves the form behind the reset email link.
	ResetPasswordPath = "/reset-password"
)

type AuthConfig struct {
	Storage  core.AuthStorage
	Sessions *SessionManager
	Mailer   core.Mailer

	// Optional config
	PasswordHasher crypto.PasswordHandler
	BaseURL        string
	// ResetURL is the page the reset email links to. Defaults to
	// BaseURL + "/reset-password".
	ResetURL       string
	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	Logger         *slog.Logger
	Now            core.Clock
}

// AuthService is the account backend behind Identity: users, credentials,
// login sessions and emailed tokens.
type AuthService struct {
	db             core.AuthStorage
	passwordHasher crypto.PasswordHandler
	sessionManager *SessionManager
	mailer         core.Mailer
	baseURL        string
	resetURL       string
	verifyTTL      time.Duration
	resetTTL       time.Duration
	logger         *slog.Logger
	now            core.Clock
}

func NewAuthService(cfg AuthConfig) (*AuthService, error) {
	if cfg.Storage == nil {
		return nil, core.ErrAuthStorageRequired
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionManager(core.DefaultSessionConfig(), cfg.Storage, nil)
	}
	if cfg.PasswordHasher == nil {
		cfg.PasswordHasher = crypto.NewArgon2()
	}
	if cfg.VerifyTokenTTL <= 0 {
		cfg.VerifyTokenTTL = DefaultVerifyTokenTTL
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = DefaultResetTokenTTL
	}
	if cfg.ResetURL == "" {
		cfg.ResetURL = cfg.BaseURL + ResetPasswordPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &AuthService{
		db:             cfg.Storage,
		passwordHasher: cfg.PasswordHasher,
		sessionManager: cfg.Sessions,
		mailer:         cfg.Mailer,
		baseURL:        cfg.BaseURL,
		resetURL:       cfg.ResetURL,
		verifyTTL:      cfg.VerifyTokenTTL,
		resetTTL:       cfg.ResetTokenTTL,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}, nil
}

// SignUp registers a new user with email and password
func (s *AuthService) SignUp(ctx context.Context, input core.SignUpInput, ipAddress, userAgent string) (*core.SignUpResult, error) {
	email := core.NormalizeEmail(input.Email)
	if err := core.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := core.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	// Step 1: Check if user already exists
	existingUser, err := s.db.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existingUser != nil {
		return nil, core.ErrUserExists
	}

	// Step 2: Hash the password
	hashedPassword, err := s.passwordHasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// Step 3: Create the user
	now := s.now()
	user := &core.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      input.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// Step 4: Create a credential account for this user
	account := &core.Account{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		ProviderID: core.CredentialProvider,
		AccountID:  user.ID,
		Password:   &hashedPassword,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	// Step 5: Create a session for the new user
	session, token, err := s.sessionManager.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	return &core.SignUpResult{User: user, Session: session, Token: token}, nil
}

// SignIn authenticates a user with email and password
func (s *AuthService) SignIn(ctx context.Context, input core.SignInInput, ipAddress, userAgent string) (*core.SignInResult, error) {
	// Step 1: Find the user by email
	user, err := s.db.GetUserByEmail(ctx, core.NormalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	// Step 2: Verify the password against the credential account
	if err := s.checkPassword(ctx, user.ID, input.Password); err != nil {
		return nil, err
	}

	// Step 3: Create a new session
	session, token, err := s.sessionManager.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	return &core.SignInResult{User: user, Session: session, Token: token}, nil
}

// SignOut invalidates the session behind token
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	if err := s.sessionManager.Destroy(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetSession retrieves session data by token
func (s *AuthService) GetSession(ctx context.Context, token string) (*core.SessionData, error) {
	session, err := s.sessionManager.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, core.ErrInvalidToken
		}
		return nil, err
	}

	user, err := s.db.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &core.SessionData{User: user, Session: session}, nil
}

// Reauthenticate checks password against the user's credential.
func (s *AuthService) Reauthenticate(ctx context.Context, userID, password string) error {
	err := s.checkPassword(ctx, userID, password)
	if errors.Is(err, core.ErrInvalidCredentials) {
		return core.ErrInvalidCurrentPassword
	}
	return err
}

func (s *AuthService) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	if err := core.ValidatePassword(newPassword); err != nil {
		return err
	}

	account, err := s.db.GetAccountByUserAndProvider(ctx, userID, core.CredentialProvider)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}

	hashed, err := s.passwordHasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	account.Password = &hashed
	account.UpdatedAt = s.now()

	if err := s.db.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// UpdateEmail changes the address and marks it unverified.
func (s *AuthService) UpdateEmail(ctx context.Context, userID, newEmail string) (*core.User, error) {
	email := core.NormalizeEmail(newEmail)
	if err := core.ValidateEmail(email); err != nil {
		return nil, err
	}

	existing, err := s.db.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil && existing.ID != userID {
		return nil, core.ErrUserExists
	}

	return s.updateUser(ctx, userID, func(u *core.User) {
		u.Email = email
		u.EmailVerified = false
	})
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, update core.ProfileUpdate) (*core.User, error) {
	return s.updateUser(ctx, userID, func(u *core.User) {
		if update.DisplayName != nil {
			u.Name = *update.DisplayName
		}
		if update.PhotoURL != nil {
			if *update.PhotoURL == "" {
				u.Image = nil
			} else {
				photo := *update.PhotoURL
				u.Image = &photo
			}
		}
	})
}

// DeleteUser removes the user with its sessions and credentials.
func (s *AuthService) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.sessionManager.DestroyAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	if err := s.db.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// SweepSessions deletes expired login sessions.
func (s *AuthService) SweepSessions(ctx context.Context) (int, error) {
	return s.sessionManager.Sweep(ctx)
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*core.User, error) {
	return s.db.GetUserByID(ctx, userID)
}

// SendVerification mails a single-use verification link.
func (s *AuthService) SendVerification(ctx context.Context, userID string) error {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	token, err := s.issueToken(ctx, user.ID, core.PurposeVerifyEmail, s.verifyTTL)
	if err != nil {
		return err
	}

	return s.send(ctx, core.Message{
		To:      user.Email,
		Subject: "Confirm your email",
		Body:    "Open the link to confirm your TemplateX account.",
		Link:    s.link("/api/auth/verify", token),
	})
}

// VerifyEmail consumes a verification token and marks the address verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*core.User, error) {
	t, err := s.consumeToken(ctx, token, core.PurposeVerifyEmail)
	if err != nil {
		return nil, err
	}
	return s.updateUser(ctx, t.UserID, func(u *core.User) {
		u.EmailVerified = true
	})
}

// SendPasswordReset mails a reset link. Unknown addresses succeed silently
// so the endpoint does not reveal which emails are registered.
func (s *AuthService) SendPasswordReset(ctx context.Context, email string) error {
	user, err := s.db.GetUserByEmail(ctx, core.NormalizeEmail(email))
	if errors.Is(err, core.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}

	token, err := s.issueToken(ctx, user.ID, core.PurposePasswordReset, s.resetTTL)
	if err != nil {
		return err
	}

	return s.send(ctx, core.Message{
		To:      user.Email,
		Subject: "Reset your password",
		Body:    "Open the link to choose a new TemplateX password.",
		Link:    withToken(s.resetURL, token),
	})
}

// ResetPassword consumes a reset token, sets the password and signs the
// user out everywhere.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := core.ValidatePassword(newPassword); err != nil {
		return err
	}
	t, err := s.consumeToken(ctx, token, core.PurposePasswordReset)
	if err != nil {
		return err
	}
	if err := s.UpdatePassword(ctx, t.UserID, newPassword); err != nil {
		return err
	}
	if _, err := s.sessionManager.DestroyAllUserSessions(ctx, t.UserID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

func (s *AuthService) checkPassword(ctx context.Context, userID, password string) error {
	account, err := s.db.GetAccountByUserAndProvider(ctx, userID, core.CredentialProvider)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return core.ErrInvalidCredentials
		}
		return fmt.Errorf("failed to get account: %w", err)
	}
	if account.Password == nil {
		return core.ErrInvalidCredentials
	}
	if len(password) > core.MaxPasswordLength {
		return core.ErrInvalidCredentials
	}

	valid, err := s.passwordHasher.Verify(password, *account.Password)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return core.ErrInvalidCredentials
	}
	return nil
}

func (s *AuthService) updateUser(ctx context.Context, userID string, mutate func(*core.User)) (*core.User, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	mutate(user)
	user.UpdatedAt = s.now()
	if err := s.db.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

func (s *AuthService) issueToken(ctx context.Context, userID string, purpose core.TokenPurpose, ttl time.Duration) (string, error) {
	pair, err := crypto.GenerateHashedToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.now()
	t := &core.Token{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: pair.Hash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.db.CreateToken(ctx, t); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	return pair.Token, nil
}

func (s *AuthService) consumeToken(ctx context.Context, token string, purpose core.TokenPurpose) (*core.Token, error) {
	if token == "" {
		return nil, core.ErrTokenNotFound
	}
	t, err := s.db.ConsumeToken(ctx, crypto.HashToken(token), purpose)
	if err != nil {
		return nil, err
	}
	if s.now().After(t.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}
	return t, nil
}

func (s *AuthService) send(ctx context.Context, msg core.Message) error {
	if s.mailer == nil {
		s.logger.Warn("no mailer configured, dropping message", slog.String("subject", msg.Subject))
		return nil
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *AuthService) link(path, token string) string {
	return withToken(s.baseURL+path, token)
}

// withToken adds the token query parameter, keeping any query already on
// target.
func withToken(target, token string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
