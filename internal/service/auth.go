package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/linklink-server/internal/apperror"
	"github.com/iliyamo/linklink-server/internal/metrics"
	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/repository"
	"github.com/iliyamo/linklink-server/internal/utils"
)

// Mailer delivers account notifications.  Every call is best effort: the
// service logs a failure and carries on.
type Mailer interface {
	SendRegistrationNotice(ctx context.Context, u *model.User) error
	SendDecisionNotice(ctx context.Context, u *model.User, approved bool, reason string) error
}

// Approval actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// RegisterInput holds the parameters for registering a new user.  Length
// rules are enforced by the HTTP layer.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Registration is the pending-confirmation result of Register.
type Registration struct {
	Username string           `json:"username"`
	Email    string           `json:"email"`
	Status   model.UserStatus `json:"status"`
	Message  string           `json:"message"`
}

// ApprovalInput holds an admin decision on a pending account.
type ApprovalInput struct {
	Username string
	Action   string
	Approver string
	Reason   string
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Username     string    `json:"username"`
}

// AuthService owns account approval state and the issue, rotation and
// revocation of token pairs.
type AuthService struct {
	users      repository.UserRepository
	tokens     repository.RefreshTokenRepository
	issuer     *utils.TokenIssuer
	mailer     Mailer
	clock      utils.Clock
	bcryptCost int
	logger     *slog.Logger
}

// NewAuthService creates a new auth service.  mailer may be nil.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	issuer *utils.TokenIssuer,
	mailer Mailer,
	clock utils.Clock,
	bcryptCost int,
	logger *slog.Logger,
) *AuthService {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &AuthService{
		users:      users,
		tokens:     tokens,
		issuer:     issuer,
		mailer:     mailer,
		clock:      clock,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// Register stores a new account in the pending, inactive state and
// notifies the administrator.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (reg *Registration, err error) {
	defer observe("register", &err)

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := s.users.GetByUsername(ctx, in.Username); err == nil {
		return nil, apperror.ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Internal(fmt.Errorf("get user: %w", err))
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperror.ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Internal(fmt.Errorf("get user by email: %w", err))
	}

	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("hash password: %w", err))
	}

	now := s.clock.Now()
	user := &model.User{
		Username:     in.Username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     false,
		IsAdmin:      false,
		Status:       model.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameExists):
			return nil, apperror.ErrUsernameTaken
		case errors.Is(err, repository.ErrEmailExists):
			return nil, apperror.ErrEmailTaken
		}
		return nil, apperror.Internal(fmt.Errorf("create user: %w", err))
	}

	if s.mailer != nil {
		if err := s.mailer.SendRegistrationNotice(ctx, user); err != nil {
			s.logger.WarnContext(ctx, "failed to send registration notice",
				slog.String("username", user.Username),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("username", user.Username),
		slog.String("email", user.Email),
	)

	return &Registration{
		Username: user.Username,
		Email:    user.Email,
		Status:   user.Status,
		Message:  "registration successful, your account is pending admin approval",
	}, nil
}

// Approve records the admin decision on a pending account.  A decision
// is final: deciding twice yields ErrAlreadyDecided.
func (s *AuthService) Approve(ctx context.Context, in ApprovalInput) (u *model.User, err error) {
	defer observe("approve", &err)

	action := strings.ToLower(strings.TrimSpace(in.Action))
	if action != ActionApprove && action != ActionReject {
		return nil, apperror.ErrInvalidAction
	}

	user, err := s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Internal(fmt.Errorf("get user: %w", err))
	}
	if user.Status != model.StatusPending {
		return nil, apperror.ErrAlreadyDecided
	}

	now := s.clock.Now()
	user.UpdatedAt = now
	approved := action == ActionApprove
	if approved {
		user.Status = model.StatusApproved
		user.IsActive = true
		user.ApprovedAt = &now
		user.ApprovedBy = in.Approver
	} else {
		user.Status = model.StatusRejected
		user.IsActive = false
	}
	if err := s.users.Decide(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, apperror.ErrAlreadyDecided
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Internal(fmt.Errorf("decide user: %w", err))
	}

	if s.mailer != nil {
		if err := s.mailer.SendDecisionNotice(ctx, user, approved, in.Reason); err != nil {
			s.logger.WarnContext(ctx, "failed to send decision notice",
				slog.String("username", user.Username),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "registration decided",
		slog.String("username", user.Username),
		slog.String("status", string(user.Status)),
		slog.String("approver", in.Approver),
	)
	return user, nil
}

// ListPending returns accounts awaiting a decision, oldest first.
func (s *AuthService) ListPending(ctx context.Context) ([]model.User, error) {
	users, err := s.users.ListByStatus(ctx, model.StatusPending)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list pending users: %w", err))
	}
	return users, nil
}

// Login checks the account state before the password: an existing
// account that is pending, rejected or deactivated reports that reason
// even with a wrong password, while an unknown username and a wrong
// password both yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password string) (pair *TokenPair, err error) {
	defer observe("login", &err)

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrInvalidCredentials
		}
		return nil, apperror.Internal(fmt.Errorf("get user: %w", err))
	}

	switch user.Status {
	case model.StatusPending:
		return nil, apperror.ErrPendingApproval
	case model.StatusRejected:
		return nil, apperror.ErrRejected
	}
	if !user.IsActive {
		return nil, apperror.ErrDeactivated
	}
	if !utils.VerifyPassword(user.PasswordHash, password) {
		return nil, apperror.ErrInvalidCredentials
	}

	pair, row, err := s.issuePair(user)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return nil, apperror.Internal(fmt.Errorf("store refresh token: %w", err))
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("username", user.Username))
	return pair, nil
}

// Verify checks an access token's signature and expiry without touching
// storage and returns its subject.
func (s *AuthService) Verify(token string) (string, error) {
	claims, err := s.issuer.Parse(token, utils.TokenAccess)
	if err != nil {
		return "", apperror.ErrInvalidToken
	}
	return claims.Subject, nil
}

// Authenticate verifies an access token and loads its user, who must
// still be active and approved.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	username, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrUserInactive
		}
		return nil, apperror.Internal(fmt.Errorf("get user: %w", err))
	}
	if !user.CanAuthenticate() {
		return nil, apperror.ErrUserInactive
	}
	return user, nil
}

// Refresh exchanges a refresh token for a new pair.  The presented token
// is consumed: once Refresh returns successfully it can never be used
// again, and of two concurrent calls with the same token at most one
// succeeds.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	defer observe("refresh", &err)

	claims, err := s.issuer.Parse(refreshToken, utils.TokenRefresh)
	if err != nil {
		return nil, apperror.ErrInvalidToken
	}

	oldHash := utils.HashRefreshRaw(refreshToken)
	stored, err := s.tokens.GetByHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrTokenNotFoundOrExpired
		}
		return nil, apperror.Internal(fmt.Errorf("get refresh token: %w", err))
	}
	if stored.Username != claims.Subject {
		return nil, apperror.ErrTokenNotFoundOrExpired
	}
	if stored.IsExpired(s.clock.Now()) {
		if _, err := s.tokens.DeleteByHash(ctx, oldHash); err != nil {
			s.logger.WarnContext(ctx, "failed to delete expired refresh token",
				slog.String("username", stored.Username),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.ErrTokenNotFoundOrExpired
	}

	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrUserInactive
		}
		return nil, apperror.Internal(fmt.Errorf("get user: %w", err))
	}
	if !user.CanAuthenticate() {
		return nil, apperror.ErrUserInactive
	}

	pair, row, err := s.issuePair(user)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Rotate(ctx, oldHash, row); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrTokenNotFoundOrExpired
		}
		return nil, apperror.Internal(fmt.Errorf("rotate refresh token: %w", err))
	}
	return pair, nil
}

// Logout removes the server-side refresh credential.  It succeeds whether
// or not the token was still stored.
func (s *AuthService) Logout(ctx context.Context, refreshToken, username string) error {
	removed, err := s.tokens.DeleteByHash(ctx, utils.HashRefreshRaw(refreshToken))
	if err != nil {
		return apperror.Internal(fmt.Errorf("delete refresh token: %w", err))
	}
	s.logger.InfoContext(ctx, "user logged out",
		slog.String("username", username),
		slog.Bool("token_removed", removed),
	)
	return nil
}

// EnsureAdmin makes sure an approved, active admin account named username
// exists.  An existing account is promoted in place and keeps its
// password.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, email, password string) (*model.User, error) {
	now := s.clock.Now()
	user, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		if user.IsAdmin && user.CanAuthenticate() {
			return user, nil
		}
		user.IsAdmin = true
		user.IsActive = true
		user.Status = model.StatusApproved
		user.UpdatedAt = now
		if user.ApprovedAt == nil {
			user.ApprovedAt = &now
			user.ApprovedBy = "system"
		}
		if err := s.users.Update(ctx, user); err != nil {
			return nil, apperror.Internal(fmt.Errorf("promote admin: %w", err))
		}
		s.logger.InfoContext(ctx, "admin account promoted", slog.String("username", username))
		return user, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperror.Internal(fmt.Errorf("get user: %w", err))
	}

	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("hash password: %w", err))
	}
	user = &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsAdmin:      true,
		Status:       model.StatusApproved,
		CreatedAt:    now,
		UpdatedAt:    now,
		ApprovedAt:   &now,
		ApprovedBy:   "system",
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, apperror.ErrEmailTaken
		}
		return nil, apperror.Internal(fmt.Errorf("create admin: %w", err))
	}
	s.logger.InfoContext(ctx, "admin account created", slog.String("username", username))
	return user, nil
}

// PurgeExpiredTokens deletes refresh rows that can no longer be used.
// Refresh checks expiry itself, so this only bounds table growth.
func (s *AuthService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, apperror.Internal(fmt.Errorf("purge refresh tokens: %w", err))
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired refresh tokens purged", slog.Int64("count", n))
	}
	return n, nil
}

// issuePair mints an access/refresh pair for user and the row that
// persists the refresh half.
func (s *AuthService) issuePair(user *model.User) (*TokenPair, *model.RefreshToken, error) {
	access, err := s.issuer.IssueAccess(user.Username, user.IsAdmin)
	if err != nil {
		return nil, nil, apperror.Internal(fmt.Errorf("sign access token: %w", err))
	}
	refresh, err := s.issuer.IssueRefresh(user.Username, user.IsAdmin)
	if err != nil {
		return nil, nil, apperror.Internal(fmt.Errorf("sign refresh token: %w", err))
	}
	row := &model.RefreshToken{
		TokenHash: utils.HashRefreshRaw(refresh.Token),
		Username:  user.Username,
		ExpiresAt: refresh.Exp,
		CreatedAt: s.clock.Now(),
	}
	return &TokenPair{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		TokenType:    "bearer",
		ExpiresAt:    access.Exp,
		Username:     user.Username,
	}, row, nil
}

func observe(op string, err *error) {
	metrics.AuthOutcomes.WithLabelValues(op, apperror.CodeOf(*err)).Inc()
}
