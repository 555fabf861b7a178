package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/myassin/authflow/internal/auth"
	"github.com/myassin/authflow/internal/models"
	"github.com/myassin/authflow/pkg/crypto"
	appErrors "github.com/myassin/authflow/pkg/errors"
	"github.com/myassin/authflow/pkg/logger"
	appMail "github.com/myassin/authflow/pkg/mail"
	"github.com/myassin/authflow/pkg/metrics"
)

const (
	defaultVerificationTTL = 24 * time.Hour
	defaultResetTTL        = time.Hour
	minNameLength          = 2
)

// AccountOption customises the AccountService.
type AccountOption func(*AccountService)

// WithClock injects a custom time source.
func WithClock(clock func() time.Time) AccountOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithVerificationTTL overrides the verification code lifetime.
func WithVerificationTTL(d time.Duration) AccountOption {
	return func(s *AccountService) {
		if d > 0 {
			s.verificationTTL = d
		}
	}
}

// WithResetTTL overrides the reset token lifetime.
func WithResetTTL(d time.Duration) AccountOption {
	return func(s *AccountService) {
		if d > 0 {
			s.resetTTL = d
		}
	}
}

// WithResetBaseURL sets the client-facing base URL embedded in reset links.
func WithResetBaseURL(url string) AccountOption {
	return func(s *AccountService) {
		s.resetBaseURL = strings.TrimRight(url, "/")
	}
}

// AccountService owns all Account mutation and drives the
// signup/verify/login/reset lifecycle. It is the only component that writes
// to the account store; token issuance and password hashing are delegated to
// the stateless auth and crypto packages.
type AccountService struct {
	db              *gorm.DB
	sessions        *iauth.SessionService
	mailer          appMail.Mailer
	resetBaseURL    string
	verificationTTL time.Duration
	resetTTL        time.Duration
	now             func() time.Time
	log             *zap.Logger
}

// NewAccountService constructs the service with its dependencies. A nil
// mailer disables outbound email; best-effort sends become no-ops.
func NewAccountService(db *gorm.DB, sessions *iauth.SessionService, mailer appMail.Mailer, opts ...AccountOption) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	if sessions == nil {
		return nil, errors.New("account service: session service is required")
	}

	service := &AccountService{
		db:              db,
		sessions:        sessions,
		mailer:          mailer,
		verificationTTL: defaultVerificationTTL,
		resetTTL:        defaultResetTTL,
		now:             time.Now,
		log:             logger.WithModule("accounts"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// SignupInput captures the details required to register a new account.
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// SignupResult carries the created account, its session token, and whether
// the verification email left the building. A failed send never rolls back
// the account or the session.
type SignupResult struct {
	Account        *models.Account
	SessionToken   string
	EmailDelivered bool
}

// Signup registers a new unverified account, issues a session token, and
// dispatches the verification email best-effort.
func (s *AccountService) Signup(ctx context.Context, input SignupInput) (*SignupResult, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if len(name) < minNameLength {
		return nil, appErrors.NewValidation(fmt.Sprintf("name must be at least %d characters", minNameLength))
	}

	if err := crypto.ValidatePassword(input.Password); err != nil {
		return nil, appErrors.NewValidation(err.Error())
	}

	var existing models.Account
	err = s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	switch {
	case err == nil:
		metrics.Signups.WithLabelValues("conflict").Inc()
		return nil, appErrors.ErrEmailTaken
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, appErrors.ErrDependency.WithInternal(fmt.Errorf("lookup email: %w", err))
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, appErrors.ErrInternalServer.WithInternal(fmt.Errorf("hash password: %w", err))
	}

	code, err := crypto.GenerateVerificationCode()
	if err != nil {
		return nil, appErrors.ErrInternalServer.WithInternal(err)
	}

	now := s.now()
	expiresAt := now.Add(s.verificationTTL)
	account := models.Account{
		Email:                 email,
		Password:              hash,
		Name:                  name,
		VerificationCode:      &code,
		VerificationExpiresAt: &expiresAt,
	}

	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		// The pre-check races with concurrent signups; the unique index is
		// the source of truth.
		if isUniqueConstraintError(err) {
			metrics.Signups.WithLabelValues("conflict").Inc()
			return nil, appErrors.ErrEmailTaken
		}
		metrics.Signups.WithLabelValues("failure").Inc()
		return nil, appErrors.ErrDependency.WithInternal(fmt.Errorf("create account: %w", err))
	}

	token, err := s.sessions.Issue(account.ID)
	if err != nil {
		return nil, appErrors.ErrInternalServer.WithInternal(fmt.Errorf("issue session: %w", err))
	}

	delivered := s.sendBestEffort(ctx, appMail.KindVerification, appMail.VerificationMessage(account.Email, code))

	metrics.Signups.WithLabelValues("success").Inc()
	s.log.Info("account created",
		zap.String("account_id", account.ID),
		zap.Bool("verification_email_delivered", delivered),
	)

	return &SignupResult{
		Account:        &account,
		SessionToken:   token,
		EmailDelivered: delivered,
	}, nil
}

// VerifyEmail consumes a verification code. Consumption is an atomic
// compare-and-clear: a single conditional UPDATE commits the transition only
// while the code is still present and unexpired, so of two concurrent
// consumers exactly one wins. Wrong, expired, and replayed codes are
// indistinguishable to the caller.
func (s *AccountService) VerifyEmail(ctx context.Context, code string) (*models.Account, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, appErrors.ErrInvalidToken
	}

	var account models.Account
	err := s.db.WithContext(ctx).Where("verification_code = ?", code).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.TokenConsumptions.WithLabelValues("verification", "rejected").Inc()
			return nil, appErrors.ErrInvalidToken
		}
		return nil, appErrors.ErrDependency.WithInternal(fmt.Errorf("lookup verification code: %w", err))
	}

	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND verification_code = ? AND verification_expires_at > ?", account.ID, code, s.now()).
		Updates(map[string]any{
			"is_verified":             true,
			"verification_code":       nil,
			"verification_expires_at": nil,
		})
	if res.Error != nil {
		return nil, appErrors.ErrDependency.WithInternal(fmt.Errorf("consume verification code: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		metrics.TokenConsumptions.WithLabelValues("verification", "rejected").Inc()
		return nil, appErrors.ErrInvalidToken
	}

	if err := s.db.WithContext(ctx).Take(&account, "id = ?", account.ID).Error; err != nil {
		return nil, appErrors.ErrDependency.WithInternal(fmt.Errorf("reload account: %w", err))
	}

	s.sendBestEffort(ctx, appMail.KindWelcome, appMail.WelcomeMessage(account.Email, account.Name))

	metrics.TokenConsumptions.WithLabelValues("verification", "success").Inc()
	s.log.Info("email verified", zap.String("account_id", account.ID))

	return &account, nil
}

// Login verifies credentials and issues a session token. An unknown email
// and a wrong password produce the same error.
func (s *AccountService) Login(ctx context.Context, email, password string) (*models.Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, "", appErrors.ErrInvalidCredentials
	}

	var account models.Account
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.AuthAttempts.WithLabelValues("failure").Inc()
			return nil, "", appErrors.ErrInvalidCredentials
		}
		return nil, "", appErrors.ErrDependency.WithInternal(fmt.Errorf("lookup account: %w", err))
	}

	if !crypto.VerifyPassword(account.Password, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, "", appErrors.ErrInvalidCredentials
	}

	token, err := s.sessions.Issue(account.ID)
	if err != nil {
		return nil, "", appErrors.ErrInternalServer.WithInternal(fmt.Errorf("issue session: %w", err))
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&account).Update("last_login_at", now).Error; err != nil {
		return nil, "", appErrors.ErrDependency.WithInternal(fmt.Errorf("record login: %w", err))
	}
	account.LastLoginAt = &now

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &account, token, nil
}

// ForgotPassword stores a fresh reset challenge and emails a reset link.
//
// Unknown emails are acknowledged identically to known ones so responses
// cannot be used to enumerate accounts. Unlike the signup and verification
// flows, a mail delivery failure here is the request's failure: the caller
// has nothing else to show for the request.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	var account models.Account
	err = s.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Debug("reset requested for unknown email")
			return nil
		}
		return appErrors.ErrDependency.WithInternal(fmt.Errorf("lookup account: %w", err))
	}

	token, err := crypto.GenerateResetToken()
	if err != nil {
		return appErrors.ErrInternalServer.WithInternal(err)
	}

	tokenHash := crypto.HashToken(token)
	expiresAt := s.now().Add(s.resetTTL)
	if err := s.db.WithContext(ctx).Model(&account).Updates(map[string]any{
		"reset_token_hash": tokenHash,
		"reset_expires_at": expiresAt,
	}).Error; err != nil {
		return appErrors.ErrDependency.WithInternal(fmt.Errorf("store reset token: %w", err))
	}

	msg := appMail.PasswordResetMessage(account.Email, s.resetLink(token))
	if err := s.send(ctx, appMail.KindPasswordReset, msg); err != nil {
		return appErrors.ErrDependency.WithInternal(fmt.Errorf("send reset email: %w", err))
	}

	s.log.Info("password reset requested", zap.String("account_id", account.ID))
	return nil
}

// ResetPassword consumes a reset token and stores the new password hash.
// The same atomic compare-and-clear discipline as VerifyEmail applies.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) (*models.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, appErrors.ErrInvalidToken
	}

	if err := crypto.ValidatePassword(newPassword); err != nil {
		return nil, appErrors.NewValidation(err.Error())
	}

	tokenHash := crypto.HashToken(token)

	var account models.Account
	err := s.db.WithContext(ctx).Where("reset_token_hash = ?", tokenHash).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.TokenConsumptions.WithLabelValues("reset", "rejected").Inc()
			return nil, appErrors.ErrInvalidToken
		}
		return nil, appErrors.ErrDependency.WithInternal(fmt.Errorf("lookup reset token: %w", err))
	}

	newHash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return nil, appErrors.ErrInternalServer.WithInternal(fmt.Errorf("hash password: %w", err))
	}

	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND reset_token_hash = ? AND reset_expires_at > ?", account.ID, tokenHash, s.now()).
		Updates(map[string]any{
			"password":         newHash,
			"reset_token_hash": nil,
			"reset_expires_at": nil,
		})
	if res.Error != nil {
		return nil, appErrors.ErrDependency.WithInternal(fmt.Errorf("consume reset token: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		metrics.TokenConsumptions.WithLabelValues("reset", "rejected").Inc()
		return nil, appErrors.ErrInvalidToken
	}

	if err := s.db.WithContext(ctx).Take(&account, "id = ?", account.ID).Error; err != nil {
		return nil, appErrors.ErrDependency.WithInternal(fmt.Errorf("reload account: %w", err))
	}

	s.sendBestEffort(ctx, appMail.KindResetConfirmation, appMail.ResetConfirmationMessage(account.Email))

	metrics.TokenConsumptions.WithLabelValues("reset", "success").Inc()
	s.log.Info("password reset completed", zap.String("account_id", account.ID))

	return &account, nil
}

// GetAccount loads an account by id, e.g. for the authenticated /me endpoint.
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Take(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.ErrDependency.WithInternal(fmt.Errorf("lookup account: %w", err))
	}
	return &account, nil
}

// send dispatches an email and records the outcome metric. A disabled mailer
// is treated as a successful no-op.
func (s *AccountService) send(ctx context.Context, kind string, msg appMail.Message) error {
	if s.mailer == nil {
		metrics.EmailsSent.WithLabelValues(kind, "disabled").Inc()
		return nil
	}

	err := s.mailer.Send(ctx, msg)
	switch {
	case err == nil:
		metrics.EmailsSent.WithLabelValues(kind, "sent").Inc()
		return nil
	case errors.Is(err, appMail.ErrSMTPDisabled):
		metrics.EmailsSent.WithLabelValues(kind, "disabled").Inc()
		return nil
	default:
		metrics.EmailsSent.WithLabelValues(kind, "failed").Inc()
		return err
	}
}

// sendBestEffort dispatches an email and only logs on failure. It reports
// whether the message actually went out.
func (s *AccountService) sendBestEffort(ctx context.Context, kind string, msg appMail.Message) bool {
	if s.mailer == nil {
		metrics.EmailsSent.WithLabelValues(kind, "disabled").Inc()
		return false
	}

	err := s.mailer.Send(ctx, msg)
	switch {
	case err == nil:
		metrics.EmailsSent.WithLabelValues(kind, "sent").Inc()
		return true
	case errors.Is(err, appMail.ErrSMTPDisabled):
		metrics.EmailsSent.WithLabelValues(kind, "disabled").Inc()
		return false
	default:
		metrics.EmailsSent.WithLabelValues(kind, "failed").Inc()
		s.log.Warn("email delivery failed", zap.String("kind", kind), zap.Error(err))
		return false
	}
}

func (s *AccountService) resetLink(token string) string {
	if s.resetBaseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/reset-password/%s", s.resetBaseURL, token)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", appErrors.NewValidation("email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", appErrors.NewValidation("email must be a valid email address")
	}
	return email, nil
}
