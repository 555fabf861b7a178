package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/myassin/authflow/internal/auth"
	"github.com/myassin/authflow/internal/database/testutil"
	"github.com/myassin/authflow/internal/models"
	"github.com/myassin/authflow/pkg/crypto"
	appErrors "github.com/myassin/authflow/pkg/errors"
	appMail "github.com/myassin/authflow/pkg/mail"
)

type captureMailer struct {
	mu       sync.Mutex
	messages []appMail.Message
	failWith error
}

func (m *captureMailer) Send(_ context.Context, msg appMail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *captureMailer) sent() []appMail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]appMail.Message(nil), m.messages...)
}

func (m *captureMailer) last(t *testing.T) appMail.Message {
	t.Helper()
	msgs := m.sent()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	db       *gorm.DB
	svc      *AccountService
	sessions *iauth.SessionService
	mailer   *captureMailer
	clock    *testClock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	sessions, err := iauth.NewSessionService(iauth.SessionConfig{Secret: "test-secret", Issuer: "authflow"})
	require.NoError(t, err)

	mailer := &captureMailer{}
	clock := &testClock{now: time.Now()}

	svc, err := NewAccountService(db, sessions, mailer,
		WithClock(clock.Now),
		WithResetBaseURL("https://app.test"),
	)
	require.NoError(t, err)

	return &serviceFixture{db: db, svc: svc, sessions: sessions, mailer: mailer, clock: clock}
}

func (f *serviceFixture) signup(t *testing.T, email string) *SignupResult {
	t.Helper()
	result, err := f.svc.Signup(context.Background(), SignupInput{
		Email:    email,
		Password: "Abc123!",
		Name:     "Test User",
	})
	require.NoError(t, err)
	return result
}

func (f *serviceFixture) reload(t *testing.T, id string) *models.Account {
	t.Helper()
	var account models.Account
	require.NoError(t, f.db.Take(&account, "id = ?", id).Error)
	return &account
}

func errorCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return appErrors.FromError(err).Code
}

func TestNewAccountServiceRequiresDependencies(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	sessions, err := iauth.NewSessionService(iauth.SessionConfig{Secret: "s"})
	require.NoError(t, err)

	_, err = NewAccountService(nil, sessions, nil)
	require.EqualError(t, err, "account service: db is required")

	_, err = NewAccountService(db, nil, nil)
	require.EqualError(t, err, "account service: session service is required")
}

func TestSignupCreatesUnverifiedAccount(t *testing.T) {
	f := newServiceFixture(t)

	result := f.signup(t, "User@Example.COM")

	require.Equal(t, "user@example.com", result.Account.Email)
	require.False(t, result.Account.IsVerified)
	require.True(t, result.EmailDelivered)

	// The session token asserts the new account's identity.
	accountID, err := f.sessions.Verify(result.SessionToken)
	require.NoError(t, err)
	require.Equal(t, result.Account.ID, accountID)

	stored := f.reload(t, result.Account.ID)
	require.NotEqual(t, "Abc123!", stored.Password)
	require.True(t, crypto.VerifyPassword(stored.Password, "Abc123!"))
	require.True(t, stored.HasActiveVerification(f.clock.Now()))
	require.Len(t, *stored.VerificationCode, 6)
	require.WithinDuration(t, f.clock.Now().Add(24*time.Hour), *stored.VerificationExpiresAt, time.Second)

	// The verification email carries the stored code.
	msg := f.mailer.last(t)
	require.Equal(t, []string{"user@example.com"}, msg.To)
	require.Contains(t, msg.Body, *stored.VerificationCode)
}

func TestSignupRejectsInvalidInput(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input SignupInput
	}{
		{"missing email", SignupInput{Password: "Abc123!", Name: "Test"}},
		{"malformed email", SignupInput{Email: "not-an-email", Password: "Abc123!", Name: "Test"}},
		{"short name", SignupInput{Email: "a@x.com", Password: "Abc123!", Name: "A"}},
		{"weak password", SignupInput{Email: "a@x.com", Password: "password", Name: "Test"}},
		{"overlong password", SignupInput{Email: "a@x.com", Password: strings.Repeat("Aa1!", 19), Name: "Test"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Signup(ctx, tc.input)
			require.Equal(t, "VALIDATION_ERROR", errorCode(t, err))
		})
	}

	require.Empty(t, f.mailer.sent())
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)

	f.signup(t, "user@example.com")

	_, err := f.svc.Signup(context.Background(), SignupInput{
		Email:    "USER@example.com",
		Password: "Abc123!",
		Name:     "Second User",
	})
	require.ErrorIs(t, err, appErrors.ErrEmailTaken)
}

func TestSignupSurvivesMailFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.mailer.failWith = errors.New("smtp: connection refused")

	result, err := f.svc.Signup(context.Background(), SignupInput{
		Email:    "user@example.com",
		Password: "Abc123!",
		Name:     "Test User",
	})
	require.NoError(t, err)
	require.False(t, result.EmailDelivered)
	require.NotEmpty(t, result.SessionToken)

	stored := f.reload(t, result.Account.ID)
	require.True(t, stored.HasActiveVerification(f.clock.Now()))
}

func TestVerifyEmailConsumesCode(t *testing.T) {
	f := newServiceFixture(t)
	result := f.signup(t, "user@example.com")
	code := *f.reload(t, result.Account.ID).VerificationCode

	verified, err := f.svc.VerifyEmail(context.Background(), code)
	require.NoError(t, err)
	require.True(t, verified.IsVerified)

	stored := f.reload(t, result.Account.ID)
	require.True(t, stored.IsVerified)
	require.Nil(t, stored.VerificationCode)
	require.Nil(t, stored.VerificationExpiresAt)

	msg := f.mailer.last(t)
	require.Equal(t, "Welcome aboard", msg.Subject)
}

func TestVerifyEmailRejectsWrongCode(t *testing.T) {
	f := newServiceFixture(t)
	result := f.signup(t, "user@example.com")

	_, err := f.svc.VerifyEmail(context.Background(), "000000")
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)

	_, err = f.svc.VerifyEmail(context.Background(), "")
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)

	require.False(t, f.reload(t, result.Account.ID).IsVerified)
}

func TestVerifyEmailRejectsReplay(t *testing.T) {
	f := newServiceFixture(t)
	result := f.signup(t, "user@example.com")
	code := *f.reload(t, result.Account.ID).VerificationCode

	_, err := f.svc.VerifyEmail(context.Background(), code)
	require.NoError(t, err)

	_, err = f.svc.VerifyEmail(context.Background(), code)
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestVerifyEmailConcurrentConsumersOneWins(t *testing.T) {
	f := newServiceFixture(t)
	result := f.signup(t, "user@example.com")
	code := *f.reload(t, result.Account.ID).VerificationCode

	// Serialize connections so the race plays out in the service, not as
	// SQLite write-lock errors.
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyEmail(context.Background(), code)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, rejections int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, appErrors.ErrInvalidToken):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, rejections)
	require.True(t, f.reload(t, result.Account.ID).IsVerified)
}

func TestResetPasswordConcurrentConsumersOneWins(t *testing.T) {
	f := newServiceFixture(t)
	f.signup(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "user@example.com"))
	token := extractResetToken(t, f.mailer.last(t))

	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ResetPassword(ctx, token, "New123!")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, rejections int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, appErrors.ErrInvalidToken):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, rejections)

	_, _, err = f.svc.Login(ctx, "user@example.com", "New123!")
	require.NoError(t, err)
}

func TestVerifyEmailRejectsExpiredCode(t *testing.T) {
	f := newServiceFixture(t)
	result := f.signup(t, "user@example.com")
	code := *f.reload(t, result.Account.ID).VerificationCode

	f.clock.Advance(24*time.Hour + time.Minute)

	_, err := f.svc.VerifyEmail(context.Background(), code)
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)
	require.False(t, f.reload(t, result.Account.ID).IsVerified)
}

func TestLoginIssuesSession(t *testing.T) {
	f := newServiceFixture(t)
	result := f.signup(t, "user@example.com")

	account, token, err := f.svc.Login(context.Background(), "User@Example.com", "Abc123!")
	require.NoError(t, err)
	require.Equal(t, result.Account.ID, account.ID)
	require.NotNil(t, account.LastLoginAt)

	accountID, err := f.sessions.Verify(token)
	require.NoError(t, err)
	require.Equal(t, account.ID, accountID)
}

func TestLoginDoesNotRevealWhichFactorFailed(t *testing.T) {
	f := newServiceFixture(t)
	f.signup(t, "user@example.com")

	_, _, unknownErr := f.svc.Login(context.Background(), "other@example.com", "Abc123!")
	_, _, wrongErr := f.svc.Login(context.Background(), "user@example.com", "Wrong123!")

	require.ErrorIs(t, unknownErr, appErrors.ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, appErrors.ErrInvalidCredentials)
	require.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLoginWorksBeforeVerification(t *testing.T) {
	f := newServiceFixture(t)
	f.signup(t, "user@example.com")

	_, token, err := f.svc.Login(context.Background(), "user@example.com", "Abc123!")
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestForgotPasswordAcknowledgesUnknownEmail(t *testing.T) {
	f := newServiceFixture(t)

	err := f.svc.ForgotPassword(context.Background(), "unknown@example.com")
	require.NoError(t, err)
	require.Empty(t, f.mailer.sent())
}

func TestForgotPasswordStoresHashedChallenge(t *testing.T) {
	f := newServiceFixture(t)
	result := f.signup(t, "user@example.com")

	require.NoError(t, f.svc.ForgotPassword(context.Background(), "user@example.com"))

	token := extractResetToken(t, f.mailer.last(t))
	stored := f.reload(t, result.Account.ID)
	require.True(t, stored.HasActiveReset(f.clock.Now()))
	require.WithinDuration(t, f.clock.Now().Add(time.Hour), *stored.ResetExpiresAt, time.Second)

	// Only the digest is at rest; the raw token never touches the store.
	require.Equal(t, crypto.HashToken(token), *stored.ResetTokenHash)
	require.NotContains(t, *stored.ResetTokenHash, token)
}

func TestForgotPasswordFailsWhenMailFails(t *testing.T) {
	f := newServiceFixture(t)
	f.signup(t, "user@example.com")
	f.mailer.failWith = errors.New("smtp: connection refused")

	err := f.svc.ForgotPassword(context.Background(), "user@example.com")
	require.Equal(t, "DEPENDENCY_FAILURE", errorCode(t, err))
}

func TestForgotPasswordReplacesPreviousChallenge(t *testing.T) {
	f := newServiceFixture(t)
	f.signup(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "user@example.com"))
	firstToken := extractResetToken(t, f.mailer.last(t))

	require.NoError(t, f.svc.ForgotPassword(ctx, "user@example.com"))
	secondToken := extractResetToken(t, f.mailer.last(t))
	require.NotEqual(t, firstToken, secondToken)

	// The superseded token no longer works; the fresh one does.
	_, err := f.svc.ResetPassword(ctx, firstToken, "New123!")
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)

	_, err = f.svc.ResetPassword(ctx, secondToken, "New123!")
	require.NoError(t, err)
}

func TestResetPasswordRotatesCredential(t *testing.T) {
	f := newServiceFixture(t)
	result := f.signup(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "user@example.com"))
	token := extractResetToken(t, f.mailer.last(t))

	account, err := f.svc.ResetPassword(ctx, token, "New123!")
	require.NoError(t, err)
	require.Equal(t, result.Account.ID, account.ID)

	stored := f.reload(t, result.Account.ID)
	require.Nil(t, stored.ResetTokenHash)
	require.Nil(t, stored.ResetExpiresAt)

	msg := f.mailer.last(t)
	require.Equal(t, "Password Reset Successfully", msg.Subject)

	_, _, err = f.svc.Login(ctx, "user@example.com", "Abc123!")
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, _, err = f.svc.Login(ctx, "user@example.com", "New123!")
	require.NoError(t, err)
}

func TestResetPasswordRejectsReplay(t *testing.T) {
	f := newServiceFixture(t)
	f.signup(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "user@example.com"))
	token := extractResetToken(t, f.mailer.last(t))

	_, err := f.svc.ResetPassword(ctx, token, "New123!")
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(ctx, token, "Other123!")
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestResetPasswordRejectsExpiredToken(t *testing.T) {
	f := newServiceFixture(t)
	f.signup(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "user@example.com"))
	token := extractResetToken(t, f.mailer.last(t))

	f.clock.Advance(time.Hour + time.Minute)

	_, err := f.svc.ResetPassword(ctx, token, "New123!")
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestResetPasswordRejectsWeakPassword(t *testing.T) {
	f := newServiceFixture(t)
	f.signup(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "user@example.com"))
	token := extractResetToken(t, f.mailer.last(t))

	_, err := f.svc.ResetPassword(ctx, token, "short")
	require.Equal(t, "VALIDATION_ERROR", errorCode(t, err))

	// The failed attempt must not burn the token.
	_, err = f.svc.ResetPassword(ctx, token, "New123!")
	require.NoError(t, err)
}

func TestResetPasswordRejectsUnknownToken(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.ResetPassword(context.Background(), "deadbeef", "New123!")
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)

	_, err = f.svc.ResetPassword(context.Background(), "", "New123!")
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestGetAccount(t *testing.T) {
	f := newServiceFixture(t)
	result := f.signup(t, "user@example.com")

	account, err := f.svc.GetAccount(context.Background(), result.Account.ID)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", account.Email)

	_, err = f.svc.GetAccount(context.Background(), "missing-id")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

// extractResetToken pulls the raw token out of the reset link embedded in the
// email body.
func extractResetToken(t *testing.T, msg appMail.Message) string {
	t.Helper()
	for _, field := range strings.Fields(msg.Body) {
		if idx := strings.LastIndex(field, "/reset-password/"); idx >= 0 {
			return field[idx+len("/reset-password/"):]
		}
	}
	t.Fatalf("no reset link found in message body: %q", msg.Body)
	return ""
}
