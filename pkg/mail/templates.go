package mail

import "fmt"

// Template kinds used for metrics labels and logging.
const (
	KindVerification      = "verification"
	KindWelcome           = "welcome"
	KindPasswordReset     = "password_reset"
	KindResetConfirmation = "reset_confirmation"
)

// VerificationMessage builds the email carrying the 6-digit verification code.
func VerificationMessage(to, code string) Message {
	return Message{
		To:      []string{to},
		Subject: "Verify your email",
		Body: fmt.Sprintf("Welcome!\n\nYour verification code is: %s\n\n"+
			"Enter this code to confirm your email address. The code expires in 24 hours.\n\n"+
			"If you did not create an account, you can ignore this message.\n", code),
	}
}

// WelcomeMessage builds the email sent once an address is verified.
func WelcomeMessage(to, name string) Message {
	return Message{
		To:      []string{to},
		Subject: "Welcome aboard",
		Body: fmt.Sprintf("Hi %s,\n\nYour email address has been verified and your account is ready to use.\n\n"+
			"Thanks for joining us.\n", name),
	}
}

// PasswordResetMessage builds the email carrying the reset link.
func PasswordResetMessage(to, resetURL string) Message {
	return Message{
		To:      []string{to},
		Subject: "Password Reset Request",
		Body: fmt.Sprintf("We received a request to reset your password.\n\n"+
			"Visit the link below to choose a new password. The link expires in 1 hour.\n%s\n\n"+
			"If you did not request a reset, no action is needed.\n", resetURL),
	}
}

// ResetConfirmationMessage builds the email sent after a successful reset.
func ResetConfirmationMessage(to string) Message {
	return Message{
		To:      []string{to},
		Subject: "Password Reset Successfully",
		Body: "Your password has been changed.\n\n" +
			"If you did not perform this reset, contact support immediately.\n",
	}
}
