package crypto

import (
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret creates a new TOTP key for enrolling a user. The
// returned key carries both the secret and the otpauth:// provisioning URL.
func GenerateTOTPSecret(issuer, account string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
}

// ValidateTOTP checks a 6-digit code against the stored secret, allowing
// the default one-period clock skew.
func ValidateTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
