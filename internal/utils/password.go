package utils

import "golang.org/x/crypto/bcrypt"

// bcrypt only reads the first 72 bytes of a password and newer releases of
// x/crypto refuse longer input outright.  Passwords may be up to 100
// characters, so both hashing and verification cut at the same boundary.
const bcryptMaxBytes = 72

func bcryptInput(plain string) []byte {
	b := []byte(plain)
	if len(b) > bcryptMaxBytes {
		b = b[:bcryptMaxBytes]
	}
	return b
}

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword(bcryptInput(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(plain)) == nil
}
