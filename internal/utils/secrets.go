package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// passwordAlphabet leaves out characters that are easy to misread on a
// printed handover sheet (0/O, 1/l/I)
const passwordAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DeploymentSecrets are the values a fresh ticket office install needs
type DeploymentSecrets struct {
	JWTSecret        string
	JWTRefreshSecret string
	AdminPassword    string
}

// GenerateSecret returns n random bytes hex encoded
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GeneratePassword returns a random password of the given length
func GeneratePassword(length int) (string, error) {
	if length < 8 {
		return "", fmt.Errorf("password length must be at least 8, got %d", length)
	}
	limit := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// GenerateJWTSecrets generates distinct 256-bit access and refresh secrets
func GenerateJWTSecrets() (accessSecret, refreshSecret string, err error) {
	accessSecret, err = GenerateSecret(32)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access secret: %w", err)
	}
	refreshSecret, err = GenerateSecret(32)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh secret: %w", err)
	}
	return accessSecret, refreshSecret, nil
}

// GenerateDeploymentSecrets builds the JWT secrets and, when asked, a
// password for the bootstrap admin account
func GenerateDeploymentSecrets(withAdmin bool) (*DeploymentSecrets, error) {
	access, refresh, err := GenerateJWTSecrets()
	if err != nil {
		return nil, err
	}
	secrets := &DeploymentSecrets{JWTSecret: access, JWTRefreshSecret: refresh}
	if withAdmin {
		if secrets.AdminPassword, err = GeneratePassword(16); err != nil {
			return nil, err
		}
	}
	return secrets, nil
}
