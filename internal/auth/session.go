// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth signs and verifies the session tokens presented at the socket gateway.
// Keys are generated fresh at startup unless loaded from file; a restart
// therefore invalidates outstanding tokens, which is acceptable because
// clients re-authenticate on reconnect.
type Auth struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// expireSec indicates how many seconds until JWT expiration (0 => never).
	expireSec int
}

// New generates a fresh ed25519 key pair and reads TOKEN_EXPIRE_TIME from the
// environment ("never", "0" or empty disable expiry).
func New() (*Auth, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	a := &Auth{privateKey: priv, publicKey: pub}
	if err := a.parseExpireTime(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewFromPath reads an ed25519 private/public key pair from file so that
// replicas behind one load balancer can validate each other's tokens.
func NewFromPath(privatePath, publicPath string) (*Auth, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}

	a := &Auth{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
	}
	if err := a.parseExpireTime(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Auth) parseExpireTime() error {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		a.expireSec = 0
		return nil
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return fmt.Errorf("failed to parse token expire time: %w", err)
	}
	a.expireSec = int(d.Seconds())
	return nil
}

// CreateToken creates a signed JWT with "sub" = userID.
func (a *Auth) CreateToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
	}
	if a.expireSec > 0 {
		claims["exp"] = time.Now().Add(time.Duration(a.expireSec) * time.Second).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(a.privateKey)
}

// VerifyToken verifies a JWT string and returns the "sub" field if valid.
func (a *Auth) VerifyToken(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("token missing sub claim")
	}
	return sub, nil
}
