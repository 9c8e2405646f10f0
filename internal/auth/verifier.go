package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/garloff/jitsi-whisper-bridge/internal/config"
)

// Reason classifies the outcome of a credential verification. Only ReasonOK
// accepts the connection; all rejection reasons are collapsed into one
// generic rejection at the protocol boundary and must never reach the client.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonInvalidSignature
	ReasonAudienceMismatch
	ReasonExpired
	ReasonMalformed
)

// String returns the reason name for logging
func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonInvalidSignature:
		return "invalid_signature"
	case ReasonAudienceMismatch:
		return "audience_mismatch"
	case ReasonExpired:
		return "expired"
	case ReasonMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Verifier validates bearer credentials against process-wide trust material:
// an RSA public key and an expected audience, both immutable after startup.
// Verification is pure and safe for unsynchronized concurrent use.
type Verifier struct {
	enabled  bool
	audience string
	key      *rsa.PublicKey
}

// NewVerifier builds a verifier from configuration, loading the PEM-encoded
// public key when authentication is enabled. A missing or unparsable key is
// a startup failure.
func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	v := &Verifier{
		enabled:  cfg.Enabled,
		audience: cfg.Audience,
	}

	if !cfg.Enabled {
		return v, nil
	}

	pemData, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key %s: %w", cfg.PublicKeyPath, err)
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key %s: %w", cfg.PublicKeyPath, err)
	}

	v.key = key
	return v, nil
}

// NewVerifierWithKey builds an enabled verifier from an already-parsed key
func NewVerifierWithKey(key *rsa.PublicKey, audience string) *Verifier {
	return &Verifier{
		enabled:  true,
		audience: audience,
		key:      key,
	}
}

// Enabled reports whether credential verification is active. When disabled
// every connection is accepted; this mode exists only for trusted-network
// testing.
func (v *Verifier) Enabled() bool {
	return v.enabled
}

// Verify checks a bearer credential against the trust material at the given
// instant. It returns the token issuer (for logging) and a Reason; the
// credential is accepted iff the reason is ReasonOK.
func (v *Verifier) Verify(token string, now time.Time) (string, Reason) {
	if !v.enabled {
		return "no-auth-mode", ReasonOK
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	parsed, err := parser.Parse(token, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		return "", classify(err)
	}

	issuer, err := parsed.Claims.GetIssuer()
	if err != nil || issuer == "" {
		issuer = "unknown"
	}

	return issuer, ReasonOK
}

// classify maps jwt validation errors onto rejection reasons. Order matters:
// a token can fail several checks at once and the most specific reason wins.
func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonAudienceMismatch
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonInvalidSignature
	default:
		return ReasonMalformed
	}
}
