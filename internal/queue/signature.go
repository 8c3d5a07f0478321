package queue

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SignatureHeader carries the callback JWT.
const SignatureHeader = "X-Queue-Signature"

var (
	ErrInvalidSignature = errors.New("invalid queue signature")
	ErrReplayed         = errors.New("queue signature already used")
)

// Claims binds a callback token to the exact request body.
type Claims struct {
	BodyHash string `json:"body"`
	jwt.RegisteredClaims
}

type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(key, issuer string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Signer{key: []byte(key), issuer: issuer, ttl: ttl, now: time.Now}
}

// Sign issues an HS256 token for body. subject is the job id.
func (s *Signer) Sign(subject string, body []byte) (string, error) {
	now := s.now()
	claims := Claims{
		BodyHash: BodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign callback: %w", err)
	}
	return token, nil
}

// BodyHash is the hex sha256 of a callback body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type Verifier struct {
	key           []byte
	issuer        string
	guard         ReplayGuard
	rejectReplays bool
	now           func() time.Time
	logger        *slog.Logger
}

type VerifierOption func(*Verifier)

// WithReplayGuard records token ids. Replays are logged, and refused when
// reject is set.
func WithReplayGuard(g ReplayGuard, reject bool) VerifierOption {
	return func(v *Verifier) {
		v.guard = g
		v.rejectReplays = reject
	}
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func NewVerifier(key, issuer string, logger *slog.Logger, opts ...VerifierOption) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Verifier{key: []byte(key), issuer: issuer, now: time.Now, logger: logger}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify checks the token signature, issuer, expiry and body hash. Every
// failure wraps ErrInvalidSignature except a refused replay.
func (v *Verifier) Verify(ctx context.Context, token string, body []byte) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return v.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if subtle.ConstantTimeCompare([]byte(claims.BodyHash), []byte(BodyHash(body))) != 1 {
		return nil, fmt.Errorf("%w: body does not match signature", ErrInvalidSignature)
	}

	if v.guard != nil && claims.ID != "" {
		ttl := claims.ExpiresAt.Sub(v.now())
		first, err := v.guard.FirstUse(ctx, claims.ID, ttl)
		switch {
		case err != nil:
			v.logger.Warn("queue.signature.replay_guard_error", "jti", claims.ID, "error", err)
		case !first:
			v.logger.Warn("queue.signature.replayed", "jti", claims.ID, "subject", claims.Subject)
			if v.rejectReplays {
				return nil, ErrReplayed
			}
		}
	}
	return claims, nil
}
