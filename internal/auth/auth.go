// Package auth verifies the bearer credential a client presents when it opens
// a hub connection and resolves it to a user id.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SubprotocolPrefix marks a Sec-WebSocket-Protocol entry that carries the
// credential, for clients that cannot set query parameters.
const SubprotocolPrefix = "token."

var (
	ErrMissingCredential   = errors.New("auth: missing credential")
	ErrMalformedCredential = errors.New("auth: malformed credential")
	ErrExpiredCredential   = errors.New("auth: credential expired")
	ErrBadSignature        = errors.New("auth: bad signature")
	ErrInvalidClaims       = errors.New("auth: invalid claims")
)

// WebSocket close codes sent when admission is refused. 4000-4999 is the
// application range.
const (
	CloseRejected     = 4000
	CloseMissing      = 4001
	CloseMalformed    = 4002
	CloseExpired      = 4003
	CloseBadSignature = 4004
	CloseBadClaims    = 4005
)

// CloseCode maps an Authenticate error to its close code.
func CloseCode(err error) int {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return CloseMissing
	case errors.Is(err, ErrMalformedCredential):
		return CloseMalformed
	case errors.Is(err, ErrExpiredCredential):
		return CloseExpired
	case errors.Is(err, ErrBadSignature):
		return CloseBadSignature
	case errors.Is(err, ErrInvalidClaims):
		return CloseBadClaims
	default:
		return CloseRejected
	}
}

// Reason returns a short label for an Authenticate error, used in logs and
// metrics.
func Reason(err error) string {
	switch CloseCode(err) {
	case CloseMissing:
		return "missing"
	case CloseMalformed:
		return "malformed"
	case CloseExpired:
		return "expired"
	case CloseBadSignature:
		return "bad_signature"
	case CloseBadClaims:
		return "invalid_claims"
	default:
		return "rejected"
	}
}

// Config holds the verification parameters.
type Config struct {
	Secret string
	Issuer string // optional; checked when non-empty
	Leeway time.Duration
}

// Authenticator validates HS256 tokens whose subject is the user id.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// New creates an Authenticator. The secret must be non-empty.
func New(cfg Config) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth: empty signing secret")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Authenticator{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Authenticate verifies credential and returns the user id it was issued to.
func (a *Authenticator) Authenticate(credential string) (string, error) {
	if credential == "" {
		return "", ErrMissingCredential
	}

	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", classify(err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidClaims)
	}
	return claims.Subject, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredCredential, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
}

// CredentialFromRequest extracts the credential from the "token" query
// parameter, falling back to a "token.<credential>" subprotocol entry.
func CredentialFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, proto := range strings.Split(header, ",") {
			proto = strings.TrimSpace(proto)
			if strings.HasPrefix(proto, SubprotocolPrefix) {
				return strings.TrimPrefix(proto, SubprotocolPrefix)
			}
		}
	}
	return ""
}
