package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"asset-register/backend/internal/apperr"
)

// MinHMACSecretLen is the minimum HS256 secret length in bytes (256 bits).
const MinHMACSecretLen = 32

var (
	// ErrNoSigningKey is returned at startup when neither a key pair nor a strong secret is configured.
	ErrNoSigningKey = errors.New("no usable JWT signing key: set JWT_PRIVATE_KEY/JWT_PUBLIC_KEY or a JWT_SECRET of at least 32 bytes")
	// ErrWeakSecret is returned when the HS256 secret is shorter than MinHMACSecretLen.
	ErrWeakSecret = errors.New("JWT secret must be at least 32 bytes")
)

// TokenType discriminates access from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims are the JWT claims for both token types.
type Claims struct {
	jwt.RegisteredClaims
	Type      TokenType `json:"typ"`
	SessionID string    `json:"sid,omitempty"`
	DeviceID  string    `json:"did,omitempty"`
}

// UserID returns the subject.
func (c *Claims) UserID() string { return c.Subject }

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenOptions configure issuer, audience and lifetimes.
type TokenOptions struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService issues and verifies JWT access and refresh tokens. It signs with
// RS256/ES256 when a key pair is configured, otherwise HS256.
type TokenService struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	opts      TokenOptions
	now       func() time.Time
}

// NewAsymmetricTokenService returns a TokenService signing with keys.
func NewAsymmetricTokenService(keys *KeyPair, opts TokenOptions) (*TokenService, error) {
	method := jwt.GetSigningMethod(keys.Alg)
	if method == nil {
		return nil, ErrInvalidKey
	}
	return newTokenService(method, keys.Private, keys.Public, opts), nil
}

// NewHMACTokenService returns a TokenService signing with HS256.
func NewHMACTokenService(secret []byte, opts TokenOptions) (*TokenService, error) {
	if len(secret) < MinHMACSecretLen {
		return nil, ErrWeakSecret
	}
	key := append([]byte(nil), secret...)
	return newTokenService(jwt.SigningMethodHS256, key, key, opts), nil
}

// NewTokenServiceFromConfig prefers the key pair (inline PEM or path) and falls
// back to secret. It fails when neither is usable.
func NewTokenServiceFromConfig(privatePEM, publicPEM, secret string, opts TokenOptions) (*TokenService, error) {
	if privatePEM != "" && publicPEM != "" {
		keys, err := LoadKeyPair(privatePEM, publicPEM)
		if err != nil {
			return nil, err
		}
		return NewAsymmetricTokenService(keys, opts)
	}
	if secret == "" {
		return nil, ErrNoSigningKey
	}
	return NewHMACTokenService([]byte(secret), opts)
}

func newTokenService(method jwt.SigningMethod, signKey, verifyKey any, opts TokenOptions) *TokenService {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	return &TokenService{method: method, signKey: signKey, verifyKey: verifyKey, opts: opts, now: time.Now}
}

// Algorithm returns the JWT alg in use.
func (s *TokenService) Algorithm() string { return s.method.Alg() }

// AccessTTL returns the default access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.opts.AccessTTL }

// RefreshTTL returns the refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.opts.RefreshTTL }

// IssueAccess issues an access token for userID bound to sessionID. ttl <= 0 uses the default.
func (s *TokenService) IssueAccess(userID, sessionID string, ttl time.Duration) (Issued, error) {
	if ttl <= 0 {
		ttl = s.opts.AccessTTL
	}
	return s.issue(TokenAccess, userID, sessionID, "", ttl)
}

// IssueRefresh issues a refresh token for userID on deviceID.
func (s *TokenService) IssueRefresh(userID, sessionID, deviceID string) (Issued, error) {
	return s.issue(TokenRefresh, userID, sessionID, deviceID, s.opts.RefreshTTL)
}

func (s *TokenService) issue(typ TokenType, userID, sessionID, deviceID string, ttl time.Duration) (Issued, error) {
	now := s.now().UTC()
	jti := uuid.NewString()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    s.opts.Issuer,
			Audience:  jwt.ClaimStrings{s.opts.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type:      typ,
		SessionID: sessionID,
		DeviceID:  deviceID,
	}
	token, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

// Verify parses token, checks signature, expiry, issuer and audience, then the
// type discriminator. Errors are apperr.ErrTokenExpired, apperr.ErrWrongTokenType
// or apperr.ErrInvalidSignature.
func (s *TokenService) Verify(token string, want TokenType) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.opts.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.opts.Issuer))
	}
	if s.opts.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.opts.Audience))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.verifyKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.ErrTokenExpired
		}
		return nil, apperr.ErrInvalidSignature
	}
	if claims.Type != want {
		return nil, apperr.ErrWrongTokenType
	}
	return claims, nil
}
