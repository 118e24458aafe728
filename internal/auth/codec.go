package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrEmptyIdentity = errors.New("empty_identity")
	ErrMissingSecret = errors.New("missing_jwt_secret")
)

// Identity is what the identity verifier vouches for. The codec never checks
// passwords itself.
type Identity struct {
	UserID string
	Email  string
}

type Credential struct {
	Kind      Kind
	Value     string
	ID        string
	ExpiresAt time.Time
}

type Pair struct {
	Access  Credential
	Refresh Credential
}

type CodecConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

type Codec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewCodec(cfg CodecConfig) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access ttl must be positive")
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL < cfg.AccessTTL {
		// access expiry must never outlive its refresh partner
		refreshTTL = cfg.AccessTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

// Issue mints an access/refresh pair anchored at the same instant.
func (c *Codec) Issue(identity Identity) (Pair, error) {
	if identity.UserID == "" {
		return Pair{}, ErrEmptyIdentity
	}
	now := c.now().UTC().Truncate(time.Second)

	access, err := c.credential(identity, KindAccess, now, c.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := c.credential(identity, KindRefresh, now, c.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// Parse validates signature, issuer, expiry and the kind claim.
func (c *Codec) Parse(value string, kind Kind) (*Claims, error) {
	claims, err := parseToken(c.secret, c.issuer, value, c.now())
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongKind, kind, claims.Kind)
	}
	return claims, nil
}

func (c *Codec) credential(identity Identity, kind Kind, now time.Time, ttl time.Duration) (Credential, error) {
	id := uuid.NewString()
	expiresAt := now.Add(ttl)
	value, err := signToken(c.secret, Claims{
		UserID: identity.UserID,
		Email:  identity.Email,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   identity.UserID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return Credential{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return Credential{Kind: kind, Value: value, ID: id, ExpiresAt: expiresAt}, nil
}
