// Package auth resolves bearer tokens into gateway identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var _ core.IdentityResolver = (*JWTResolver)(nil)

type Claims struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	jwt.RegisteredClaims
}

// Users is the slice of the store the resolver needs.
type Users interface {
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
	SaveUser(ctx context.Context, u *domain.User) error
}

// JWTResolver validates HS256 tokens whose subject is a user id. When
// AutoProvision is set, a valid token for an unknown user creates the user
// from the claims; otherwise unknown users are rejected.
type JWTResolver struct {
	Secret        []byte
	Issuer        string
	Users         Users
	AutoProvision bool
	TTL           time.Duration
}

func (r *JWTResolver) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if r.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.Issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrUnauthenticated, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, core.ErrUnauthenticated
	}
	return claims, nil
}

func (r *JWTResolver) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, core.ErrUnauthenticated
	}
	claims, err := r.parse(token)
	if err != nil {
		return nil, err
	}
	uid := domain.UserID(claims.Subject)

	u, err := r.Users.GetUser(ctx, uid)
	switch {
	case err == nil:
		return domain.IdentityOf(u), nil
	case !errors.Is(err, domain.ErrNotFound):
		// Not a rejected credential; the caller may retry.
		return nil, fmt.Errorf("load user %s: %w", uid, err)
	case !r.AutoProvision:
		return nil, fmt.Errorf("%w: user %s: %w", core.ErrUnauthenticated, uid, err)
	}

	u, err = domain.NewUser(uid, claims.Username, claims.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("%w: provision: %w", core.ErrUnauthenticated, err)
	}
	if err := r.Users.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("provision user %s: %w", uid, err)
	}
	log.Info().Str("module", "adapters.auth").Str("user", string(uid)).Msg("provisioned user")
	return domain.IdentityOf(u), nil
}

// Issue signs a token for u. Used by tooling and tests; the gateway itself
// only consumes tokens.
func (r *JWTResolver) Issue(u *domain.User) (string, error) {
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.Issuer,
			Subject:   string(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.Secret)
}
