// Package authgate resolves bearer credentials to owner ids. Two shapes
// are accepted: a user JWT signed by the accounts service, and the bot
// composite "<telegramId>:<secret>" where the secret must equal the
// configured bot token.
package authgate

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/logger"
)

// ErrNoCredentials carries the no-credentials hint. It still unwraps to
// ErrUnauthorized so the API layer maps it to 401.
var ErrNoCredentials = fmt.Errorf("no credentials provided: %w", apperr.ErrUnauthorized)

// iatSkew tolerates minor clock drift between us and the token issuer.
const iatSkew = 2 * time.Minute

// keySet is the verification slice of oidc.RemoteKeySet.
type keySet interface {
	VerifySignature(ctx context.Context, jwt string) ([]byte, error)
}

// resolver maps telegram ids to owner ids.
type resolver interface {
	ResolveTelegramID(ctx context.Context, telegramID string) (string, error)
}

// Gate verifies bearer credentials.
type Gate struct {
	keys     keySet
	accounts resolver
	botToken string
	log      *logger.Logger

	// telegram id resolutions are stable; cache them briefly so the bot
	// does not hit the accounts API on every message.
	resolved *expirable.LRU[string, string]
}

// New returns a gate verifying user JWTs against the accounts JWKS and bot
// composites against botToken.
func New(ctx context.Context, accounts *AccountsClient, botToken string, log *logger.Logger) *Gate {
	return &Gate{
		keys:     oidc.NewRemoteKeySet(ctx, accounts.JWKSURL()),
		accounts: accounts,
		botToken: botToken,
		log:      log,
		resolved: expirable.NewLRU[string, string](256, nil, 5*time.Minute),
	}
}

// newForTest wires explicit ports, bypassing the remote key set.
func newForTest(keys keySet, accounts resolver, botToken string, log *logger.Logger) *Gate {
	return &Gate{
		keys:     keys,
		accounts: accounts,
		botToken: botToken,
		log:      log,
		resolved: expirable.NewLRU[string, string](256, nil, 5*time.Minute),
	}
}

// Verify resolves a bearer credential to an owner id.
func (g *Gate) Verify(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrNoCredentials
	}
	// A JWT has exactly two dots; the bot composite has none.
	if strings.Count(credential, ".") == 2 {
		return g.verifyJWT(ctx, credential)
	}
	return g.verifyBotComposite(ctx, credential)
}

type jwtClaims struct {
	UID string `json:"uid"`
	Sub string `json:"sub"`
	Exp int64  `json:"exp"`
	Iat int64  `json:"iat"`
}

func (g *Gate) verifyJWT(ctx context.Context, token string) (string, error) {
	payload, err := g.keys.VerifySignature(ctx, token)
	if err != nil {
		return "", fmt.Errorf("token signature: %w", apperr.ErrUnauthorized)
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("token claims: %w", apperr.ErrUnauthorized)
	}
	now := time.Now()
	if claims.Exp == 0 || now.After(time.Unix(claims.Exp, 0)) {
		return "", fmt.Errorf("token expired: %w", apperr.ErrUnauthorized)
	}
	if claims.Iat != 0 && time.Unix(claims.Iat, 0).After(now.Add(iatSkew)) {
		return "", fmt.Errorf("token issued in the future: %w", apperr.ErrUnauthorized)
	}
	owner := claims.UID
	if owner == "" {
		owner = claims.Sub
	}
	if owner == "" {
		return "", fmt.Errorf("token has no uid claim: %w", apperr.ErrUnauthorized)
	}
	return owner, nil
}

func (g *Gate) verifyBotComposite(ctx context.Context, credential string) (string, error) {
	telegramID, secret, found := strings.Cut(credential, ":")
	if !found || telegramID == "" {
		return "", fmt.Errorf("malformed credential: %w", apperr.ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(g.botToken)) != 1 {
		g.log.Warn("Bot credential with wrong secret", "telegram_id", telegramID)
		return "", fmt.Errorf("incorrect bot secret: %w", apperr.ErrUnauthorized)
	}
	if owner, ok := g.resolved.Get(telegramID); ok {
		return owner, nil
	}
	owner, err := g.accounts.ResolveTelegramID(ctx, telegramID)
	if err != nil {
		return "", err
	}
	g.resolved.Add(telegramID, owner)
	return owner, nil
}
