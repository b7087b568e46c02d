package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fleetwatch/sentinel/internal/types"
)

// AuthConfig configures the Control Dispatcher's authorization
// precedence (spec.md §4.6). Any empty APIKey and empty HMACSecret
// together mean open dev mode.
type AuthConfig struct {
	APIKey       string
	HMACSecret   string
	AllowedRoles []string
}

// OpenMode reports whether neither an API key nor an HMAC secret is
// configured — the engine then allows every request unconditionally.
func (c AuthConfig) OpenMode() bool {
	return c.APIKey == "" && c.HMACSecret == ""
}

var errInvalidToken = errors.New("invalid token")
var errTokenExpired = errors.New("token expired")

// tokenClaims is the JSON payload of a signed bearer token. Unlike a
// standard JWT, there is no header segment: the wire format is
// base64url(payload) + "." + base64url(HMAC-SHA256(payload)).
type tokenClaims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Exp     int64    `json:"exp"`
}

// IssueToken signs claims with secret, producing the bearer value
// clients send as `Authorization: Bearer <token>`. Exposed for the CLI
// / admin tooling that mints operator tokens; the dispatcher itself
// only ever verifies.
func IssueToken(secret, subject string, roles []string, ttl time.Duration) (string, error) {
	claims := tokenClaims{Subject: subject, Roles: roles, Exp: time.Now().Add(ttl).Unix()}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	sig := signPayload(secret, encodedPayload)
	return encodedPayload + "." + sig, nil
}

func signPayload(secret, encodedPayload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func verifyToken(secret, token string) (tokenClaims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return tokenClaims{}, errInvalidToken
	}
	encodedPayload, sig := parts[0], parts[1]

	expected := signPayload(secret, encodedPayload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return tokenClaims{}, errInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return tokenClaims{}, errInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return tokenClaims{}, errInvalidToken
	}
	if claims.Exp > 0 && time.Now().Unix() > claims.Exp {
		return tokenClaims{}, errTokenExpired
	}
	return claims, nil
}

// AuthCounters receives authorization outcome counters.
type AuthCounters interface {
	IncOpenModeAllowed()
	IncRestartUnauthorized()
	IncComposeUnauthorized()
}

// Authorize implements the four-rule precedence from spec.md §4.6.
// kindLabel selects which unauthorized counter increments on rejection
// ("restart" or "compose").
func Authorize(cfg AuthConfig, r *http.Request, counters AuthCounters, kindLabel string) (types.Principal, bool) {
	headerValue := func(name string) string {
		return r.Header.Get(name)
	}

	if cfg.OpenMode() {
		if counters != nil {
			counters.IncOpenModeAllowed()
		}
		return types.Principal{Subject: "open-mode", Authenticated: false}, true
	}

	if cfg.APIKey != "" {
		if key := headerValue("X-Api-Key"); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) == 1 {
				return types.Principal{Subject: "api-key", Authenticated: true}, true
			}
		}
	}

	if cfg.HMACSecret != "" {
		if authz := headerValue("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			token := strings.TrimPrefix(authz, "Bearer ")
			if claims, err := verifyToken(cfg.HMACSecret, token); err == nil {
				principal := types.Principal{Subject: claims.Subject, Roles: claims.Roles, Authenticated: true}
				if principal.HasAnyRole(cfg.AllowedRoles) {
					return principal, true
				}
			}
		}
	}

	if counters != nil {
		switch kindLabel {
		case "compose":
			counters.IncComposeUnauthorized()
		default:
			counters.IncRestartUnauthorized()
		}
	}
	return types.Principal{}, false
}
