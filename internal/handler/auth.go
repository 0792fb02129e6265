package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/kart-storefront/internal/domain/auth"
)

// Claims is the bearer token payload. Tokens are minted by the identity
// service; only verification happens here.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an Authenticator. An empty issuer accepts any.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Actor validates a raw token and returns the caller it names.
func (a *Authenticator) Actor(raw string) (auth.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return auth.Actor{}, errors.Wrap(err, "parse token")
	}
	if !token.Valid || claims.Subject == "" {
		return auth.Actor{}, errors.New("invalid token")
	}

	role := auth.Role(claims.Role)
	switch role {
	case auth.RoleAdmin, auth.RoleCustomer:
	case "":
		role = auth.RoleCustomer
	default:
		return auth.Actor{}, errors.Errorf("unknown role %q", claims.Role)
	}
	return auth.Actor{UserID: claims.Subject, Role: role}, nil
}

// Middleware attaches the bearer's actor to the request context. Requests
// without a token proceed as guests; a bad token is rejected with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
			return
		}
		actor, err := a.Actor(strings.TrimSpace(raw))
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	})
}

// requireActor rejects guests with 401.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.FromContext(r.Context()).IsGuest() {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kart"`)
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "sign in required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
