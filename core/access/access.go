// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package access provides utilities for access control
 */
package access

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/verdantech/plantcare/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyAuthorization contextKey = "_authorization_"

// Authorization is a context object which stores the roles of an
// authenticated caller. It is added to the request context by the JWT
// middleware and retrieved with AuthorizationFromContext.
type Authorization struct {
	Roles   []string `json:"roles"`
	Subject string   `json:"subject,omitempty"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

type claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewAdminMiddleware returns a middleware handler which validates
// HMAC-signed JWT bearer tokens against the shared secret and stores
// the resulting authorization in the request context.
//
// The middleware only authenticates. Requests without a token pass
// through unauthenticated; handlers guarding admin routes decide with
// HasRole("admin"). A present but invalid token is rejected with
// http.StatusUnauthorized.
func NewAdminMiddleware(secret string) mux.MiddlewareFunc {
	key := []byte(secret)
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
				tokenString = bearer[7:]
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			c := claims{}
			token, err := jwt.ParseWithClaims(tokenString, &c,
				func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrTokenSignatureInvalid
					}
					return key, nil
				})
			if err != nil || !token.Valid {
				logger.FromContext(r.Context()).Warnf("rejecting invalid token: %v", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			auth := &Authorization{Roles: c.Roles, Subject: c.Subject}
			r = r.WithContext(auth.ContextWithAuthorization(r.Context()))
			h.ServeHTTP(w, r)
		})
	}
}

// NewAdminToken creates a signed admin token, valid for 24 hours. This
// is used by the provisioning tool and by tests.
func NewAdminToken(secret, subject string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Roles: []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})
	return token.SignedString([]byte(secret))
}
