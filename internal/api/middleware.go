// Package api provides the HTTP API for the testdeck control plane.
package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"testdeck/internal/apperr"
	"testdeck/internal/auth"
	"testdeck/internal/model"
)

type contextKey string

const (
	ctxUser   contextKey = "user"
	ctxClaims contextKey = "claims"
)

// UserFromContext returns the user from context.
func UserFromContext(ctx context.Context) *model.User {
	if u, ok := ctx.Value(ctxUser).(*model.User); ok {
		return u
	}
	return nil
}

// ClaimsFromContext returns the claims from context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if c, ok := ctx.Value(ctxClaims).(*auth.Claims); ok {
		return c
	}
	return nil
}

// WithAuth is middleware that authenticates requests via JWT or PAT.
func (h *Handler) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeUnauthorized(w, "missing authorization")
			return
		}

		var user *model.User
		var claims *auth.Claims

		if auth.IsPAT(token) {
			hash := auth.HashToken(token)
			apiToken, err := h.db.GetAPITokenByHash(hash)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			user, err = h.db.GetUserByID(apiToken.UserID)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			h.db.UpdateAPITokenLastUsed(apiToken.ID)

			claims = &auth.Claims{
				UserID:  user.ID,
				Email:   user.Email,
				Scopes:  apiToken.Scopes,
				TokenID: apiToken.ID,
			}
		} else {
			var err error
			claims, err = h.tokens.ValidateAccessToken(token)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			user, err = h.db.GetUserByID(claims.UserID)
			if err != nil {
				writeUnauthorized(w, "user not found")
				return
			}
		}

		ctx := context.WithValue(r.Context(), ctxUser, user)
		ctx = context.WithValue(ctx, ctxClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope is middleware that checks for a required scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeUnauthorized(w, "authentication required")
				return
			}

			if !model.HasScope(claims.Scopes, scope) {
				writeError(w, http.StatusForbidden, apperr.CodeForbidden, "missing required scope: "+scope, nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithDefaults adds default middleware to a handler.
func WithDefaults(h http.Handler, log *zap.Logger, debug bool) http.Handler {
	return withLogging(withRecovery(withCORS(h), log), log, debug)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		// Allow the requesting origin (for credentials support, can't use *)
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler, log *zap.Logger, debug bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if debug || wrapped.status >= 400 {
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.status),
				zap.Duration("duration", time.Since(start)))
		}
	})
}

func withRecovery(next http.Handler, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic", zap.Any("recover", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, apperr.CodeInternal, "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade work through the logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

// Chain combines multiple middleware.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
