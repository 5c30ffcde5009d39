package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// OperatorKey is the context key for the resolved operator name
	OperatorKey contextKey = "operator"
)

// OperatorAuthMiddleware resolves the operator from the request token.
// If no operator can be resolved the request is rejected.
type OperatorAuthMiddleware struct {
	resolver            *OperatorResolver
	respondUnauthorized func(w http.ResponseWriter)
}

// NewOperatorAuthMiddleware creates a new operator authentication middleware
func NewOperatorAuthMiddleware(resolver *OperatorResolver, respondUnauthorized func(w http.ResponseWriter)) *OperatorAuthMiddleware {
	return &OperatorAuthMiddleware{
		resolver:            resolver,
		respondUnauthorized: respondUnauthorized,
	}
}

// Handler wraps an HTTP handler with operator authentication
func (m *OperatorAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check if config is loaded
		if !m.resolver.IsLoaded() {
			m.respondUnauthorized(w)
			return
		}

		// Resolve operator
		operator, found := m.resolver.ResolveOperator(r)
		if !found {
			m.respondUnauthorized(w)
			return
		}

		// Add the operator to the request context
		ctx := context.WithValue(r.Context(), OperatorKey, operator)

		// Continue to next handler
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetOperatorFromContext retrieves the operator name from the request context
func GetOperatorFromContext(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(OperatorKey).(string)
	return operator, ok
}
