package api

import (
    "crypto/hmac"
    "net/http"
    "strings"
)

// authorize checks the shared bearer secret guarding operator endpoints.
// Comparison is constant time. When no token is configured the endpoints are
// open (dev mode); production deployments set WEBHOOK_ADMIN_TOKEN.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
    if s.Cfg.AdminToken == "" {
        return true
    }
    authz := r.Header.Get("Authorization")
    if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
        writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required", r.URL.Path)
        return false
    }
    tok := strings.TrimSpace(authz[len("Bearer "):])
    if !hmac.Equal([]byte(tok), []byte(s.Cfg.AdminToken)) {
        writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid token", r.URL.Path)
        return false
    }
    return true
}

// throttle applies the per-credential limiter to operator endpoints.
func (s *Server) throttle(w http.ResponseWriter, r *http.Request, key string) bool {
    if s.Limiter == nil {
        return true
    }
    if !s.Limiter.Allow(r.Context(), key) {
        writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
        return false
    }
    return true
}
