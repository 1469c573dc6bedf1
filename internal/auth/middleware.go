package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleViewer     = "viewer"

	departmentGroupPrefix = "/departments/"
)

type Claims struct {
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Groups      []string `json:"groups"`
	Departments []string `json:"departments"` // Extracted from groups, e.g. /departments/sales
	jwt.RegisteredClaims
}

// IsAdmin reports whether the caller may see and manage every department
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanSeeDepartment reports whether department events are visible to the caller.
// Departments compare case-insensitively, like directory lookups.
func (c *Claims) CanSeeDepartment(department string) bool {
	if c.IsAdmin() {
		return true
	}
	for _, d := range c.Departments {
		if strings.EqualFold(d, department) {
			return true
		}
	}
	return false
}

type contextKey string

const UserContextKey contextKey = "user"

var (
	ErrMissingToken = errors.New("missing token")
	ErrTokenExpired = errors.New("token expired")
)

// Config selects how bearer tokens are checked
type Config struct {
	SkipAuth        bool
	VerifySignature bool
	IssuerURL       string
}

// Authenticator validates OIDC bearer tokens on the operations API
type Authenticator struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	keyfunc jwt.Keyfunc
}

// NewAuthenticator creates an authenticator. The JWKS is fetched lazily on the
// first verified token.
func NewAuthenticator(cfg Config, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		cfg:    cfg,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// getKeyfunc returns the JWKS-backed keyfunc, fetching the key set once
func (a *Authenticator) getKeyfunc() (jwt.Keyfunc, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.keyfunc != nil {
		return a.keyfunc, nil
	}
	if a.cfg.IssuerURL == "" {
		return nil, errors.New("OIDC_ISSUER not configured for JWT verification")
	}

	// Keycloak layout
	jwksURL := strings.TrimSuffix(a.cfg.IssuerURL, "/") + "/protocol/openid-connect/certs"
	a.logger.Info().Str("jwks_url", jwksURL).Msg("fetching JWKS")

	k, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create keyfunc: %w", err)
	}
	a.keyfunc = k.Keyfunc
	return a.keyfunc, nil
}

// Middleware validates the bearer token and stores its claims in the request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.SkipAuth {
			ctx := context.WithValue(r.Context(), UserContextKey, &Claims{
				Email:  "dev@vapi-transfer.local",
				Name:   "Dev User",
				Role:   RoleAdmin,
				Groups: []string{"developers"},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			a.logger.Debug().Str("path", r.URL.Path).Msg("missing authorization token")
			http.Error(w, "Unauthorized: "+ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := a.validateToken(tokenString)
		if err != nil {
			a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("token validation failed")
			http.Error(w, fmt.Sprintf("Unauthorized: %v", err), http.StatusUnauthorized)
			return
		}

		a.logger.Debug().
			Str("email", claims.Email).
			Str("role", claims.Role).
			Strs("departments", claims.Departments).
			Msg("user authenticated")

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects callers without the admin role. It must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r.Context())
		if !ok || !claims.IsAdmin() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken gets the token from the Authorization header, or the token
// query parameter for WebSocket connections
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if tokenString := strings.TrimPrefix(authHeader, "Bearer "); tokenString != authHeader {
			return tokenString
		}
	}
	return r.URL.Query().Get("token")
}

func (a *Authenticator) validateToken(tokenString string) (*Claims, error) {
	var (
		token *jwt.Token
		err   error
	)

	if a.cfg.VerifySignature {
		kf, kerr := a.getKeyfunc()
		if kerr != nil {
			return nil, kerr
		}
		token, err = jwt.Parse(tokenString, kf, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}))
		if err != nil {
			return nil, fmt.Errorf("token verification failed: %w", err)
		}
		if !token.Valid {
			return nil, errors.New("invalid token")
		}
	} else {
		token, _, err = jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferred, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferred
	}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	}
	claims.Role = extractRole(mapClaims)
	claims.Groups = extractGroups(mapClaims)
	claims.Departments = extractDepartments(claims.Groups)

	// Verified tokens have exp checked by the parser
	if exp, ok := mapClaims["exp"].(float64); ok {
		expTime := time.Unix(int64(exp), 0)
		claims.ExpiresAt = jwt.NewNumericDate(expTime)
		if !a.cfg.VerifySignature && expTime.Before(time.Now()) {
			return nil, ErrTokenExpired
		}
	}

	return claims, nil
}

// extractRole looks at Keycloak realm roles, then Cognito groups
func extractRole(mapClaims jwt.MapClaims) string {
	if realmAccess, ok := mapClaims["realm_access"].(map[string]interface{}); ok {
		roles := stringSlice(realmAccess["roles"])
		for _, priority := range []string{RoleAdmin, RoleSupervisor, RoleViewer} {
			for _, role := range roles {
				if role == priority {
					return role
				}
			}
		}
	}

	for _, group := range stringSlice(mapClaims["cognito:groups"]) {
		switch {
		case strings.Contains(group, RoleAdmin):
			return RoleAdmin
		case strings.Contains(group, RoleSupervisor):
			return RoleSupervisor
		}
	}

	return RoleViewer
}

func extractGroups(mapClaims jwt.MapClaims) []string {
	groups := stringSlice(mapClaims["groups"])
	return append(groups, stringSlice(mapClaims["cognito:groups"])...)
}

// extractDepartments parses department names from group paths such as
// /departments/sales or /departments/sales/leads
func extractDepartments(groups []string) []string {
	var departments []string
	for _, group := range groups {
		if !strings.HasPrefix(group, departmentGroupPrefix) {
			continue
		}
		dept := strings.TrimPrefix(group, departmentGroupPrefix)
		if idx := strings.Index(dept, "/"); idx >= 0 {
			dept = dept[:idx]
		}
		if dept != "" {
			departments = append(departments, dept)
		}
	}
	return departments
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}
