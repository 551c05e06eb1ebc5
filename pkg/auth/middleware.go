package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/errcodes"
)

const (
	RoleAdmin  = "admin"
	RoleReader = "reader"
)

// Claims are the JWT claims this service reads. Tokens are issued elsewhere.
type Claims struct {
	UserID int    `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// User is the authenticated caller of a request.
type User struct {
	ID   int
	Role string
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Middleware verifies bearer tokens.
type Middleware struct {
	jwtSecret []byte
}

func NewMiddleware(jwtSecret string) *Middleware {
	return &Middleware{jwtSecret: []byte(jwtSecret)}
}

// ValidateToken validates an HS256 token and returns its claims.
func (m *Middleware) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token has no user")
	}

	return claims, nil
}

// Authenticate requires a valid bearer token and stores the caller in the
// context.
func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return errcodes.Unauthorized("Authentication required")
		}

		claims, err := m.ValidateToken(token)
		if err != nil {
			return errcodes.Unauthorized("Invalid or expired token")
		}

		setUser(c, claims)
		return next(c)
	}
}

// AuthenticateOptional stores the caller in the context when a valid token is
// present and lets the request through either way.
func (m *Middleware) AuthenticateOptional(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := bearerToken(c); token != "" {
			if claims, err := m.ValidateToken(token); err == nil {
				setUser(c, claims)
			}
		}
		return next(c)
	}
}

// RequireAdmin must be used after Authenticate.
func (m *Middleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := UserFromContext(c)
		if !ok {
			return errcodes.Unauthorized("Authentication required")
		}
		if !user.IsAdmin() {
			return errcodes.Forbidden("This action")
		}
		return next(c)
	}
}

// UserFromContext returns the authenticated caller, if any.
func UserFromContext(c echo.Context) (*User, bool) {
	user, ok := c.Get("user").(*User)
	return user, ok
}

// UserIDFromContext returns the caller's id, or nil for anonymous requests.
func UserIDFromContext(c echo.Context) *int {
	user, ok := UserFromContext(c)
	if !ok {
		return nil
	}
	id := user.ID
	return &id
}

func setUser(c echo.Context, claims *Claims) {
	c.Set("user_id", claims.UserID)
	c.Set("user", &User{ID: claims.UserID, Role: claims.Role})
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}
