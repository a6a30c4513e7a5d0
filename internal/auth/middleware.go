package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	localUsername = "username"
	localRole     = "role"
)

// Middleware checks the bearer token. Browsers' EventSource cannot set
// headers, so a token query parameter is accepted as well.
func Middleware(jwtService *JWTService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")

		if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization header format",
				})
			}
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization required",
			})
		}

		claims, err := jwtService.VerifyToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(localUsername, claims.Username)
		c.Locals(localRole, claims.Role)

		return c.Next()
	}
}

// RequireRole rejects callers whose role does not allow role.
func RequireRole(role Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !RoleOf(c).Allows(role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Insufficient permissions",
			})
		}
		return c.Next()
	}
}

// RoleOf returns the role set by Middleware, or "".
func RoleOf(c *fiber.Ctx) Role {
	role, _ := c.Locals(localRole).(Role)
	return role
}

// UsernameOf returns the username set by Middleware, or "".
func UsernameOf(c *fiber.Ctx) string {
	name, _ := c.Locals(localUsername).(string)
	return name
}
