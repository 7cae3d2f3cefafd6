package middleware

import "github.com/gin-gonic/gin"

// Error codes surfaced to clients. Coarse-grained and stable; internal
// detail stays in server logs.
const (
	CodeSessionMissing       = "SESSION_MISSING"
	CodeSessionInvalidFormat = "SESSION_INVALID_FORMAT"
	CodeSessionInvalid       = "SESSION_INVALID"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeSessionError         = "SESSION_ERROR"
	CodeMissingToken         = "MISSING_TOKEN"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeAuthError            = "AUTH_ERROR"
	CodeForbidden            = "FORBIDDEN"
	CodeUnauthorized         = "UNAUTHORIZED"
)

// AbortError ends the request with the uniform error envelope.
func AbortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   gin.H{"message": message, "code": code},
	})
}
