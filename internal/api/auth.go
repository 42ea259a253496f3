package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyAuth validates the Bearer API key against keys. Keys are compared by
// SHA-256 digest in constant time. With no keys configured every request passes.
func APIKeyAuth(keys []string) gin.HandlerFunc {
	digests := make([][32]byte, 0, len(keys))
	for _, k := range keys {
		digests = append(digests, sha256.Sum256([]byte(k)))
	}

	return func(c *gin.Context) {
		if len(digests) == 0 {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		got := sha256.Sum256([]byte(strings.TrimPrefix(header, "Bearer ")))

		match := 0
		for _, d := range digests {
			match |= subtle.ConstantTimeCompare(got[:], d[:])
		}
		if match != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}
