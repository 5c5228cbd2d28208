// Package procgin exposes the reconciliation engine over HTTP.
package procgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the wire envelope shared by all procurement endpoints. Code
// mirrors the HTTP status.
type Response struct {
	Success bool     `json:"success"`
	Code    int      `json:"code"`
	Data    any      `json:"data,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Code: http.StatusOK, Data: data})
}

func fail(c *gin.Context, code int, errs ...string) {
	c.JSON(code, Response{Success: false, Code: code, Errors: errs})
}

// RateLimiter gates mutating endpoints. A nil limiter disables limiting.
type RateLimiter interface {
	AllowNamed(bucket, key string) (bool, error)
}

// Rate limit bucket names.
const (
	RLEntitlementApprove = "procurement:entitlement:approve"
	RLEventIngest        = "procurement:event:ingest"
)

func allow(c *gin.Context, rl RateLimiter, bucket string) bool {
	if rl == nil {
		return true
	}
	allowed, err := rl.AllowNamed(bucket, c.ClientIP())
	if err != nil {
		return true // fail open; the limiter is advisory
	}
	return allowed
}

func tooMany(c *gin.Context) {
	fail(c, http.StatusTooManyRequests, "rate_limited")
}
