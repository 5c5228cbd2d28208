package procgin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/procurekit/events"
)

type eventRequest struct {
	Token string `json:"token" binding:"required"`
}

// HandleEventPOST ingests a signed marketplace notification: verify the
// token, then hand the event to enqueue (normally jobs.EnqueueForEvent).
func HandleEventPOST(v *events.Verifier, enqueue func(context.Context, events.Event) error, rl RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allow(c, rl, RLEventIngest) {
			tooMany(c)
			return
		}
		var req eventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid_request")
			return
		}
		ev, err := v.Verify(c.Request.Context(), req.Token)
		if err != nil {
			fail(c, http.StatusUnauthorized, "invalid_notification_token")
			return
		}
		if err := enqueue(c.Request.Context(), ev); err != nil {
			fail(c, http.StatusInternalServerError, "failed_to_enqueue_event", err.Error())
			return
		}
		ok(c, gin.H{"eventType": ev.Type})
	}
}
