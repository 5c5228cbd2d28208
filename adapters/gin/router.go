package procgin

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/procurekit/events"
	"github.com/open-rails/procurekit/procurement"
)

// RegisterAPI mounts the procurement endpoints under
// /procurement/:project_id. verifier and enqueue are optional; when both are
// set the event ingestion endpoint is mounted as well.
func RegisterAPI(r gin.IRouter, engine *procurement.Engine, rl RateLimiter, verifier *events.Verifier, enqueue func(context.Context, events.Event) error) {
	grp := r.Group("/procurement/:project_id")
	grp.Use(RequestID())
	grp.GET("/entitlements", HandleEntitlementsGET(engine))
	grp.POST("/entitlements/approve", HandleEntitlementApprovePOST(engine, rl))
	if verifier != nil && enqueue != nil {
		grp.POST("/events", HandleEventPOST(verifier, enqueue, rl))
	}
}
