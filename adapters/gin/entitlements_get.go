package procgin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/procurekit/procurement"
)

// HandleEntitlementsGET lists entitlements for a project, optionally
// filtered by a comma-separated ?state= parameter.
func HandleEntitlementsGET(engine *procurement.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("project_id")
		if projectID == "" {
			fail(c, http.StatusBadRequest, "missing_project_id")
			return
		}
		states := procurement.ParseStates(c.Query("state"))
		ents, err := engine.ListProcurements(c.Request.Context(), projectID, states)
		if err != nil {
			fail(c, http.StatusInternalServerError, "failed_to_list_entitlements", err.Error())
			return
		}
		ok(c, ents)
	}
}
