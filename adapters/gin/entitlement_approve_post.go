package procgin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/procurekit/procurement"
)

type approveRequest struct {
	Name      string `json:"name" binding:"required"`
	Status    string `json:"status" binding:"required"`
	Reason    string `json:"reason"`
	AccountID string `json:"accountId"`
	PolicyID  string `json:"policyId"`
	State     string `json:"state" binding:"required"`
}

// HandleEntitlementApprovePOST runs the approval state machine for one
// entitlement. Unsupported (state, status) pairs map to 422.
func HandleEntitlementApprovePOST(engine *procurement.Engine, rl RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allow(c, rl, RLEntitlementApprove) {
			tooMany(c)
			return
		}
		var req approveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid_request")
			return
		}
		out, err := engine.ApproveEntitlement(c.Request.Context(), procurement.ApprovalRequest{
			ProjectID: c.Param("project_id"),
			Name:      req.Name,
			Status:    req.Status,
			Reason:    req.Reason,
			AccountID: req.AccountID,
			PolicyID:  req.PolicyID,
			State:     procurement.EntitlementState(req.State),
		})
		if errors.Is(err, procurement.ErrUnsupportedTransition) {
			fail(c, http.StatusUnprocessableEntity, "unsupported_transition")
			return
		}
		if err != nil {
			fail(c, http.StatusInternalServerError, "failed_to_update_entitlement", err.Error())
			return
		}
		ok(c, out)
	}
}
