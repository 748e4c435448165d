package api

import (
	"context"
	"errors"
	"net/http"

	"alcyxob/profile-sync/internal/service"

	"github.com/gin-gonic/gin"
)

// SyncHandler holds the profile service dependency for explicit sync.
type SyncHandler struct {
	profileService service.ProfileService
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(profileService service.ProfileService) *SyncHandler {
	return &SyncHandler{profileService: profileService}
}

// TriggerSync godoc
// @Summary Push my pending changes to the remote
// @Description Attempts the user's sync backlog once and returns the outcome. A remote outage is reported inside the body, not as an HTTP error; closing the request cancels the push and leaves undelivered items queued for the next cycle.
// @Tags Sync
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.SyncReport "Push outcome"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /sync [post]
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	// The request context carries cancellation: a client that goes away
	// mid-push aborts in-flight delivery without losing queued items.
	report, err := h.profileService.SyncNow(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// 499-style outcome; gin has no constant for client-closed-request.
			c.Abort()
			return
		}
		abortWithError(c, http.StatusInternalServerError, "Sync failed due to a local storage error.")
		return
	}
	c.JSON(http.StatusOK, report)
}
