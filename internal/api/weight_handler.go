package api

import (
	"errors"
	"net/http"
	"time"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/service"

	"github.com/gin-gonic/gin"
)

// WeightHandler holds the profile service dependency for the weight ledger.
type WeightHandler struct {
	profileService service.ProfileService
}

// NewWeightHandler creates a new WeightHandler.
func NewWeightHandler(profileService service.ProfileService) *WeightHandler {
	return &WeightHandler{profileService: profileService}
}

// --- DTOs ---

// RecordWeightRequest defines the expected JSON for recording a weight.
type RecordWeightRequest struct {
	WeightKg float64 `json:"weightKg" binding:"required,gt=0"`
}

// WeightEntryResponse is the DTO for one ledger row.
type WeightEntryResponse struct {
	RecordDate string    `json:"recordDate"`
	WeightKg   float64   `json:"weightKg"`
	UpdatedAt  time.Time `json:"updatedAt"`
	DeviceID   string    `json:"deviceId,omitempty"`
}

// MapWeightEntryToResponse converts a domain.WeightLogEntry to its DTO.
func MapWeightEntryToResponse(entry *domain.WeightLogEntry) WeightEntryResponse {
	if entry == nil {
		return WeightEntryResponse{}
	}
	return WeightEntryResponse{
		RecordDate: entry.RecordDate,
		WeightKg:   entry.WeightKg,
		UpdatedAt:  entry.UpdatedAt,
		DeviceID:   entry.DeviceID,
	}
}

// MapWeightEntriesToResponse converts a slice of ledger rows to DTOs.
func MapWeightEntriesToResponse(entries []domain.WeightLogEntry) []WeightEntryResponse {
	responses := make([]WeightEntryResponse, len(entries))
	for i, e := range entries {
		responses[i] = MapWeightEntryToResponse(&e)
	}
	return responses
}

// --- Handler Methods ---

// RecordWeight godoc
// @Summary Record a weight for a calendar day
// @Description Upserts the weight ledger row for the given day. Recording twice on the same day overwrites the earlier value.
// @Tags Weight
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param date path string true "Calendar day (YYYY-MM-DD)"
// @Param weight body RecordWeightRequest true "Weight in kilograms"
// @Success 200 {object} WeightEntryResponse "Recorded entry"
// @Failure 400 {object} gin.H "Invalid input (bad date or weight)"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /weight/{date} [put]
func (h *WeightHandler) RecordWeight(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	var req RecordWeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	entry, err := h.profileService.RecordWeight(c.Request.Context(), userID, c.Param("date"), req.WeightKg)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDay) {
			abortWithError(c, http.StatusBadRequest, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to record weight.")
		}
		return
	}
	c.JSON(http.StatusOK, MapWeightEntryToResponse(entry))
}

// DeleteWeight godoc
// @Summary Delete the weight entry for a calendar day
// @Description Removes the ledger row for the given day and queues the deletion for the remote.
// @Tags Weight
// @Produce json
// @Security BearerAuth
// @Param date path string true "Calendar day (YYYY-MM-DD)"
// @Success 204 "Entry deleted"
// @Failure 400 {object} gin.H "Invalid date"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 404 {object} gin.H "No entry recorded for this day"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /weight/{date} [delete]
func (h *WeightHandler) DeleteWeight(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	err = h.profileService.DeleteWeight(c.Request.Context(), userID, c.Param("date"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDay) {
			abortWithError(c, http.StatusBadRequest, err.Error())
		} else if errors.Is(err, service.ErrWeightEntryNotFound) {
			abortWithError(c, http.StatusNotFound, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to delete weight entry.")
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// GetWeightHistory godoc
// @Summary Get my weight history
// @Description Lists weight ledger rows in day order. from/to bound the range; either side may be omitted.
// @Tags Weight
// @Produce json
// @Security BearerAuth
// @Param from query string false "First day to include (YYYY-MM-DD)"
// @Param to query string false "Last day to include (YYYY-MM-DD)"
// @Success 200 {array} WeightEntryResponse "Ledger rows"
// @Failure 400 {object} gin.H "Invalid date bound"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /weight [get]
func (h *WeightHandler) GetWeightHistory(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	entries, err := h.profileService.WeightHistory(c.Request.Context(), userID, c.Query("from"), c.Query("to"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDay) {
			abortWithError(c, http.StatusBadRequest, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to retrieve weight history.")
		}
		return
	}
	if entries == nil {
		c.JSON(http.StatusOK, []WeightEntryResponse{}) // Return empty JSON array, not null
		return
	}
	c.JSON(http.StatusOK, MapWeightEntriesToResponse(entries))
}
