package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"alcyxob/profile-sync/internal/domain"
	"alcyxob/profile-sync/internal/service"

	"github.com/gin-gonic/gin"
)

// ProfileHandler holds the profile service dependency.
type ProfileHandler struct {
	profileService service.ProfileService
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(profileService service.ProfileService) *ProfileHandler {
	return &ProfileHandler{profileService: profileService}
}

// --- DTOs for API (Data Transfer Objects) ---

// PlanRequest carries the plan the user committed to for their goal.
type PlanRequest struct {
	Difficulty    string    `json:"difficulty" binding:"required"`
	WeeklyRateKg  float64   `json:"weeklyRateKg" binding:"omitempty,min=0"`
	DailyCalories int       `json:"dailyCalories" binding:"omitempty,min=0"`
	WeeksNeeded   int       `json:"weeksNeeded" binding:"omitempty,min=0"`
	SelectedAt    time.Time `json:"selectedAt" binding:"omitempty"`
	TargetDate    time.Time `json:"targetDate" binding:"omitempty"`
}

// GoalRequest defines the expected JSON for setting the goal sub-record.
type GoalRequest struct {
	Type           string       `json:"type" binding:"required,oneof=lose_weight gain_muscle keep_fit gain_strength"`
	TargetWeightKg float64      `json:"targetWeightKg" binding:"omitempty,min=0"`
	Plan           *PlanRequest `json:"plan" binding:"omitempty"`
}

// ScheduleTimeRequest is one preferred workout time.
type ScheduleTimeRequest struct {
	Day int    `json:"day" binding:"required,min=1,max=7"`
	At  string `json:"at" binding:"required"` // "HH:MM"; shape is validated by the service
}

// ScheduleRequest defines the expected JSON for setting the weekly schedule.
type ScheduleRequest struct {
	Days     []int                 `json:"days" binding:"required,dive,min=1,max=7"`
	Times    []ScheduleTimeRequest `json:"times" binding:"omitempty,dive"`
	Reminder bool                  `json:"reminder"`
}

// UpdateProfileRequest is the partial-update body for PATCH /profile. Every
// field is optional; absent fields leave the profile untouched. This is the
// "update-if-present" surface UI callers use to avoid branching on optionals.
type UpdateProfileRequest struct {
	DisplayName         *string          `json:"displayName" binding:"omitempty"`
	Gender              *string          `json:"gender" binding:"omitempty,oneof=female male other"`
	Age                 *int             `json:"age" binding:"omitempty,min=0"`
	HeightCm            *float64         `json:"heightCm" binding:"omitempty,min=0"`
	CurrentWeightKg     *float64         `json:"currentWeightKg" binding:"omitempty,min=0"`
	TrainingFrequency   *int             `json:"trainingFrequency" binding:"omitempty,min=0"`
	PreferredActivities *[]string        `json:"preferredActivities" binding:"omitempty"`
	OwnedEquipment      *[]string        `json:"ownedEquipment" binding:"omitempty"`
	BodyType            *string          `json:"bodyType" binding:"omitempty,oneof=ectomorph mesomorph endomorph"`
	ActivityLevel       *string          `json:"activityLevel" binding:"omitempty,oneof=sedentary light moderate high"`
	Goal                *GoalRequest     `json:"goal" binding:"omitempty"`
	Schedule            *ScheduleRequest `json:"schedule" binding:"omitempty"`
}

// PlanResponse mirrors the accepted plan in responses.
type PlanResponse struct {
	Difficulty    string    `json:"difficulty"`
	WeeklyRateKg  float64   `json:"weeklyRateKg"`
	DailyCalories int       `json:"dailyCalories"`
	WeeksNeeded   int       `json:"weeksNeeded"`
	SelectedAt    time.Time `json:"selectedAt"`
	TargetDate    time.Time `json:"targetDate"`
}

// GoalResponse is the goal sub-record DTO.
type GoalResponse struct {
	Type           string        `json:"type"`
	TargetWeightKg float64       `json:"targetWeightKg,omitempty"`
	Plan           *PlanResponse `json:"plan,omitempty"`
}

// ScheduleResponse is the schedule sub-record DTO.
type ScheduleResponse struct {
	Days     []int                 `json:"days"`
	Times    []ScheduleTimeRequest `json:"times,omitempty"`
	Reminder bool                  `json:"reminder"`
}

// ProfileResponse is the DTO for returning the full profile aggregate.
type ProfileResponse struct {
	UserID              string            `json:"userId"`
	DeviceID            string            `json:"deviceId,omitempty"`
	Version             int64             `json:"version"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	DisplayName         string            `json:"displayName,omitempty"`
	Gender              string            `json:"gender,omitempty"`
	Age                 int               `json:"age,omitempty"`
	HeightCm            float64           `json:"heightCm,omitempty"`
	CurrentWeightKg     float64           `json:"currentWeightKg,omitempty"`
	TrainingFrequency   int               `json:"trainingFrequency,omitempty"`
	PreferredActivities []string          `json:"preferredActivities,omitempty"`
	OwnedEquipment      []string          `json:"ownedEquipment,omitempty"`
	BodyType            string            `json:"bodyType,omitempty"`
	ActivityLevel       string            `json:"activityLevel,omitempty"`
	Goal                *GoalResponse     `json:"goal,omitempty"`
	Schedule            *ScheduleResponse `json:"schedule,omitempty"`
}

// AuditEntryResponse is the DTO for one history entry.
type AuditEntryResponse struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MapProfileToResponse converts a domain.ProfileAggregate to ProfileResponse DTO.
func MapProfileToResponse(p *domain.ProfileAggregate) ProfileResponse {
	if p == nil {
		return ProfileResponse{}
	}

	resp := ProfileResponse{
		UserID:              p.UserID,
		DeviceID:            p.DeviceID,
		Version:             p.Version,
		UpdatedAt:           p.UpdatedAt,
		DisplayName:         p.DisplayName,
		Gender:              string(p.Gender),
		Age:                 p.Age,
		HeightCm:            p.HeightCm,
		CurrentWeightKg:     p.CurrentWeightKg,
		TrainingFrequency:   p.TrainingFrequency,
		PreferredActivities: p.PreferredActivities,
		OwnedEquipment:      p.OwnedEquipment,
		BodyType:            string(p.BodyType),
		ActivityLevel:       string(p.ActivityLevel),
	}

	if p.Goal != nil {
		goal := &GoalResponse{
			Type:           string(p.Goal.Type),
			TargetWeightKg: p.Goal.TargetWeightKg,
		}
		if p.Goal.Plan != nil {
			goal.Plan = &PlanResponse{
				Difficulty:    p.Goal.Plan.Difficulty,
				WeeklyRateKg:  p.Goal.Plan.WeeklyRateKg,
				DailyCalories: p.Goal.Plan.DailyCalories,
				WeeksNeeded:   p.Goal.Plan.WeeksNeeded,
				SelectedAt:    p.Goal.Plan.SelectedAt,
				TargetDate:    p.Goal.Plan.TargetDate,
			}
		}
		resp.Goal = goal
	}

	if p.Schedule != nil {
		sched := &ScheduleResponse{
			Days:     p.Schedule.Days,
			Reminder: p.Schedule.Reminder,
		}
		for _, t := range p.Schedule.Times {
			sched.Times = append(sched.Times, ScheduleTimeRequest{Day: t.Day, At: t.At})
		}
		resp.Schedule = sched
	}

	return resp
}

// MapAuditEntriesToResponse converts domain.AuditLogEntry rows to DTOs.
func MapAuditEntriesToResponse(entries []domain.AuditLogEntry) []AuditEntryResponse {
	responses := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		responses[i] = AuditEntryResponse{
			ID:        e.ID,
			Action:    e.Action,
			Timestamp: e.Timestamp,
			Metadata:  e.Metadata,
		}
	}
	return responses
}

// --- request → domain mapping helpers ---

func goalFromRequest(req *GoalRequest) domain.GoalProfile {
	goal := domain.GoalProfile{
		Type:           domain.GoalType(req.Type),
		TargetWeightKg: req.TargetWeightKg,
	}
	if req.Plan != nil {
		goal.Plan = &domain.PlanSelection{
			Difficulty:    req.Plan.Difficulty,
			WeeklyRateKg:  req.Plan.WeeklyRateKg,
			DailyCalories: req.Plan.DailyCalories,
			WeeksNeeded:   req.Plan.WeeksNeeded,
			SelectedAt:    req.Plan.SelectedAt,
			TargetDate:    req.Plan.TargetDate,
		}
	}
	return goal
}

func scheduleFromRequest(req *ScheduleRequest) domain.WorkoutSchedule {
	schedule := domain.WorkoutSchedule{
		Days:     req.Days,
		Reminder: req.Reminder,
	}
	for _, t := range req.Times {
		schedule.Times = append(schedule.Times, domain.ScheduleTime{Day: t.Day, At: t.At})
	}
	return schedule
}

func patchFromRequest(req UpdateProfileRequest) service.ProfilePatch {
	patch := service.ProfilePatch{
		DisplayName:         req.DisplayName,
		Age:                 req.Age,
		HeightCm:            req.HeightCm,
		CurrentWeightKg:     req.CurrentWeightKg,
		TrainingFrequency:   req.TrainingFrequency,
		PreferredActivities: req.PreferredActivities,
		OwnedEquipment:      req.OwnedEquipment,
	}
	if req.Gender != nil {
		gender := domain.Gender(*req.Gender)
		patch.Gender = &gender
	}
	if req.BodyType != nil {
		bodyType := domain.BodyType(*req.BodyType)
		patch.BodyType = &bodyType
	}
	if req.ActivityLevel != nil {
		level := domain.ActivityLevel(*req.ActivityLevel)
		patch.ActivityLevel = &level
	}
	if req.Goal != nil {
		goal := goalFromRequest(req.Goal)
		patch.Goal = &goal
	}
	if req.Schedule != nil {
		schedule := scheduleFromRequest(req.Schedule)
		patch.Schedule = &schedule
	}
	return patch
}

// --- Handler Methods ---

// GetProfile godoc
// @Summary Get my profile
// @Description Returns the authenticated user's profile aggregate. A user who has never saved anything gets a zero-valued profile at version 0.
// @Tags Profile
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ProfileResponse "Profile"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /profile [get]
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	profile, err := h.profileService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to retrieve profile.")
		return
	}
	c.JSON(http.StatusOK, MapProfileToResponse(profile))
}

// UpdateProfile godoc
// @Summary Update profile fields
// @Description Applies the present fields of the request to the profile. Each present field counts as one mutation and bumps the version by one; an empty body is a no-op.
// @Tags Profile
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param profile body UpdateProfileRequest true "Fields to update"
// @Success 200 {object} ProfileResponse "Updated profile"
// @Failure 400 {object} gin.H "Invalid input (validation error)"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /profile [patch]
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	profile, err := h.profileService.ApplyPatch(c.Request.Context(), userID, patchFromRequest(req))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidGoal) || errors.Is(err, domain.ErrInvalidSchedule) {
			abortWithError(c, http.StatusBadRequest, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to update profile.")
		}
		return
	}
	c.JSON(http.StatusOK, MapProfileToResponse(profile))
}

// SetGoal godoc
// @Summary Set the goal sub-record
// @Description Replaces the profile's goal (type, target weight and optionally the accepted plan).
// @Tags Profile
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param goal body GoalRequest true "Goal"
// @Success 200 {object} ProfileResponse "Updated profile"
// @Failure 400 {object} gin.H "Invalid input (validation error)"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /profile/goal [put]
func (h *ProfileHandler) SetGoal(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	var req GoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	profile, err := h.profileService.SetGoal(c.Request.Context(), userID, goalFromRequest(&req))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidGoal) {
			abortWithError(c, http.StatusBadRequest, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to set goal.")
		}
		return
	}
	c.JSON(http.StatusOK, MapProfileToResponse(profile))
}

// SetSchedule godoc
// @Summary Set the workout schedule sub-record
// @Description Replaces the profile's weekly workout schedule.
// @Tags Profile
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param schedule body ScheduleRequest true "Schedule"
// @Success 200 {object} ProfileResponse "Updated profile"
// @Failure 400 {object} gin.H "Invalid input (validation error)"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /profile/schedule [put]
func (h *ProfileHandler) SetSchedule(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	profile, err := h.profileService.SetSchedule(c.Request.Context(), userID, scheduleFromRequest(&req))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSchedule) {
			abortWithError(c, http.StatusBadRequest, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to set schedule.")
		}
		return
	}
	c.JSON(http.StatusOK, MapProfileToResponse(profile))
}

// DeleteProfile godoc
// @Summary Delete my profile
// @Description Removes the profile aggregate, the weight ledger and pending sync items. The audit history is retained.
// @Tags Profile
// @Produce json
// @Security BearerAuth
// @Success 204 "Profile deleted"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /profile [delete]
func (h *ProfileHandler) DeleteProfile(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	if err := h.profileService.DeleteProfile(c.Request.Context(), userID); err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to delete profile.")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAuditTrail godoc
// @Summary Get my change history
// @Description Lists audit entries for the authenticated user, oldest first.
// @Tags Profile
// @Produce json
// @Security BearerAuth
// @Param since query string false "RFC 3339 timestamp; only entries at or after it are returned"
// @Success 200 {array} AuditEntryResponse "Audit entries"
// @Failure 400 {object} gin.H "Invalid since timestamp"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /audit [get]
func (h *ProfileHandler) GetAuditTrail(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Invalid 'since' timestamp, expected RFC 3339.")
			return
		}
	}

	entries, err := h.profileService.AuditTrail(c.Request.Context(), userID, since)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to retrieve audit trail.")
		return
	}
	c.JSON(http.StatusOK, MapAuditEntriesToResponse(entries))
}

// GetOutboxStatus godoc
// @Summary Get my pending sync queue
// @Description Returns the count of queued outbox items, how many are stale, and the queued items themselves.
// @Tags Sync
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum items to include (default 50)"
// @Success 200 {object} service.OutboxStatus "Queue status"
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /outbox [get]
func (h *ProfileHandler) GetOutboxStatus(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			abortWithError(c, http.StatusBadRequest, "Invalid 'limit' value.")
			return
		}
		limit = parsed
	}

	status, err := h.profileService.OutboxStatus(c.Request.Context(), userID, limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to retrieve outbox status.")
		return
	}
	c.JSON(http.StatusOK, status)
}
