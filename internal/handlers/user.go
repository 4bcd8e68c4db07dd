package handlers

import (
	"net/http"
	"strings"

	"github.com/achievetrack/apiserver/internal/services"
	"github.com/achievetrack/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// UserHandler provides user administration endpoints.
type UserHandler struct {
	userService        *services.UserService
	achievementService *services.AchievementService
}

func NewUserHandler(userService *services.UserService, achievementService *services.AchievementService) *UserHandler {
	return &UserHandler{
		userService:        userService,
		achievementService: achievementService,
	}
}

// UserRouter registers user routes. Listing and editing are admin only;
// per-student stats are open to all staff.
func UserRouter(r chi.Router, handler *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	adminOnly := RequireRole(types.RoleAdmin)

	r.Use(authMiddleware)
	r.With(adminOnly).Get("/", handler.List)
	r.With(adminOnly).Get("/{userID}", handler.Get)
	r.With(adminOnly).Put("/{userID}", handler.Update)
	r.With(RequireRole(types.RoleCounsellor, types.RoleAdmin)).Get("/{userID}/stats", handler.Stats)
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := types.UserFilter{Role: types.Role(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("role"))))}
	users, total, err := h.userService.List(r.Context(), filter, offset, limit)
	if err != nil {
		writeServiceError(w, r, err, "users")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[types.User]{Items: users, Page: page, Limit: limit, Total: total})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Update lets an admin edit a profile, including the active flag.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req types.UpdateUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), actor, id, req)
	if err != nil {
		writeServiceError(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.achievementService.UserStats(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
