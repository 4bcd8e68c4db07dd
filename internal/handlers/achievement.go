package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/achievetrack/apiserver/internal/services"
	"github.com/achievetrack/apiserver/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory = 16 << 20
	maxProofBytes      = 10 << 20
	formFieldProof     = "proof"
	formFieldTitle     = "title"
	formFieldDesc      = "description"
	formFieldDate      = "date"
	formFieldCategory  = "category"
	formFieldLevel     = "level"
	dateLayout         = "2006-01-02"
)

var allowedProofTypes = []string{"application/pdf", "image/png", "image/jpeg"}

// AchievementHandler provides HTTP handlers for achievements.
type AchievementHandler struct {
	achievementService *services.AchievementService
}

func NewAchievementHandler(achievementService *services.AchievementService) *AchievementHandler {
	return &AchievementHandler{achievementService: achievementService}
}

// AchievementRouter registers achievement routes. Every route requires auth.
func AchievementRouter(r chi.Router, handler *AchievementHandler, authMiddleware func(http.Handler) http.Handler) {
	staffOnly := RequireRole(types.RoleCounsellor, types.RoleAdmin)

	r.Use(authMiddleware)
	r.With(RequireRole(types.RoleStudent)).Post("/", handler.Create)
	r.With(RequireRole(types.RoleStudent)).Get("/my", handler.ListMine)
	r.With(staffOnly).Get("/", handler.List)
	r.With(staffOnly).Get("/review-queue", handler.ReviewQueue)
	r.With(staffOnly).Get("/stats", handler.Stats)
	r.Get("/user-stats", handler.UserStats)
	r.Get("/{achievementID}", handler.Get)
	r.Get("/{achievementID}/proof", handler.Proof)
	r.With(staffOnly).Put("/{achievementID}/status", handler.UpdateStatus)
}

// CreateAchievementRequest is the JSON form of a submission. Date accepts
// either YYYY-MM-DD or RFC 3339.
type CreateAchievementRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Category    string `json:"category"`
	Level       string `json:"level"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Create accepts either a JSON body or a multipart form carrying an
// optional proof document.
func (h *AchievementHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var (
		req   CreateAchievementRequest
		proof *services.Proof
		err   error
	)
	if isMultipart(r) {
		req, proof, err = parseAchievementForm(w, r)
	} else {
		err = decodeJSON(r, &req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := types.NewAchievement{
		Title:       req.Title,
		Description: req.Description,
		Category:    types.Category(strings.ToLower(strings.TrimSpace(req.Category))),
		Level:       types.Level(strings.ToLower(strings.TrimSpace(req.Level))),
	}
	if strings.TrimSpace(req.Date) != "" {
		date, err := parseDate(req.Date)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "validation failed",
				Fields: []services.FieldError{{Field: "date", Message: "date must be YYYY-MM-DD"}},
			})
			return
		}
		input.Date = date
	}

	achievement, err := h.achievementService.Create(r.Context(), user, input, proof)
	if err != nil {
		writeServiceError(w, r, err, "achievement")
		return
	}
	writeJSON(w, http.StatusCreated, achievement)
}

func (h *AchievementHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.achievementService.ListMine)
}

func (h *AchievementHandler) List(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.achievementService.List)
}

type achievementLister func(ctx context.Context, actor types.User, filter types.AchievementFilter, offset, limit int) ([]types.Achievement, int, error)

func (h *AchievementHandler) writeList(w http.ResponseWriter, r *http.Request, list achievementLister) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := parseAchievementFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := list(r.Context(), user, filter, offset, limit)
	if err != nil {
		writeServiceError(w, r, err, "achievements")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[types.Achievement]{Items: items, Page: page, Limit: limit, Total: total})
}

// ReviewQueue lists what the caller can act on next.
func (h *AchievementHandler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.achievementService.ReviewQueue(r.Context(), user, offset, limit)
	if err != nil {
		writeServiceError(w, r, err, "achievements")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[types.Achievement]{Items: items, Page: page, Limit: limit, Total: total})
}

func (h *AchievementHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "achievementID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	achievement, err := h.achievementService.Get(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err, "achievement")
		return
	}
	writeJSON(w, http.StatusOK, achievement)
}

// Proof streams the stored proof document.
func (h *AchievementHandler) Proof(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "achievementID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	achievement, obj, err := h.achievementService.ProofDocument(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err, "proof document")
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Content-Disposition", "inline; filename=\""+path.Base(achievement.ProofDocument)+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, obj)
}

// UpdateStatus applies one review decision.
func (h *AchievementHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "achievementID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target := types.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	achievement, err := h.achievementService.Review(r.Context(), user, id, target, req.Reason)
	if err != nil {
		writeServiceError(w, r, err, "achievement")
		return
	}
	writeJSON(w, http.StatusOK, achievement)
}

func (h *AchievementHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	filter, err := parseAchievementFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.achievementService.Stats(r.Context(), user, filter)
	if err != nil {
		writeServiceError(w, r, err, "statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// UserStats summarises the caller, or the student named by ?student_id
// when the caller is staff.
func (h *AchievementHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	studentID, err := parseOptionalInt(r.URL.Query().Get("student_id"))
	if err != nil || studentID < 0 {
		writeError(w, http.StatusBadRequest, "invalid student_id")
		return
	}
	if studentID == 0 {
		studentID = user.ID
	}

	stats, err := h.achievementService.UserStats(r.Context(), user, studentID)
	if err != nil {
		writeServiceError(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseAchievementFilter(r *http.Request) (types.AchievementFilter, error) {
	query := r.URL.Query()
	filter := types.AchievementFilter{
		Status:     types.Status(strings.ToLower(strings.TrimSpace(query.Get("status")))),
		Category:   types.Category(strings.ToLower(strings.TrimSpace(query.Get("category")))),
		Level:      types.Level(strings.ToLower(strings.TrimSpace(query.Get("level")))),
		Department: strings.TrimSpace(query.Get("department")),
	}

	var err error
	if filter.StudentID, err = parseOptionalInt(query.Get("student_id")); err != nil || filter.StudentID < 0 {
		return types.AchievementFilter{}, errors.New("invalid student_id")
	}
	if filter.Section, err = parseOptionalInt(query.Get("section")); err != nil || filter.Section < 0 {
		return types.AchievementFilter{}, errors.New("invalid section")
	}
	return filter, nil
}

func parseAchievementForm(w http.ResponseWriter, r *http.Request) (CreateAchievementRequest, *services.Proof, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxProofBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return CreateAchievementRequest{}, nil, errors.New("invalid multipart form")
	}

	req := CreateAchievementRequest{
		Title:       r.FormValue(formFieldTitle),
		Description: r.FormValue(formFieldDesc),
		Date:        r.FormValue(formFieldDate),
		Category:    r.FormValue(formFieldCategory),
		Level:       r.FormValue(formFieldLevel),
	}

	file, _, err := r.FormFile(formFieldProof)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil, nil
		}
		return CreateAchievementRequest{}, nil, errors.New("invalid proof upload")
	}
	defer file.Close()

	data, err := readFileLimited(file, maxProofBytes)
	if err != nil {
		return CreateAchievementRequest{}, nil, err
	}
	if len(data) == 0 {
		return CreateAchievementRequest{}, nil, errors.New("proof document is empty")
	}

	detected := mimetype.Detect(data)
	if !mimetype.EqualsAny(detected.String(), allowedProofTypes...) {
		return CreateAchievementRequest{}, nil, errors.New("proof must be a PDF, PNG or JPEG file")
	}

	return req, &services.Proof{
		Data:        data,
		ContentType: detected.String(),
		Extension:   detected.Extension(),
	}, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if date, err := time.Parse(dateLayout, value); err == nil {
		return date, nil
	}
	return time.Parse(time.RFC3339, value)
}
