package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/achievetrack/apiserver/internal/services"
	"github.com/achievetrack/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// VerificationHandler serves public certificate verification and the QR
// codes that point at it.
type VerificationHandler struct {
	certificateService *services.CertificateService
}

func NewVerificationHandler(certificateService *services.CertificateService) *VerificationHandler {
	return &VerificationHandler{certificateService: certificateService}
}

// VerificationRouter registers verification routes. Only the QR route
// requires auth.
func VerificationRouter(r chi.Router, handler *VerificationHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Get("/achievement/{achievementID}", handler.QRCode)
	r.Get("/{code}", handler.Verify)
}

// VerifyResponse is the public verification result.
type VerifyResponse struct {
	Verified    bool                   `json:"verified"`
	Message     string                 `json:"message"`
	Achievement *types.CertificateView `json:"achievement,omitempty"`
}

// Verify resolves a certificate code without authentication.
func (h *VerificationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	view, err := h.certificateService.Verify(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidationFailed):
			writeJSON(w, http.StatusBadRequest, VerifyResponse{Message: "verification code is required"})
		case errors.Is(err, services.ErrNotFound):
			writeJSON(w, http.StatusNotFound, VerifyResponse{Message: "invalid verification code"})
		case errors.Is(err, services.ErrNotApproved):
			writeJSON(w, http.StatusBadRequest, VerifyResponse{Message: "achievement is not approved"})
		default:
			writeServiceError(w, r, err, "certificate")
		}
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{
		Verified:    true,
		Message:     "Achievement verified successfully",
		Achievement: &view,
	})
}

// QRCode returns the certificate of an approved achievement as JSON, or
// as a PNG image with ?format=png.
func (h *VerificationHandler) QRCode(w http.ResponseWriter, r *http.Request) {
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

	certificate, err := h.certificateService.ForAchievement(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err, "achievement")
		return
	}

	if r.URL.Query().Get("format") != "png" {
		writeJSON(w, http.StatusOK, certificate)
		return
	}

	png, err := h.certificateService.QRCodePNG(certificate)
	if err != nil {
		writeServiceError(w, r, err, "qr code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
