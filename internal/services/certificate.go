package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/achievetrack/apiserver/types"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// MintVerificationCode returns a fresh opaque certificate code: 32 hex
// characters drawn from a random UUID, unrelated to any database id.
func MintVerificationCode() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("mint verification code: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// Certificate is what a student shares: the code and the public URL that
// resolves it.
type Certificate struct {
	AchievementID int    `json:"achievementId"`
	Code          string `json:"qrCode"`
	VerifyURL     string `json:"verifyUrl"`
}

// CertificateService resolves verification codes into public certificate
// views and renders QR images for approved achievements.
type CertificateService struct {
	achievements AchievementRepository
	users        UserRepository
	baseURL      string
}

func NewCertificateService(achievements AchievementRepository, users UserRepository, publicBaseURL string) *CertificateService {
	return &CertificateService{
		achievements: achievements,
		users:        users,
		baseURL:      strings.TrimRight(publicBaseURL, "/"),
	}
}

// Verify looks up code. A code that matches nothing is NotFound; a match
// that is not admin approved is NotApproved.
func (s *CertificateService) Verify(ctx context.Context, code string) (types.CertificateView, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return types.CertificateView{}, invalidField("code", "verification code is required")
	}

	achievement, err := s.achievements.GetByVerificationCode(ctx, code)
	if err != nil {
		return types.CertificateView{}, err
	}
	if achievement.Status != types.StatusAdminApproved {
		return types.CertificateView{}, ErrNotApproved
	}

	student, err := s.users.GetByID(ctx, achievement.StudentID)
	if err != nil {
		return types.CertificateView{}, fmt.Errorf("load student %d: %w", achievement.StudentID, err)
	}

	view := types.CertificateView{
		Title:       achievement.Title,
		Description: achievement.Description,
		Date:        achievement.Date,
		Category:    achievement.Category,
		Level:       achievement.Level,
		Student: types.CertificateStudent{
			Name:       student.Name,
			StudentID:  student.StudentID,
			Department: achievement.Department,
			Section:    student.Section,
		},
		Code: achievement.VerificationCode,
	}

	if review := achievement.AdminReview; review != nil {
		view.VerifiedAt = review.ReviewedAt
		approver, err := s.users.GetByID(ctx, review.ReviewerID)
		switch {
		case err == nil:
			view.VerifiedBy = approver.Name
		case !errors.Is(err, ErrNotFound):
			return types.CertificateView{}, fmt.Errorf("load approver %d: %w", review.ReviewerID, err)
		}
	}

	return view, nil
}

// VerifyURL is the public address that resolves code.
func (s *CertificateService) VerifyURL(code string) string {
	return s.baseURL + "/verify/" + code
}

// ForAchievement returns the certificate of an approved achievement the
// actor is allowed to read.
func (s *CertificateService) ForAchievement(ctx context.Context, actor types.User, achievementID int) (Certificate, error) {
	achievement, err := s.achievements.Get(ctx, achievementID)
	if err != nil {
		return Certificate{}, err
	}
	if !canRead(actor, achievement) {
		return Certificate{}, ErrForbidden
	}
	if achievement.Status != types.StatusAdminApproved || achievement.VerificationCode == "" {
		return Certificate{}, ErrNotApproved
	}

	return Certificate{
		AchievementID: achievement.ID,
		Code:          achievement.VerificationCode,
		VerifyURL:     s.VerifyURL(achievement.VerificationCode),
	}, nil
}

// QRCodePNG renders the certificate's verify URL as a PNG QR code.
func (s *CertificateService) QRCodePNG(certificate Certificate) ([]byte, error) {
	png, err := qrcode.Encode(certificate.VerifyURL, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}

func canRead(actor types.User, achievement types.Achievement) bool {
	if actor.Role.IsStaff() {
		return true
	}
	return actor.Role == types.RoleStudent && achievement.StudentID == actor.ID
}
