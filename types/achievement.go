package types

import (
	"fmt"
	"strings"
	"time"
)

// Status is the review state of an achievement.
type Status string

// Supported status values. Pending is the only initial state;
// CounsellorRejected, AdminApproved and AdminRejected are terminal.
const (
	StatusPending            Status = "pending"
	StatusCounsellorApproved Status = "counsellor_approved"
	StatusCounsellorRejected Status = "counsellor_rejected"
	StatusAdminApproved      Status = "admin_approved"
	StatusAdminRejected      Status = "admin_rejected"
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []Status{
	StatusPending,
	StatusCounsellorApproved,
	StatusCounsellorRejected,
	StatusAdminApproved,
	StatusAdminRejected,
}

func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return status, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCounsellorApproved, StatusCounsellorRejected, StatusAdminApproved, StatusAdminRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCounsellorRejected, StatusAdminApproved, StatusAdminRejected:
		return true
	default:
		return false
	}
}

// Rejected reports whether s is one of the rejection states.
func (s Status) Rejected() bool {
	return s == StatusCounsellorRejected || s == StatusAdminRejected
}

// Category classifies what kind of accomplishment was achieved.
type Category string

const (
	CategoryAcademic  Category = "academic"
	CategorySports    Category = "sports"
	CategoryTechnical Category = "technical"
	CategoryCultural  Category = "cultural"
	CategoryOther     Category = "other"
)

var AllCategories = []Category{CategoryAcademic, CategorySports, CategoryTechnical, CategoryCultural, CategoryOther}

func (c Category) Valid() bool {
	for _, candidate := range AllCategories {
		if c == candidate {
			return true
		}
	}
	return false
}

// Level is the scope at which an achievement was won. It determines
// the points awarded on final approval.
type Level string

const (
	LevelCollege       Level = "college"
	LevelUniversity    Level = "university"
	LevelState         Level = "state"
	LevelNational      Level = "national"
	LevelInternational Level = "international"
)

var AllLevels = []Level{LevelCollege, LevelUniversity, LevelState, LevelNational, LevelInternational}

func (l Level) Valid() bool {
	for _, candidate := range AllLevels {
		if l == candidate {
			return true
		}
	}
	return false
}

// Badge is the tier a student holds based on accumulated points.
type Badge string

const (
	BadgeNone        Badge = ""
	BadgeParticipant Badge = "Participant"
	BadgeBronze      Badge = "Bronze"
	BadgeSilver      Badge = "Silver"
	BadgeGold        Badge = "Gold"
)

// Review records one reviewer's decision on an achievement.
type Review struct {
	// ReviewerID is the user who made the decision.
	ReviewerID int `json:"reviewerId"`

	// ReviewedAt is when the decision was persisted.
	ReviewedAt time.Time `json:"reviewedAt"`

	// RejectionReason is set only for rejections.
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// Achievement is a single submitted accomplishment and its review state.
type Achievement struct {
	// ID is the unique identifier of the achievement.
	ID int `json:"id" db:"id"`

	// Title, Description, Date, Category, Level, StudentID and Department
	// are fixed when the achievement is created.
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Date        time.Time `json:"date" db:"date"`
	Category    Category  `json:"category" db:"category"`
	Level       Level     `json:"level" db:"level"`
	StudentID   int       `json:"studentId" db:"student_id"`
	Department  string    `json:"department" db:"department"`

	// ProofDocument is the object storage key of the uploaded proof, if any.
	ProofDocument string `json:"proofDocument,omitempty" db:"proof_document"`

	// Status only changes through the review workflow.
	Status Status `json:"status" db:"status"`

	CounsellorReview *Review `json:"counsellorReview,omitempty"`
	AdminReview      *Review `json:"adminReview,omitempty"`

	// VerificationCode is set if and only if Status is AdminApproved.
	VerificationCode string `json:"verificationCode,omitempty" db:"verification_code"`

	// Points is the level score once admin approved, otherwise zero.
	Points int `json:"points" db:"points"`

	// Badge is the student's tier right after this achievement was approved.
	Badge Badge `json:"badge,omitempty" db:"badge"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// NewAchievement is the submission command issued by a student.
type NewAchievement struct {
	Title         string    `json:"title" validate:"required,max=200"`
	Description   string    `json:"description" validate:"required,max=5000"`
	Date          time.Time `json:"date" validate:"required"`
	Category      Category  `json:"category" validate:"required"`
	Level         Level     `json:"level" validate:"required"`
	ProofDocument string    `json:"-"`
}

// StatusChange describes a single conditional transition: it applies only
// while the achievement is still in From.
type StatusChange struct {
	AchievementID int
	From          Status
	To            Status
	ActorID       int
	At            time.Time
	Reason        string

	// VerificationCode and Points are written only when To is AdminApproved.
	VerificationCode string
	Points           int
}

// AchievementFilter narrows achievement listings. Zero values match all.
type AchievementFilter struct {
	StudentID  int
	Status     Status
	Category   Category
	Level      Level
	Department string
	Section    int
}

// CountItem is one bucket of an aggregate.
type CountItem struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// StudentScore is a student's standing computed from approved achievements.
type StudentScore struct {
	StudentID     int    `json:"studentId"`
	Name          string `json:"name"`
	StudentNumber string `json:"studentNumber,omitempty"`
	Department    string `json:"department,omitempty"`
	Section       int    `json:"section,omitempty"`
	ApprovedCount int    `json:"approvedCount"`
	TotalPoints   int    `json:"totalPoints"`
	Badge         Badge  `json:"badge"`
}

// AchievementStats is the staff dashboard aggregate.
type AchievementStats struct {
	Total       int            `json:"total"`
	ByStatus    []CountItem    `json:"byStatus"`
	ByCategory  []CountItem    `json:"byCategory"`
	ByLevel     []CountItem    `json:"byLevel"`
	TopStudents []StudentScore `json:"topStudents"`
}

// UserStats is a single student's summary.
type UserStats struct {
	StudentScore
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// CertificateView is the public, read-only projection returned by
// certificate verification. It deliberately omits contact details.
type CertificateView struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Date        time.Time          `json:"date"`
	Category    Category           `json:"category"`
	Level       Level              `json:"level"`
	Student     CertificateStudent `json:"student"`
	VerifiedBy  string             `json:"verifiedBy"`
	VerifiedAt  time.Time          `json:"verifiedAt"`
	Code        string             `json:"qrCode"`
}

// CertificateStudent is the subset of a student shown on a certificate.
type CertificateStudent struct {
	Name       string `json:"name"`
	StudentID  string `json:"studentId"`
	Department string `json:"department"`
	Section    int    `json:"section"`
}
