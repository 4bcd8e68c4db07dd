package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/achievetrack/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	minSection = 1
	maxSection = 20
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByCredential(ctx context.Context, emailOrUsername string) (types.User, error)
	List(ctx context.Context, filter types.UserFilter, offset, limit int) ([]types.User, int, error)
	ListByRole(ctx context.Context, role types.Role) ([]types.User, error)
	ListCounsellorsForSection(ctx context.Context, section int) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// UserService encapsulates identity use-cases.
type UserService struct {
	repo              UserRepository
	validator         *Validator
	institutionDomain string
}

func NewUserService(repo UserRepository, validator *Validator, institutionDomain string) *UserService {
	return &UserService{
		repo:              repo,
		validator:         validator,
		institutionDomain: strings.ToLower(strings.TrimSpace(institutionDomain)),
	}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context, filter types.UserFilter, offset, limit int) ([]types.User, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, 0, invalidField("role", "role must be one of student, counsellor, admin")
	}
	return s.repo.List(ctx, filter, offset, limit)
}

// Register creates a student or counsellor account. Admin accounts can only
// be created through CreateAdmin.
func (s *UserService) Register(ctx context.Context, input types.NewUser) (types.User, error) {
	input = normalizeNewUser(input)

	var extra fieldErrors
	switch input.Role {
	case types.RoleStudent:
		if input.StudentID == "" {
			extra.add("studentId", "studentId is required for students")
		}
		if input.Branch == "" {
			extra.add("branch", "branch is required for students")
		}
		if input.Course == "" {
			extra.add("course", "course is required for students")
		}
		if input.Year == "" {
			extra.add("year", "year is required for students")
		}
		if !validSection(input.Section) {
			extra.add("section", fmt.Sprintf("section must be between %d and %d", minSection, maxSection))
		}
	case types.RoleCounsellor:
		if input.CounsellorID == "" {
			extra.add("counsellorId", "counsellorId is required for counsellors")
		}
		if input.Branch == "" {
			extra.add("branch", "branch is required for counsellors")
		}
		if input.Course == "" {
			extra.add("course", "course is required for counsellors")
		}
		if input.CounsellorRole == "" {
			extra.add("counsellorRole", "counsellorRole is required for counsellors")
		}
		if !validSection(input.AssignedSection) {
			extra.add("assignedSection", fmt.Sprintf("assignedSection must be between %d and %d", minSection, maxSection))
		}
		if !s.institutionalEmail(input.Email) {
			extra.add("email", fmt.Sprintf("counsellors must register with an @%s email", s.institutionDomain))
		}
	case "":
	default:
		extra.add("role", "role must be student or counsellor")
	}

	if err := extra.merge(s.validator.Struct(input)); err != nil {
		return types.User{}, err
	}

	return s.create(ctx, input)
}

// CreateAdmin creates an admin account. It is not reachable over HTTP.
func (s *UserService) CreateAdmin(ctx context.Context, input types.NewUser) (types.User, error) {
	input = normalizeNewUser(input)
	input.Role = types.RoleAdmin

	if err := s.validator.Struct(input); err != nil {
		return types.User{}, err
	}
	return s.create(ctx, input)
}

func (s *UserService) create(ctx context.Context, input types.NewUser) (types.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := types.User{
		Username:     input.Username,
		Email:        input.Email,
		Name:         input.Name,
		Role:         input.Role,
		PasswordHash: string(hashed),
		PhoneNumber:  input.PhoneNumber,
		Department:   input.Department,
		Branch:       input.Branch,
		Course:       input.Course,
		IsActive:     true,
	}
	switch input.Role {
	case types.RoleStudent:
		user.StudentID = input.StudentID
		user.Year = input.Year
		user.Section = input.Section
	case types.RoleCounsellor:
		user.CounsellorID = input.CounsellorID
		user.CounsellorRole = input.CounsellorRole
		user.AssignedSection = input.AssignedSection
	}

	return s.repo.Create(ctx, user)
}

// Authenticate resolves a user by email or username and checks the password.
func (s *UserService) Authenticate(ctx context.Context, emailOrUsername, password string) (types.User, error) {
	if strings.TrimSpace(emailOrUsername) == "" || password == "" {
		return types.User{}, ErrInvalidCredentials
	}

	user, err := s.repo.GetByCredential(ctx, emailOrUsername)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return types.User{}, ErrInactiveUser
	}
	return user, nil
}

// UpdateProfile applies update to the user identified by id. Users may edit
// only themselves; admins may edit anyone and toggle IsActive.
func (s *UserService) UpdateProfile(ctx context.Context, actor types.User, id int, update types.UpdateUser) (types.User, error) {
	if actor.ID != id && actor.Role != types.RoleAdmin {
		return types.User{}, ErrForbidden
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	update.Name = strings.TrimSpace(update.Name)
	update.PhoneNumber = strings.TrimSpace(update.PhoneNumber)
	update.Department = strings.TrimSpace(update.Department)
	update.Branch = strings.TrimSpace(update.Branch)
	update.Course = strings.TrimSpace(update.Course)
	update.Year = strings.TrimSpace(update.Year)
	update.CounsellorRole = strings.TrimSpace(update.CounsellorRole)

	var extra fieldErrors
	switch user.Role {
	case types.RoleStudent:
		if !validSection(update.Section) {
			extra.add("section", fmt.Sprintf("section must be between %d and %d", minSection, maxSection))
		}
	case types.RoleCounsellor:
		if !validSection(update.AssignedSection) {
			extra.add("assignedSection", fmt.Sprintf("assignedSection must be between %d and %d", minSection, maxSection))
		}
	}
	if err := extra.merge(s.validator.Struct(update)); err != nil {
		return types.User{}, err
	}

	user.Name = update.Name
	user.PhoneNumber = update.PhoneNumber
	user.Department = update.Department
	user.Branch = update.Branch
	user.Course = update.Course
	switch user.Role {
	case types.RoleStudent:
		user.Year = update.Year
		user.Section = update.Section
	case types.RoleCounsellor:
		user.CounsellorRole = update.CounsellorRole
		user.AssignedSection = update.AssignedSection
	}
	if update.IsActive != nil && actor.Role == types.RoleAdmin {
		user.IsActive = *update.IsActive
	}

	return s.repo.Update(ctx, user)
}

func (s *UserService) institutionalEmail(email string) bool {
	if s.institutionDomain == "" {
		return true
	}
	return strings.HasSuffix(email, "@"+s.institutionDomain)
}

func normalizeNewUser(input types.NewUser) types.NewUser {
	input.Name = strings.TrimSpace(input.Name)
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Role = types.Role(strings.ToLower(strings.TrimSpace(string(input.Role))))
	input.PhoneNumber = strings.TrimSpace(input.PhoneNumber)
	input.Department = strings.TrimSpace(input.Department)
	input.Branch = strings.TrimSpace(input.Branch)
	input.Course = strings.TrimSpace(input.Course)
	input.StudentID = strings.TrimSpace(input.StudentID)
	input.Year = strings.TrimSpace(input.Year)
	input.CounsellorID = strings.TrimSpace(input.CounsellorID)
	input.CounsellorRole = strings.TrimSpace(input.CounsellorRole)
	return input
}

func validSection(section int) bool {
	return section >= minSection && section <= maxSection
}
