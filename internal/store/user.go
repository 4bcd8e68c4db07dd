package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/achievetrack/apiserver/types"
)

const userColumns = `
	id, username, email, name, role, password_hash, phone_number, department, branch, course,
	student_id, year, section, counsellor_id, counsellor_role, assigned_section,
	is_active, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row rowScanner) (types.User, error) {
	var (
		user            types.User
		studentID       sql.NullString
		section         sql.NullInt64
		counsellorID    sql.NullString
		assignedSection sql.NullInt64
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Name,
		&user.Role,
		&user.PasswordHash,
		&user.PhoneNumber,
		&user.Department,
		&user.Branch,
		&user.Course,
		&studentID,
		&user.Year,
		&section,
		&counsellorID,
		&user.CounsellorRole,
		&assignedSection,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, translateError(err)
	}
	user.StudentID = studentID.String
	user.Section = int(section.Int64)
	user.CounsellorID = counsellorID.String
	user.AssignedSection = int(assignedSection.Int64)
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByCredential matches either the username or the email, case-insensitively.
func (r *UserRepository) GetByCredential(ctx context.Context, emailOrUsername string) (types.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(email) = $1 OR LOWER(username) = $1
		ORDER BY id
		LIMIT 1`
	key := strings.ToLower(strings.TrimSpace(emailOrUsername))
	return scanUser(r.db.QueryRowContext(ctx, query, key))
}

func (r *UserRepository) List(ctx context.Context, filter types.UserFilter, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM users WHERE ($1::text = '' OR role = $1::text)`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, string(filter.Role)).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT ` + userColumns + `
		FROM users
		WHERE ($1::text = '' OR role = $1::text)
		ORDER BY id
		OFFSET $2 LIMIT $3`
	users, err := r.queryUsers(ctx, listQuery, string(filter.Role), offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ListByRole returns every active user holding role.
func (r *UserRepository) ListByRole(ctx context.Context, role types.Role) ([]types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = $1 AND is_active ORDER BY id`
	return r.queryUsers(ctx, query, string(role))
}

// ListCounsellorsForSection returns the active counsellors assigned to section.
func (r *UserRepository) ListCounsellorsForSection(ctx context.Context, section int) ([]types.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE role = $1 AND assigned_section = $2 AND is_active
		ORDER BY id`
	return r.queryUsers(ctx, query, string(types.RoleCounsellor), section)
}

func (r *UserRepository) queryUsers(ctx context.Context, query string, args ...any) ([]types.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Username = strings.ToLower(user.Username)
	user.Email = strings.ToLower(user.Email)

	const query = `
		INSERT INTO users (
			username, email, name, role, password_hash, phone_number, department, branch, course,
			student_id, year, section, counsellor_id, counsellor_role, assigned_section,
			is_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.Name,
		string(user.Role),
		user.PasswordHash,
		user.PhoneNumber,
		user.Department,
		user.Branch,
		user.Course,
		nullString(user.StudentID),
		user.Year,
		nullInt(user.Section),
		nullString(user.CounsellorID),
		user.CounsellorRole,
		nullInt(user.AssignedSection),
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

// Update writes the mutable profile columns. Identity columns and the role
// are never touched.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now()

	const query = `
		UPDATE users
		SET name = $1,
			phone_number = $2,
			department = $3,
			branch = $4,
			course = $5,
			year = $6,
			section = $7,
			counsellor_role = $8,
			assigned_section = $9,
			is_active = $10,
			updated_at = $11
		WHERE id = $12`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Name,
		user.PhoneNumber,
		user.Department,
		user.Branch,
		user.Course,
		user.Year,
		nullInt(user.Section),
		user.CounsellorRole,
		nullInt(user.AssignedSection),
		user.IsActive,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return types.User{}, translateError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}
