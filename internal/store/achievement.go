package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/achievetrack/apiserver/types"
)

const achievementColumns = `
	a.id, a.title, a.description, a.date, a.category, a.level, a.student_id, a.department,
	a.proof_document, a.status,
	a.counsellor_reviewed_by, a.counsellor_reviewed_at, a.counsellor_rejection_reason,
	a.admin_reviewed_by, a.admin_reviewed_at, a.admin_rejection_reason,
	a.verification_code, a.points, a.badge, a.created_at, a.updated_at`

// AchievementRepository handles persistence for achievements.
type AchievementRepository struct {
	db *sql.DB
}

func NewAchievementRepository(db *sql.DB) *AchievementRepository {
	return &AchievementRepository{db: db}
}

func scanAchievement(row rowScanner) (types.Achievement, error) {
	var (
		achievement      types.Achievement
		counsellorBy     sql.NullInt64
		counsellorAt     sql.NullTime
		counsellorReason string
		adminBy          sql.NullInt64
		adminAt          sql.NullTime
		adminReason      string
		verificationCode sql.NullString
	)
	err := row.Scan(
		&achievement.ID,
		&achievement.Title,
		&achievement.Description,
		&achievement.Date,
		&achievement.Category,
		&achievement.Level,
		&achievement.StudentID,
		&achievement.Department,
		&achievement.ProofDocument,
		&achievement.Status,
		&counsellorBy,
		&counsellorAt,
		&counsellorReason,
		&adminBy,
		&adminAt,
		&adminReason,
		&verificationCode,
		&achievement.Points,
		&achievement.Badge,
		&achievement.CreatedAt,
		&achievement.UpdatedAt,
	)
	if err != nil {
		return types.Achievement{}, translateError(err)
	}

	achievement.CounsellorReview = reviewFromColumns(counsellorBy, counsellorAt, counsellorReason)
	achievement.AdminReview = reviewFromColumns(adminBy, adminAt, adminReason)
	achievement.VerificationCode = verificationCode.String
	return achievement, nil
}

func reviewFromColumns(by sql.NullInt64, at sql.NullTime, reason string) *types.Review {
	if !by.Valid {
		return nil
	}
	return &types.Review{
		ReviewerID:      int(by.Int64),
		ReviewedAt:      at.Time,
		RejectionReason: reason,
	}
}

func (r *AchievementRepository) Get(ctx context.Context, id int) (types.Achievement, error) {
	query := `SELECT ` + achievementColumns + ` FROM achievements a WHERE a.id = $1`
	return scanAchievement(r.db.QueryRowContext(ctx, query, id))
}

func (r *AchievementRepository) GetByVerificationCode(ctx context.Context, code string) (types.Achievement, error) {
	query := `SELECT ` + achievementColumns + ` FROM achievements a WHERE a.verification_code = $1`
	return scanAchievement(r.db.QueryRowContext(ctx, query, code))
}

func (r *AchievementRepository) List(ctx context.Context, filter types.AchievementFilter, offset, limit int) ([]types.Achievement, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	where, args := achievementWhere(filter)

	countQuery := `SELECT COUNT(1) FROM achievements a` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(`SELECT %s
		FROM achievements a%s
		ORDER BY a.created_at DESC, a.id DESC
		OFFSET $%d LIMIT $%d`, achievementColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, listQuery, append(args, offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	achievements := make([]types.Achievement, 0, limit)
	for rows.Next() {
		achievement, err := scanAchievement(rows)
		if err != nil {
			return nil, 0, err
		}
		achievements = append(achievements, achievement)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return achievements, total, nil
}

func achievementWhere(filter types.AchievementFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.StudentID != 0 {
		add("a.student_id = $%d", filter.StudentID)
	}
	if filter.Status != "" {
		add("a.status = $%d", string(filter.Status))
	}
	if filter.Category != "" {
		add("a.category = $%d", string(filter.Category))
	}
	if filter.Level != "" {
		add("a.level = $%d", string(filter.Level))
	}
	if filter.Department != "" {
		add("LOWER(a.department) = LOWER($%d)", filter.Department)
	}
	if filter.Section != 0 {
		add("a.student_id IN (SELECT u.id FROM users u WHERE u.section = $%d)", filter.Section)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *AchievementRepository) Create(ctx context.Context, achievement types.Achievement) (types.Achievement, error) {
	now := time.Now()
	achievement.CreatedAt = now
	achievement.UpdatedAt = now
	achievement.Status = types.StatusPending

	const query = `
		INSERT INTO achievements (
			title, description, date, category, level, student_id, department, proof_document,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		achievement.Title,
		achievement.Description,
		achievement.Date,
		string(achievement.Category),
		string(achievement.Level),
		achievement.StudentID,
		achievement.Department,
		achievement.ProofDocument,
		string(achievement.Status),
		achievement.CreatedAt,
		achievement.UpdatedAt,
	).Scan(&achievement.ID); err != nil {
		return types.Achievement{}, translateError(err)
	}
	return achievement, nil
}

// ApplyStatusChange performs the transition as one conditional UPDATE keyed
// on the expected current status, so concurrent reviewers cannot both win.
// It returns ErrStatusConflict when the achievement exists but is no longer
// in change.From.
func (r *AchievementRepository) ApplyStatusChange(ctx context.Context, change types.StatusChange) (types.Achievement, error) {
	var (
		query string
		args  []any
	)
	switch change.To {
	case types.StatusCounsellorApproved, types.StatusCounsellorRejected:
		query = `
			UPDATE achievements a
			SET status = $1,
				counsellor_reviewed_by = $2,
				counsellor_reviewed_at = $3,
				counsellor_rejection_reason = $4,
				updated_at = $3
			WHERE a.id = $5 AND a.status = $6
			RETURNING ` + achievementColumns
		args = []any{string(change.To), change.ActorID, change.At, change.Reason, change.AchievementID, string(change.From)}
	case types.StatusAdminApproved, types.StatusAdminRejected:
		query = `
			UPDATE achievements a
			SET status = $1,
				admin_reviewed_by = $2,
				admin_reviewed_at = $3,
				admin_rejection_reason = $4,
				verification_code = $5,
				points = $6,
				updated_at = $3
			WHERE a.id = $7 AND a.status = $8
			RETURNING ` + achievementColumns
		args = []any{
			string(change.To), change.ActorID, change.At, change.Reason,
			nullString(change.VerificationCode), change.Points,
			change.AchievementID, string(change.From),
		}
	default:
		return types.Achievement{}, fmt.Errorf("unsupported target status %q", change.To)
	}

	achievement, err := scanAchievement(r.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return achievement, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return types.Achievement{}, err
	}

	var exists bool
	const existsQuery = `SELECT EXISTS(SELECT 1 FROM achievements WHERE id = $1)`
	if err := r.db.QueryRowContext(ctx, existsQuery, change.AchievementID).Scan(&exists); err != nil {
		return types.Achievement{}, err
	}
	if !exists {
		return types.Achievement{}, ErrNotFound
	}
	return types.Achievement{}, ErrStatusConflict
}

func (r *AchievementRepository) SetBadge(ctx context.Context, id int, badge types.Badge) error {
	const query = `UPDATE achievements SET badge = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, string(badge), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApprovedPoints sums the points of a student's admin-approved achievements.
func (r *AchievementRepository) ApprovedPoints(ctx context.Context, studentID int) (int, error) {
	const query = `
		SELECT COALESCE(SUM(points), 0)
		FROM achievements
		WHERE student_id = $1 AND status = $2`
	var total int
	if err := r.db.QueryRowContext(ctx, query, studentID, string(types.StatusAdminApproved)).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// CountBy groups achievements matching filter by one of status, category or level.
func (r *AchievementRepository) CountBy(ctx context.Context, column string, filter types.AchievementFilter) ([]types.CountItem, error) {
	switch column {
	case "status", "category", "level":
	default:
		return nil, fmt.Errorf("cannot group achievements by %q", column)
	}

	where, args := achievementWhere(filter)
	query := fmt.Sprintf(`SELECT a.%[1]s, COUNT(1) FROM achievements a%[2]s GROUP BY a.%[1]s ORDER BY a.%[1]s`, column, where)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]types.CountItem, 0)
	for rows.Next() {
		var item types.CountItem
		if err := rows.Scan(&item.Label, &item.Count); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// TopStudents ranks students by the points of their admin-approved achievements.
func (r *AchievementRepository) TopStudents(ctx context.Context, limit int) ([]types.StudentScore, error) {
	if limit < 1 {
		limit = 10
	}

	const query = `
		SELECT u.id, u.name, COALESCE(u.student_id, ''), u.department, COALESCE(u.section, 0),
		       COUNT(a.id), COALESCE(SUM(a.points), 0)
		FROM achievements a
		JOIN users u ON u.id = a.student_id
		WHERE a.status = $1
		GROUP BY u.id, u.name, u.student_id, u.department, u.section
		ORDER BY SUM(a.points) DESC, u.id
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, string(types.StatusAdminApproved), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make([]types.StudentScore, 0, limit)
	for rows.Next() {
		var score types.StudentScore
		if err := rows.Scan(
			&score.StudentID,
			&score.Name,
			&score.StudentNumber,
			&score.Department,
			&score.Section,
			&score.ApprovedCount,
			&score.TotalPoints,
		); err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}
