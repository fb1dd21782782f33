package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
)

// RegistrationStore хранилище записей на групповые уроки
type RegistrationStore interface {
	WithTx(q base.Querier) RegistrationStore
	Create(ctx context.Context, reg *model.GroupLessonRegistration) error
	GetByID(ctx context.Context, id int64) (*model.GroupLessonRegistration, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLessonRegistration, error)
	GetActive(ctx context.Context, groupLessonID, studentID int64) (*model.GroupLessonRegistration, error)
	MarkCancelled(ctx context.Context, id int64, reason string) error
	MarkAttended(ctx context.Context, id int64, at time.Time) error
	MarkMissed(ctx context.Context, id int64) error
	ListActiveByGroupLesson(ctx context.Context, groupLessonID int64) ([]*model.GroupLessonRegistration, error)
	ListByStudentRange(ctx context.Context, studentID int64, from, to time.Time) ([]*model.GroupLessonRegistration, error)
}

type RegistrationRepository struct {
	db base.Querier
}

func NewRegistrationRepository(db base.Querier) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// WithTx возвращает репозиторий, работающий в транзакции q
func (r *RegistrationRepository) WithTx(q base.Querier) RegistrationStore {
	return &RegistrationRepository{db: q}
}

const regColumns = `id, group_lesson_id, student_id, status, registered_at,
		attended, attendance_confirmed_at, cancel_reason`

func scanRegistration(row interface{ Scan(dest ...any) error }) (*model.GroupLessonRegistration, error) {
	var reg model.GroupLessonRegistration
	err := row.Scan(
		&reg.ID,
		&reg.GroupLessonID,
		&reg.StudentID,
		&reg.Status,
		&reg.RegisteredAt,
		&reg.Attended,
		&reg.AttendanceConfirmedAt,
		&reg.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// Create создаёт запись. Частичный уникальный индекс по
// (group_lesson_id, student_id) WHERE status = 'registered' превращает
// повторную активную запись в ErrAlreadyRegistered.
func (r *RegistrationRepository) Create(ctx context.Context, reg *model.GroupLessonRegistration) error {
	query := `
		INSERT INTO group_lesson_registrations (group_lesson_id, student_id, status, registered_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := r.db.QueryRow(
		ctx, query,
		reg.GroupLessonID,
		reg.StudentID,
		reg.Status,
		reg.RegisteredAt,
	).Scan(&reg.ID)

	if err != nil {
		if base.IsUniqueViolation(err) {
			return fmt.Errorf("student %d on lesson %d: %w", reg.StudentID, reg.GroupLessonID, model.ErrAlreadyRegistered)
		}
		return fmt.Errorf("create registration: %w", err)
	}

	return nil
}

// GetByID получает запись по ID
func (r *RegistrationRepository) GetByID(ctx context.Context, id int64) (*model.GroupLessonRegistration, error) {
	query := `SELECT ` + regColumns + ` FROM group_lesson_registrations WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate получает запись по ID с блокировкой строки
func (r *RegistrationRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLessonRegistration, error) {
	query := `SELECT ` + regColumns + ` FROM group_lesson_registrations WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *RegistrationRepository) getOne(ctx context.Context, query string, id int64) (*model.GroupLessonRegistration, error) {
	reg, err := scanRegistration(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, fmt.Errorf("registration %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get registration by id: %w", err)
	}
	return reg, nil
}

// GetActive получает активную запись студента на урок
func (r *RegistrationRepository) GetActive(ctx context.Context, groupLessonID, studentID int64) (*model.GroupLessonRegistration, error) {
	query := `
		SELECT ` + regColumns + `
		FROM group_lesson_registrations
		WHERE group_lesson_id = $1 AND student_id = $2 AND status = 'registered'
	`

	reg, err := scanRegistration(r.db.QueryRow(ctx, query, groupLessonID, studentID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, fmt.Errorf("active registration: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get active registration: %w", err)
	}
	return reg, nil
}

// MarkCancelled переводит запись registered -> cancelled
func (r *RegistrationRepository) MarkCancelled(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE group_lesson_registrations
		SET status = 'cancelled', cancel_reason = $2
		WHERE id = $1 AND status = 'registered'
	`

	tag, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("cancel registration: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("registration %d is not active: %w", id, model.ErrNotAvailable)
	}

	return nil
}

// MarkAttended переводит запись registered -> attended.
// Счётчик мест урока не трогаем: место уже было учтено при записи.
func (r *RegistrationRepository) MarkAttended(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE group_lesson_registrations
		SET status = 'attended', attended = TRUE, attendance_confirmed_at = $2
		WHERE id = $1 AND status = 'registered'
	`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark attended: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("registration %d is not active: %w", id, model.ErrNotAvailable)
	}

	return nil
}

// MarkMissed переводит запись registered -> missed
func (r *RegistrationRepository) MarkMissed(ctx context.Context, id int64) error {
	query := `
		UPDATE group_lesson_registrations
		SET status = 'missed'
		WHERE id = $1 AND status = 'registered'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark missed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("registration %d is not active: %w", id, model.ErrNotAvailable)
	}

	return nil
}

// ListActiveByGroupLesson получает активные записи урока
func (r *RegistrationRepository) ListActiveByGroupLesson(ctx context.Context, groupLessonID int64) ([]*model.GroupLessonRegistration, error) {
	query := `
		SELECT ` + regColumns + `
		FROM group_lesson_registrations
		WHERE group_lesson_id = $1 AND status = 'registered'
		ORDER BY registered_at
	`

	rows, err := r.db.Query(ctx, query, groupLessonID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []*model.GroupLessonRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}

	return regs, rows.Err()
}

// ListByStudentRange получает записи студента вместе с уроками
// в диапазоне времени — выборка для календаря
func (r *RegistrationRepository) ListByStudentRange(ctx context.Context, studentID int64, from, to time.Time) ([]*model.GroupLessonRegistration, error) {
	query := `
		SELECT r.id, r.group_lesson_id, r.student_id, r.status, r.registered_at,
		       r.attended, r.attendance_confirmed_at, r.cancel_reason,
		       g.id, g.teacher_id, g.topic, g.scheduled_at, g.duration_minutes, g.max_students,
		       g.current_students, g.status, g.meeting_link, g.description, g.created_at, g.updated_at
		FROM group_lesson_registrations r
		JOIN group_lessons g ON g.id = r.group_lesson_id
		WHERE r.student_id = $1
		  AND r.status IN ('registered', 'attended', 'missed')
		  AND g.scheduled_at >= $2
		  AND g.scheduled_at < $3
		ORDER BY g.scheduled_at
	`

	rows, err := r.db.Query(ctx, query, studentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list student registrations: %w", err)
	}
	defer rows.Close()

	var regs []*model.GroupLessonRegistration
	for rows.Next() {
		var reg model.GroupLessonRegistration
		var g model.GroupLesson
		err := rows.Scan(
			&reg.ID,
			&reg.GroupLessonID,
			&reg.StudentID,
			&reg.Status,
			&reg.RegisteredAt,
			&reg.Attended,
			&reg.AttendanceConfirmedAt,
			&reg.CancelReason,
			&g.ID,
			&g.TeacherID,
			&g.Topic,
			&g.ScheduledAt,
			&g.DurationMinutes,
			&g.MaxStudents,
			&g.CurrentStudents,
			&g.Status,
			&g.MeetingLink,
			&g.Description,
			&g.CreatedAt,
			&g.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan student registration: %w", err)
		}
		reg.GroupLesson = &g
		regs = append(regs, &reg)
	}

	return regs, rows.Err()
}
