package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
)

// LessonStore хранилище индивидуальных уроков
type LessonStore interface {
	WithTx(q base.Querier) LessonStore
	Create(ctx context.Context, lesson *model.Lesson) error
	GetByID(ctx context.Context, id int64) (*model.Lesson, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.Lesson, error)
	GetScheduledBySlotID(ctx context.Context, slotID int64) (*model.Lesson, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkCancelled(ctx context.Context, id int64, by model.Actor, reason string) error
	MarkMissed(ctx context.Context, id int64) error
	ConfirmAttendance(ctx context.Context, id int64) error
	ConfirmByTeacher(ctx context.Context, id int64) error
	ListByStudentRange(ctx context.Context, studentID int64, from, to time.Time) ([]*model.Lesson, error)
	ListByTeacherRange(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.Lesson, error)
	ListScheduledStartingBetween(ctx context.Context, from, to time.Time) ([]*model.Lesson, error)
	ListUnconfirmedCompleted(ctx context.Context, endedAfter, endedBefore time.Time) ([]*model.Lesson, error)
}

type LessonRepository struct {
	db base.Querier
}

func NewLessonRepository(db base.Querier) *LessonRepository {
	return &LessonRepository{db: db}
}

// WithTx возвращает репозиторий, работающий в транзакции q
func (r *LessonRepository) WithTx(q base.Querier) LessonStore {
	return &LessonRepository{db: q}
}

const lessonColumns = `id, student_id, teacher_id, slot_id, scheduled_at, duration_minutes,
		status, cancel_reason, COALESCE(cancelled_by, ''), confirmed_by_teacher,
		attendance_confirmed, notes, created_at, updated_at`

func scanLesson(row interface{ Scan(dest ...any) error }) (*model.Lesson, error) {
	var l model.Lesson
	err := row.Scan(
		&l.ID,
		&l.StudentID,
		&l.TeacherID,
		&l.SlotID,
		&l.ScheduledAt,
		&l.DurationMinutes,
		&l.Status,
		&l.CancelReason,
		&l.CancelledBy,
		&l.ConfirmedByTeacher,
		&l.AttendanceConfirmed,
		&l.Notes,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Create создаёт урок
func (r *LessonRepository) Create(ctx context.Context, lesson *model.Lesson) error {
	query := `
		INSERT INTO lessons (student_id, teacher_id, slot_id, scheduled_at, duration_minutes, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		lesson.StudentID,
		lesson.TeacherID,
		lesson.SlotID,
		lesson.ScheduledAt,
		lesson.DurationMinutes,
		lesson.Status,
		lesson.Notes,
	).Scan(&lesson.ID, &lesson.CreatedAt, &lesson.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}

	return nil
}

// GetByID получает урок по ID
func (r *LessonRepository) GetByID(ctx context.Context, id int64) (*model.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate получает урок по ID с блокировкой строки
func (r *LessonRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *LessonRepository) getOne(ctx context.Context, query string, id int64) (*model.Lesson, error) {
	lesson, err := scanLesson(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, fmt.Errorf("lesson %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get lesson by id: %w", err)
	}
	return lesson, nil
}

// GetScheduledBySlotID получает активный урок, ссылающийся на слот.
// На один слот может существовать не более одного урока в статусе scheduled.
func (r *LessonRepository) GetScheduledBySlotID(ctx context.Context, slotID int64) (*model.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE slot_id = $1 AND status = 'scheduled'`

	lesson, err := scanLesson(r.db.QueryRow(ctx, query, slotID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, fmt.Errorf("scheduled lesson for slot %d: %w", slotID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get lesson by slot: %w", err)
	}
	return lesson, nil
}

// MarkCompleted переводит урок scheduled -> completed
func (r *LessonRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE lessons
		SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'scheduled'
	`
	return r.guardedExec(ctx, query, "complete lesson", id)
}

// MarkCancelled переводит урок scheduled -> cancelled
func (r *LessonRepository) MarkCancelled(ctx context.Context, id int64, by model.Actor, reason string) error {
	query := `
		UPDATE lessons
		SET status = 'cancelled', cancelled_by = $2, cancel_reason = $3, updated_at = now()
		WHERE id = $1 AND status = 'scheduled'
	`

	tag, err := r.db.Exec(ctx, query, id, by, reason)
	if err != nil {
		return fmt.Errorf("cancel lesson: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lesson %d is not scheduled: %w", id, model.ErrNotAvailable)
	}

	return nil
}

// MarkMissed переводит урок scheduled -> missed
func (r *LessonRepository) MarkMissed(ctx context.Context, id int64) error {
	query := `
		UPDATE lessons
		SET status = 'missed', updated_at = now()
		WHERE id = $1 AND status = 'scheduled'
	`
	return r.guardedExec(ctx, query, "mark lesson missed", id)
}

// ConfirmAttendance отмечает посещение проведённого урока подтверждённым
func (r *LessonRepository) ConfirmAttendance(ctx context.Context, id int64) error {
	query := `
		UPDATE lessons
		SET attendance_confirmed = TRUE, updated_at = now()
		WHERE id = $1 AND status = 'completed' AND attendance_confirmed = FALSE
	`
	return r.guardedExec(ctx, query, "confirm attendance", id)
}

// ConfirmByTeacher отмечает запланированный урок подтверждённым учителем
func (r *LessonRepository) ConfirmByTeacher(ctx context.Context, id int64) error {
	query := `
		UPDATE lessons
		SET confirmed_by_teacher = TRUE, updated_at = now()
		WHERE id = $1 AND status = 'scheduled'
	`
	return r.guardedExec(ctx, query, "confirm lesson", id)
}

func (r *LessonRepository) guardedExec(ctx context.Context, query, op string, id int64) error {
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", op, id, model.ErrNotAvailable)
	}

	return nil
}

// ListByStudentRange получает уроки студента в диапазоне времени
func (r *LessonRepository) ListByStudentRange(ctx context.Context, studentID int64, from, to time.Time) ([]*model.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE student_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`
	return r.list(ctx, query, studentID, from, to)
}

// ListByTeacherRange получает уроки учителя в диапазоне времени
func (r *LessonRepository) ListByTeacherRange(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE teacher_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`
	return r.list(ctx, query, teacherID, from, to)
}

// ListScheduledStartingBetween получает запланированные уроки, начинающиеся
// в окне (from, to] — выборка оркестратора для напоминаний
func (r *LessonRepository) ListScheduledStartingBetween(ctx context.Context, from, to time.Time) ([]*model.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE status = 'scheduled'
		  AND scheduled_at > $1
		  AND scheduled_at <= $2
		ORDER BY scheduled_at
	`
	return r.list(ctx, query, from, to)
}

// ListUnconfirmedCompleted получает проведённые уроки без подтверждения
// посещения, закончившиеся в заданном окне
func (r *LessonRepository) ListUnconfirmedCompleted(ctx context.Context, endedAfter, endedBefore time.Time) ([]*model.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE status = 'completed'
		  AND attendance_confirmed = FALSE
		  AND scheduled_at + make_interval(mins => duration_minutes) > $1
		  AND scheduled_at + make_interval(mins => duration_minutes) <= $2
		ORDER BY scheduled_at
	`
	return r.list(ctx, query, endedAfter, endedBefore)
}

func (r *LessonRepository) list(ctx context.Context, query string, args ...any) ([]*model.Lesson, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	var lessons []*model.Lesson
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		lessons = append(lessons, lesson)
	}

	return lessons, rows.Err()
}
