package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
)

// GroupLessonStore хранилище групповых уроков
type GroupLessonStore interface {
	WithTx(q base.Querier) GroupLessonStore
	Create(ctx context.Context, g *model.GroupLesson) error
	GetByID(ctx context.Context, id int64) (*model.GroupLesson, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLesson, error)
	UpdateStatusFrom(ctx context.Context, id int64, from, to model.GroupLessonStatus) error
	MarkCancelled(ctx context.Context, id int64, currentStudents int) error
	Reschedule(ctx context.Context, id int64, at time.Time) error
	IncrementStudents(ctx context.Context, id int64) error
	DecrementStudents(ctx context.Context, id int64) error
	ListByTeacherRange(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error)
	ListConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]*model.GroupLesson, error)
}

type GroupLessonRepository struct {
	db base.Querier
}

func NewGroupLessonRepository(db base.Querier) *GroupLessonRepository {
	return &GroupLessonRepository{db: db}
}

// WithTx возвращает репозиторий, работающий в транзакции q
func (r *GroupLessonRepository) WithTx(q base.Querier) GroupLessonStore {
	return &GroupLessonRepository{db: q}
}

const groupColumns = `id, teacher_id, topic, scheduled_at, duration_minutes, max_students,
		current_students, status, meeting_link, description, created_at, updated_at`

func scanGroupLesson(row interface{ Scan(dest ...any) error }) (*model.GroupLesson, error) {
	var g model.GroupLesson
	err := row.Scan(
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
		return nil, err
	}
	return &g, nil
}

// Create создаёт групповой урок
func (r *GroupLessonRepository) Create(ctx context.Context, g *model.GroupLesson) error {
	query := `
		INSERT INTO group_lessons (teacher_id, topic, scheduled_at, duration_minutes, max_students, status, meeting_link, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		g.TeacherID,
		g.Topic,
		g.ScheduledAt,
		g.DurationMinutes,
		g.MaxStudents,
		g.Status,
		g.MeetingLink,
		g.Description,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create group lesson: %w", err)
	}

	return nil
}

// GetByID получает групповой урок по ID
func (r *GroupLessonRepository) GetByID(ctx context.Context, id int64) (*model.GroupLesson, error) {
	query := `SELECT ` + groupColumns + ` FROM group_lessons WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate получает групповой урок с блокировкой строки.
// Через эту блокировку сериализуются гонки за последнее место.
func (r *GroupLessonRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLesson, error) {
	query := `SELECT ` + groupColumns + ` FROM group_lessons WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *GroupLessonRepository) getOne(ctx context.Context, query string, id int64) (*model.GroupLesson, error) {
	g, err := scanGroupLesson(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, fmt.Errorf("group lesson %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get group lesson by id: %w", err)
	}
	return g, nil
}

// UpdateStatusFrom переводит урок из статуса from в to
func (r *GroupLessonRepository) UpdateStatusFrom(ctx context.Context, id int64, from, to model.GroupLessonStatus) error {
	query := `
		UPDATE group_lessons
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("update group lesson status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group lesson %d is not %s: %w", id, from, model.ErrNotBookable)
	}

	return nil
}

// MarkCancelled отменяет урок и выставляет счётчик мест после отмены
// активных записей (оставшиеся — это посетившие, их место уже учтено)
func (r *GroupLessonRepository) MarkCancelled(ctx context.Context, id int64, currentStudents int) error {
	query := `
		UPDATE group_lessons
		SET status = 'cancelled', current_students = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled')
	`

	tag, err := r.db.Exec(ctx, query, id, currentStudents)
	if err != nil {
		return fmt.Errorf("cancel group lesson: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group lesson %d already finished: %w", id, model.ErrNotBookable)
	}

	return nil
}

// Reschedule возвращает отложенный урок в расписание на новое время
func (r *GroupLessonRepository) Reschedule(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE group_lessons
		SET scheduled_at = $2, status = 'scheduled', updated_at = now()
		WHERE id = $1 AND status = 'postponed'
	`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("reschedule group lesson: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group lesson %d is not postponed: %w", id, model.ErrNotBookable)
	}

	return nil
}

// IncrementStudents занимает одно место. Условие на вместимость в WHERE
// гарантирует что счётчик не выйдет за max_students даже при гонке.
func (r *GroupLessonRepository) IncrementStudents(ctx context.Context, id int64) error {
	query := `
		UPDATE group_lessons
		SET current_students = current_students + 1, updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
		  AND (max_students IS NULL OR current_students < max_students)
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment students: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group lesson %d: %w", id, model.ErrNotBookable)
	}

	return nil
}

// DecrementStudents освобождает одно место
func (r *GroupLessonRepository) DecrementStudents(ctx context.Context, id int64) error {
	query := `
		UPDATE group_lessons
		SET current_students = current_students - 1, updated_at = now()
		WHERE id = $1 AND current_students > 0
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("decrement students: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group lesson %d has no students: %w", id, model.ErrNotBookable)
	}

	return nil
}

// ListByTeacherRange получает групповые уроки учителя в диапазоне времени
func (r *GroupLessonRepository) ListByTeacherRange(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM group_lessons
		WHERE teacher_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`
	return r.list(ctx, query, teacherID, from, to)
}

// ListConfirmedStartingBetween получает подтверждённые уроки, начинающиеся
// в окне (from, to] — выборка оркестратора для напоминаний
func (r *GroupLessonRepository) ListConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]*model.GroupLesson, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM group_lessons
		WHERE status = 'confirmed'
		  AND scheduled_at > $1
		  AND scheduled_at <= $2
		ORDER BY scheduled_at
	`
	return r.list(ctx, query, from, to)
}

func (r *GroupLessonRepository) list(ctx context.Context, query string, args ...any) ([]*model.GroupLesson, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list group lessons: %w", err)
	}
	defer rows.Close()

	var lessons []*model.GroupLesson
	for rows.Next() {
		g, err := scanGroupLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group lesson: %w", err)
		}
		lessons = append(lessons, g)
	}

	return lessons, rows.Err()
}
