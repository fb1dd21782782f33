package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
)

// SlotStore хранилище слотов доступности. Сервисы зависят от интерфейса,
// чтобы в тестах подставлять фейки; WithTx возвращает копию поверх
// открытой транзакции.
type SlotStore interface {
	WithTx(q base.Querier) SlotStore
	Create(ctx context.Context, slot *model.AvailabilitySlot) error
	GetByID(ctx context.Context, id int64) (*model.AvailabilitySlot, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.AvailabilitySlot, error)
	Book(ctx context.Context, id int64) error
	Release(ctx context.Context, id int64) error
	Block(ctx context.Context, id int64) error
	ListByTeacherRange(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error)
	ListFutureByStatus(ctx context.Context, teacherID int64, status model.SlotStatus, now time.Time) ([]*model.AvailabilitySlot, error)
	CountFutureByStatus(ctx context.Context, teacherID int64, status model.SlotStatus, now time.Time) (int64, error)
}

type SlotRepository struct {
	db base.Querier
}

func NewSlotRepository(db base.Querier) *SlotRepository {
	return &SlotRepository{db: db}
}

// WithTx возвращает репозиторий, работающий в транзакции q
func (r *SlotRepository) WithTx(q base.Querier) SlotStore {
	return &SlotRepository{db: q}
}

const slotColumns = `id, teacher_id, starts_at, duration_minutes, status, created_at`

func scanSlot(row interface{ Scan(dest ...any) error }) (*model.AvailabilitySlot, error) {
	var s model.AvailabilitySlot
	err := row.Scan(
		&s.ID,
		&s.TeacherID,
		&s.StartsAt,
		&s.DurationMinutes,
		&s.Status,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create создаёт слот; дубликат (teacher_id, starts_at) превращается в ErrConflict
func (r *SlotRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	query := `
		INSERT INTO availability_slots (teacher_id, starts_at, duration_minutes, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx, query,
		slot.TeacherID,
		slot.StartsAt,
		slot.DurationMinutes,
		slot.Status,
	).Scan(&slot.ID, &slot.CreatedAt)

	if err != nil {
		if base.IsUniqueViolation(err) {
			return fmt.Errorf("slot at %s: %w", slot.StartsAt, model.ErrConflict)
		}
		return fmt.Errorf("create slot: %w", err)
	}

	return nil
}

// GetByID получает слот по ID
func (r *SlotRepository) GetByID(ctx context.Context, id int64) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate получает слот по ID и блокирует строку до конца транзакции
func (r *SlotRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *SlotRepository) getOne(ctx context.Context, query string, id int64) (*model.AvailabilitySlot, error) {
	slot, err := scanSlot(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, fmt.Errorf("slot %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get slot by id: %w", err)
	}
	return slot, nil
}

// Book переводит слот available -> booked. Условие в WHERE — последняя
// линия обороны от двойного бронирования.
func (r *SlotRepository) Book(ctx context.Context, id int64) error {
	query := `
		UPDATE availability_slots
		SET status = 'booked'
		WHERE id = $1 AND status = 'available'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("book slot: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("slot %d: %w", id, model.ErrNotAvailable)
	}

	return nil
}

// Release возвращает слот booked -> available
func (r *SlotRepository) Release(ctx context.Context, id int64) error {
	query := `
		UPDATE availability_slots
		SET status = 'available'
		WHERE id = $1 AND status = 'booked'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("slot %d is not booked: %w", id, model.ErrNotAvailable)
	}

	return nil
}

// Block закрывает слот для записи из любого статуса
func (r *SlotRepository) Block(ctx context.Context, id int64) error {
	query := `
		UPDATE availability_slots
		SET status = 'blocked'
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("block slot: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("slot %d: %w", id, model.ErrNotFound)
	}

	return nil
}

// ListByTeacherRange получает слоты учителя в диапазоне времени
func (r *SlotRepository) ListByTeacherRange(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE teacher_id = $1
		  AND starts_at >= $2
		  AND starts_at < $3
		ORDER BY starts_at
	`
	return r.list(ctx, query, teacherID, from, to)
}

// ListFutureByStatus получает будущие слоты учителя в заданном статусе
func (r *SlotRepository) ListFutureByStatus(ctx context.Context, teacherID int64, status model.SlotStatus, now time.Time) ([]*model.AvailabilitySlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE teacher_id = $1
		  AND status = $2
		  AND starts_at > $3
		ORDER BY starts_at
	`
	return r.list(ctx, query, teacherID, status, now)
}

// CountFutureByStatus считает будущие слоты учителя в заданном статусе
func (r *SlotRepository) CountFutureByStatus(ctx context.Context, teacherID int64, status model.SlotStatus, now time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM availability_slots
		WHERE teacher_id = $1
		  AND status = $2
		  AND starts_at > $3
	`

	var count int64
	if err := r.db.QueryRow(ctx, query, teacherID, status, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("count slots: %w", err)
	}

	return count, nil
}

func (r *SlotRepository) list(ctx context.Context, query string, args ...any) ([]*model.AvailabilitySlot, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var slots []*model.AvailabilitySlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, slot)
	}

	return slots, rows.Err()
}
