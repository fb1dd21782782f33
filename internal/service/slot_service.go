package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/clock"
	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/notify"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
	"go.uber.org/zap"
)

// SlotService реестр слотов доступности учителей
type SlotService struct {
	db      base.DB
	slots   repository.SlotStore
	lessons repository.LessonStore
	users   repository.UserStore
	emitter notify.Emitter
	clk     clock.Clock
	logger  *zap.Logger
}

func NewSlotService(
	db base.DB,
	slots repository.SlotStore,
	lessons repository.LessonStore,
	users repository.UserStore,
	emitter notify.Emitter,
	clk clock.Clock,
	logger *zap.Logger,
) *SlotService {
	return &SlotService{
		db:      db,
		slots:   slots,
		lessons: lessons,
		users:   users,
		emitter: emitter,
		clk:     clk,
		logger:  logger,
	}
}

// DeclareSlot объявляет свободный слот учителя.
// Дубликат (учитель, время) отклоняется с ErrConflict.
func (s *SlotService) DeclareSlot(ctx context.Context, teacherID int64, startsAt time.Time, durationMinutes int) (*model.AvailabilitySlot, error) {
	if durationMinutes <= 0 {
		durationMinutes = model.DefaultSlotDurationMinutes
	}

	if startsAt.Before(s.clk.Now()) {
		return nil, fmt.Errorf("slot start is in the past")
	}

	exists, err := s.users.Exists(ctx, teacherID)
	if err != nil {
		return nil, fmt.Errorf("check teacher: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("teacher %d: %w", teacherID, model.ErrNotFound)
	}

	slot := &model.AvailabilitySlot{
		TeacherID:       teacherID,
		StartsAt:        startsAt,
		DurationMinutes: durationMinutes,
		Status:          model.SlotStatusAvailable,
	}

	if err := s.slots.Create(ctx, slot); err != nil {
		return nil, fmt.Errorf("declare slot: %w", err)
	}

	s.logger.Info("Slot declared",
		zap.Int64("slot_id", slot.ID),
		zap.Int64("teacher_id", teacherID),
		zap.Time("starts_at", startsAt),
	)

	return slot, nil
}

// BookSlot переводит свободный слот в занятый. Композитное бронирование
// с созданием урока живёт в LessonService.BookSlot.
func (s *SlotService) BookSlot(ctx context.Context, slotID int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	slots := s.slots.WithTx(tx)

	slot, err := slots.GetByIDForUpdate(ctx, slotID)
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}

	if !slot.IsAvailable() {
		return fmt.Errorf("slot %d is %s: %w", slotID, slot.Status, model.ErrNotAvailable)
	}

	if err := slots.Book(ctx, slotID); err != nil {
		return fmt.Errorf("book slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("Slot booked", zap.Int64("slot_id", slotID))

	return nil
}

// CancelBooking освобождает занятый слот и каскадно отменяет урок,
// ссылающийся на него. Обе записи меняются в одной транзакции.
func (s *SlotService) CancelBooking(ctx context.Context, slotID int64, by model.Actor, reason string) error {
	if by == "" {
		by = model.ActorManager
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	slots := s.slots.WithTx(tx)
	lessons := s.lessons.WithTx(tx)

	slot, err := slots.GetByIDForUpdate(ctx, slotID)
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}

	if !slot.IsBooked() {
		return fmt.Errorf("slot %d is %s: %w", slotID, slot.Status, model.ErrNotAvailable)
	}

	if err := slots.Release(ctx, slotID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}

	var cancelled *model.Lesson
	lesson, err := lessons.GetScheduledBySlotID(ctx, slotID)
	switch {
	case err == nil:
		if err := lessons.MarkCancelled(ctx, lesson.ID, by, reason); err != nil {
			return fmt.Errorf("cancel lesson: %w", err)
		}
		lesson.Status = model.LessonStatusCancelled
		lesson.CancelledBy = by
		lesson.CancelReason = reason
		cancelled = lesson
	case isNotFound(err):
		// Слот занят без урока не бывает в норме, но падать тут не за что
	default:
		return fmt.Errorf("find lesson for slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("Booking cancelled",
		zap.Int64("slot_id", slotID),
		zap.String("by", string(by)),
		zap.String("reason", reason),
	)

	if cancelled != nil {
		s.emitLessonCancelled(ctx, cancelled, by, reason)
	}

	return nil
}

// BlockSlot закрывает слот для записи. Уже созданный урок не трогаем:
// блокировка убирает слот только из будущей выдачи.
func (s *SlotService) BlockSlot(ctx context.Context, slotID int64) error {
	if err := s.slots.Block(ctx, slotID); err != nil {
		return fmt.Errorf("block slot: %w", err)
	}

	s.logger.Info("Slot blocked", zap.Int64("slot_id", slotID))

	return nil
}

// GetSlotsByTeacher получает слоты учителя в диапазоне времени
func (s *SlotService) GetSlotsByTeacher(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error) {
	return s.slots.ListByTeacherRange(ctx, teacherID, from, to)
}

// GetSlotsByTeacherDate получает слоты учителя на конкретный день
func (s *SlotService) GetSlotsByTeacherDate(ctx context.Context, teacherID int64, date time.Time) ([]*model.AvailabilitySlot, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return s.slots.ListByTeacherRange(ctx, teacherID, day, day.AddDate(0, 0, 1))
}

// GetFutureAvailable получает будущие свободные слоты учителя
func (s *SlotService) GetFutureAvailable(ctx context.Context, teacherID int64) ([]*model.AvailabilitySlot, error) {
	return s.slots.ListFutureByStatus(ctx, teacherID, model.SlotStatusAvailable, s.clk.Now())
}

// GetFutureBooked получает будущие занятые слоты учителя
func (s *SlotService) GetFutureBooked(ctx context.Context, teacherID int64) ([]*model.AvailabilitySlot, error) {
	return s.slots.ListFutureByStatus(ctx, teacherID, model.SlotStatusBooked, s.clk.Now())
}

// CountFutureByStatus считает будущие слоты учителя в статусе
func (s *SlotService) CountFutureByStatus(ctx context.Context, teacherID int64, status model.SlotStatus) (int64, error) {
	return s.slots.CountFutureByStatus(ctx, teacherID, status, s.clk.Now())
}

func (s *SlotService) emitLessonCancelled(ctx context.Context, lesson *model.Lesson, by model.Actor, reason string) {
	now := s.clk.Now()
	events := []notify.Event{
		notify.LessonCancelled(lesson.StudentID, notify.RecipientStudent, now, lesson, by, reason),
		notify.LessonCancelled(lesson.TeacherID, notify.RecipientTeacher, now, lesson, by, reason),
	}

	for _, ev := range events {
		if err := s.emitter.Emit(ctx, ev); err != nil {
			s.logger.Error("Failed to emit event",
				zap.String("type", string(ev.Type)),
				zap.Int64("recipient_id", ev.RecipientID),
				zap.Error(err))
		}
	}
}
