package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/clock"
	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/notify"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
	"go.uber.org/zap"
)

// creditLedger часть леджера кредитов, нужная жизненному циклу урока.
// Реализуется PackageService; в тестах подменяется фейком.
type creditLedger interface {
	DeductTx(ctx context.Context, q base.Querier, studentID int64, n int) error
}

// CompletionResult итог проведения урока. Нехватка кредитов не отменяет
// проведение — она возвращается здесь явным полем, а не ошибкой операции.
type CompletionResult struct {
	Lesson          *model.Lesson
	CreditDeducted  bool
	CreditShortfall error // ErrInsufficientCredits, если списать не удалось
}

// LessonService жизненный цикл индивидуальных уроков. Единственная точка,
// где бронирование слота и создание урока связаны: обе записи всегда
// делаются одной транзакцией, порознь они не существуют.
type LessonService struct {
	db      base.DB
	slots   repository.SlotStore
	lessons repository.LessonStore
	users   repository.UserStore
	ledger  creditLedger
	emitter notify.Emitter
	clk     clock.Clock
	logger  *zap.Logger
}

func NewLessonService(
	db base.DB,
	slots repository.SlotStore,
	lessons repository.LessonStore,
	users repository.UserStore,
	ledger creditLedger,
	emitter notify.Emitter,
	clk clock.Clock,
	logger *zap.Logger,
) *LessonService {
	return &LessonService{
		db:      db,
		slots:   slots,
		lessons: lessons,
		users:   users,
		ledger:  ledger,
		emitter: emitter,
		clk:     clk,
		logger:  logger,
	}
}

// BookSlot бронирует слот для студента и создаёт урок. Кредит на этом
// этапе не списывается — списание происходит при проведении урока.
func (s *LessonService) BookSlot(ctx context.Context, slotID, studentID int64, notes string) (*model.Lesson, error) {
	exists, err := s.users.Exists(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("check student: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("student %d: %w", studentID, model.ErrNotFound)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	slots := s.slots.WithTx(tx)
	lessons := s.lessons.WithTx(tx)

	slot, err := slots.GetByIDForUpdate(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}

	if !slot.IsAvailable() {
		return nil, fmt.Errorf("slot %d is %s: %w", slotID, slot.Status, model.ErrNotAvailable)
	}

	if err := slots.Book(ctx, slotID); err != nil {
		return nil, fmt.Errorf("book slot: %w", err)
	}

	lesson := &model.Lesson{
		StudentID:       studentID,
		TeacherID:       slot.TeacherID,
		SlotID:          &slot.ID,
		ScheduledAt:     slot.StartsAt,
		DurationMinutes: slot.DurationMinutes,
		Status:          model.LessonStatusScheduled,
		Notes:           notes,
	}

	if err := lessons.Create(ctx, lesson); err != nil {
		return nil, fmt.Errorf("create lesson: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("Lesson booked",
		zap.Int64("lesson_id", lesson.ID),
		zap.Int64("slot_id", slotID),
		zap.Int64("student_id", studentID),
		zap.Int64("teacher_id", slot.TeacherID),
	)

	s.emitScheduled(ctx, lesson)

	return lesson, nil
}

// ScheduleAdHoc создаёт урок без слота — ручное назначение менеджером
func (s *LessonService) ScheduleAdHoc(ctx context.Context, studentID, teacherID int64, at time.Time, durationMinutes int, notes string) (*model.Lesson, error) {
	if durationMinutes <= 0 {
		durationMinutes = model.DefaultSlotDurationMinutes
	}

	for _, id := range []int64{studentID, teacherID} {
		exists, err := s.users.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check user: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
		}
	}

	lesson := &model.Lesson{
		StudentID:       studentID,
		TeacherID:       teacherID,
		ScheduledAt:     at,
		DurationMinutes: durationMinutes,
		Status:          model.LessonStatusScheduled,
		Notes:           notes,
	}

	if err := s.lessons.Create(ctx, lesson); err != nil {
		return nil, fmt.Errorf("create lesson: %w", err)
	}

	s.logger.Info("Ad-hoc lesson scheduled",
		zap.Int64("lesson_id", lesson.ID),
		zap.Int64("student_id", studentID),
		zap.Int64("teacher_id", teacherID),
	)

	s.emitScheduled(ctx, lesson)

	return lesson, nil
}

// Complete проводит урок и списывает один кредит из пакетов студента.
// Нехватка кредитов — мягкое условие: проведение фиксируется, а нехватка
// возвращается в CompletionResult и попадает в лог.
func (s *LessonService) Complete(ctx context.Context, lessonID int64) (*CompletionResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lessons := s.lessons.WithTx(tx)

	lesson, err := lessons.GetByIDForUpdate(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}

	if !lesson.IsScheduled() {
		return nil, fmt.Errorf("lesson %d is %s: %w", lessonID, lesson.Status, model.ErrNotAvailable)
	}

	if err := lessons.MarkCompleted(ctx, lessonID); err != nil {
		return nil, fmt.Errorf("complete lesson: %w", err)
	}
	lesson.Status = model.LessonStatusCompleted

	result := &CompletionResult{Lesson: lesson, CreditDeducted: true}

	// Списание всё-или-ничего: при нехватке леджер не трогает пакеты,
	// поэтому коммитить проведение безопасно
	if err := s.ledger.DeductTx(ctx, tx, lesson.StudentID, 1); err != nil {
		if !errors.Is(err, model.ErrInsufficientCredits) {
			return nil, fmt.Errorf("deduct credit: %w", err)
		}
		result.CreditDeducted = false
		result.CreditShortfall = err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	if result.CreditDeducted {
		s.logger.Info("Lesson completed",
			zap.Int64("lesson_id", lessonID),
			zap.Int64("student_id", lesson.StudentID),
		)
	} else {
		s.logger.Warn("Lesson completed without credit deduction",
			zap.Int64("lesson_id", lessonID),
			zap.Int64("student_id", lesson.StudentID),
			zap.Error(result.CreditShortfall),
		)
	}

	return result, nil
}

// Cancel отменяет запланированный урок и освобождает его слот.
// Повторная отмена возвращает ErrNotAvailable и ничего не меняет.
func (s *LessonService) Cancel(ctx context.Context, lessonID int64, by model.Actor, reason string) error {
	if by == "" {
		by = model.ActorManager
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lessons := s.lessons.WithTx(tx)
	slots := s.slots.WithTx(tx)

	lesson, err := lessons.GetByIDForUpdate(ctx, lessonID)
	if err != nil {
		return fmt.Errorf("get lesson: %w", err)
	}

	if !lesson.IsScheduled() {
		return fmt.Errorf("lesson %d is %s: %w", lessonID, lesson.Status, model.ErrNotAvailable)
	}

	if err := lessons.MarkCancelled(ctx, lessonID, by, reason); err != nil {
		return fmt.Errorf("cancel lesson: %w", err)
	}

	if lesson.HasSlot() {
		slot, err := slots.GetByIDForUpdate(ctx, *lesson.SlotID)
		if err != nil {
			return fmt.Errorf("get slot: %w", err)
		}
		// Заблокированный администратором слот остаётся заблокированным,
		// освобождаем только занятый
		if slot.IsBooked() {
			if err := slots.Release(ctx, *lesson.SlotID); err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	lesson.Status = model.LessonStatusCancelled
	lesson.CancelledBy = by
	lesson.CancelReason = reason

	s.logger.Info("Lesson cancelled",
		zap.Int64("lesson_id", lessonID),
		zap.String("by", string(by)),
		zap.String("reason", reason),
	)

	now := s.clk.Now()
	for _, ev := range []notify.Event{
		notify.LessonCancelled(lesson.StudentID, notify.RecipientStudent, now, lesson, by, reason),
		notify.LessonCancelled(lesson.TeacherID, notify.RecipientTeacher, now, lesson, by, reason),
	} {
		if err := s.emitter.Emit(ctx, ev); err != nil {
			s.logger.Error("Failed to emit event", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}

	return nil
}

// MarkMissed отмечает запланированный урок пропущенным
func (s *LessonService) MarkMissed(ctx context.Context, lessonID int64) error {
	if err := s.lessons.MarkMissed(ctx, lessonID); err != nil {
		return fmt.Errorf("mark missed: %w", err)
	}

	s.logger.Info("Lesson marked missed", zap.Int64("lesson_id", lessonID))

	return nil
}

// ConfirmAttendance подтверждает посещение проведённого урока
func (s *LessonService) ConfirmAttendance(ctx context.Context, lessonID int64) error {
	if err := s.lessons.ConfirmAttendance(ctx, lessonID); err != nil {
		return fmt.Errorf("confirm attendance: %w", err)
	}

	s.logger.Info("Attendance confirmed", zap.Int64("lesson_id", lessonID))

	return nil
}

// ConfirmByTeacher подтверждает запланированный урок со стороны учителя
func (s *LessonService) ConfirmByTeacher(ctx context.Context, lessonID int64) error {
	if err := s.lessons.ConfirmByTeacher(ctx, lessonID); err != nil {
		return fmt.Errorf("confirm lesson: %w", err)
	}

	s.logger.Info("Lesson confirmed by teacher", zap.Int64("lesson_id", lessonID))

	return nil
}

// GetByID получает урок по ID
func (s *LessonService) GetByID(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	return s.lessons.GetByID(ctx, lessonID)
}

// GetStudentLessons получает уроки студента в диапазоне времени
func (s *LessonService) GetStudentLessons(ctx context.Context, studentID int64, from, to time.Time) ([]*model.Lesson, error) {
	return s.lessons.ListByStudentRange(ctx, studentID, from, to)
}

// GetTeacherLessons получает уроки учителя в диапазоне времени
func (s *LessonService) GetTeacherLessons(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.Lesson, error) {
	return s.lessons.ListByTeacherRange(ctx, teacherID, from, to)
}

// GetScheduledStartingBetween получает запланированные уроки,
// начинающиеся в окне (from, to]
func (s *LessonService) GetScheduledStartingBetween(ctx context.Context, from, to time.Time) ([]*model.Lesson, error) {
	return s.lessons.ListScheduledStartingBetween(ctx, from, to)
}

// GetUnconfirmedCompletedBetween получает проведённые уроки без
// подтверждения посещения, закончившиеся в окне (from, to]
func (s *LessonService) GetUnconfirmedCompletedBetween(ctx context.Context, from, to time.Time) ([]*model.Lesson, error) {
	return s.lessons.ListUnconfirmedCompleted(ctx, from, to)
}

// GetUnconfirmedAttendance получает проведённые уроки без подтверждения
// посещения, закончившиеся за последние 24 часа
func (s *LessonService) GetUnconfirmedAttendance(ctx context.Context) ([]*model.Lesson, error) {
	now := s.clk.Now()
	return s.lessons.ListUnconfirmedCompleted(ctx, now.Add(-24*time.Hour), now)
}

func (s *LessonService) emitScheduled(ctx context.Context, lesson *model.Lesson) {
	now := s.clk.Now()
	for _, ev := range []notify.Event{
		notify.LessonScheduled(lesson.StudentID, notify.RecipientStudent, now, lesson),
		notify.LessonScheduled(lesson.TeacherID, notify.RecipientTeacher, now, lesson),
	} {
		if err := s.emitter.Emit(ctx, ev); err != nil {
			s.logger.Error("Failed to emit event", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}
