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

// GroupService групповые уроки и записи студентов на них.
// Счётчик занятых мест урока меняется только здесь и только в одной
// транзакции с записью, поэтому он всегда сходится с числом активных
// и посетивших записей.
type GroupService struct {
	db      base.DB
	groups  repository.GroupLessonStore
	regs    repository.RegistrationStore
	users   repository.UserStore
	emitter notify.Emitter
	clk     clock.Clock
	logger  *zap.Logger
}

func NewGroupService(
	db base.DB,
	groups repository.GroupLessonStore,
	regs repository.RegistrationStore,
	users repository.UserStore,
	emitter notify.Emitter,
	clk clock.Clock,
	logger *zap.Logger,
) *GroupService {
	return &GroupService{
		db:      db,
		groups:  groups,
		regs:    regs,
		users:   users,
		emitter: emitter,
		clk:     clk,
		logger:  logger,
	}
}

// CreateGroupLessonParams параметры создания группового урока
type CreateGroupLessonParams struct {
	TeacherID       int64
	Topic           string
	ScheduledAt     time.Time
	DurationMinutes int
	MaxStudents     *int // nil = без лимита
	MeetingLink     string
	Description     string
}

// Create создаёт групповой урок в статусе scheduled
func (s *GroupService) Create(ctx context.Context, p CreateGroupLessonParams) (*model.GroupLesson, error) {
	if p.DurationMinutes <= 0 {
		p.DurationMinutes = model.DefaultSlotDurationMinutes
	}
	if p.MaxStudents != nil && *p.MaxStudents <= 0 {
		return nil, fmt.Errorf("max students must be positive, got %d", *p.MaxStudents)
	}

	exists, err := s.users.Exists(ctx, p.TeacherID)
	if err != nil {
		return nil, fmt.Errorf("check teacher: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("teacher %d: %w", p.TeacherID, model.ErrNotFound)
	}

	g := &model.GroupLesson{
		TeacherID:       p.TeacherID,
		Topic:           p.Topic,
		ScheduledAt:     p.ScheduledAt,
		DurationMinutes: p.DurationMinutes,
		MaxStudents:     p.MaxStudents,
		Status:          model.GroupStatusScheduled,
		MeetingLink:     p.MeetingLink,
		Description:     p.Description,
	}

	if err := s.groups.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create group lesson: %w", err)
	}

	s.logger.Info("Group lesson created",
		zap.Int64("group_lesson_id", g.ID),
		zap.Int64("teacher_id", p.TeacherID),
		zap.String("topic", p.Topic),
	)

	return g, nil
}

// Confirm переводит урок scheduled -> confirmed
func (s *GroupService) Confirm(ctx context.Context, groupLessonID int64) error {
	return s.transition(ctx, groupLessonID, model.GroupStatusScheduled, model.GroupStatusConfirmed)
}

// Start переводит урок confirmed -> in_progress
func (s *GroupService) Start(ctx context.Context, groupLessonID int64) error {
	return s.transition(ctx, groupLessonID, model.GroupStatusConfirmed, model.GroupStatusInProgress)
}

// Complete переводит урок in_progress -> completed
func (s *GroupService) Complete(ctx context.Context, groupLessonID int64) error {
	return s.transition(ctx, groupLessonID, model.GroupStatusInProgress, model.GroupStatusCompleted)
}

// Postpone откладывает урок из scheduled или confirmed
func (s *GroupService) Postpone(ctx context.Context, groupLessonID int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	groups := s.groups.WithTx(tx)

	g, err := groups.GetByIDForUpdate(ctx, groupLessonID)
	if err != nil {
		return fmt.Errorf("get group lesson: %w", err)
	}

	if !g.IsBookable() {
		return fmt.Errorf("group lesson %d is %s: %w", groupLessonID, g.Status, model.ErrNotBookable)
	}

	if err := groups.UpdateStatusFrom(ctx, groupLessonID, g.Status, model.GroupStatusPostponed); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("Group lesson postponed", zap.Int64("group_lesson_id", groupLessonID))

	return nil
}

// Reschedule возвращает отложенный урок в расписание на новое время
func (s *GroupService) Reschedule(ctx context.Context, groupLessonID int64, at time.Time) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	groups := s.groups.WithTx(tx)

	g, err := groups.GetByIDForUpdate(ctx, groupLessonID)
	if err != nil {
		return fmt.Errorf("get group lesson: %w", err)
	}

	if g.Status != model.GroupStatusPostponed {
		return fmt.Errorf("group lesson %d is %s: %w", groupLessonID, g.Status, model.ErrNotBookable)
	}

	if err := groups.Reschedule(ctx, groupLessonID, at); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("Group lesson rescheduled",
		zap.Int64("group_lesson_id", groupLessonID),
		zap.Time("scheduled_at", at),
	)

	return nil
}

// Cancel отменяет урок из любого неконечного статуса. Все активные записи
// отменяются каскадно, счётчик мест пересчитывается по оставшимся
// посетившим, каждому снятому студенту и учителю уходит событие.
func (s *GroupService) Cancel(ctx context.Context, groupLessonID int64, reason string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	groups := s.groups.WithTx(tx)
	regs := s.regs.WithTx(tx)

	g, err := groups.GetByIDForUpdate(ctx, groupLessonID)
	if err != nil {
		return fmt.Errorf("get group lesson: %w", err)
	}

	if g.IsTerminal() {
		return fmt.Errorf("group lesson %d is %s: %w", groupLessonID, g.Status, model.ErrNotBookable)
	}

	active, err := regs.ListActiveByGroupLesson(ctx, groupLessonID)
	if err != nil {
		return fmt.Errorf("list registrations: %w", err)
	}

	for _, reg := range active {
		if err := regs.MarkCancelled(ctx, reg.ID, reason); err != nil {
			return fmt.Errorf("cancel registration %d: %w", reg.ID, err)
		}
	}

	remaining := g.CurrentStudents - len(active)
	if remaining < 0 {
		remaining = 0
	}
	if err := groups.MarkCancelled(ctx, groupLessonID, remaining); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	g.Status = model.GroupStatusCancelled

	s.logger.Info("Group lesson cancelled",
		zap.Int64("group_lesson_id", groupLessonID),
		zap.Int("registrations_cancelled", len(active)),
		zap.String("reason", reason),
	)

	now := s.clk.Now()
	events := make([]notify.Event, 0, len(active)+1)
	for _, reg := range active {
		events = append(events, notify.GroupLessonCancelled(reg.StudentID, notify.RecipientStudent, now, g, reason))
	}
	events = append(events, notify.GroupLessonCancelled(g.TeacherID, notify.RecipientTeacher, now, g, reason))
	s.emit(ctx, events)

	return nil
}

// Register записывает студента на групповой урок. Строка урока блокируется
// на время транзакции, так что гонка за последнее место разрешается
// детерминированно: проигравший получает ErrNotBookable.
func (s *GroupService) Register(ctx context.Context, groupLessonID, studentID int64) (*model.GroupLessonRegistration, error) {
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

	groups := s.groups.WithTx(tx)
	regs := s.regs.WithTx(tx)

	g, err := groups.GetByIDForUpdate(ctx, groupLessonID)
	if err != nil {
		return nil, fmt.Errorf("get group lesson: %w", err)
	}

	if !g.IsBookable() {
		return nil, fmt.Errorf("group lesson %d is %s: %w", groupLessonID, g.Status, model.ErrNotBookable)
	}
	if g.IsFull() {
		return nil, fmt.Errorf("group lesson %d is full: %w", groupLessonID, model.ErrNotBookable)
	}

	reg := &model.GroupLessonRegistration{
		GroupLessonID: groupLessonID,
		StudentID:     studentID,
		Status:        model.RegistrationStatusRegistered,
		RegisteredAt:  s.clk.Now(),
	}

	if err := regs.Create(ctx, reg); err != nil {
		return nil, err
	}

	if err := groups.IncrementStudents(ctx, groupLessonID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	g.CurrentStudents++

	s.logger.Info("Student registered",
		zap.Int64("group_lesson_id", groupLessonID),
		zap.Int64("student_id", studentID),
		zap.Int("current_students", g.CurrentStudents),
	)

	now := s.clk.Now()
	s.emit(ctx, []notify.Event{
		notify.GroupLessonRegistered(studentID, notify.RecipientStudent, now, g, studentID),
		notify.GroupLessonRegistered(g.TeacherID, notify.RecipientTeacher, now, g, studentID),
	})

	return reg, nil
}

// CancelRegistration снимает активную запись студента и освобождает место.
// Повторная отмена возвращает ErrNotAvailable и счётчик не трогает.
func (s *GroupService) CancelRegistration(ctx context.Context, registrationID int64, reason string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	groups := s.groups.WithTx(tx)
	regs := s.regs.WithTx(tx)

	reg, err := regs.GetByIDForUpdate(ctx, registrationID)
	if err != nil {
		return fmt.Errorf("get registration: %w", err)
	}

	if !reg.IsActive() {
		return fmt.Errorf("registration %d is %s: %w", registrationID, reg.Status, model.ErrNotAvailable)
	}

	// Блокируем урок в том же порядке, что и при записи
	if _, err := groups.GetByIDForUpdate(ctx, reg.GroupLessonID); err != nil {
		return fmt.Errorf("get group lesson: %w", err)
	}

	if err := regs.MarkCancelled(ctx, registrationID, reason); err != nil {
		return err
	}

	if err := groups.DecrementStudents(ctx, reg.GroupLessonID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("Registration cancelled",
		zap.Int64("registration_id", registrationID),
		zap.Int64("group_lesson_id", reg.GroupLessonID),
		zap.String("reason", reason),
	)

	return nil
}

// MarkAttended подтверждает посещение по активной записи
func (s *GroupService) MarkAttended(ctx context.Context, registrationID int64) error {
	if err := s.regs.MarkAttended(ctx, registrationID, s.clk.Now()); err != nil {
		return err
	}

	s.logger.Info("Attendance marked", zap.Int64("registration_id", registrationID))

	return nil
}

// MarkMissed отмечает пропуск по активной записи. Место не освобождаем:
// пропустивший его занимал.
func (s *GroupService) MarkMissed(ctx context.Context, registrationID int64) error {
	if err := s.regs.MarkMissed(ctx, registrationID); err != nil {
		return err
	}

	s.logger.Info("Registration marked missed", zap.Int64("registration_id", registrationID))

	return nil
}

// GetByID получает групповой урок по ID
func (s *GroupService) GetByID(ctx context.Context, groupLessonID int64) (*model.GroupLesson, error) {
	return s.groups.GetByID(ctx, groupLessonID)
}

// GetTeacherGroupLessons получает уроки учителя в диапазоне времени
func (s *GroupService) GetTeacherGroupLessons(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error) {
	return s.groups.ListByTeacherRange(ctx, teacherID, from, to)
}

// GetConfirmedStartingBetween получает подтверждённые уроки,
// начинающиеся в окне (from, to]
func (s *GroupService) GetConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]*model.GroupLesson, error) {
	return s.groups.ListConfirmedStartingBetween(ctx, from, to)
}

// GetActiveRegistrations получает активные записи урока
func (s *GroupService) GetActiveRegistrations(ctx context.Context, groupLessonID int64) ([]*model.GroupLessonRegistration, error) {
	return s.regs.ListActiveByGroupLesson(ctx, groupLessonID)
}

// GetStudentRegistrations получает записи студента в диапазоне времени
func (s *GroupService) GetStudentRegistrations(ctx context.Context, studentID int64, from, to time.Time) ([]*model.GroupLessonRegistration, error) {
	return s.regs.ListByStudentRange(ctx, studentID, from, to)
}

func (s *GroupService) transition(ctx context.Context, id int64, from, to model.GroupLessonStatus) error {
	if err := s.groups.UpdateStatusFrom(ctx, id, from, to); err != nil {
		return err
	}

	s.logger.Info("Group lesson status changed",
		zap.Int64("group_lesson_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	return nil
}

func (s *GroupService) emit(ctx context.Context, events []notify.Event) {
	for _, ev := range events {
		if err := s.emitter.Emit(ctx, ev); err != nil {
			s.logger.Error("Failed to emit event",
				zap.String("type", string(ev.Type)),
				zap.Int64("recipient_id", ev.RecipientID),
				zap.Error(err))
		}
	}
}
