package app

import (
	"context"
	"strconv"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/clock"
	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/notify"
	"go.uber.org/zap"
)

// Выборки, которые нужны проходам. Реализуются сервисами ядра.
type lessonSource interface {
	GetScheduledStartingBetween(ctx context.Context, from, to time.Time) ([]*model.Lesson, error)
	GetUnconfirmedCompletedBetween(ctx context.Context, from, to time.Time) ([]*model.Lesson, error)
}

type groupSource interface {
	GetConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]*model.GroupLesson, error)
	GetActiveRegistrations(ctx context.Context, groupLessonID int64) ([]*model.GroupLessonRegistration, error)
}

type packageSource interface {
	GetEndingSoon(ctx context.Context, threshold int) ([]*model.LessonPackage, error)
	GetExpiredBetween(ctx context.Context, from, to time.Time) ([]*model.LessonPackage, error)
}

// Orchestrator управляет фоновыми проходами: напоминания об уроках,
// неподтверждённые посещения, заканчивающиеся и истёкшие пакеты.
// Каждый проход обрабатывает окно (lastRun, now], поэтому напоминания
// не дублируются между тиками.
type Orchestrator struct {
	lessons  lessonSource
	groups   groupSource
	packages packageSource

	emitter notify.Emitter
	clk     clock.Clock
	logger  *zap.Logger

	interval     time.Duration
	reminderLead time.Duration
	lowThreshold int

	// Остаток пакета на момент последнего события ending_soon. Событие
	// уходит при пересечении порога и после каждого нового списания ниже
	// него, а не на каждом тике.
	notifiedEnding map[int64]int

	stopChan chan struct{}
}

func NewOrchestrator(
	lessons lessonSource,
	groups groupSource,
	packages packageSource,
	emitter notify.Emitter,
	clk clock.Clock,
	logger *zap.Logger,
	interval time.Duration,
	reminderLead time.Duration,
	lowThreshold int,
) *Orchestrator {
	return &Orchestrator{
		lessons:        lessons,
		groups:         groups,
		packages:       packages,
		emitter:        emitter,
		clk:            clk,
		logger:         logger,
		interval:       interval,
		reminderLead:   reminderLead,
		lowThreshold:   lowThreshold,
		notifiedEnding: make(map[int64]int),
		stopChan:       make(chan struct{}),
	}
}

// Start запускает цикл фоновых проходов
func (o *Orchestrator) Start(ctx context.Context) {
	o.logger.Info("Starting orchestrator",
		zap.Duration("interval", o.interval),
		zap.Duration("reminder_lead", o.reminderLead),
	)

	go o.run(ctx)
}

// Stop останавливает цикл
func (o *Orchestrator) Stop() {
	o.logger.Info("Stopping orchestrator")
	close(o.stopChan)
}

func (o *Orchestrator) run(ctx context.Context) {
	lastRun := o.clk.Now()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := o.clk.Now()
			o.Sweep(ctx, lastRun, now)
			lastRun = now
		case <-o.stopChan:
			o.logger.Info("Orchestrator stopped")
			return
		case <-ctx.Done():
			o.logger.Info("Orchestrator cancelled")
			return
		}
	}
}

// Sweep выполняет один проход над окном (since, until]. Ошибки отдельных
// элементов логируются и не прерывают остальные проходы.
func (o *Orchestrator) Sweep(ctx context.Context, since, until time.Time) {
	o.remindLessons(ctx, since, until)
	o.remindGroupLessons(ctx, since, until)
	o.remindUnconfirmedAttendance(ctx, since, until)
	o.sweepPackages(ctx, since, until)
}

// remindLessons напоминает об индивидуальных уроках, до которых осталось
// reminderLead. Урок попадает ровно в один проход: тот, чьё окно накрыло
// момент scheduled_at - reminderLead.
func (o *Orchestrator) remindLessons(ctx context.Context, since, until time.Time) {
	lessons, err := o.lessons.GetScheduledStartingBetween(ctx, since.Add(o.reminderLead), until.Add(o.reminderLead))
	if err != nil {
		o.logger.Error("Failed to list upcoming lessons", zap.Error(err))
		return
	}

	now := o.clk.Now()
	for _, l := range lessons {
		payload := map[string]string{
			"lesson_id":    strconv.FormatInt(l.ID, 10),
			"scheduled_at": l.ScheduledAt.Format(time.RFC3339),
			"reason":       "upcoming_lesson",
		}
		o.emit(ctx, notify.LessonReminder(l.StudentID, notify.RecipientStudent, now, payload))
		o.emit(ctx, notify.LessonReminder(l.TeacherID, notify.RecipientTeacher, now, payload))
	}

	if len(lessons) > 0 {
		o.logger.Info("Lesson reminders sent", zap.Int("count", len(lessons)))
	}
}

// remindGroupLessons напоминает о подтверждённых групповых уроках всем
// активным записанным студентам и учителю
func (o *Orchestrator) remindGroupLessons(ctx context.Context, since, until time.Time) {
	groups, err := o.groups.GetConfirmedStartingBetween(ctx, since.Add(o.reminderLead), until.Add(o.reminderLead))
	if err != nil {
		o.logger.Error("Failed to list upcoming group lessons", zap.Error(err))
		return
	}

	now := o.clk.Now()
	for _, g := range groups {
		regs, err := o.groups.GetActiveRegistrations(ctx, g.ID)
		if err != nil {
			o.logger.Error("Failed to list registrations",
				zap.Int64("group_lesson_id", g.ID),
				zap.Error(err))
			continue
		}

		payload := map[string]string{
			"group_lesson_id": strconv.FormatInt(g.ID, 10),
			"topic":           g.Topic,
			"scheduled_at":    g.ScheduledAt.Format(time.RFC3339),
			"reason":          "upcoming_group_lesson",
		}

		for _, reg := range regs {
			o.emit(ctx, notify.LessonReminder(reg.StudentID, notify.RecipientStudent, now, payload))
		}
		o.emit(ctx, notify.LessonReminder(g.TeacherID, notify.RecipientTeacher, now, payload))
	}
}

// remindUnconfirmedAttendance напоминает учителю о проведённых уроках,
// посещение которых так и не подтверждено
func (o *Orchestrator) remindUnconfirmedAttendance(ctx context.Context, since, until time.Time) {
	lessons, err := o.lessons.GetUnconfirmedCompletedBetween(ctx, since, until)
	if err != nil {
		o.logger.Error("Failed to list unconfirmed lessons", zap.Error(err))
		return
	}

	now := o.clk.Now()
	for _, l := range lessons {
		payload := map[string]string{
			"lesson_id":    strconv.FormatInt(l.ID, 10),
			"scheduled_at": l.ScheduledAt.Format(time.RFC3339),
			"reason":       "attendance_confirmation",
		}
		o.emit(ctx, notify.LessonReminder(l.TeacherID, notify.RecipientTeacher, now, payload))
	}
}

// sweepPackages рассылает события по заканчивающимся и истёкшим пакетам.
// Истечение — чистое пересечение по времени, выборка берёт только пакеты
// с expires_at внутри окна. Для порога остатка пересечение отслеживается
// по последнему разосланному остатку: повторное событие уходит только
// после нового списания, не на каждом тике. После рестарта процесса
// события ending_soon могут уйти ещё один раз.
func (o *Orchestrator) sweepPackages(ctx context.Context, since, until time.Time) {
	now := o.clk.Now()

	ending, err := o.packages.GetEndingSoon(ctx, o.lowThreshold)
	if err != nil {
		o.logger.Error("Failed to list ending packages", zap.Error(err))
	} else {
		for _, pkg := range ending {
			if last, ok := o.notifiedEnding[pkg.ID]; ok && last == pkg.RemainingLessons {
				continue
			}
			o.notifiedEnding[pkg.ID] = pkg.RemainingLessons
			o.emit(ctx, notify.PackageEndingSoon(pkg.StudentID, notify.RecipientStudent, now, pkg))
		}
	}

	expired, err := o.packages.GetExpiredBetween(ctx, since, until)
	if err != nil {
		o.logger.Error("Failed to list expired packages", zap.Error(err))
		return
	}
	for _, pkg := range expired {
		delete(o.notifiedEnding, pkg.ID)
		o.emit(ctx, notify.PackageExpired(pkg.StudentID, notify.RecipientStudent, now, pkg))
		o.emit(ctx, notify.PackageExpired(pkg.StudentID, notify.RecipientManager, now, pkg))
	}
}

func (o *Orchestrator) emit(ctx context.Context, ev notify.Event) {
	if err := o.emitter.Emit(ctx, ev); err != nil {
		o.logger.Error("Failed to emit event",
			zap.String("type", string(ev.Type)),
			zap.Int64("recipient_id", ev.RecipientID),
			zap.Error(err))
	}
}
