package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository"
	"go.uber.org/zap"
)

// EntryKind вид записи в календаре
type EntryKind string

const (
	EntrySlot        EntryKind = "slot"
	EntryLesson      EntryKind = "lesson"
	EntryGroupLesson EntryKind = "group_lesson"
)

// CalendarEntry одна строка календаря. Проекция всегда считается по
// текущему состоянию хранилища и нигде не кэшируется.
type CalendarEntry struct {
	Kind            EntryKind `json:"kind"`
	RefID           int64     `json:"ref_id"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	Status          string    `json:"status"`
	Title           string    `json:"title"`
	CounterpartID   int64     `json:"counterpart_id,omitempty"`
	CounterpartName string    `json:"counterpart_name,omitempty"`
}

// CalendarDay записи одного календарного дня, отсортированные по времени
type CalendarDay struct {
	Date    time.Time       `json:"date"`
	Entries []CalendarEntry `json:"entries"`
}

// CalendarService собирает календари учителя и студента из слотов,
// индивидуальных уроков и групповых записей
type CalendarService struct {
	slots   repository.SlotStore
	lessons repository.LessonStore
	groups  repository.GroupLessonStore
	regs    repository.RegistrationStore
	users   repository.UserStore
	logger  *zap.Logger
}

func NewCalendarService(
	slots repository.SlotStore,
	lessons repository.LessonStore,
	groups repository.GroupLessonStore,
	regs repository.RegistrationStore,
	users repository.UserStore,
	logger *zap.Logger,
) *CalendarService {
	return &CalendarService{
		slots:   slots,
		lessons: lessons,
		groups:  groups,
		regs:    regs,
		users:   users,
		logger:  logger,
	}
}

// TeacherCalendar собирает календарь учителя за период [from, to).
// Занятые слоты не показываются отдельной строкой: их представляет урок,
// который на них ссылается.
func (s *CalendarService) TeacherCalendar(ctx context.Context, teacherID int64, from, to time.Time) ([]CalendarDay, error) {
	slots, err := s.slots.ListByTeacherRange(ctx, teacherID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	lessons, err := s.lessons.ListByTeacherRange(ctx, teacherID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load lessons: %w", err)
	}

	groups, err := s.groups.ListByTeacherRange(ctx, teacherID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load group lessons: %w", err)
	}

	var studentIDs []int64
	for _, l := range lessons {
		studentIDs = append(studentIDs, l.StudentID)
	}
	names, err := s.users.DisplayNames(ctx, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("load student names: %w", err)
	}

	var entries []CalendarEntry

	for _, slot := range slots {
		if slot.IsBooked() {
			continue
		}
		entries = append(entries, CalendarEntry{
			Kind:     EntrySlot,
			RefID:    slot.ID,
			StartsAt: slot.StartsAt,
			EndsAt:   slot.EndsAt(),
			Status:   string(slot.Status),
		})
	}

	for _, l := range lessons {
		entries = append(entries, CalendarEntry{
			Kind:            EntryLesson,
			RefID:           l.ID,
			StartsAt:        l.ScheduledAt,
			EndsAt:          l.EndsAt(),
			Status:          string(l.Status),
			CounterpartID:   l.StudentID,
			CounterpartName: names[l.StudentID],
		})
	}

	for _, g := range groups {
		entries = append(entries, CalendarEntry{
			Kind:     EntryGroupLesson,
			RefID:    g.ID,
			StartsAt: g.ScheduledAt,
			EndsAt:   g.EndsAt(),
			Status:   string(g.Status),
			Title:    g.Topic,
		})
	}

	return groupByDay(entries), nil
}

// StudentCalendar собирает календарь студента за период [from, to):
// индивидуальные уроки и групповые уроки по его записям
func (s *CalendarService) StudentCalendar(ctx context.Context, studentID int64, from, to time.Time) ([]CalendarDay, error) {
	lessons, err := s.lessons.ListByStudentRange(ctx, studentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load lessons: %w", err)
	}

	regs, err := s.regs.ListByStudentRange(ctx, studentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}

	var teacherIDs []int64
	for _, l := range lessons {
		teacherIDs = append(teacherIDs, l.TeacherID)
	}
	for _, reg := range regs {
		if reg.GroupLesson != nil {
			teacherIDs = append(teacherIDs, reg.GroupLesson.TeacherID)
		}
	}
	names, err := s.users.DisplayNames(ctx, teacherIDs)
	if err != nil {
		return nil, fmt.Errorf("load teacher names: %w", err)
	}

	var entries []CalendarEntry

	for _, l := range lessons {
		entries = append(entries, CalendarEntry{
			Kind:            EntryLesson,
			RefID:           l.ID,
			StartsAt:        l.ScheduledAt,
			EndsAt:          l.EndsAt(),
			Status:          string(l.Status),
			CounterpartID:   l.TeacherID,
			CounterpartName: names[l.TeacherID],
		})
	}

	for _, reg := range regs {
		g := reg.GroupLesson
		if g == nil {
			s.logger.Warn("Registration without group lesson", zap.Int64("registration_id", reg.ID))
			continue
		}
		// Отменённый урок студенту не показываем, его запись уже снята
		if g.Status == model.GroupStatusCancelled {
			continue
		}
		entries = append(entries, CalendarEntry{
			Kind:            EntryGroupLesson,
			RefID:           g.ID,
			StartsAt:        g.ScheduledAt,
			EndsAt:          g.EndsAt(),
			Status:          string(reg.Status),
			Title:           g.Topic,
			CounterpartID:   g.TeacherID,
			CounterpartName: names[g.TeacherID],
		})
	}

	return groupByDay(entries), nil
}

func groupByDay(entries []CalendarEntry) []CalendarDay {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].StartsAt.Equal(entries[j].StartsAt) {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].StartsAt.Before(entries[j].StartsAt)
	})

	byDay := make(map[time.Time][]CalendarEntry)
	var order []time.Time
	for _, e := range entries {
		day := time.Date(e.StartsAt.Year(), e.StartsAt.Month(), e.StartsAt.Day(), 0, 0, 0, 0, e.StartsAt.Location())
		if _, ok := byDay[day]; !ok {
			order = append(order, day)
		}
		byDay[day] = append(byDay[day], e)
	}

	days := make([]CalendarDay, 0, len(order))
	for _, day := range order {
		days = append(days, CalendarDay{Date: day, Entries: byDay[day]})
	}
	return days
}
