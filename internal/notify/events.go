// Package notify описывает типизированные исходящие события ядра.
// Ядро только порождает события; каналы доставки и политика повторов —
// забота внешнего сервиса уведомлений.
package notify

import (
	"strconv"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/google/uuid"
)

type EventType string

const (
	EventLessonScheduled       EventType = "lesson.scheduled"
	EventLessonCancelled       EventType = "lesson.cancelled"
	EventLessonReminder        EventType = "lesson.reminder"
	EventGroupLessonRegistered EventType = "group_lesson.registered"
	EventGroupLessonCancelled  EventType = "group_lesson.cancelled"
	EventPackageEndingSoon     EventType = "package.ending_soon"
	EventPackageExpired        EventType = "package.expired"
)

// RecipientKind кому адресовано событие
type RecipientKind string

const (
	RecipientStudent RecipientKind = "student"
	RecipientTeacher RecipientKind = "teacher"
	RecipientManager RecipientKind = "manager"
)

// Event одно исходящее событие для одного получателя
type Event struct {
	ID          uuid.UUID         `json:"id"`
	Type        EventType         `json:"type"`
	RecipientID int64             `json:"recipient_id"`
	Recipient   RecipientKind     `json:"recipient"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Payload     map[string]string `json:"payload"`
}

func newEvent(t EventType, recipientID int64, kind RecipientKind, at time.Time, payload map[string]string) Event {
	return Event{
		ID:          uuid.New(),
		Type:        t,
		RecipientID: recipientID,
		Recipient:   kind,
		OccurredAt:  at,
		Payload:     payload,
	}
}

func lessonPayload(l *model.Lesson) map[string]string {
	return map[string]string{
		"lesson_id":    strconv.FormatInt(l.ID, 10),
		"student_id":   strconv.FormatInt(l.StudentID, 10),
		"teacher_id":   strconv.FormatInt(l.TeacherID, 10),
		"scheduled_at": l.ScheduledAt.Format(time.RFC3339),
	}
}

func groupPayload(g *model.GroupLesson) map[string]string {
	return map[string]string{
		"group_lesson_id": strconv.FormatInt(g.ID, 10),
		"teacher_id":      strconv.FormatInt(g.TeacherID, 10),
		"topic":           g.Topic,
		"scheduled_at":    g.ScheduledAt.Format(time.RFC3339),
	}
}

func packagePayload(p *model.LessonPackage) map[string]string {
	return map[string]string{
		"package_id": strconv.FormatInt(p.ID, 10),
		"student_id": strconv.FormatInt(p.StudentID, 10),
		"remaining":  strconv.Itoa(p.RemainingLessons),
		"total":      strconv.Itoa(p.TotalLessons),
	}
}

// LessonScheduled урок создан и запланирован
func LessonScheduled(recipientID int64, kind RecipientKind, at time.Time, l *model.Lesson) Event {
	return newEvent(EventLessonScheduled, recipientID, kind, at, lessonPayload(l))
}

// LessonCancelled урок отменён
func LessonCancelled(recipientID int64, kind RecipientKind, at time.Time, l *model.Lesson, by model.Actor, reason string) Event {
	p := lessonPayload(l)
	p["cancelled_by"] = string(by)
	p["reason"] = reason
	return newEvent(EventLessonCancelled, recipientID, kind, at, p)
}

// LessonReminder напоминание об уроке или о неподтверждённом посещении
func LessonReminder(recipientID int64, kind RecipientKind, at time.Time, payload map[string]string) Event {
	return newEvent(EventLessonReminder, recipientID, kind, at, payload)
}

// GroupLessonRegistered студент записан на групповой урок
func GroupLessonRegistered(recipientID int64, kind RecipientKind, at time.Time, g *model.GroupLesson, studentID int64) Event {
	p := groupPayload(g)
	p["registered_student_id"] = strconv.FormatInt(studentID, 10)
	return newEvent(EventGroupLessonRegistered, recipientID, kind, at, p)
}

// GroupLessonCancelled групповой урок отменён
func GroupLessonCancelled(recipientID int64, kind RecipientKind, at time.Time, g *model.GroupLesson, reason string) Event {
	p := groupPayload(g)
	p["reason"] = reason
	return newEvent(EventGroupLessonCancelled, recipientID, kind, at, p)
}

// PackageEndingSoon в пакете студента осталось мало кредитов
func PackageEndingSoon(recipientID int64, kind RecipientKind, at time.Time, pkg *model.LessonPackage) Event {
	return newEvent(EventPackageEndingSoon, recipientID, kind, at, packagePayload(pkg))
}

// PackageExpired срок пакета вышел при ненулевом остатке
func PackageExpired(recipientID int64, kind RecipientKind, at time.Time, pkg *model.LessonPackage) Event {
	return newEvent(EventPackageExpired, recipientID, kind, at, packagePayload(pkg))
}
