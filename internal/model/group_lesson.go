package model

import "time"

type GroupLessonStatus string

const (
	GroupStatusScheduled  GroupLessonStatus = "scheduled"
	GroupStatusConfirmed  GroupLessonStatus = "confirmed"
	GroupStatusInProgress GroupLessonStatus = "in_progress"
	GroupStatusCompleted  GroupLessonStatus = "completed"
	GroupStatusCancelled  GroupLessonStatus = "cancelled"
	GroupStatusPostponed  GroupLessonStatus = "postponed"
)

// UnboundedSpaces значение AvailableSpaces для урока без лимита мест
const UnboundedSpaces = -1

// GroupLesson групповой урок с ограничением по числу мест.
// CurrentStudents — хранимый счётчик, он обязан совпадать с количеством
// записей в статусах registered/attended; любое изменение записи и счётчика
// выполняется в одной транзакции.
type GroupLesson struct {
	ID              int64             `json:"id"`
	TeacherID       int64             `json:"teacher_id"`
	Topic           string            `json:"topic"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	DurationMinutes int               `json:"duration_minutes"`
	MaxStudents     *int              `json:"max_students"` // nil = без лимита
	CurrentStudents int               `json:"current_students"`
	Status          GroupLessonStatus `json:"status"`
	MeetingLink     string            `json:"meeting_link"`
	Description     string            `json:"description"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EndsAt возвращает время окончания урока
func (g *GroupLesson) EndsAt() time.Time {
	return g.ScheduledAt.Add(time.Duration(g.DurationMinutes) * time.Minute)
}

// IsFull проверяет что все места заняты
func (g *GroupLesson) IsFull() bool {
	return g.MaxStudents != nil && g.CurrentStudents >= *g.MaxStudents
}

// HasSpace проверяет что есть хотя бы одно свободное место
func (g *GroupLesson) HasSpace() bool {
	return !g.IsFull()
}

// AvailableSpaces возвращает число свободных мест,
// UnboundedSpaces если лимит не задан
func (g *GroupLesson) AvailableSpaces() int {
	if g.MaxStudents == nil {
		return UnboundedSpaces
	}
	spaces := *g.MaxStudents - g.CurrentStudents
	if spaces < 0 {
		return 0
	}
	return spaces
}

// IsBookable проверяет что на урок можно записываться:
// только в статусах scheduled и confirmed
func (g *GroupLesson) IsBookable() bool {
	return g.Status == GroupStatusScheduled || g.Status == GroupStatusConfirmed
}

// IsTerminal проверяет что урок в конечном статусе.
// Отмена и перенос возможны из любого неконечного статуса.
func (g *GroupLesson) IsTerminal() bool {
	return g.Status == GroupStatusCompleted || g.Status == GroupStatusCancelled
}
