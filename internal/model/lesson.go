package model

import "time"

type LessonStatus string

const (
	LessonStatusScheduled LessonStatus = "scheduled" // Запланирован
	LessonStatusCompleted LessonStatus = "completed" // Проведён
	LessonStatusCancelled LessonStatus = "cancelled" // Отменён
	LessonStatusMissed    LessonStatus = "missed"    // Пропущен студентом
)

// Actor кто инициировал отмену урока
type Actor string

const (
	ActorStudent Actor = "student"
	ActorTeacher Actor = "teacher"
	ActorManager Actor = "manager"
	ActorSystem  Actor = "system"
)

// Lesson индивидуальный урок. Может ссылаться на слот учителя (обычная запись)
// или существовать без него (ручное назначение менеджером). Уроки никогда не
// удаляются: отмена — это смена статуса.
type Lesson struct {
	ID                  int64        `json:"id"`
	StudentID           int64        `json:"student_id"`
	TeacherID           int64        `json:"teacher_id"`
	SlotID              *int64       `json:"slot_id"` // nil для уроков без слота
	ScheduledAt         time.Time    `json:"scheduled_at"`
	DurationMinutes     int          `json:"duration_minutes"`
	Status              LessonStatus `json:"status"`
	CancelReason        string       `json:"cancel_reason"`
	CancelledBy         Actor        `json:"cancelled_by"` // пустая строка пока урок не отменён
	ConfirmedByTeacher  bool         `json:"confirmed_by_teacher"`
	AttendanceConfirmed bool         `json:"attendance_confirmed"`
	Notes               string       `json:"notes"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// EndsAt возвращает время окончания урока
func (l *Lesson) EndsAt() time.Time {
	return l.ScheduledAt.Add(time.Duration(l.DurationMinutes) * time.Minute)
}

// IsScheduled проверяет что урок ещё не переведён в конечный статус.
// Все переходы (completed/cancelled/missed) возможны только из scheduled.
func (l *Lesson) IsScheduled() bool {
	return l.Status == LessonStatusScheduled
}

// IsTerminal проверяет что урок в конечном статусе
func (l *Lesson) IsTerminal() bool {
	return !l.IsScheduled()
}

// HasSlot проверяет что урок привязан к слоту
func (l *Lesson) HasSlot() bool {
	return l.SlotID != nil
}
