package model

import "time"

type RegistrationStatus string

const (
	RegistrationStatusRegistered RegistrationStatus = "registered"
	RegistrationStatusAttended   RegistrationStatus = "attended"
	RegistrationStatusMissed     RegistrationStatus = "missed"
	RegistrationStatusCancelled  RegistrationStatus = "cancelled"
)

// GroupLessonRegistration запись студента на групповой урок. На пару
// (студент, урок) допускается не более одной активной записи; после отмены
// студент может записаться снова — это новая запись, не реанимация старой.
type GroupLessonRegistration struct {
	ID                    int64              `json:"id"`
	GroupLessonID         int64              `json:"group_lesson_id"`
	StudentID             int64              `json:"student_id"`
	Status                RegistrationStatus `json:"status"`
	RegisteredAt          time.Time          `json:"registered_at"`
	Attended              bool               `json:"attended"`
	AttendanceConfirmedAt *time.Time         `json:"attendance_confirmed_at"`
	CancelReason          string             `json:"cancel_reason"`

	// Заполняется join-запросами, не хранится в таблице записей
	GroupLesson *GroupLesson `json:"group_lesson,omitempty"`
}

// IsActive проверяет что запись занимает место в уроке
func (r *GroupLessonRegistration) IsActive() bool {
	return r.Status == RegistrationStatusRegistered
}

// CountsTowardCapacity проверяет что запись учитывается в current_students
func (r *GroupLessonRegistration) CountsTowardCapacity() bool {
	return r.Status == RegistrationStatusRegistered || r.Status == RegistrationStatusAttended
}
