package model

import "time"

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available" // Свободен для записи
	SlotStatusBooked    SlotStatus = "booked"    // Занят уроком
	SlotStatusBlocked   SlotStatus = "blocked"   // Закрыт администратором
)

// DefaultSlotDurationMinutes длительность слота по умолчанию
const DefaultSlotDurationMinutes = 60

// AvailabilitySlot окно времени, которое учитель объявил открытым для записи.
// Пара (teacher_id, starts_at) уникальна: у учителя не может быть двух слотов
// на одно и то же время.
type AvailabilitySlot struct {
	ID              int64      `json:"id"`
	TeacherID       int64      `json:"teacher_id"`
	StartsAt        time.Time  `json:"starts_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          SlotStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EndsAt возвращает время окончания слота
func (s *AvailabilitySlot) EndsAt() time.Time {
	return s.StartsAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// IsAvailable проверяет что слот свободен для записи
func (s *AvailabilitySlot) IsAvailable() bool {
	return s.Status == SlotStatusAvailable
}

// IsBooked проверяет что слот занят уроком
func (s *AvailabilitySlot) IsBooked() bool {
	return s.Status == SlotStatusBooked
}
