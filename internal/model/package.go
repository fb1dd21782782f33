package model

import "time"

// LessonPackage пакет предоплаченных уроков студента. Остаток списывается
// по одному кредиту за проведённый урок, начиная с самого старого пакета
// (FIFO). "Исчерпан" и "истёк" — вычислимые состояния, не хранимые флаги.
type LessonPackage struct {
	ID               int64      `json:"id"`
	StudentID        int64      `json:"student_id"`
	TotalLessons     int        `json:"total_lessons"`
	RemainingLessons int        `json:"remaining_lessons"`
	ExpiresAt        *time.Time `json:"expires_at"` // nil = бессрочный
	CreatedAt        time.Time  `json:"created_at"`
}

// IsExhausted проверяет что кредиты пакета закончились
func (p *LessonPackage) IsExhausted() bool {
	return p.RemainingLessons <= 0
}

// IsExpired проверяет что срок пакета вышел, а кредиты остались
func (p *LessonPackage) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt) && p.RemainingLessons > 0
}

// IsActive проверяет что из пакета ещё можно списывать
func (p *LessonPackage) IsActive(now time.Time) bool {
	if p.IsExhausted() {
		return false
	}
	if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
		return false
	}
	return true
}
