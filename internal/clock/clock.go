// Package clock отделяет "текущее время" от time.Now, чтобы вычисления
// окон (напоминания, подтверждение посещения, истечение пакетов) были
// детерминированы в тестах.
package clock

import (
	"sync"
	"time"
)

// Clock источник текущего времени
type Clock interface {
	Now() time.Time
}

// System настоящие часы
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// Fixed часы с ручным управлением для тестов
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed создаёт часы, остановленные на t
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance сдвигает часы вперёд на d
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// Set выставляет часы в t
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}
