package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLesson_Predicates(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	slotID := int64(5)

	l := &Lesson{SlotID: &slotID, ScheduledAt: at, DurationMinutes: 90, Status: LessonStatusScheduled}

	assert.True(t, l.IsScheduled())
	assert.False(t, l.IsTerminal())
	assert.True(t, l.HasSlot())
	assert.True(t, l.EndsAt().Equal(at.Add(90*time.Minute)))

	for _, status := range []LessonStatus{LessonStatusCompleted, LessonStatusCancelled, LessonStatusMissed} {
		l.Status = status
		assert.True(t, l.IsTerminal(), string(status))
	}

	adhoc := &Lesson{ScheduledAt: at, DurationMinutes: 60, Status: LessonStatusScheduled}
	assert.False(t, adhoc.HasSlot())
}

func TestUser_DisplayName(t *testing.T) {
	assert.Equal(t, "Aruzhan K", (&User{FirstName: "Aruzhan", LastName: "K"}).DisplayName())
	assert.Equal(t, "Aruzhan", (&User{FirstName: "Aruzhan"}).DisplayName())
	assert.Equal(t, "user", (&User{}).DisplayName())
}
