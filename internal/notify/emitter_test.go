package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	rows []*model.Notification
	err  error
}

func (s *memStore) Create(_ context.Context, n *model.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, n)
	return nil
}

func TestStoreEmitter(t *testing.T) {
	store := &memStore{}
	emitter := NewStoreEmitter(store)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	lesson := &model.Lesson{ID: 5, StudentID: 1, TeacherID: 10, ScheduledAt: at.Add(24 * time.Hour)}
	ev := LessonScheduled(1, RecipientStudent, at, lesson)

	require.NoError(t, emitter.Emit(context.Background(), ev))
	require.Len(t, store.rows, 1)

	row := store.rows[0]
	assert.Equal(t, int64(1), row.UserID)
	assert.Equal(t, string(EventLessonScheduled), row.EventType)
	assert.Contains(t, row.Message, "Lesson scheduled")

	// The stored payload is the full event, round-trippable
	var stored Event
	require.NoError(t, json.Unmarshal(row.Payload, &stored))
	assert.Equal(t, ev.ID, stored.ID)
	assert.Equal(t, "5", stored.Payload["lesson_id"])
}

func TestMulti_FanoutAndFirstError(t *testing.T) {
	good := &memStore{}
	bad := &memStore{err: errors.New("insert failed")}
	also := &memStore{}

	m := Multi{NewStoreEmitter(good), NewStoreEmitter(bad), NewStoreEmitter(also)}

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	pkg := &model.LessonPackage{ID: 2, StudentID: 1, TotalLessons: 8, RemainingLessons: 1}
	err := m.Emit(context.Background(), PackageEndingSoon(1, RecipientStudent, at, pkg))

	// The error surfaces, but every emitter still gets the event
	require.Error(t, err)
	assert.Len(t, good.rows, 1)
	assert.Len(t, also.rows, 1)
}

func TestLogEmitter(t *testing.T) {
	emitter := NewLogEmitter(zap.NewNop())

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	g := &model.GroupLesson{ID: 3, TeacherID: 10, Topic: "idioms", ScheduledAt: at}
	assert.NoError(t, emitter.Emit(context.Background(), GroupLessonCancelled(1, RecipientStudent, at, g, "ill")))
}

func TestEventMessages(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	lesson := &model.Lesson{ID: 5, StudentID: 1, TeacherID: 10, ScheduledAt: at}
	pkg := &model.LessonPackage{ID: 2, StudentID: 1, TotalLessons: 4, RemainingLessons: 3}

	cases := []struct {
		ev   Event
		want string
	}{
		{LessonCancelled(1, RecipientStudent, at, lesson, model.ActorTeacher, "ill"), "Lesson cancelled: ill"},
		{PackageExpired(1, RecipientStudent, at, pkg), "Lesson package expired with 3 lessons left"},
		{LessonReminder(1, RecipientStudent, at, map[string]string{"reason": "upcoming_lesson"}), "Upcoming lesson reminder"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.ev.Message())
	}
}
