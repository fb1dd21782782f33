package service

import (
	"context"
	"testing"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/clock"
	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type slotFixture struct {
	svc     *SlotService
	slots   *fakeSlotStore
	lessons *fakeLessonStore
	emitter *fakeEmitter
	clk     *clock.Fixed
}

func newSlotFixture(userIDs ...int64) *slotFixture {
	slots := newFakeSlotStore()
	lessons := newFakeLessonStore()
	emitter := &fakeEmitter{}
	clk := clock.NewFixed(testNow)
	svc := NewSlotService(&fakeDB{}, slots, lessons, newFakeUserStore(userIDs...), emitter, clk, zap.NewNop())
	return &slotFixture{svc: svc, slots: slots, lessons: lessons, emitter: emitter, clk: clk}
}

func TestDeclareSlot(t *testing.T) {
	f := newSlotFixture(10)

	slot, err := f.svc.DeclareSlot(context.Background(), 10, testNow.Add(time.Hour), 0)
	require.NoError(t, err)

	assert.NotZero(t, slot.ID)
	assert.Equal(t, model.SlotStatusAvailable, slot.Status)
	assert.Equal(t, model.DefaultSlotDurationMinutes, slot.DurationMinutes)
}

func TestDeclareSlot_InPast(t *testing.T) {
	f := newSlotFixture(10)

	_, err := f.svc.DeclareSlot(context.Background(), 10, testNow.Add(-time.Hour), 60)
	assert.Error(t, err)
}

func TestDeclareSlot_Duplicate(t *testing.T) {
	f := newSlotFixture(10)
	at := testNow.Add(time.Hour)

	_, err := f.svc.DeclareSlot(context.Background(), 10, at, 60)
	require.NoError(t, err)

	_, err = f.svc.DeclareSlot(context.Background(), 10, at, 90)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestDeclareSlot_UnknownTeacher(t *testing.T) {
	f := newSlotFixture(10)

	_, err := f.svc.DeclareSlot(context.Background(), 99, testNow.Add(time.Hour), 60)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBookSlot_Transitions(t *testing.T) {
	f := newSlotFixture(10)

	slot, err := f.svc.DeclareSlot(context.Background(), 10, testNow.Add(time.Hour), 60)
	require.NoError(t, err)

	require.NoError(t, f.svc.BookSlot(context.Background(), slot.ID))

	got, err := f.slots.GetByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, got.Status)

	// Second booking of the same slot loses
	err = f.svc.BookSlot(context.Background(), slot.ID)
	assert.ErrorIs(t, err, model.ErrNotAvailable)
}

func TestCancelBooking_ReleasesSlotAndLesson(t *testing.T) {
	f := newSlotFixture(1, 10)

	slot, err := f.svc.DeclareSlot(context.Background(), 10, testNow.Add(time.Hour), 60)
	require.NoError(t, err)
	require.NoError(t, f.svc.BookSlot(context.Background(), slot.ID))

	lesson := &model.Lesson{
		StudentID:       1,
		TeacherID:       10,
		SlotID:          &slot.ID,
		ScheduledAt:     slot.StartsAt,
		DurationMinutes: 60,
		Status:          model.LessonStatusScheduled,
	}
	require.NoError(t, f.lessons.Create(context.Background(), lesson))

	require.NoError(t, f.svc.CancelBooking(context.Background(), slot.ID, model.ActorTeacher, "sick"))

	got, err := f.slots.GetByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, got.Status)

	l, err := f.lessons.GetByID(context.Background(), lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusCancelled, l.Status)
	assert.Equal(t, model.ActorTeacher, l.CancelledBy)

	events := f.emitter.byType(notify.EventLessonCancelled)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].RecipientID)
	assert.Equal(t, int64(10), events[1].RecipientID)
}

func TestCancelBooking_NotBooked(t *testing.T) {
	f := newSlotFixture(10)

	slot, err := f.svc.DeclareSlot(context.Background(), 10, testNow.Add(time.Hour), 60)
	require.NoError(t, err)

	err = f.svc.CancelBooking(context.Background(), slot.ID, model.ActorManager, "")
	assert.ErrorIs(t, err, model.ErrNotAvailable)
}

func TestBlockSlot(t *testing.T) {
	f := newSlotFixture(10)

	slot, err := f.svc.DeclareSlot(context.Background(), 10, testNow.Add(time.Hour), 60)
	require.NoError(t, err)

	require.NoError(t, f.svc.BlockSlot(context.Background(), slot.ID))

	got, err := f.slots.GetByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBlocked, got.Status)

	available, err := f.svc.GetFutureAvailable(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, available)
}
