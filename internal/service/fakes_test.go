package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/notify"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// In-memory fakes behind the store interfaces. Transactions are a no-op:
// the fakes apply writes immediately, tests only assert the outcomes.

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	txs []*fakeTx
}

func (d *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (d *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (d *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (d *fakeDB) Begin(context.Context) (base.Tx, error) {
	tx := &fakeTx{}
	d.txs = append(d.txs, tx)
	return tx, nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (e *fakeEmitter) Emit(_ context.Context, ev notify.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *fakeEmitter) byType(t notify.EventType) []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []notify.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeUserStore struct {
	users map[int64]*model.User
}

func newFakeUserStore(ids ...int64) *fakeUserStore {
	f := &fakeUserStore{users: make(map[int64]*model.User)}
	for _, id := range ids {
		f.users[id] = &model.User{ID: id, FirstName: fmt.Sprintf("User%d", id)}
	}
	return f
}

func (f *fakeUserStore) GetByID(_ context.Context, id int64) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	return u, nil
}

func (f *fakeUserStore) Exists(_ context.Context, id int64) (bool, error) {
	_, ok := f.users[id]
	return ok, nil
}

func (f *fakeUserStore) DisplayNames(_ context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			names[id] = u.DisplayName()
		}
	}
	return names, nil
}

type fakeSlotStore struct {
	nextID int64
	slots  map[int64]*model.AvailabilitySlot
}

func newFakeSlotStore() *fakeSlotStore {
	return &fakeSlotStore{slots: make(map[int64]*model.AvailabilitySlot)}
}

func (f *fakeSlotStore) WithTx(base.Querier) repository.SlotStore { return f }

func (f *fakeSlotStore) Create(_ context.Context, slot *model.AvailabilitySlot) error {
	for _, s := range f.slots {
		if s.TeacherID == slot.TeacherID && s.StartsAt.Equal(slot.StartsAt) {
			return fmt.Errorf("slot exists: %w", model.ErrConflict)
		}
	}
	f.nextID++
	slot.ID = f.nextID
	f.slots[slot.ID] = slot
	return nil
}

func (f *fakeSlotStore) GetByID(_ context.Context, id int64) (*model.AvailabilitySlot, error) {
	s, ok := f.slots[id]
	if !ok {
		return nil, fmt.Errorf("slot %d: %w", id, model.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSlotStore) GetByIDForUpdate(ctx context.Context, id int64) (*model.AvailabilitySlot, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeSlotStore) Book(_ context.Context, id int64) error {
	s, ok := f.slots[id]
	if !ok || s.Status != model.SlotStatusAvailable {
		return fmt.Errorf("slot %d: %w", id, model.ErrNotAvailable)
	}
	s.Status = model.SlotStatusBooked
	return nil
}

func (f *fakeSlotStore) Release(_ context.Context, id int64) error {
	s, ok := f.slots[id]
	if !ok || s.Status != model.SlotStatusBooked {
		return fmt.Errorf("slot %d: %w", id, model.ErrNotAvailable)
	}
	s.Status = model.SlotStatusAvailable
	return nil
}

func (f *fakeSlotStore) Block(_ context.Context, id int64) error {
	s, ok := f.slots[id]
	if !ok {
		return fmt.Errorf("slot %d: %w", id, model.ErrNotFound)
	}
	s.Status = model.SlotStatusBlocked
	return nil
}

func (f *fakeSlotStore) ListByTeacherRange(_ context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error) {
	var out []*model.AvailabilitySlot
	for _, s := range f.slots {
		if s.TeacherID == teacherID && !s.StartsAt.Before(from) && s.StartsAt.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (f *fakeSlotStore) ListFutureByStatus(_ context.Context, teacherID int64, status model.SlotStatus, now time.Time) ([]*model.AvailabilitySlot, error) {
	var out []*model.AvailabilitySlot
	for _, s := range f.slots {
		if s.TeacherID == teacherID && s.Status == status && s.StartsAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (f *fakeSlotStore) CountFutureByStatus(ctx context.Context, teacherID int64, status model.SlotStatus, now time.Time) (int64, error) {
	slots, _ := f.ListFutureByStatus(ctx, teacherID, status, now)
	return int64(len(slots)), nil
}

type fakeLessonStore struct {
	nextID  int64
	lessons map[int64]*model.Lesson
}

func newFakeLessonStore() *fakeLessonStore {
	return &fakeLessonStore{lessons: make(map[int64]*model.Lesson)}
}

func (f *fakeLessonStore) WithTx(base.Querier) repository.LessonStore { return f }

func (f *fakeLessonStore) Create(_ context.Context, lesson *model.Lesson) error {
	f.nextID++
	lesson.ID = f.nextID
	f.lessons[lesson.ID] = lesson
	return nil
}

func (f *fakeLessonStore) GetByID(_ context.Context, id int64) (*model.Lesson, error) {
	l, ok := f.lessons[id]
	if !ok {
		return nil, fmt.Errorf("lesson %d: %w", id, model.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLessonStore) GetByIDForUpdate(ctx context.Context, id int64) (*model.Lesson, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeLessonStore) GetScheduledBySlotID(_ context.Context, slotID int64) (*model.Lesson, error) {
	for _, l := range f.lessons {
		if l.SlotID != nil && *l.SlotID == slotID && l.Status == model.LessonStatusScheduled {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("scheduled lesson for slot %d: %w", slotID, model.ErrNotFound)
}

func (f *fakeLessonStore) MarkCompleted(_ context.Context, id int64) error {
	return f.fromScheduled(id, model.LessonStatusCompleted)
}

func (f *fakeLessonStore) MarkCancelled(_ context.Context, id int64, by model.Actor, reason string) error {
	if err := f.fromScheduled(id, model.LessonStatusCancelled); err != nil {
		return err
	}
	l := f.lessons[id]
	l.CancelledBy = by
	l.CancelReason = reason
	return nil
}

func (f *fakeLessonStore) MarkMissed(_ context.Context, id int64) error {
	return f.fromScheduled(id, model.LessonStatusMissed)
}

func (f *fakeLessonStore) ConfirmAttendance(_ context.Context, id int64) error {
	l, ok := f.lessons[id]
	if !ok || l.Status != model.LessonStatusCompleted || l.AttendanceConfirmed {
		return fmt.Errorf("confirm attendance %d: %w", id, model.ErrNotAvailable)
	}
	l.AttendanceConfirmed = true
	return nil
}

func (f *fakeLessonStore) ConfirmByTeacher(_ context.Context, id int64) error {
	l, ok := f.lessons[id]
	if !ok || l.Status != model.LessonStatusScheduled {
		return fmt.Errorf("confirm lesson %d: %w", id, model.ErrNotAvailable)
	}
	l.ConfirmedByTeacher = true
	return nil
}

func (f *fakeLessonStore) fromScheduled(id int64, to model.LessonStatus) error {
	l, ok := f.lessons[id]
	if !ok || l.Status != model.LessonStatusScheduled {
		return fmt.Errorf("lesson %d is not scheduled: %w", id, model.ErrNotAvailable)
	}
	l.Status = to
	return nil
}

func (f *fakeLessonStore) ListByStudentRange(_ context.Context, studentID int64, from, to time.Time) ([]*model.Lesson, error) {
	return f.filter(func(l *model.Lesson) bool {
		return l.StudentID == studentID && !l.ScheduledAt.Before(from) && l.ScheduledAt.Before(to)
	}), nil
}

func (f *fakeLessonStore) ListByTeacherRange(_ context.Context, teacherID int64, from, to time.Time) ([]*model.Lesson, error) {
	return f.filter(func(l *model.Lesson) bool {
		return l.TeacherID == teacherID && !l.ScheduledAt.Before(from) && l.ScheduledAt.Before(to)
	}), nil
}

func (f *fakeLessonStore) ListScheduledStartingBetween(_ context.Context, from, to time.Time) ([]*model.Lesson, error) {
	return f.filter(func(l *model.Lesson) bool {
		return l.Status == model.LessonStatusScheduled && l.ScheduledAt.After(from) && !l.ScheduledAt.After(to)
	}), nil
}

func (f *fakeLessonStore) ListUnconfirmedCompleted(_ context.Context, endedAfter, endedBefore time.Time) ([]*model.Lesson, error) {
	return f.filter(func(l *model.Lesson) bool {
		if l.Status != model.LessonStatusCompleted || l.AttendanceConfirmed {
			return false
		}
		end := l.EndsAt()
		return end.After(endedAfter) && !end.After(endedBefore)
	}), nil
}

func (f *fakeLessonStore) filter(keep func(*model.Lesson) bool) []*model.Lesson {
	var out []*model.Lesson
	for _, l := range f.lessons {
		if keep(l) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

type fakeGroupStore struct {
	nextID int64
	groups map[int64]*model.GroupLesson
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{groups: make(map[int64]*model.GroupLesson)}
}

func (f *fakeGroupStore) WithTx(base.Querier) repository.GroupLessonStore { return f }

func (f *fakeGroupStore) Create(_ context.Context, g *model.GroupLesson) error {
	f.nextID++
	g.ID = f.nextID
	f.groups[g.ID] = g
	return nil
}

func (f *fakeGroupStore) GetByID(_ context.Context, id int64) (*model.GroupLesson, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, fmt.Errorf("group lesson %d: %w", id, model.ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGroupStore) GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLesson, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeGroupStore) UpdateStatusFrom(_ context.Context, id int64, from, to model.GroupLessonStatus) error {
	g, ok := f.groups[id]
	if !ok || g.Status != from {
		return fmt.Errorf("group lesson %d is not %s: %w", id, from, model.ErrNotBookable)
	}
	g.Status = to
	return nil
}

func (f *fakeGroupStore) MarkCancelled(_ context.Context, id int64, currentStudents int) error {
	g, ok := f.groups[id]
	if !ok || g.IsTerminal() {
		return fmt.Errorf("group lesson %d already finished: %w", id, model.ErrNotBookable)
	}
	g.Status = model.GroupStatusCancelled
	g.CurrentStudents = currentStudents
	return nil
}

func (f *fakeGroupStore) Reschedule(_ context.Context, id int64, at time.Time) error {
	g, ok := f.groups[id]
	if !ok || g.Status != model.GroupStatusPostponed {
		return fmt.Errorf("group lesson %d is not postponed: %w", id, model.ErrNotBookable)
	}
	g.Status = model.GroupStatusScheduled
	g.ScheduledAt = at
	return nil
}

func (f *fakeGroupStore) IncrementStudents(_ context.Context, id int64) error {
	g, ok := f.groups[id]
	if !ok || !g.IsBookable() || g.IsFull() {
		return fmt.Errorf("group lesson %d: %w", id, model.ErrNotBookable)
	}
	g.CurrentStudents++
	return nil
}

func (f *fakeGroupStore) DecrementStudents(_ context.Context, id int64) error {
	g, ok := f.groups[id]
	if !ok || g.CurrentStudents == 0 {
		return fmt.Errorf("group lesson %d has no students: %w", id, model.ErrNotBookable)
	}
	g.CurrentStudents--
	return nil
}

func (f *fakeGroupStore) ListByTeacherRange(_ context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error) {
	var out []*model.GroupLesson
	for _, g := range f.groups {
		if g.TeacherID == teacherID && !g.ScheduledAt.Before(from) && g.ScheduledAt.Before(to) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (f *fakeGroupStore) ListConfirmedStartingBetween(_ context.Context, from, to time.Time) ([]*model.GroupLesson, error) {
	var out []*model.GroupLesson
	for _, g := range f.groups {
		if g.Status == model.GroupStatusConfirmed && g.ScheduledAt.After(from) && !g.ScheduledAt.After(to) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

type fakeRegStore struct {
	nextID int64
	regs   map[int64]*model.GroupLessonRegistration
	groups *fakeGroupStore // для join в ListByStudentRange
}

func newFakeRegStore(groups *fakeGroupStore) *fakeRegStore {
	return &fakeRegStore{regs: make(map[int64]*model.GroupLessonRegistration), groups: groups}
}

func (f *fakeRegStore) WithTx(base.Querier) repository.RegistrationStore { return f }

func (f *fakeRegStore) Create(_ context.Context, reg *model.GroupLessonRegistration) error {
	for _, r := range f.regs {
		if r.GroupLessonID == reg.GroupLessonID && r.StudentID == reg.StudentID && r.IsActive() {
			return fmt.Errorf("student %d on lesson %d: %w", reg.StudentID, reg.GroupLessonID, model.ErrAlreadyRegistered)
		}
	}
	f.nextID++
	reg.ID = f.nextID
	f.regs[reg.ID] = reg
	return nil
}

func (f *fakeRegStore) GetByID(_ context.Context, id int64) (*model.GroupLessonRegistration, error) {
	r, ok := f.regs[id]
	if !ok {
		return nil, fmt.Errorf("registration %d: %w", id, model.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRegStore) GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLessonRegistration, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRegStore) GetActive(_ context.Context, groupLessonID, studentID int64) (*model.GroupLessonRegistration, error) {
	for _, r := range f.regs {
		if r.GroupLessonID == groupLessonID && r.StudentID == studentID && r.IsActive() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active registration: %w", model.ErrNotFound)
}

func (f *fakeRegStore) MarkCancelled(_ context.Context, id int64, reason string) error {
	r, ok := f.regs[id]
	if !ok || !r.IsActive() {
		return fmt.Errorf("registration %d is not active: %w", id, model.ErrNotAvailable)
	}
	r.Status = model.RegistrationStatusCancelled
	r.CancelReason = reason
	return nil
}

func (f *fakeRegStore) MarkAttended(_ context.Context, id int64, at time.Time) error {
	r, ok := f.regs[id]
	if !ok || !r.IsActive() {
		return fmt.Errorf("registration %d is not active: %w", id, model.ErrNotAvailable)
	}
	r.Status = model.RegistrationStatusAttended
	r.Attended = true
	r.AttendanceConfirmedAt = &at
	return nil
}

func (f *fakeRegStore) MarkMissed(_ context.Context, id int64) error {
	r, ok := f.regs[id]
	if !ok || !r.IsActive() {
		return fmt.Errorf("registration %d is not active: %w", id, model.ErrNotAvailable)
	}
	r.Status = model.RegistrationStatusMissed
	return nil
}

func (f *fakeRegStore) ListActiveByGroupLesson(_ context.Context, groupLessonID int64) ([]*model.GroupLessonRegistration, error) {
	var out []*model.GroupLessonRegistration
	for _, r := range f.regs {
		if r.GroupLessonID == groupLessonID && r.IsActive() {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (f *fakeRegStore) ListByStudentRange(_ context.Context, studentID int64, from, to time.Time) ([]*model.GroupLessonRegistration, error) {
	var out []*model.GroupLessonRegistration
	for _, r := range f.regs {
		if r.StudentID != studentID || r.Status == model.RegistrationStatusCancelled {
			continue
		}
		g, ok := f.groups.groups[r.GroupLessonID]
		if !ok || g.ScheduledAt.Before(from) || !g.ScheduledAt.Before(to) {
			continue
		}
		cp := *r
		gcp := *g
		cp.GroupLesson = &gcp
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GroupLesson.ScheduledAt.Before(out[j].GroupLesson.ScheduledAt)
	})
	return out, nil
}

type fakePackageStore struct {
	nextID   int64
	packages []*model.LessonPackage // в порядке выдачи, FIFO
}

func newFakePackageStore() *fakePackageStore { return &fakePackageStore{} }

func (f *fakePackageStore) WithTx(base.Querier) repository.PackageStore { return f }

func (f *fakePackageStore) Create(_ context.Context, pkg *model.LessonPackage) error {
	f.nextID++
	pkg.ID = f.nextID
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = time.Unix(f.nextID, 0)
	}
	f.packages = append(f.packages, pkg)
	return nil
}

func (f *fakePackageStore) GetByID(_ context.Context, id int64) (*model.LessonPackage, error) {
	for _, p := range f.packages {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("package %d: %w", id, model.ErrNotFound)
}

func (f *fakePackageStore) ListByStudent(_ context.Context, studentID int64) ([]*model.LessonPackage, error) {
	var out []*model.LessonPackage
	for _, p := range f.packages {
		if p.StudentID == studentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePackageStore) ListActiveForUpdate(_ context.Context, studentID int64, now time.Time) ([]*model.LessonPackage, error) {
	var out []*model.LessonPackage
	for _, p := range f.packages {
		if p.StudentID == studentID && p.IsActive(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePackageStore) ListByStudentForUpdate(ctx context.Context, studentID int64) ([]*model.LessonPackage, error) {
	return f.ListByStudent(ctx, studentID)
}

func (f *fakePackageStore) UpdateRemaining(_ context.Context, id int64, remaining int) error {
	for _, p := range f.packages {
		if p.ID == id {
			if remaining < 0 || remaining > p.TotalLessons {
				return fmt.Errorf("package %d: invalid remaining %d", id, remaining)
			}
			p.RemainingLessons = remaining
			return nil
		}
	}
	return fmt.Errorf("package %d: %w", id, model.ErrNotFound)
}

func (f *fakePackageStore) SumRemainingActive(_ context.Context, studentID int64, now time.Time) (int, error) {
	sum := 0
	for _, p := range f.packages {
		if p.StudentID == studentID && p.IsActive(now) {
			sum += p.RemainingLessons
		}
	}
	return sum, nil
}

func (f *fakePackageStore) ListEndingSoon(_ context.Context, threshold int, now time.Time) ([]*model.LessonPackage, error) {
	var out []*model.LessonPackage
	for _, p := range f.packages {
		if p.IsActive(now) && p.RemainingLessons <= threshold {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePackageStore) ListExpired(_ context.Context, now time.Time) ([]*model.LessonPackage, error) {
	var out []*model.LessonPackage
	for _, p := range f.packages {
		if p.IsExpired(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePackageStore) ListExpiredBetween(_ context.Context, from, to time.Time) ([]*model.LessonPackage, error) {
	var out []*model.LessonPackage
	for _, p := range f.packages {
		if p.RemainingLessons > 0 && p.ExpiresAt != nil && p.ExpiresAt.After(from) && !p.ExpiresAt.After(to) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
