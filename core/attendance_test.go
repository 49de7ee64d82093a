package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attendanceFixture struct {
	backend    *memoryBackend
	catalog    Catalog
	sessions   SessionStore
	attendance Attendance
}

func newAttendanceFixture(t *testing.T, events ...Event) *attendanceFixture {
	t.Helper()

	backend := newMemoryBackend(events...)
	catalog := NewCatalog(backend)
	require.NoError(t, catalog.Load(context.Background()))

	sessions := NewMemorySessionStore()

	return &attendanceFixture{
		backend:    backend,
		catalog:    catalog,
		sessions:   sessions,
		attendance: NewAttendance(backend, catalog, sessions),
	}
}

type failingSessionStore struct{}

func (failingSessionStore) Load(context.Context, string) (*Session, bool, error) {
	return nil, false, errBackendDown
}

func (failingSessionStore) Save(context.Context, *Session) error {
	return errBackendDown
}

func (failingSessionStore) Add(context.Context, string, string) error {
	return errBackendDown
}

func (failingSessionStore) Remove(context.Context, string, string) error {
	return errBackendDown
}

func TestAttendance_Confirm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("confirm increments the counter", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 2})
		session := f.attendance.Session(ctx, "s1")

		event, err := f.attendance.Confirm(ctx, session, "e1")
		require.NoError(t, err)

		assert.Equal(t, 1, event.CurrentAttendees)
		assert.True(t, session.Has("e1"))

		mirrored, _ := f.catalog.Get("e1")
		assert.Equal(t, 1, mirrored.CurrentAttendees)

		stored, ok, err := f.sessions.Load(ctx, "s1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, stored.Has("e1"))
	})

	t.Run("full event is rejected and the counter is unchanged", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 1, CurrentAttendees: 1})
		session := f.attendance.Session(ctx, "s1")

		_, err := f.attendance.Confirm(ctx, session, "e1")
		require.ErrorIs(t, err, ErrEventFull)

		assert.Equal(t, 0, f.backend.confirmCalls)
		assert.Equal(t, 1, f.backend.counter("e1"))
		assert.False(t, session.Has("e1"))
	})

	t.Run("zero capacity is always full", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "Show", Date: "2025-06-01"})

		_, err := f.attendance.Confirm(ctx, f.attendance.Session(ctx, "s1"), "e1")
		require.ErrorIs(t, err, ErrEventFull)
	})

	t.Run("backend full after a stale mirror", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 1})

		_, err := f.attendance.Confirm(ctx, f.attendance.Session(ctx, "s1"), "e1")
		require.NoError(t, err)

		// another instance still believes a seat is free
		f.catalog.Put(Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 1})

		_, err = f.attendance.Confirm(ctx, f.attendance.Session(ctx, "s2"), "e1")
		require.ErrorIs(t, err, ErrEventFull)
		assert.Equal(t, 1, f.backend.counter("e1"))
	})

	t.Run("repeated confirm is idempotent", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 5})
		session := f.attendance.Session(ctx, "s1")

		_, err := f.attendance.Confirm(ctx, session, "e1")
		require.NoError(t, err)

		event, err := f.attendance.Confirm(ctx, session, "e1")
		require.NoError(t, err)

		assert.Equal(t, 1, event.CurrentAttendees)
		assert.Equal(t, 1, f.backend.confirmCalls)
		assert.Equal(t, 1, f.backend.counter("e1"))
	})

	t.Run("unknown event", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t)

		_, err := f.attendance.Confirm(ctx, f.attendance.Session(ctx, "s1"), "missing")
		require.ErrorIs(t, err, ErrEventNotFound)
	})

	t.Run("backend failure leaves the session untouched", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 5})
		f.backend.confirmErr = errBackendDown
		session := f.attendance.Session(ctx, "s1")

		_, err := f.attendance.Confirm(ctx, session, "e1")
		require.ErrorIs(t, err, errBackendDown)
		assert.False(t, session.Has("e1"))

		mirrored, _ := f.catalog.Get("e1")
		assert.Equal(t, 0, mirrored.CurrentAttendees)
	})

	t.Run("session store failure does not fail the confirmation", func(t *testing.T) {
		t.Parallel()

		backend := newMemoryBackend(Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 5})
		catalog := NewCatalog(backend)
		require.NoError(t, catalog.Load(ctx))

		a := NewAttendance(backend, catalog, failingSessionStore{})
		session := a.Session(ctx, "s1")

		event, err := a.Confirm(ctx, session, "e1")
		require.NoError(t, err)
		assert.Equal(t, 1, event.CurrentAttendees)
		assert.True(t, session.Has("e1"))
	})
}

func TestAttendance_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("confirm then cancel restores the counter", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 5, CurrentAttendees: 2})
		session := f.attendance.Session(ctx, "s1")

		_, err := f.attendance.Confirm(ctx, session, "e1")
		require.NoError(t, err)

		event, err := f.attendance.Cancel(ctx, session, "e1")
		require.NoError(t, err)

		assert.Equal(t, 2, event.CurrentAttendees)
		assert.Equal(t, 2, f.backend.counter("e1"))
		assert.False(t, session.Has("e1"))

		_, ok, err := f.sessions.Load(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("cancel without a confirmation leaves the counter", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 5})

		event, err := f.attendance.Cancel(ctx, f.attendance.Session(ctx, "s1"), "e1")
		require.NoError(t, err)
		assert.Equal(t, 0, event.CurrentAttendees)
	})

	t.Run("counter is floored at zero", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "Show", Date: "2025-06-01", MaxAttendees: 5})
		f.backend.confirmations = append(f.backend.confirmations, Confirmation{Id: "c1", UserSessionId: "s1", EventId: "e1"})

		session := f.attendance.Session(ctx, "s1")
		require.True(t, session.Has("e1"))

		event, err := f.attendance.Cancel(ctx, session, "e1")
		require.NoError(t, err)
		assert.Equal(t, 0, event.CurrentAttendees)
		assert.Equal(t, 0, f.backend.counter("e1"))
	})

	t.Run("unknown event", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t)

		_, err := f.attendance.Cancel(ctx, f.attendance.Session(ctx, "s1"), "missing")
		require.ErrorIs(t, err, ErrEventNotFound)
	})
}

func TestAttendance_Session(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rebuilt from backend confirmations", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t,
			Event{Id: "e1", Title: "One", Date: "2025-06-01", MaxAttendees: 5},
			Event{Id: "e2", Title: "Two", Date: "2025-06-02", MaxAttendees: 5},
		)

		_, err := f.backend.ConfirmAttendance(ctx, "s1", "e2")
		require.NoError(t, err)

		session := f.attendance.Session(ctx, "s1")
		assert.Equal(t, []string{"e2"}, session.EventIDs())

		_, ok, err := f.sessions.Load(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("session without confirmations is not stored", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "One", Date: "2025-06-01", MaxAttendees: 5})

		session := f.attendance.Session(ctx, "fresh")
		assert.Empty(t, session.EventIDs())

		_, ok, err := f.sessions.Load(ctx, "fresh")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("backend failure leaves the store untouched", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t,
			Event{Id: "e1", Title: "One", Date: "2025-06-01", MaxAttendees: 5},
			Event{Id: "e2", Title: "Two", Date: "2025-06-02", MaxAttendees: 5},
		)

		_, err := f.backend.ConfirmAttendance(ctx, "s1", "e1")
		require.NoError(t, err)

		f.backend.confirmedErr = errBackendDown
		session := f.attendance.Session(ctx, "s1")
		f.backend.confirmedErr = nil

		_, err = f.attendance.Confirm(ctx, session, "e2")
		require.NoError(t, err)

		_, ok, err := f.sessions.Load(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.Equal(t, []string{"e1", "e2"}, f.attendance.Session(ctx, "s1").EventIDs())
	})

	t.Run("stored session wins", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "One", Date: "2025-06-01", MaxAttendees: 5})
		require.NoError(t, f.sessions.Save(ctx, NewSession("s1", "e1")))

		assert.True(t, f.attendance.Session(ctx, "s1").Has("e1"))
	})

	t.Run("store failure degrades to the backend", func(t *testing.T) {
		t.Parallel()

		backend := newMemoryBackend(Event{Id: "e1", Title: "One", Date: "2025-06-01", MaxAttendees: 5})
		_, err := backend.ConfirmAttendance(ctx, "s1", "e1")
		require.NoError(t, err)

		a := NewAttendance(backend, NewCatalog(backend), failingSessionStore{})

		assert.True(t, a.Session(ctx, "s1").Has("e1"))
	})
}

func TestAttendance_Confirmations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("counts unique sessions and events", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t,
			Event{Id: "e1", Title: "One", Date: "2025-06-01", MaxAttendees: 5},
			Event{Id: "e2", Title: "Two", Date: "2025-06-02", MaxAttendees: 5},
		)

		for _, pair := range [][2]string{{"s1", "e1"}, {"s1", "e2"}, {"s2", "e1"}} {
			_, err := f.attendance.Confirm(ctx, f.attendance.Session(ctx, pair[0]), pair[1])
			require.NoError(t, err)
		}

		report, err := f.attendance.Confirmations(ctx)
		require.NoError(t, err)

		assert.Len(t, report.Confirmations, 3)
		assert.Equal(t, 2, report.UniqueSessions)
		assert.Equal(t, 2, report.UniqueEvents)
		assert.Equal(t, "One", report.Confirmations[0].Event.Title)
	})

	t.Run("empty report", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t)

		report, err := f.attendance.Confirmations(ctx)
		require.NoError(t, err)
		assert.NotNil(t, report.Confirmations)
		assert.Empty(t, report.Confirmations)
	})

	t.Run("backend failure", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t)
		f.backend.listErr = errBackendDown

		_, err := f.attendance.Confirmations(ctx)
		require.ErrorIs(t, err, errBackendDown)
	})
}

func TestAttendance_Revoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("removes the confirmation everywhere", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t, Event{Id: "e1", Title: "One", Date: "2025-06-01", MaxAttendees: 5})

		_, err := f.attendance.Confirm(ctx, f.attendance.Session(ctx, "s1"), "e1")
		require.NoError(t, err)

		report, err := f.attendance.Confirmations(ctx)
		require.NoError(t, err)
		require.Len(t, report.Confirmations, 1)

		revocation, err := f.attendance.Revoke(ctx, report.Confirmations[0].Id)
		require.NoError(t, err)
		assert.Equal(t, "s1", revocation.Confirmation.UserSessionId)

		mirrored, _ := f.catalog.Get("e1")
		assert.Equal(t, 0, mirrored.CurrentAttendees)
		assert.Equal(t, 0, f.backend.counter("e1"))

		_, ok, err := f.sessions.Load(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("keeps the owner's other confirmations", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t,
			Event{Id: "e1", Title: "One", Date: "2025-06-01", MaxAttendees: 5},
			Event{Id: "e2", Title: "Two", Date: "2025-06-02", MaxAttendees: 5},
		)
		session := f.attendance.Session(ctx, "s1")

		for _, eventID := range []string{"e1", "e2"} {
			_, err := f.attendance.Confirm(ctx, session, eventID)
			require.NoError(t, err)
		}

		_, err := f.attendance.Revoke(ctx, "confirmation-1")
		require.NoError(t, err)

		owner, ok, err := f.sessions.Load(ctx, "s1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"e2"}, owner.EventIDs())
	})

	t.Run("unknown confirmation", func(t *testing.T) {
		t.Parallel()

		f := newAttendanceFixture(t)

		_, err := f.attendance.Revoke(ctx, "missing")
		require.True(t, errors.Is(err, ErrConfirmationNotFound))
	})
}

func TestAttendance_ConcurrentRequests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	backend := newMemoryBackend(
		Event{Id: "e1", Title: "One", Date: "2025-06-01", MaxAttendees: 5},
		Event{Id: "e2", Title: "Two", Date: "2025-06-02", MaxAttendees: 5},
		Event{Id: "e3", Title: "Three", Date: "2025-06-03", MaxAttendees: 5},
	)
	catalog := NewCatalog(backend)
	require.NoError(t, catalog.Load(ctx))

	_, sessions := newRedisStore(t)
	a := NewAttendance(backend, catalog, sessions)

	_, err := a.Confirm(ctx, a.Session(ctx, "s1"), "e3")
	require.NoError(t, err)

	// two requests of the same browser resolve the session before either one writes
	first := a.Session(ctx, "s1")
	second := a.Session(ctx, "s1")

	_, err = a.Confirm(ctx, first, "e1")
	require.NoError(t, err)

	_, err = a.Confirm(ctx, second, "e2")
	require.NoError(t, err)

	stored, ok, err := sessions.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"e1", "e2", "e3"}, stored.EventIDs())

	confirmed, err := backend.ListConfirmedEventIDs(ctx, "s1")
	require.NoError(t, err)
	assert.ElementsMatch(t, confirmed, stored.EventIDs())

	// a cancel racing a confirm keeps the confirm
	first = a.Session(ctx, "s1")
	second = a.Session(ctx, "s1")

	_, err = a.Cancel(ctx, first, "e3")
	require.NoError(t, err)

	_, err = a.Cancel(ctx, second, "e1")
	require.NoError(t, err)

	assert.Equal(t, []string{"e2"}, a.Session(ctx, "s1").EventIDs())
}
