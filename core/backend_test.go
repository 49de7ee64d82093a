package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// memoryBackend is an in-memory stand-in for the postgres repository used by the catalog,
// attendance and importer tests.
type memoryBackend struct {
	mu            sync.Mutex
	events        map[string]*Event
	order         []string
	confirmations []Confirmation
	seq           int
	listErr       error
	confirmedErr  error
	insertErr     error
	confirmErr    error
	confirmCalls  int
	inserted      [][]Event
}

func newMemoryBackend(events ...Event) *memoryBackend {
	b := &memoryBackend{events: make(map[string]*Event)}
	for _, e := range events {
		b.events[e.Id] = &e
		b.order = append(b.order, e.Id)
	}

	return b
}

func (b *memoryBackend) ListEvents(_ context.Context) ([]EventRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listErr != nil {
		return nil, b.listErr
	}

	records := make([]EventRecord, 0, len(b.order))
	for _, id := range b.order {
		e := b.events[id]

		date, _ := time.Parse(DateLayout, e.Date)
		title, category := e.Title, e.Category
		maxAttendees, current := e.MaxAttendees, e.CurrentAttendees

		records = append(records, EventRecord{
			Id:               e.Id,
			Title:            &title,
			Date:             &date,
			Category:         &category,
			MaxAttendees:     &maxAttendees,
			CurrentAttendees: &current,
		})
	}

	return records, nil
}

func (b *memoryBackend) InsertEvents(_ context.Context, events []Event) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.insertErr != nil {
		return 0, b.insertErr
	}

	b.inserted = append(b.inserted, events)

	for _, e := range events {
		b.seq++
		e.Id = fmt.Sprintf("imported-%d", b.seq)
		b.events[e.Id] = &e
		b.order = append(b.order, e.Id)
	}

	return int64(len(events)), nil
}

func (b *memoryBackend) ListConfirmedEventIDs(_ context.Context, sessionID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.confirmedErr != nil {
		return nil, b.confirmedErr
	}

	var ids []string

	for _, c := range b.confirmations {
		if c.UserSessionId == sessionID {
			ids = append(ids, c.EventId)
		}
	}

	return ids, nil
}

func (b *memoryBackend) ConfirmAttendance(_ context.Context, sessionID string, eventID string) (*Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.confirmCalls++

	if b.confirmErr != nil {
		return nil, b.confirmErr
	}

	e, ok := b.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}

	for _, c := range b.confirmations {
		if c.UserSessionId == sessionID && c.EventId == eventID {
			copied := *e
			return &copied, nil
		}
	}

	if e.CurrentAttendees >= e.MaxAttendees {
		return nil, ErrEventFull
	}

	b.seq++
	b.confirmations = append(b.confirmations, Confirmation{
		Id:            fmt.Sprintf("confirmation-%d", b.seq),
		UserSessionId: sessionID,
		EventId:       eventID,
		ConfirmedAt:   time.Now(),
	})
	e.CurrentAttendees++

	copied := *e

	return &copied, nil
}

func (b *memoryBackend) CancelAttendance(_ context.Context, sessionID string, eventID string) (*Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}

	for i, c := range b.confirmations {
		if c.UserSessionId == sessionID && c.EventId == eventID {
			b.confirmations = append(b.confirmations[:i], b.confirmations[i+1:]...)
			e.CurrentAttendees = max(e.CurrentAttendees-1, 0)

			break
		}
	}

	copied := *e

	return &copied, nil
}

func (b *memoryBackend) ListConfirmations(_ context.Context) ([]ConfirmationDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listErr != nil {
		return nil, b.listErr
	}

	var details []ConfirmationDetail

	for _, c := range b.confirmations {
		e := b.events[c.EventId]
		details = append(details, ConfirmationDetail{
			Confirmation: c,
			Event:        ConfirmationEvent{Title: e.Title, Date: e.Date, Time: e.Time, Location: e.Location},
		})
	}

	return details, nil
}

func (b *memoryBackend) DeleteConfirmation(_ context.Context, id string) (*Revocation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, c := range b.confirmations {
		if c.Id != id {
			continue
		}

		b.confirmations = append(b.confirmations[:i], b.confirmations[i+1:]...)

		e := b.events[c.EventId]
		e.CurrentAttendees = max(e.CurrentAttendees-1, 0)
		copied := *e

		return &Revocation{Confirmation: c, Event: &copied}, nil
	}

	return nil, ErrConfirmationNotFound
}

func (b *memoryBackend) counter(eventID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.events[eventID].CurrentAttendees
}

var errBackendDown = errors.New("backend unavailable")
