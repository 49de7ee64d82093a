package core

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

type EventLister interface {
	ListEvents(ctx context.Context) ([]EventRecord, error)
}

// Catalog is the in-memory mirror of the event collection, kept in display order.
type Catalog interface {
	Load(ctx context.Context) error
	Events() []Event
	Get(id string) (Event, bool)
	Put(event Event)
}

type catalog struct {
	mu     sync.RWMutex
	source EventLister
	events []Event
}

func NewCatalog(source EventLister) Catalog {
	return &catalog{source: source}
}

func (c *catalog) Load(ctx context.Context) error {
	records, err := c.source.ListEvents(ctx)
	if err != nil {
		c.mu.Lock()
		c.events = nil
		c.mu.Unlock()

		log.Ctx(ctx).Error().Err(err).Str("component", "catalog").Msg("loading events failed")

		return fmt.Errorf("%w: %w", ErrCatalogLoad, err)
	}

	events := make([]Event, 0, len(records))
	for _, record := range records {
		events = append(events, NormalizeEvent(record))
	}

	SortEvents(events)

	c.mu.Lock()
	c.events = events
	c.mu.Unlock()

	log.Ctx(ctx).Debug().Str("component", "catalog").Int("events", len(events)).Msg("events loaded")

	return nil
}

func (c *catalog) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.events)
}

func (c *catalog) Get(id string) (Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := slices.IndexFunc(c.events, func(e Event) bool { return e.Id == id })
	if i < 0 {
		return Event{}, false
	}

	return c.events[i], true
}

func (c *catalog) Put(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.IndexFunc(c.events, func(e Event) bool { return e.Id == event.Id })
	if i >= 0 && c.events[i].Date == event.Date {
		c.events[i] = event
		return
	}

	if i >= 0 {
		c.events = slices.Delete(c.events, i, i+1)
	}

	c.events = append(c.events, event)
	SortEvents(c.events)
}

// SortEvents orders events by date ascending; events on the same date keep their relative order.
func SortEvents(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		return cmp.Compare(a.Date, b.Date)
	})
}

func NormalizeEvent(record EventRecord) Event {
	event := Event{
		Id:               record.Id,
		Title:            deref(record.Title, ""),
		Description:      deref(record.Description, ""),
		Time:             deref(record.Time, ""),
		Location:         deref(record.Location, ""),
		Category:         deref(record.Category, DefaultCategory),
		MaxAttendees:     deref(record.MaxAttendees, 0),
		CurrentAttendees: deref(record.CurrentAttendees, 0),
		ImageUrl:         record.ImageUrl,
		Price:            record.Price,
	}

	if event.Category == "" {
		event.Category = DefaultCategory
	}

	if record.Date != nil {
		event.Date = record.Date.Format(DateLayout)
	}

	if record.CreatedAt != nil {
		event.CreatedAt = *record.CreatedAt
	}

	return event
}

func deref[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}

	return *v
}
