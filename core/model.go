package core

import "time"

const (
	DefaultCategory = "Geral"
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04"
)

// Event is the display shape of an event, with every optional column already defaulted.
type Event struct {
	Id               string    `json:"id,omitempty"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Date             string    `json:"date"`
	Time             string    `json:"time"`
	Location         string    `json:"location"`
	Category         string    `json:"category"`
	MaxAttendees     int       `json:"maxAttendees"`
	CurrentAttendees int       `json:"currentAttendees"`
	ImageUrl         *string   `json:"imageUrl,omitempty"`
	Price            *float64  `json:"price,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
}

func (e Event) Full() bool {
	return e.CurrentAttendees >= e.MaxAttendees
}

// EventRecord is an events row as the backend returns it; any column may be null.
type EventRecord struct {
	Id               string
	Title            *string
	Description      *string
	Date             *time.Time
	Time             *string
	Location         *string
	Category         *string
	MaxAttendees     *int
	CurrentAttendees *int
	ImageUrl         *string
	Price            *float64
	CreatedAt        *time.Time
}

type Confirmation struct {
	Id            string    `json:"id"`
	UserSessionId string    `json:"userSessionId"`
	EventId       string    `json:"eventId"`
	ConfirmedAt   time.Time `json:"confirmedAt"`
}

// ConfirmationDetail is a confirmation joined with the event it points to.
type ConfirmationDetail struct {
	Confirmation
	Event ConfirmationEvent `json:"event"`
}

type ConfirmationEvent struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Location string `json:"location"`
}

// Revocation is the outcome of deleting a confirmation by id: the removed row and the event after
// its counter was decremented.
type Revocation struct {
	Confirmation Confirmation
	Event        *Event
}

type ConfirmationsReport struct {
	Confirmations  []ConfirmationDetail `json:"confirmations"`
	UniqueSessions int                  `json:"uniqueSessions"`
	UniqueEvents   int                  `json:"uniqueEvents"`
}

// EventView is a catalog entry as seen by one session.
type EventView struct {
	Event
	Confirmed bool `json:"confirmed"`
	IsFull    bool `json:"full"`
}
