package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type AttendanceRepository interface {
	ListConfirmedEventIDs(ctx context.Context, sessionID string) ([]string, error)
	// ConfirmAttendance records the confirmation and increments the attendee counter atomically.
	ConfirmAttendance(ctx context.Context, sessionID string, eventID string) (*Event, error)
	// CancelAttendance removes the confirmation and decrements the counter, floored at zero.
	CancelAttendance(ctx context.Context, sessionID string, eventID string) (*Event, error)
	ListConfirmations(ctx context.Context) ([]ConfirmationDetail, error)
	DeleteConfirmation(ctx context.Context, id string) (*Revocation, error)
}

type Attendance interface {
	Session(ctx context.Context, id string) *Session
	Confirm(ctx context.Context, session *Session, eventID string) (*Event, error)
	Cancel(ctx context.Context, session *Session, eventID string) (*Event, error)
	Confirmations(ctx context.Context) (*ConfirmationsReport, error)
	Revoke(ctx context.Context, confirmationID string) (*Revocation, error)
}

type attendance struct {
	repository AttendanceRepository
	catalog    Catalog
	sessions   SessionStore
}

func NewAttendance(repository AttendanceRepository, catalog Catalog, sessions SessionStore) Attendance {
	return &attendance{repository: repository, catalog: catalog, sessions: sessions}
}

// Session loads a stored session, rebuilding it from the backend's confirmations when the store
// has no confirmed events for the id. Empty sessions are not stored. A session resolved while the
// store or the backend is failing is left untracked.
func (a *attendance) Session(ctx context.Context, id string) *Session {
	logger := log.Ctx(ctx).With().Str("component", "attendance").Str("session", id).Logger()

	session, ok, storeErr := a.sessions.Load(ctx, id)
	if storeErr != nil {
		logger.Warn().Err(storeErr).Msg("session store unavailable")
	}

	if ok {
		return session
	}

	eventIDs, err := a.repository.ListConfirmedEventIDs(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("loading confirmations failed")

		session = NewSession(id)
		session.tracked = false

		return session
	}

	session = NewSession(id, eventIDs...)
	if storeErr != nil {
		session.tracked = false
		return session
	}

	if len(eventIDs) > 0 {
		err = a.sessions.Save(ctx, session)
		if err != nil {
			logger.Error().Err(err).Msg("saving session failed")
		}
	}

	return session
}

func (a *attendance) Confirm(ctx context.Context, session *Session, eventID string) (*Event, error) {
	event, ok := a.catalog.Get(eventID)
	if !ok {
		return nil, ErrEventNotFound
	}

	if session.Has(eventID) {
		return &event, nil
	}

	if event.Full() {
		return nil, ErrEventFull
	}

	updated, err := a.repository.ConfirmAttendance(ctx, session.ID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm attendance: %w", err)
	}

	a.catalog.Put(*updated)
	session.Add(eventID)
	a.record(ctx, session, eventID, true)

	log.Ctx(ctx).Info().Str("component", "attendance").Str("session", session.ID).Str("event", eventID).
		Int("attendees", updated.CurrentAttendees).Msg("attendance confirmed")

	return updated, nil
}

func (a *attendance) Cancel(ctx context.Context, session *Session, eventID string) (*Event, error) {
	if _, ok := a.catalog.Get(eventID); !ok {
		return nil, ErrEventNotFound
	}

	updated, err := a.repository.CancelAttendance(ctx, session.ID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel attendance: %w", err)
	}

	a.catalog.Put(*updated)
	session.Remove(eventID)
	a.record(ctx, session, eventID, false)

	log.Ctx(ctx).Info().Str("component", "attendance").Str("session", session.ID).Str("event", eventID).
		Int("attendees", updated.CurrentAttendees).Msg("attendance cancelled")

	return updated, nil
}

func (a *attendance) Confirmations(ctx context.Context) (*ConfirmationsReport, error) {
	confirmations, err := a.repository.ListConfirmations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}

	sessions := make(map[string]struct{})
	events := make(map[string]struct{})

	for _, c := range confirmations {
		sessions[c.UserSessionId] = struct{}{}
		events[c.EventId] = struct{}{}
	}

	if confirmations == nil {
		confirmations = []ConfirmationDetail{}
	}

	return &ConfirmationsReport{
		Confirmations:  confirmations,
		UniqueSessions: len(sessions),
		UniqueEvents:   len(events),
	}, nil
}

func (a *attendance) Revoke(ctx context.Context, confirmationID string) (*Revocation, error) {
	revocation, err := a.repository.DeleteConfirmation(ctx, confirmationID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete confirmation: %w", err)
	}

	if revocation.Event != nil {
		a.catalog.Put(*revocation.Event)
	}

	owner := NewSession(revocation.Confirmation.UserSessionId)
	a.record(ctx, owner, revocation.Confirmation.EventId, false)

	return revocation, nil
}

// record mirrors one confirmation change into the session store. The backend already holds the
// truth at this point, so a failure is logged and not returned.
func (a *attendance) record(ctx context.Context, session *Session, eventID string, confirmed bool) {
	if !session.tracked {
		return
	}

	var err error
	if confirmed {
		err = a.sessions.Add(ctx, session.ID, eventID)
	} else {
		err = a.sessions.Remove(ctx, session.ID, eventID)
	}

	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("component", "attendance").Str("session", session.ID).
			Str("event", eventID).Msg("saving session failed")
	}
}
