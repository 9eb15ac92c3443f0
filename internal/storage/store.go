// Package storage defines the persistence interfaces the dispatch engine and
// the auth gate depend on, plus Postgres and in-memory implementations.
//
// Claim and status transitions are exposed as conditional single-row updates:
// the precondition travels with the write, so concurrent callers can never
// both observe the old state and both win.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

var (
	// ErrNotFound: the id does not resolve at all.
	ErrNotFound = errors.New("record not found")
	// ErrNotAvailable: the delivery exists but is no longer claimable
	// (someone else won, or it left the searching state).
	ErrNotAvailable = errors.New("delivery not available")
	// ErrPrecondition: a conditional update matched zero rows.
	ErrPrecondition = errors.New("precondition failed")
	// ErrDuplicateEmail: party registration with a taken email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrAlreadyRated: a side tried to rate the same delivery twice.
	ErrAlreadyRated = errors.New("delivery already rated")
)

// PartyStore persists accounts. Consumed by the access gate and, for contact
// snapshots, by the dispatch engine.
type PartyStore interface {
	CreateParty(ctx context.Context, p *models.Party) error
	GetParty(ctx context.Context, id string) (*models.Party, error)
	GetPartyByEmail(ctx context.Context, email string) (*models.Party, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
	UpdateDriverLocation(ctx context.Context, id string, loc models.Coord, at time.Time) error
}

// DeliveryStore persists dispatch jobs. All mutations after creation are
// conditional on the row's current state.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)

	// ListSearching returns searching deliveries oldest-first.
	ListSearching(ctx context.Context, limit int) ([]*models.Delivery, error)
	// ListByParty returns the party's own deliveries newest-first,
	// optionally filtered by status ("" means all).
	ListByParty(ctx context.Context, partyID string, role models.Role, status models.Status, limit int) ([]*models.Delivery, error)
	// HasActiveDelivery reports whether the driver holds a delivery in
	// accepted, picked_up or in_transit.
	HasActiveDelivery(ctx context.Context, driverID string) (bool, error)

	// Claim atomically assigns the delivery to the driver iff it is still
	// searching and unassigned. Returns ErrNotAvailable when the
	// precondition no longer holds and ErrNotFound when the id never
	// resolved.
	Claim(ctx context.Context, id string, driver *models.Party, at time.Time) (*models.Delivery, error)

	// Transition moves the delivery from one non-terminal status to the
	// next iff it is still in the expected status and assigned to the
	// driver. ErrPrecondition on a lost race.
	Transition(ctx context.Context, id, driverID string, from, to models.Status, at time.Time) (*models.Delivery, error)

	// CompleteDelivery performs the delivered transition together with its
	// side effects (driver completed-count, balance credit and the single
	// delivery_earning ledger entry) as one atomic unit. Either all of it
	// is applied or none of it.
	CompleteDelivery(ctx context.Context, id, driverID string, from models.Status, at time.Time) (*models.Delivery, error)

	// Cancel sets the delivery cancelled iff it belongs to the restaurant
	// and is still in searching or accepted.
	Cancel(ctx context.Context, id, restaurantID, reason string, at time.Time) (*models.Delivery, error)

	// SetRating stores one side's rating, at most once per side, on a
	// delivered row.
	SetRating(ctx context.Context, id string, rater models.Role, stars int) (*models.Delivery, error)
}

// LedgerStore reads and appends monetary records outside the delivered side
// effect (which CompleteDelivery owns).
type LedgerStore interface {
	InsertEntry(ctx context.Context, e *models.LedgerEntry) error
	ListEntries(ctx context.Context, partyID string, limit int) ([]*models.LedgerEntry, error)
}

// Store is the full persistence surface, implemented by both backends.
type Store interface {
	PartyStore
	DeliveryStore
	LedgerStore
}
