// Package dispatch is the delivery dispatch engine: it prices and creates
// jobs, exposes them to drivers, arbitrates concurrent claims and walks each
// delivery through its lifecycle, fanning out state-change events as it goes.
package dispatch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/pricing"
	"github.com/example/delivery-dispatch/internal/storage"
)

// Event names on the realtime channel.
const (
	EventNewJob       = "new_job"
	EventJobClaimed   = "job_claimed"
	EventJobUpdated   = "job_updated"
	EventJobCancelled = "job_cancelled"
)

// RestaurantChannel and DriverChannel name the per-party fanout rooms.
func RestaurantChannel(id string) string { return "restaurant_" + id }
func DriverChannel(id string) string     { return "driver_" + id }

// Notifier delivers events to subscribers. Publishing is fire-and-forget;
// the engine never waits on it or observes failures.
type Notifier interface {
	Broadcast(event string, payload any)
	Publish(channel, event string, payload any)
}

// Locator resolves a driver's most recent live position, if any.
type Locator interface {
	Lookup(ctx context.Context, driverID string) (models.Coord, bool)
}

const (
	defaultAvailableLimit = 20
	defaultMineLimit      = 50
	defaultCancelReason   = "Cancelled by restaurant"

	// unknownDistanceKm sorts unlocated pickups behind every real distance.
	unknownDistanceKm = 999.0
)

type Engine struct {
	store    storage.DeliveryStore
	calc     *pricing.Calculator
	notifier Notifier
	locator  Locator
	logger   *slog.Logger

	availableLimit int
	mineLimit      int
	now            func() time.Time
}

// New wires the engine. The notifier and locator are injected so tests can
// run against a recording fake and a nil position source.
func New(store storage.DeliveryStore, calc *pricing.Calculator, notifier Notifier, locator Locator, logger *slog.Logger) *Engine {
	return &Engine{
		store:          store,
		calc:           calc,
		notifier:       notifier,
		locator:        locator,
		logger:         logger,
		availableLimit: defaultAvailableLimit,
		mineLimit:      defaultMineLimit,
		now:            time.Now,
	}
}

// SetPageLimits overrides the listing caps. Non-positive values keep the
// defaults.
func (e *Engine) SetPageLimits(available, mine int) {
	if available > 0 {
		e.availableLimit = available
	}
	if mine > 0 {
		e.mineLimit = mine
	}
}

// CreateParams are the caller-supplied fields of a new delivery. Everything
// else is derived or snapshotted from the requesting restaurant.
type CreateParams struct {
	PickupAddress   string        `json:"pickup_address"`
	PickupDetail    string        `json:"pickup_detail"`
	DeliveryAddress string        `json:"delivery_address"`
	DeliveryDetail  string        `json:"delivery_detail"`
	DeliveryLoc     *models.Coord `json:"delivery_loc"`
	CustomerName    string        `json:"customer_name"`
	CustomerPhone   string        `json:"customer_phone"`
	Description     string        `json:"description"`
}

// Create prices and persists a new delivery in searching state and
// broadcasts its availability.
func (e *Engine) Create(ctx context.Context, requester *models.Party, p CreateParams) (*models.Delivery, error) {
	if requester.Role != models.RoleRestaurant {
		return nil, authorizationErr("only restaurants can request deliveries")
	}
	if strings.TrimSpace(p.DeliveryAddress) == "" {
		return nil, validationErr("delivery_address is required")
	}
	if strings.TrimSpace(p.CustomerName) == "" {
		return nil, validationErr("customer_name is required")
	}
	if strings.TrimSpace(p.CustomerPhone) == "" {
		return nil, validationErr("customer_phone is required")
	}

	pickup := strings.TrimSpace(p.PickupAddress)
	if pickup == "" {
		pickup = requester.Address
	}
	if pickup == "" {
		return nil, validationErr("pickup_address is required")
	}

	km := pricing.Distance(requester.AddressLoc, p.DeliveryLoc)
	price := e.calc.Quote(km)
	now := e.now()

	d := &models.Delivery{
		ID:                uuid.NewString(),
		Code:              newCode(),
		RestaurantID:      requester.ID,
		RestaurantName:    requester.Name,
		RestaurantPhone:   requester.Phone,
		RestaurantAddress: requester.Address,
		RestaurantLoc:     requester.AddressLoc,
		PickupAddress:     pickup,
		PickupDetail:      p.PickupDetail,
		DeliveryAddress:   p.DeliveryAddress,
		DeliveryDetail:    p.DeliveryDetail,
		DeliveryLoc:       p.DeliveryLoc,
		CustomerName:      p.CustomerName,
		CustomerPhone:     p.CustomerPhone,
		Description:       p.Description,
		DistanceKm:        pricing.RoundKm(km),
		Price:             price,
		Status:            models.StatusSearching,
		RequestedAt:       now,
	}
	if err := e.store.CreateDelivery(ctx, d); err != nil {
		return nil, internalErr(err)
	}

	observability.DeliveriesCreated.Inc()
	e.notifier.Broadcast(EventNewJob, map[string]any{
		"delivery_id": d.ID,
		"code":        d.Code,
		"restaurant":  d.RestaurantName,
		"distance_km": d.DistanceKm,
		"earnings":    d.Price.DriverEarnings,
	})
	e.logger.Info("delivery created", "delivery_id", d.ID, "code", d.Code, "restaurant_id", requester.ID)
	return d, nil
}

// ListAvailable returns searching deliveries oldest-first, capped. When the
// driver has a known position each row is annotated with the straight-line
// distance to the pickup and the page is re-sorted by it, unknown distances
// last.
func (e *Engine) ListAvailable(ctx context.Context, driver *models.Party) ([]models.AvailableDelivery, error) {
	if driver.Role != models.RoleDriver {
		return nil, authorizationErr("only drivers can browse deliveries")
	}
	rows, err := e.store.ListSearching(ctx, e.availableLimit)
	if err != nil {
		return nil, internalErr(err)
	}

	loc := e.driverPosition(ctx, driver)
	out := make([]models.AvailableDelivery, 0, len(rows))
	for _, d := range rows {
		a := models.AvailableDelivery{
			ID:                d.ID,
			Code:              d.Code,
			RestaurantName:    d.RestaurantName,
			RestaurantAddress: d.RestaurantAddress,
			PickupAddress:     d.PickupAddress,
			DeliveryAddress:   d.DeliveryAddress,
			DistanceKm:        d.DistanceKm,
			DriverEarnings:    d.Price.DriverEarnings,
			Description:       d.Description,
			RequestedAt:       d.RequestedAt,
		}
		if loc != nil && d.RestaurantLoc != nil {
			km := pricing.RoundKm(pricing.HaversineKm(*loc, *d.RestaurantLoc))
			a.DistanceToPickupKm = &km
		}
		out = append(out, a)
	}
	if loc != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return pickupDistance(out[i]) < pickupDistance(out[j])
		})
	}
	return out, nil
}

func pickupDistance(a models.AvailableDelivery) float64 {
	if a.DistanceToPickupKm == nil {
		return unknownDistanceKm
	}
	return *a.DistanceToPickupKm
}

// driverPosition prefers the live location index, falling back to the last
// position stored on the party row.
func (e *Engine) driverPosition(ctx context.Context, driver *models.Party) *models.Coord {
	if e.locator != nil {
		if c, ok := e.locator.Lookup(ctx, driver.ID); ok {
			return &c
		}
	}
	return driver.CurrentLoc
}

// ListMine returns the caller's own deliveries newest-first, optionally
// filtered by status.
func (e *Engine) ListMine(ctx context.Context, party *models.Party, status models.Status) ([]*models.Delivery, error) {
	if status != "" && !status.Valid() {
		return nil, validationErr("unknown status filter")
	}
	rows, err := e.store.ListByParty(ctx, party.ID, party.Role, status, e.mineLimit)
	if err != nil {
		return nil, internalErr(err)
	}
	return rows, nil
}

// Claim atomically assigns a searching delivery to the driver. Under
// concurrent claims exactly one caller wins; the rest get a conflict.
func (e *Engine) Claim(ctx context.Context, driver *models.Party, id string) (*models.Delivery, error) {
	if driver.Role != models.RoleDriver {
		return nil, authorizationErr("only drivers can claim deliveries")
	}
	active, err := e.store.HasActiveDelivery(ctx, driver.ID)
	if err != nil {
		return nil, internalErr(err)
	}
	if active {
		return nil, conflictErr("finish your current delivery first")
	}

	d, err := e.store.Claim(ctx, id, driver, e.now())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, notFoundErr("delivery not found")
	case errors.Is(err, storage.ErrNotAvailable):
		observability.ClaimConflicts.Inc()
		return nil, conflictErr("delivery not available")
	case err != nil:
		return nil, internalErr(err)
	}

	observability.DeliveriesClaimed.Inc()
	e.notifier.Publish(RestaurantChannel(d.RestaurantID), EventJobClaimed, map[string]any{
		"delivery_id": d.ID,
		"code":        d.Code,
		"driver": map[string]any{
			"name":   driver.Name,
			"phone":  driver.Phone,
			"rating": driver.Rating,
		},
	})
	e.logger.Info("delivery claimed", "delivery_id", d.ID, "driver_id", driver.ID)
	return d, nil
}

// UpdateStatus advances a delivery along the lifecycle. Only the assigned
// driver may call it, only table-listed transitions pass, and the delivered
// step applies its balance/ledger side effects atomically with the status
// flip. Repeating it loses the precondition and changes nothing.
func (e *Engine) UpdateStatus(ctx context.Context, driver *models.Party, id string, to models.Status) (*models.Delivery, error) {
	if driver.Role != models.RoleDriver {
		return nil, authorizationErr("only drivers can update delivery status")
	}
	if !to.Valid() || !driverStatuses[to] {
		return nil, validationErr(fmt.Sprintf("status %q cannot be requested", to))
	}

	current, err := e.store.GetDelivery(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFoundErr("delivery not found")
	}
	if err != nil {
		return nil, internalErr(err)
	}
	if current.DriverID != driver.ID {
		return nil, authorizationErr("delivery is not assigned to you")
	}
	if !CanTransition(current.Status, to) {
		return nil, conflictErr(fmt.Sprintf("cannot go from %s to %s", current.Status, to))
	}

	var updated *models.Delivery
	if to == models.StatusDelivered {
		updated, err = e.store.CompleteDelivery(ctx, id, driver.ID, current.Status, e.now())
	} else {
		updated, err = e.store.Transition(ctx, id, driver.ID, current.Status, to, e.now())
	}
	if errors.Is(err, storage.ErrPrecondition) {
		// someone moved the row between our read and the write
		return nil, conflictErr("delivery state changed, re-check and retry")
	}
	if err != nil {
		return nil, internalErr(err)
	}

	if to == models.StatusDelivered {
		observability.DeliveriesCompleted.Inc()
	}
	e.notifier.Publish(RestaurantChannel(updated.RestaurantID), EventJobUpdated, map[string]any{
		"delivery_id": updated.ID,
		"code":        updated.Code,
		"status":      updated.Status,
	})
	e.logger.Info("delivery status updated", "delivery_id", id, "status", to)
	return updated, nil
}

// Cancel lets the requesting restaurant withdraw a delivery that has not
// been picked up yet.
func (e *Engine) Cancel(ctx context.Context, requester *models.Party, id, reason string) (*models.Delivery, error) {
	if requester.Role != models.RoleRestaurant {
		return nil, authorizationErr("only restaurants can cancel deliveries")
	}
	current, err := e.store.GetDelivery(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFoundErr("delivery not found")
	}
	if err != nil {
		return nil, internalErr(err)
	}
	if current.RestaurantID != requester.ID {
		return nil, authorizationErr("delivery belongs to another restaurant")
	}
	if current.Status != models.StatusSearching && current.Status != models.StatusAccepted {
		return nil, conflictErr("delivery can no longer be cancelled")
	}

	if strings.TrimSpace(reason) == "" {
		reason = defaultCancelReason
	}
	updated, err := e.store.Cancel(ctx, id, requester.ID, reason, e.now())
	if errors.Is(err, storage.ErrPrecondition) {
		return nil, conflictErr("delivery can no longer be cancelled")
	}
	if err != nil {
		return nil, internalErr(err)
	}

	if updated.DriverID != "" {
		e.notifier.Publish(DriverChannel(updated.DriverID), EventJobCancelled, map[string]any{
			"delivery_id": updated.ID,
			"reason":      updated.CancelReason,
		})
	}
	e.logger.Info("delivery cancelled", "delivery_id", id, "restaurant_id", requester.ID)
	return updated, nil
}

// Rate records one side's rating of a delivered job. Each side rates once;
// restaurants rate the driver and drivers rate the restaurant.
func (e *Engine) Rate(ctx context.Context, party *models.Party, id string, stars int) (*models.Delivery, error) {
	if stars < 1 || stars > 5 {
		return nil, validationErr("rating must be between 1 and 5")
	}
	current, err := e.store.GetDelivery(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFoundErr("delivery not found")
	}
	if err != nil {
		return nil, internalErr(err)
	}
	switch party.Role {
	case models.RoleRestaurant:
		if current.RestaurantID != party.ID {
			return nil, authorizationErr("delivery belongs to another restaurant")
		}
	case models.RoleDriver:
		if current.DriverID != party.ID {
			return nil, authorizationErr("delivery is not assigned to you")
		}
	}

	updated, err := e.store.SetRating(ctx, id, party.Role, stars)
	switch {
	case errors.Is(err, storage.ErrPrecondition):
		return nil, conflictErr("only delivered jobs can be rated")
	case errors.Is(err, storage.ErrAlreadyRated):
		return nil, conflictErr("delivery already rated")
	case err != nil:
		return nil, internalErr(err)
	}
	return updated, nil
}

// newCode builds the short human-readable delivery code, FR followed by four
// digits. Not globally unique; collisions inside the active window are
// unlikely and harmless since lookups go by id.
func newCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "FR0000"
	}
	return fmt.Sprintf("FR%04d", n.Int64()+1000)
}
