package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

// MemoryStore keeps everything under one mutex, which gives it the same
// atomicity guarantees as the SQL backend's conditional updates. Used in
// tests and for local runs without Postgres.
type MemoryStore struct {
	mu         sync.Mutex
	parties    map[string]*models.Party
	deliveries map[string]*models.Delivery
	ledger     []*models.LedgerEntry
	seq        int // creation order for FIFO listing
	order      map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		parties:    make(map[string]*models.Party),
		deliveries: make(map[string]*models.Delivery),
		order:      make(map[string]int),
	}
}

func (m *MemoryStore) CreateParty(ctx context.Context, p *models.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.parties {
		if strings.EqualFold(existing.Email, p.Email) {
			return ErrDuplicateEmail
		}
	}
	cp := *p
	m.parties[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetParty(ctx context.Context, id string) (*models.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parties[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPartyByEmail(ctx context.Context, email string) (*models.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.parties {
		if strings.EqualFold(p.Email, email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parties[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	p.LastLogin = &t
	return nil
}

func (m *MemoryStore) UpdateDriverLocation(ctx context.Context, id string, loc models.Coord, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parties[id]
	if !ok {
		return ErrNotFound
	}
	l, t := loc, at
	p.CurrentLoc = &l
	p.LocatedAt = &t
	p.Online = true
	return nil
}

func (m *MemoryStore) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	m.seq++
	m.order[d.ID] = m.seq
	return nil
}

func (m *MemoryStore) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListSearching(ctx context.Context, limit int) ([]*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Delivery, 0, limit)
	for _, d := range m.deliveries {
		if d.Status == models.StatusSearching {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByParty(ctx context.Context, partyID string, role models.Role, status models.Status, limit int) ([]*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Delivery, 0)
	for _, d := range m.deliveries {
		var owns bool
		if role == models.RoleRestaurant {
			owns = d.RestaurantID == partyID
		} else {
			owns = d.DriverID == partyID
		}
		if !owns {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] > m.order[out[j].ID] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func activeStatus(s models.Status) bool {
	return s == models.StatusAccepted || s == models.StatusPickedUp || s == models.StatusInTransit
}

func (m *MemoryStore) HasActiveDelivery(ctx context.Context, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.DriverID == driverID && activeStatus(d.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Claim(ctx context.Context, id string, driver *models.Party, at time.Time) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != models.StatusSearching || d.DriverID != "" {
		return nil, ErrNotAvailable
	}
	// one live job per driver, checked under the same lock as the assignment
	for _, other := range m.deliveries {
		if other.DriverID == driver.ID && activeStatus(other.Status) {
			return nil, ErrNotAvailable
		}
	}
	t := at
	d.DriverID = driver.ID
	d.DriverName = driver.Name
	d.DriverPhone = driver.Phone
	d.Status = models.StatusAccepted
	d.AcceptedAt = &t
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Transition(ctx context.Context, id, driverID string, from, to models.Status, at time.Time) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != from || d.DriverID != driverID {
		return nil, ErrPrecondition
	}
	t := at
	d.Status = to
	switch to {
	case models.StatusPickedUp:
		d.PickedUpAt = &t
	case models.StatusInTransit:
		// no dedicated milestone column
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) CompleteDelivery(ctx context.Context, id, driverID string, from models.Status, at time.Time) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != from || d.DriverID != driverID {
		return nil, ErrPrecondition
	}
	driver, ok := m.parties[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	t := at
	d.Status = models.StatusDelivered
	d.DeliveredAt = &t
	driver.Completed++
	driver.Balance += d.Price.DriverEarnings
	m.ledger = append(m.ledger, &models.LedgerEntry{
		ID:          d.ID + ":earning",
		PartyID:     driverID,
		DeliveryID:  d.ID,
		Kind:        models.EntryDeliveryEarning,
		Amount:      d.Price.DriverEarnings,
		Description: "Delivery #" + d.Code,
		Status:      models.EntryCompleted,
		ProcessedAt: &t,
		CreatedAt:   t,
	})
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Cancel(ctx context.Context, id, restaurantID, reason string, at time.Time) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.RestaurantID != restaurantID {
		return nil, ErrPrecondition
	}
	if d.Status != models.StatusSearching && d.Status != models.StatusAccepted {
		return nil, ErrPrecondition
	}
	t := at
	d.Status = models.StatusCancelled
	d.CancelledAt = &t
	d.CancelReason = reason
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) SetRating(ctx context.Context, id string, rater models.Role, stars int) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != models.StatusDelivered {
		return nil, ErrPrecondition
	}
	// Restaurants rate the driver; drivers rate the restaurant.
	switch rater {
	case models.RoleRestaurant:
		if d.DriverRating != 0 {
			return nil, ErrAlreadyRated
		}
		d.DriverRating = stars
	case models.RoleDriver:
		if d.RestaurantRating != 0 {
			return nil, ErrAlreadyRated
		}
		d.RestaurantRating = stars
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.ledger = append(m.ledger, &cp)
	return nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, partyID string, limit int) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.LedgerEntry, 0)
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].PartyID == partyID {
			cp := *m.ledger[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// EntriesFor returns every ledger entry for a party; test helper.
func (m *MemoryStore) EntriesFor(partyID string) []*models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.ledger {
		if e.PartyID == partyID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}
