// Package geo tracks the last reported position of each driver. The dispatch
// engine reads it to annotate available deliveries with distance-to-pickup.
package geo

import (
	"context"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

// Locator is the interface consumed by the HTTP layer and the engine.
type Locator interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
	Lookup(ctx context.Context, driverID string) (models.Coord, bool)
}

// staleAfter bounds how long a reported position counts as "known".
const staleAfter = 10 * time.Minute

type entry struct {
	loc models.Coord
	at  time.Time
}

// Index is the in-memory Locator used without Redis and in tests.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]entry
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]entry)}
}

func (g *Index) Upsert(ctx context.Context, loc models.DriverLocation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	at := loc.Reported
	if at.IsZero() {
		at = time.Now()
	}
	g.drivers[loc.DriverID] = entry{loc: loc.Loc, at: at}
	return nil
}

func (g *Index) Lookup(ctx context.Context, driverID string) (models.Coord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.drivers[driverID]
	if !ok || time.Since(e.at) > staleAfter {
		return models.Coord{}, false
	}
	return e.loc, true
}
