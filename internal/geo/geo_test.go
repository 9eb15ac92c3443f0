package geo

import (
	"context"
	"testing"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

func TestIndexRoundTrip(t *testing.T) {
	g := NewIndex()
	ctx := context.Background()

	if _, ok := g.Lookup(ctx, "d1"); ok {
		t.Fatal("expected miss for unknown driver")
	}

	loc := models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 1, Lng: 2}, Reported: time.Now()}
	if err := g.Upsert(ctx, loc); err != nil {
		t.Fatal(err)
	}
	got, ok := g.Lookup(ctx, "d1")
	if !ok || got != loc.Loc {
		t.Fatalf("expected %+v, got %+v ok=%v", loc.Loc, got, ok)
	}
}

func TestIndexStalePositionsExpire(t *testing.T) {
	g := NewIndex()
	ctx := context.Background()
	old := models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 1, Lng: 2},
		Reported: time.Now().Add(-staleAfter - time.Minute)}
	if err := g.Upsert(ctx, old); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Lookup(ctx, "d1"); ok {
		t.Fatal("expected stale position to be treated as unknown")
	}
}
