package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

type flakyLocator struct {
	failures int
	calls    int
	last     models.DriverLocation
}

func (f *flakyLocator) Upsert(ctx context.Context, loc models.DriverLocation) error {
	f.calls++
	f.last = loc
	if f.calls <= f.failures {
		return errors.New("transient")
	}
	return nil
}

func (f *flakyLocator) Lookup(ctx context.Context, driverID string) (models.Coord, bool) {
	return f.last.Loc, f.last.DriverID == driverID
}

func TestUpdateGeoWithRetrySucceedsFirstTry(t *testing.T) {
	fake := &flakyLocator{}
	loc := models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 1, Lng: 2}}

	if err := updateGeoWithRetry(context.Background(), fake, loc, 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 call, got %d", fake.calls)
	}
	if fake.last.DriverID != "d1" {
		t.Fatalf("wrong location stored: %+v", fake.last)
	}
}

func TestUpdateGeoWithRetryRecovers(t *testing.T) {
	fake := &flakyLocator{failures: 2}
	loc := models.DriverLocation{DriverID: "d2", Loc: models.Coord{Lat: -23.5, Lng: -46.6}}

	if err := updateGeoWithRetry(context.Background(), fake, loc, 3, time.Millisecond); err != nil {
		t.Fatalf("expected recovery within 3 attempts, got %v", err)
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", fake.calls)
	}
}

func TestUpdateGeoWithRetryGivesUp(t *testing.T) {
	fake := &flakyLocator{failures: 10}
	loc := models.DriverLocation{DriverID: "d3"}

	err := updateGeoWithRetry(context.Background(), fake, loc, 3, time.Millisecond)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if fake.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", fake.calls)
	}
}
