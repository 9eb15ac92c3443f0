package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/pricing"
	"github.com/example/delivery-dispatch/internal/storage"
)

type recordedEvent struct {
	channel string
	event   string
	payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingNotifier) Broadcast(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{channel: "", event: event, payload: payload})
}

func (r *recordingNotifier) Publish(channel, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{channel: channel, event: event, payload: payload})
}

func (r *recordingNotifier) byEvent(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryStore, *recordingNotifier) {
	t.Helper()
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	calc := pricing.NewCalculator(pricing.DefaultBaseFee, pricing.DefaultPerKm)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, calc, notifier, nil, logger), store, notifier
}

func seedRestaurant(t *testing.T, store *storage.MemoryStore) *models.Party {
	t.Helper()
	p := &models.Party{
		ID: "rest-1", Email: "resto@example.com", Role: models.RoleRestaurant,
		Name: "Bella Pasta", Phone: "555-0100", Address: "1 Main St",
		AddressLoc: &models.Coord{Lat: 0, Lng: 0}, Active: true, Rating: 5,
	}
	if err := store.CreateParty(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func seedDriver(t *testing.T, store *storage.MemoryStore, id string) *models.Party {
	t.Helper()
	p := &models.Party{
		ID: id, Email: id + "@example.com", Role: models.RoleDriver,
		Name: "Driver " + id, Phone: "555-0200", Active: true, Rating: 4.8,
	}
	if err := store.CreateParty(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func createDelivery(t *testing.T, e *Engine, rest *models.Party) *models.Delivery {
	t.Helper()
	d, err := e.Create(context.Background(), rest, CreateParams{
		DeliveryAddress: "42 Elm St",
		DeliveryLoc:     &models.Coord{Lat: 0.027, Lng: 0},
		CustomerName:    "Ana",
		CustomerPhone:   "555-0300",
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *dispatch.Error, got %v", err)
	}
	return de.Kind
}

func TestCreatePricesAndBroadcasts(t *testing.T) {
	e, store, notifier := newTestEngine(t)
	rest := seedRestaurant(t, store)

	d := createDelivery(t, e, rest)

	if d.Status != models.StatusSearching {
		t.Fatalf("expected searching, got %s", d.Status)
	}
	if d.Price.Total != 1250 {
		t.Fatalf("expected 12.50 total for ~3km, got %s", d.Price.Total)
	}
	if d.Price.DriverEarnings+d.Price.PlatformFee != d.Price.Total {
		t.Fatalf("split broken: %+v", d.Price)
	}
	if d.RestaurantName != rest.Name || d.RestaurantPhone != rest.Phone {
		t.Fatal("restaurant snapshot not frozen onto delivery")
	}
	if got := notifier.byEvent(EventNewJob); len(got) != 1 || got[0].channel != "" {
		t.Fatalf("expected one broadcast new_job, got %+v", got)
	}
}

func TestCreateRejectsDriversAndMissingFields(t *testing.T) {
	e, store, _ := newTestEngine(t)
	drv := seedDriver(t, store, "drv-1")

	if _, err := e.Create(context.Background(), drv, CreateParams{}); kindOf(t, err) != KindAuthorization {
		t.Fatal("expected authorization error for driver caller")
	}

	rest := seedRestaurant(t, store)
	_, err := e.Create(context.Background(), rest, CreateParams{DeliveryAddress: "x", CustomerName: "y"})
	if kindOf(t, err) != KindValidation {
		t.Fatal("expected validation error for missing phone")
	}
}

func TestConcurrentClaimsExactlyOneWinner(t *testing.T) {
	e, store, notifier := newTestEngine(t)
	rest := seedRestaurant(t, store)
	d := createDelivery(t, e, rest)

	const drivers = 8
	errs := make([]error, drivers)
	var wg sync.WaitGroup
	for i := 0; i < drivers; i++ {
		drv := seedDriver(t, store, "drv-"+string(rune('a'+i)))
		wg.Add(1)
		go func(i int, drv *models.Party) {
			defer wg.Done()
			_, errs[i] = e.Claim(context.Background(), drv, d.ID)
		}(i, drv)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case kindOf(t, err) == KindConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	if wins != 1 || conflicts != drivers-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", drivers-1, wins, conflicts)
	}

	final, err := store.GetDelivery(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.StatusAccepted || final.DriverID == "" {
		t.Fatalf("expected accepted with assignee, got %s/%q", final.Status, final.DriverID)
	}
	if got := notifier.byEvent(EventJobClaimed); len(got) != 1 || got[0].channel != RestaurantChannel(rest.ID) {
		t.Fatalf("expected one job_claimed to the restaurant room, got %+v", got)
	}
}

func TestClaimDistinguishesMissingFromTaken(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rest := seedRestaurant(t, store)
	d := createDelivery(t, e, rest)
	a := seedDriver(t, store, "drv-a")
	b := seedDriver(t, store, "drv-b")

	if _, err := e.Claim(context.Background(), a, "no-such-id"); kindOf(t, err) != KindNotFound {
		t.Fatal("expected not found for unknown id")
	}
	if _, err := e.Claim(context.Background(), a, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(context.Background(), b, d.ID); kindOf(t, err) != KindConflict {
		t.Fatal("expected conflict for already-claimed delivery")
	}
}

func TestDriverHoldsOneActiveDelivery(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rest := seedRestaurant(t, store)
	first := createDelivery(t, e, rest)
	second := createDelivery(t, e, rest)
	drv := seedDriver(t, store, "drv-a")

	if _, err := e.Claim(context.Background(), drv, first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(context.Background(), drv, second.ID); kindOf(t, err) != KindConflict {
		t.Fatal("expected conflict while first delivery is active")
	}

	// walk the first delivery to a terminal state, then the second claim works
	if _, err := e.UpdateStatus(context.Background(), drv, first.ID, models.StatusPickedUp); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateStatus(context.Background(), drv, first.ID, models.StatusDelivered); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Claim(context.Background(), drv, second.ID); err != nil {
		t.Fatalf("expected claim to succeed after delivery, got %v", err)
	}
}

func TestUpdateStatusRejectsIllegalTransitions(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rest := seedRestaurant(t, store)
	d := createDelivery(t, e, rest)
	drv := seedDriver(t, store, "drv-a")

	// searching -> delivered is never legal, even for the eventual assignee
	if _, err := e.Claim(context.Background(), drv, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateStatus(context.Background(), drv, d.ID, models.StatusDelivered); kindOf(t, err) != KindConflict {
		t.Fatal("expected conflict for accepted -> delivered")
	}
	if _, err := e.UpdateStatus(context.Background(), drv, d.ID, models.StatusAccepted); kindOf(t, err) != KindValidation {
		t.Fatal("expected validation error for requesting accepted")
	}

	stranger := seedDriver(t, store, "drv-b")
	if _, err := e.UpdateStatus(context.Background(), stranger, d.ID, models.StatusPickedUp); kindOf(t, err) != KindAuthorization {
		t.Fatal("expected authorization error for non-assignee")
	}
}

func TestPickedUpMayGoStraightToDelivered(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rest := seedRestaurant(t, store)
	d := createDelivery(t, e, rest)
	drv := seedDriver(t, store, "drv-a")

	if _, err := e.Claim(context.Background(), drv, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateStatus(context.Background(), drv, d.ID, models.StatusPickedUp); err != nil {
		t.Fatal(err)
	}
	updated, err := e.UpdateStatus(context.Background(), drv, d.ID, models.StatusDelivered)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.StatusDelivered || updated.DeliveredAt == nil {
		t.Fatalf("expected delivered with timestamp, got %+v", updated)
	}
}

func TestDeliveredCreditsDriverExactlyOnce(t *testing.T) {
	e, store, notifier := newTestEngine(t)
	rest := seedRestaurant(t, store)
	d := createDelivery(t, e, rest)
	drv := seedDriver(t, store, "drv-a")

	ctx := context.Background()
	if _, err := e.Claim(ctx, drv, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateStatus(ctx, drv, d.ID, models.StatusPickedUp); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateStatus(ctx, drv, d.ID, models.StatusInTransit); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateStatus(ctx, drv, d.ID, models.StatusDelivered); err != nil {
		t.Fatal(err)
	}

	after, err := store.GetParty(ctx, drv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Balance != d.Price.DriverEarnings {
		t.Fatalf("expected balance %s, got %s", d.Price.DriverEarnings, after.Balance)
	}
	if after.Completed != 1 {
		t.Fatalf("expected 1 completed delivery, got %d", after.Completed)
	}
	entries := store.EntriesFor(drv.ID)
	if len(entries) != 1 || entries[0].Kind != models.EntryDeliveryEarning {
		t.Fatalf("expected exactly one earning entry, got %+v", entries)
	}
	if entries[0].Status != models.EntryCompleted || entries[0].Amount != d.Price.DriverEarnings {
		t.Fatalf("bad earning entry: %+v", entries[0])
	}

	// replaying the transition is rejected and does not double-credit
	if _, err := e.UpdateStatus(ctx, drv, d.ID, models.StatusDelivered); kindOf(t, err) != KindConflict {
		t.Fatal("expected conflict replaying delivered")
	}
	again, _ := store.GetParty(ctx, drv.ID)
	if again.Balance != d.Price.DriverEarnings || len(store.EntriesFor(drv.ID)) != 1 {
		t.Fatal("replay mutated balance or ledger")
	}

	updates := notifier.byEvent(EventJobUpdated)
	if len(updates) != 3 {
		t.Fatalf("expected 3 job_updated events, got %d", len(updates))
	}
	for _, ev := range updates {
		if ev.channel != RestaurantChannel(rest.ID) {
			t.Fatalf("job_updated leaked to channel %q", ev.channel)
		}
	}
}

func TestCancelRules(t *testing.T) {
	e, store, notifier := newTestEngine(t)
	rest := seedRestaurant(t, store)
	drv := seedDriver(t, store, "drv-a")
	ctx := context.Background()

	// searching: cancellable, default reason applied
	d1 := createDelivery(t, e, rest)
	got, err := e.Cancel(ctx, rest, d1.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCancelled || got.CancelReason == "" || got.CancelledAt == nil {
		t.Fatalf("bad cancelled row: %+v", got)
	}

	// accepted: cancellable, assignee is notified with the reason
	d2 := createDelivery(t, e, rest)
	if _, err := e.Claim(ctx, drv, d2.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Cancel(ctx, rest, d2.ID, "kitchen closed"); err != nil {
		t.Fatal(err)
	}
	evs := notifier.byEvent(EventJobCancelled)
	if len(evs) != 1 || evs[0].channel != DriverChannel(drv.ID) {
		t.Fatalf("expected job_cancelled to driver room, got %+v", evs)
	}

	// picked up: no longer cancellable
	d3 := createDelivery(t, e, rest)
	if _, err := e.Claim(ctx, drv, d3.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateStatus(ctx, drv, d3.ID, models.StatusPickedUp); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Cancel(ctx, rest, d3.ID, ""); kindOf(t, err) != KindConflict {
		t.Fatal("expected conflict cancelling picked-up delivery")
	}

	// someone else's delivery
	other := &models.Party{ID: "rest-2", Email: "o@example.com", Role: models.RoleRestaurant, Name: "Other", Active: true}
	if err := store.CreateParty(ctx, other); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Cancel(ctx, other, d3.ID, ""); kindOf(t, err) != KindAuthorization {
		t.Fatal("expected authorization error for other restaurant")
	}
}

func TestRateOncePerSide(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rest := seedRestaurant(t, store)
	drv := seedDriver(t, store, "drv-a")
	ctx := context.Background()
	d := createDelivery(t, e, rest)

	if _, err := e.Rate(ctx, rest, d.ID, 5); kindOf(t, err) != KindConflict {
		t.Fatal("expected conflict rating a non-delivered job")
	}

	if _, err := e.Claim(ctx, drv, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateStatus(ctx, drv, d.ID, models.StatusPickedUp); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateStatus(ctx, drv, d.ID, models.StatusDelivered); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Rate(ctx, rest, d.ID, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Rate(ctx, rest, d.ID, 4); kindOf(t, err) != KindConflict {
		t.Fatal("expected conflict on second restaurant rating")
	}
	updated, err := e.Rate(ctx, drv, d.ID, 4)
	if err != nil {
		t.Fatal(err)
	}
	if updated.DriverRating != 5 || updated.RestaurantRating != 4 {
		t.Fatalf("unexpected ratings: %+v", updated)
	}
}

func TestListAvailableSortsByPickupDistance(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	near := &models.Party{ID: "rest-near", Email: "n@example.com", Role: models.RoleRestaurant,
		Name: "Near", Address: "a", AddressLoc: &models.Coord{Lat: 0.01, Lng: 0}, Active: true}
	far := &models.Party{ID: "rest-far", Email: "f@example.com", Role: models.RoleRestaurant,
		Name: "Far", Address: "b", AddressLoc: &models.Coord{Lat: 0.5, Lng: 0}, Active: true}
	unlocated := &models.Party{ID: "rest-nowhere", Email: "u@example.com", Role: models.RoleRestaurant,
		Name: "Nowhere", Address: "c", Active: true}
	for _, p := range []*models.Party{near, far, unlocated} {
		if err := store.CreateParty(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	// created farthest-first so FIFO order differs from distance order
	createDelivery(t, e, far)
	createDelivery(t, e, unlocated)
	createDelivery(t, e, near)

	drv := seedDriver(t, store, "drv-a")
	drv.CurrentLoc = &models.Coord{Lat: 0, Lng: 0}

	out, err := e.ListAvailable(ctx, drv)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(out))
	}
	if out[0].RestaurantName != "Near" || out[1].RestaurantName != "Far" {
		t.Fatalf("bad distance order: %s, %s", out[0].RestaurantName, out[1].RestaurantName)
	}
	// the unlocated pickup sorts last, not first
	if out[2].RestaurantName != "Nowhere" || out[2].DistanceToPickupKm != nil {
		t.Fatalf("expected unlocated last with nil distance, got %+v", out[2])
	}
}

func TestListAvailableFIFOWithoutDriverLocation(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rest := seedRestaurant(t, store)
	first := createDelivery(t, e, rest)
	second := createDelivery(t, e, rest)
	drv := seedDriver(t, store, "drv-a") // no location anywhere

	out, err := e.ListAvailable(context.Background(), drv)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].ID != first.ID || out[1].ID != second.ID {
		t.Fatalf("expected FIFO order %s,%s got %+v", first.ID, second.ID, out)
	}
}

func TestConfiguredPageLimitsApply(t *testing.T) {
	e, store, _ := newTestEngine(t)
	e.SetPageLimits(1, 1)
	rest := seedRestaurant(t, store)
	first := createDelivery(t, e, rest)
	createDelivery(t, e, rest)
	drv := seedDriver(t, store, "drv-a")

	out, err := e.ListAvailable(context.Background(), drv)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != first.ID {
		t.Fatalf("expected only the oldest delivery under cap 1, got %+v", out)
	}

	mine, err := e.ListMine(context.Background(), rest, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 {
		t.Fatalf("expected 1 row under cap 1, got %d", len(mine))
	}

	// non-positive overrides are ignored, not applied
	e.SetPageLimits(0, -1)
	out, err = e.ListAvailable(context.Background(), drv)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected cap to survive a zero override, got %d rows", len(out))
	}
}

func TestDriverCannotWinTwoConcurrentClaims(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rest := seedRestaurant(t, store)
	first := createDelivery(t, e, rest)
	second := createDelivery(t, e, rest)
	drv := seedDriver(t, store, "drv-a")

	// both claims pass the active-job pre-check before either write lands;
	// the store's own guard has to reject the second assignment
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = e.Claim(context.Background(), drv, id)
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if kindOf(t, err) != KindConflict {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected the driver to win exactly one claim, got %d", wins)
	}
}

func TestListMineFiltersAndOwnership(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rest := seedRestaurant(t, store)
	drv := seedDriver(t, store, "drv-a")
	ctx := context.Background()

	d1 := createDelivery(t, e, rest)
	createDelivery(t, e, rest)
	if _, err := e.Claim(ctx, drv, d1.ID); err != nil {
		t.Fatal(err)
	}

	mine, err := e.ListMine(ctx, rest, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 restaurant deliveries, got %d", len(mine))
	}

	accepted, err := e.ListMine(ctx, drv, models.StatusAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if len(accepted) != 1 || accepted[0].ID != d1.ID {
		t.Fatalf("expected only the claimed delivery, got %+v", accepted)
	}

	if _, err := e.ListMine(ctx, rest, models.Status("bogus")); kindOf(t, err) != KindValidation {
		t.Fatal("expected validation error for bogus status filter")
	}
}
