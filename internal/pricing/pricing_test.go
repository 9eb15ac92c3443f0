package pricing

import (
	"math"
	"testing"

	"github.com/example/delivery-dispatch/internal/models"
)

func TestHaversineZeroForSamePoint(t *testing.T) {
	p := models.Coord{Lat: -23.55, Lng: -46.63}
	if d := HaversineKm(p, p); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := models.Coord{Lat: -23.55, Lng: -46.63}
	b := models.Coord{Lat: -23.60, Lng: -46.70}
	if d1, d2 := HaversineKm(a, b), HaversineKm(b, a); d1 != d2 {
		t.Fatalf("asymmetric: %f vs %f", d1, d2)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// ~3 km of latitude at the equator (1 deg lat ~ 111.19 km).
	a := models.Coord{Lat: 0, Lng: 0}
	b := models.Coord{Lat: 0.027, Lng: 0}
	d := HaversineKm(a, b)
	if math.Abs(d-3.0) > 0.05 {
		t.Fatalf("expected ~3 km, got %f", d)
	}
}

func TestDistanceMissingCoords(t *testing.T) {
	a := models.Coord{Lat: 1, Lng: 1}
	if d := Distance(nil, &a); d != 0 {
		t.Fatalf("expected 0 for missing origin, got %f", d)
	}
	if d := Distance(&a, nil); d != 0 {
		t.Fatalf("expected 0 for missing destination, got %f", d)
	}
}

func TestQuoteThreeKm(t *testing.T) {
	c := NewCalculator(DefaultBaseFee, DefaultPerKm)
	p := c.Quote(3.0)
	if p.Total != 1250 {
		t.Fatalf("expected total 12.50, got %s", p.Total)
	}
	if p.DriverEarnings != 1063 {
		t.Fatalf("expected earnings 10.63, got %s", p.DriverEarnings)
	}
	if p.PlatformFee != 187 {
		t.Fatalf("expected fee 1.87, got %s", p.PlatformFee)
	}
}

func TestQuoteZeroDistanceIsBaseFee(t *testing.T) {
	c := NewCalculator(DefaultBaseFee, DefaultPerKm)
	p := c.Quote(0)
	if p.Total != DefaultBaseFee || p.Distance != 0 {
		t.Fatalf("unexpected quote: %+v", p)
	}
	if p.DriverEarnings+p.PlatformFee != p.Total {
		t.Fatalf("split does not sum: %+v", p)
	}
}

func TestSplitIdentityHoldsForManyTotals(t *testing.T) {
	c := NewCalculator(DefaultBaseFee, DefaultPerKm)
	for km := 0.0; km < 50; km += 0.37 {
		p := c.Quote(km)
		if p.DriverEarnings+p.PlatformFee != p.Total {
			t.Fatalf("km=%f: earnings %s + fee %s != total %s", km, p.DriverEarnings, p.PlatformFee, p.Total)
		}
		if p.Base+p.Distance != p.Total {
			t.Fatalf("km=%f: base+distance != total", km)
		}
	}
}
