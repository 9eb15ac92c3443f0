// Package pricing computes straight-line delivery distance and the fare
// breakdown. It is pure: no I/O, no clocks.
package pricing

import (
	"math"

	"github.com/example/delivery-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// Default fare parameters; overridable per Calculator for config wiring.
const (
	DefaultBaseFee models.Money = 800 // 8.00
	DefaultPerKm   models.Money = 150 // 1.50 per km
)

// driverSharePct of the total goes to the driver; the remainder is the
// platform fee, so the two always sum back to the total.
const driverSharePct = 85

type Calculator struct {
	BaseFee models.Money
	PerKm   models.Money
}

func NewCalculator(baseFee, perKm models.Money) *Calculator {
	return &Calculator{BaseFee: baseFee, PerKm: perKm}
}

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// Distance returns the distance between two optional coordinates. If either
// is missing the distance is zero (the fare degrades to the base fee).
func Distance(from, to *models.Coord) float64 {
	if from == nil || to == nil {
		return 0
	}
	return HaversineKm(*from, *to)
}

// Quote prices a delivery over the given distance. The distance fee is
// rounded to whole cents once; the driver share is rounded half-up and the
// platform fee takes the remainder, so earnings + fee == total exactly.
func (c *Calculator) Quote(distanceKm float64) models.Price {
	distanceFee := models.Money(math.Round(distanceKm * float64(c.PerKm)))
	total := c.BaseFee + distanceFee
	earnings := models.Money((int64(total)*driverSharePct + 50) / 100)
	return models.Price{
		Base:           c.BaseFee,
		Distance:       distanceFee,
		Total:          total,
		DriverEarnings: earnings,
		PlatformFee:    total - earnings,
	}
}

// RoundKm quantizes a distance for persistence and display.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}
