package dispatch

import "github.com/example/delivery-dispatch/internal/models"

// transitions is the exhaustive successor table for the delivery lifecycle.
// Every status has an entry; terminal states map to an empty set. picked_up
// may jump straight to delivered (hand-off at the door without a transit
// report in between).
var transitions = map[models.Status][]models.Status{
	models.StatusSearching: {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:  {models.StatusPickedUp, models.StatusCancelled},
	models.StatusPickedUp:  {models.StatusInTransit, models.StatusDelivered},
	models.StatusInTransit: {models.StatusDelivered},
	models.StatusDelivered: {},
	models.StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// driverStatuses are the targets a driver may request through UpdateStatus.
// Claiming and cancelling have their own operations.
var driverStatuses = map[models.Status]bool{
	models.StatusPickedUp:  true,
	models.StatusInTransit: true,
	models.StatusDelivered: true,
}
