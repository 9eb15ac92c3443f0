package models

import "time"

type Role string

const (
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "driver"
)

// Status is the delivery lifecycle state. Transitions are owned by the
// dispatch engine; nothing else writes this field.
type Status string

const (
	StatusSearching Status = "searching"
	StatusAccepted  Status = "accepted"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSearching, StatusAccepted, StatusPickedUp, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Party is a platform account: either a restaurant that requests deliveries
// or a driver that fulfills them. The role is fixed at registration.
type Party struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	Document     string     `json:"document,omitempty"`
	Address      string     `json:"address,omitempty"`
	AddressLoc   *Coord     `json:"address_loc,omitempty"`
	VehicleType  string     `json:"vehicle_type,omitempty"`
	VehiclePlate string     `json:"vehicle_plate,omitempty"`
	PayoutKey    string     `json:"-"`
	CurrentLoc   *Coord     `json:"current_loc,omitempty"`
	LocatedAt    *time.Time `json:"located_at,omitempty"`
	Online       bool       `json:"online"`
	Active       bool       `json:"active"`
	Rating       float64    `json:"rating"`
	Completed    int        `json:"total_deliveries"`
	Balance      Money      `json:"balance"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Price is the fare breakdown for a delivery. DriverEarnings and PlatformFee
// always sum to Total exactly.
type Price struct {
	Base           Money `json:"base_price"`
	Distance       Money `json:"distance_price"`
	Total          Money `json:"total_price"`
	DriverEarnings Money `json:"driver_earnings"`
	PlatformFee    Money `json:"platform_fee"`
}

// Delivery is one dispatch job. Restaurant and driver contact fields are
// snapshots frozen at creation / claim time; later party edits do not touch
// historical rows. Milestone timestamps are set once and never cleared.
type Delivery struct {
	ID                string     `json:"id"`
	Code              string     `json:"code"`
	RestaurantID      string     `json:"restaurant_id"`
	RestaurantName    string     `json:"restaurant_name"`
	RestaurantPhone   string     `json:"restaurant_phone"`
	RestaurantAddress string     `json:"restaurant_address"`
	RestaurantLoc     *Coord     `json:"restaurant_loc,omitempty"`
	DriverID          string     `json:"driver_id,omitempty"`
	DriverName        string     `json:"driver_name,omitempty"`
	DriverPhone       string     `json:"driver_phone,omitempty"`
	PickupAddress     string     `json:"pickup_address"`
	PickupDetail      string     `json:"pickup_detail,omitempty"`
	DeliveryAddress   string     `json:"delivery_address"`
	DeliveryDetail    string     `json:"delivery_detail,omitempty"`
	DeliveryLoc       *Coord     `json:"delivery_loc,omitempty"`
	CustomerName      string     `json:"customer_name"`
	CustomerPhone     string     `json:"customer_phone"`
	Description       string     `json:"description,omitempty"`
	DistanceKm        float64    `json:"distance_km"`
	Price             Price      `json:"price"`
	Status            Status     `json:"status"`
	RequestedAt       time.Time  `json:"requested_at"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	PickedUpAt        *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
	RestaurantRating  int        `json:"restaurant_rating,omitempty"`
	DriverRating      int        `json:"driver_rating,omitempty"`
}

type EntryKind string

const (
	EntryDeliveryEarning EntryKind = "delivery_earning"
	EntryWithdrawal      EntryKind = "withdrawal"
	EntryBonus           EntryKind = "bonus"
	EntryPenalty         EntryKind = "penalty"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// LedgerEntry is an immutable monetary record tied to a party and,
// optionally, to one delivery.
type LedgerEntry struct {
	ID          string      `json:"id"`
	PartyID     string      `json:"party_id"`
	DeliveryID  string      `json:"delivery_id,omitempty"`
	Kind        EntryKind   `json:"type"`
	Amount      Money       `json:"amount"`
	Description string      `json:"description,omitempty"`
	Status      EntryStatus `json:"status"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AvailableDelivery is the driver-facing projection of a searching delivery.
// DistanceToPickupKm is nil when either side has no known location.
type AvailableDelivery struct {
	ID                 string    `json:"id"`
	Code               string    `json:"code"`
	RestaurantName     string    `json:"restaurant_name"`
	RestaurantAddress  string    `json:"restaurant_address"`
	PickupAddress      string    `json:"pickup_address"`
	DeliveryAddress    string    `json:"delivery_address"`
	DistanceKm         float64   `json:"distance_km"`
	DistanceToPickupKm *float64  `json:"distance_to_pickup,omitempty"`
	DriverEarnings     Money     `json:"driver_earnings"`
	Description        string    `json:"description,omitempty"`
	RequestedAt        time.Time `json:"requested_at"`
}

// DriverLocation is the wire shape for driver position reports, both on the
// HTTP ingest path and on the Kafka topic.
type DriverLocation struct {
	DriverID string    `json:"driver_id"`
	Loc      Coord     `json:"loc"`
	Online   bool      `json:"online"`
	Reported time.Time `json:"reported"`
}
