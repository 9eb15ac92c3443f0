package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/delivery-dispatch/internal/models"
)

// PostgresStore implements Store on database/sql + lib/pq. Claim and
// transition preconditions live in the UPDATE's WHERE clause; RowsAffected
// decides the winner under concurrency.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateParty(ctx context.Context, pt *models.Party) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO parties(id, email, password_hash, role, name, phone, document, address,
			address_lat, address_lng, vehicle_type, vehicle_plate, payout_key,
			online, active, rating, total_deliveries, balance_cents, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		pt.ID, pt.Email, pt.PasswordHash, pt.Role, pt.Name, pt.Phone, pt.Document, pt.Address,
		nullCoord(pt.AddressLoc, true), nullCoord(pt.AddressLoc, false),
		pt.VehicleType, pt.VehiclePlate, pt.PayoutKey,
		pt.Online, pt.Active, pt.Rating, pt.Completed, int64(pt.Balance), pt.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

const partyColumns = `id, email, password_hash, role, name, phone, document, address,
	address_lat, address_lng, vehicle_type, vehicle_plate, payout_key,
	current_lat, current_lng, located_at, online, active, rating,
	total_deliveries, balance_cents, last_login, created_at`

func (p *PostgresStore) GetParty(ctx context.Context, id string) (*models.Party, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1`, id)
	return scanParty(row)
}

func (p *PostgresStore) GetPartyByEmail(ctx context.Context, email string) (*models.Party, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE lower(email) = lower($1)`, email)
	return scanParty(row)
}

func (p *PostgresStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE parties SET last_login = $1 WHERE id = $2`, at, id)
	return err
}

func (p *PostgresStore) UpdateDriverLocation(ctx context.Context, id string, loc models.Coord, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE parties SET current_lat = $1, current_lng = $2, located_at = $3, online = TRUE
		WHERE id = $4`, loc.Lat, loc.Lng, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const deliveryColumns = `id, code, restaurant_id, restaurant_name, restaurant_phone, restaurant_address,
	restaurant_lat, restaurant_lng, driver_id, driver_name, driver_phone,
	pickup_address, pickup_detail, delivery_address, delivery_detail,
	delivery_lat, delivery_lng, customer_name, customer_phone, description,
	distance_km, base_cents, distance_cents, total_cents, earnings_cents, fee_cents,
	status, requested_at, accepted_at, picked_up_at, delivered_at, cancelled_at,
	cancel_reason, restaurant_rating, driver_rating`

func (p *PostgresStore) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO deliveries(`+deliveryColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35)`,
		d.ID, d.Code, d.RestaurantID, d.RestaurantName, d.RestaurantPhone, d.RestaurantAddress,
		nullCoord(d.RestaurantLoc, true), nullCoord(d.RestaurantLoc, false),
		d.DriverID, d.DriverName, d.DriverPhone,
		d.PickupAddress, d.PickupDetail, d.DeliveryAddress, d.DeliveryDetail,
		nullCoord(d.DeliveryLoc, true), nullCoord(d.DeliveryLoc, false),
		d.CustomerName, d.CustomerPhone, d.Description,
		d.DistanceKm, int64(d.Price.Base), int64(d.Price.Distance), int64(d.Price.Total),
		int64(d.Price.DriverEarnings), int64(d.Price.PlatformFee),
		d.Status, d.RequestedAt, d.AcceptedAt, d.PickedUpAt, d.DeliveredAt, d.CancelledAt,
		d.CancelReason, zeroNull(d.RestaurantRating), zeroNull(d.DriverRating))
	return err
}

func (p *PostgresStore) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

func (p *PostgresStore) ListSearching(ctx context.Context, limit int) ([]*models.Delivery, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE status = 'searching'
		ORDER BY requested_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (p *PostgresStore) ListByParty(ctx context.Context, partyID string, role models.Role, status models.Status, limit int) ([]*models.Delivery, error) {
	owner := "restaurant_id"
	if role == models.RoleDriver {
		owner = "driver_id"
	}
	q := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE ` + owner + ` = $1`
	args := []any{partyID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY requested_at DESC LIMIT %d`, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (p *PostgresStore) HasActiveDelivery(ctx context.Context, driverID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `
		SELECT 1 FROM deliveries
		WHERE driver_id = $1 AND status IN ('accepted','picked_up','in_transit')
		LIMIT 1`, driverID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Claim is the arbitration point: the WHERE clause re-checks status and the
// null assignee inside the UPDATE itself, so of N concurrent claimers exactly
// one sees RowsAffected == 1.
func (p *PostgresStore) Claim(ctx context.Context, id string, driver *models.Party, at time.Time) (*models.Delivery, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE deliveries
		SET driver_id = $1, driver_name = $2, driver_phone = $3,
		    status = 'accepted', accepted_at = $4
		WHERE id = $5 AND status = 'searching' AND driver_id IS NULL`,
		driver.ID, driver.Name, driver.Phone, at, id)
	if err != nil {
		// the one-active-per-driver index rejects a second live job
		if isUniqueViolation(err) {
			return nil, ErrNotAvailable
		}
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := p.GetDelivery(ctx, id); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrNotAvailable
	}
	return p.GetDelivery(ctx, id)
}

func (p *PostgresStore) Transition(ctx context.Context, id, driverID string, from, to models.Status, at time.Time) (*models.Delivery, error) {
	stamp := ""
	switch to {
	case models.StatusPickedUp:
		stamp = ", picked_up_at = $4"
	}
	args := []any{to, id, driverID, at, from}
	q := `UPDATE deliveries SET status = $1` + stamp + `
		WHERE id = $2 AND driver_id = $3 AND status = $5`
	if stamp == "" {
		// keep placeholders dense when no milestone column is stamped
		q = `UPDATE deliveries SET status = $1
			WHERE id = $2 AND driver_id = $3 AND status = $4`
		args = []any{to, id, driverID, from}
	}
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrPrecondition
	}
	return p.GetDelivery(ctx, id)
}

func (p *PostgresStore) CompleteDelivery(ctx context.Context, id, driverID string, from models.Status, at time.Time) (*models.Delivery, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var code string
	var earnings int64
	err = tx.QueryRowContext(ctx, `
		UPDATE deliveries SET status = 'delivered', delivered_at = $1
		WHERE id = $2 AND driver_id = $3 AND status = $4
		RETURNING code, earnings_cents`, at, id, driverID, from).Scan(&code, &earnings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPrecondition
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE parties SET total_deliveries = total_deliveries + 1,
		    balance_cents = balance_cents + $1
		WHERE id = $2`, earnings, driverID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(id, party_id, delivery_id, type, amount_cents, description, status, processed_at, created_at)
		VALUES($1,$2,$3,'delivery_earning',$4,$5,'completed',$6,$6)`,
		id+":earning", driverID, id, earnings, "Delivery #"+code, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p.GetDelivery(ctx, id)
}

func (p *PostgresStore) Cancel(ctx context.Context, id, restaurantID, reason string, at time.Time) (*models.Delivery, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE deliveries SET status = 'cancelled', cancelled_at = $1, cancel_reason = $2
		WHERE id = $3 AND restaurant_id = $4 AND status IN ('searching','accepted')`,
		at, reason, id, restaurantID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrPrecondition
	}
	return p.GetDelivery(ctx, id)
}

func (p *PostgresStore) SetRating(ctx context.Context, id string, rater models.Role, stars int) (*models.Delivery, error) {
	col := "driver_rating"
	if rater == models.RoleDriver {
		col = "restaurant_rating"
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE deliveries SET `+col+` = $1
		WHERE id = $2 AND status = 'delivered' AND `+col+` IS NULL`, stars, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		d, err := p.GetDelivery(ctx, id)
		if err != nil {
			return nil, err
		}
		if d.Status != models.StatusDelivered {
			return nil, ErrPrecondition
		}
		return nil, ErrAlreadyRated
	}
	return p.GetDelivery(ctx, id)
}

func (p *PostgresStore) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ledger_entries(id, party_id, delivery_id, type, amount_cents, description, status, processed_at, created_at)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9)`,
		e.ID, e.PartyID, e.DeliveryID, e.Kind, int64(e.Amount), e.Description, e.Status, e.ProcessedAt, e.CreatedAt)
	return err
}

func (p *PostgresStore) ListEntries(ctx context.Context, partyID string, limit int) ([]*models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, party_id, COALESCE(delivery_id,''), type, amount_cents, description, status, processed_at, created_at
		FROM ledger_entries WHERE party_id = $1
		ORDER BY created_at DESC LIMIT $2`, partyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var amount int64
		if err := rows.Scan(&e.ID, &e.PartyID, &e.DeliveryID, &e.Kind, &amount,
			&e.Description, &e.Status, &e.ProcessedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount = models.Money(amount)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParty(row rowScanner) (*models.Party, error) {
	var pt models.Party
	var addrLat, addrLng, curLat, curLng sql.NullFloat64
	var locatedAt, lastLogin sql.NullTime
	var balance int64
	err := row.Scan(&pt.ID, &pt.Email, &pt.PasswordHash, &pt.Role, &pt.Name, &pt.Phone,
		&pt.Document, &pt.Address, &addrLat, &addrLng, &pt.VehicleType, &pt.VehiclePlate,
		&pt.PayoutKey, &curLat, &curLng, &locatedAt, &pt.Online, &pt.Active, &pt.Rating,
		&pt.Completed, &balance, &lastLogin, &pt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pt.Balance = models.Money(balance)
	pt.AddressLoc = coordFromNull(addrLat, addrLng)
	pt.CurrentLoc = coordFromNull(curLat, curLng)
	if locatedAt.Valid {
		t := locatedAt.Time
		pt.LocatedAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		pt.LastLogin = &t
	}
	return &pt, nil
}

func scanDelivery(row rowScanner) (*models.Delivery, error) {
	var d models.Delivery
	var restLat, restLng, delLat, delLng sql.NullFloat64
	var driverID, driverName, driverPhone, cancelReason sql.NullString
	var acceptedAt, pickedUpAt, deliveredAt, cancelledAt sql.NullTime
	var base, dist, total, earnings, fee int64
	var restRating, drvRating sql.NullInt64
	err := row.Scan(&d.ID, &d.Code, &d.RestaurantID, &d.RestaurantName, &d.RestaurantPhone,
		&d.RestaurantAddress, &restLat, &restLng, &driverID, &driverName, &driverPhone,
		&d.PickupAddress, &d.PickupDetail, &d.DeliveryAddress, &d.DeliveryDetail,
		&delLat, &delLng, &d.CustomerName, &d.CustomerPhone, &d.Description,
		&d.DistanceKm, &base, &dist, &total, &earnings, &fee,
		&d.Status, &d.RequestedAt, &acceptedAt, &pickedUpAt, &deliveredAt, &cancelledAt,
		&cancelReason, &restRating, &drvRating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.RestaurantLoc = coordFromNull(restLat, restLng)
	d.DeliveryLoc = coordFromNull(delLat, delLng)
	d.DriverID = driverID.String
	d.DriverName = driverName.String
	d.DriverPhone = driverPhone.String
	d.CancelReason = cancelReason.String
	d.Price = models.Price{
		Base:           models.Money(base),
		Distance:       models.Money(dist),
		Total:          models.Money(total),
		DriverEarnings: models.Money(earnings),
		PlatformFee:    models.Money(fee),
	}
	d.AcceptedAt = timePtr(acceptedAt)
	d.PickedUpAt = timePtr(pickedUpAt)
	d.DeliveredAt = timePtr(deliveredAt)
	d.CancelledAt = timePtr(cancelledAt)
	d.RestaurantRating = int(restRating.Int64)
	d.DriverRating = int(drvRating.Int64)
	return &d, nil
}

func collectDeliveries(rows *sql.Rows) ([]*models.Delivery, error) {
	defer rows.Close()
	var out []*models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullCoord(c *models.Coord, lat bool) any {
	if c == nil {
		return nil
	}
	if lat {
		return c.Lat
	}
	return c.Lng
}

func coordFromNull(lat, lng sql.NullFloat64) *models.Coord {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.Coord{Lat: lat.Float64, Lng: lng.Float64}
}

func zeroNull(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isUniqueViolation(err error) bool {
	var pqe *pq.Error
	return errors.As(err, &pqe) && pqe.Code == "23505"
}
