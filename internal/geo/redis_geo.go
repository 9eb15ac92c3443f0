package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-dispatch/internal/models"
)

// RedisGeo implements Locator on Redis GEO commands so the API and the
// location consumer share one live index.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Loc.Lng,
		Latitude:  loc.Loc.Lat,
		Name:      loc.DriverID,
	}).Err(); err != nil {
		return err
	}
	at := loc.Reported
	if at.IsZero() {
		at = time.Now()
	}
	return r.client.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{
		"online":   strconv.FormatBool(loc.Online),
		"reported": at.Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Lookup(ctx context.Context, driverID string) (models.Coord, bool) {
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, false
	}
	if m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result(); err == nil {
		if v, ok := m["reported"]; ok {
			if at, err := time.Parse(time.RFC3339, v); err == nil && time.Since(at) > staleAfter {
				return models.Coord{}, false
			}
		}
	}
	return models.Coord{Lat: pos[0].Latitude, Lng: pos[0].Longitude}, true
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
