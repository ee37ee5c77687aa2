package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jurijkreutz/determined/backend/models"
	cache "github.com/jurijkreutz/determined/backend/storage/cache"
	"github.com/sirupsen/logrus"
)

// snapshotTTL bounds how long a cached day snapshot lives. Today's streak
// message depends on the time of day, so snapshots must expire quickly even
// when no mutation invalidates them.
const snapshotTTL = 30 * time.Second

// dayCache is the optional cache for day snapshots. When it is nil every
// GetDay reads storage directly.
var dayCache cache.CacheInterface

// daySnapshot is the cached GetDay result for one date.
type daySnapshot struct {
	Record     *models.DailyRecord     `json:"record"`
	Activities []models.LoggedActivity `json:"activities"`
}

// InitDayCache wires the day-snapshot cache.
// It accepts one argument:
// - c: the cache day snapshots are kept in; nil disables snapshot caching.
func InitDayCache(c cache.CacheInterface) {
	dayCache = c
}

func snapshotKey(date string) string {
	return "day_" + date
}

// cachedDay returns the snapshot of a date, or nil on a miss or any cache
// trouble.
func cachedDay(ctx context.Context, date string) *daySnapshot {
	if dayCache == nil {
		return nil
	}

	value, err := dayCache.Get(ctx, snapshotKey(date))
	if err != nil || value == nil {
		return nil
	}
	raw, ok := value.(string)
	if !ok {
		return nil
	}

	snapshot := &daySnapshot{}
	if err := json.Unmarshal([]byte(raw), snapshot); err != nil {
		return nil
	}
	return snapshot
}

// storeDaySnapshot caches a GetDay result. Errors are logged and otherwise
// ignored; a failed write only costs the next read its cache hit.
func storeDaySnapshot(ctx context.Context, date string, record *models.DailyRecord, activities []models.LoggedActivity) {
	if dayCache == nil {
		return
	}

	body, err := json.Marshal(&daySnapshot{Record: record, Activities: activities})
	if err != nil {
		return
	}
	if err := dayCache.SetWithTTL(ctx, snapshotKey(date), string(body), snapshotTTL); err != nil {
		logrus.WithError(err).Warn("failed to cache day snapshot")
	}
}

// dropDaySnapshot removes a date's snapshot after its record changed.
func dropDaySnapshot(ctx context.Context, date string) {
	if dayCache == nil {
		return
	}
	if err := dayCache.Delete(ctx, snapshotKey(date)); err != nil {
		logrus.WithError(err).Warn("failed to drop day snapshot")
	}
}
