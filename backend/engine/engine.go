package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jurijkreutz/determined/backend/catalog"
	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/models"
	"github.com/jurijkreutz/determined/backend/queue"
	storage "github.com/jurijkreutz/determined/backend/storage/persistent"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The engine is wired once at startup and used through package functions,
// like the other backend services.
var (
	store             storage.StorageInterface
	notifQueue        *queue.Queue
	eveningCutoffHour = 19
)

// Per-date lock table. All recomputes of one date serialize on its mutex,
// so a daily record always equals the sum of the activities it was derived
// from. Different dates proceed independently.
var (
	dateLocksMu sync.Mutex
	dateLocks   = make(map[string]*sync.Mutex)
)

// InitEngine wires the engine to its collaborators.
// It accepts three arguments:
// - s: the persistent storage the engine reads and writes day state through.
// - q: the queue streak notifications are published to; nil disables publishing.
// - cutoffHour: the evening hour used by the time-of-day messaging rules.
func InitEngine(s storage.StorageInterface, q *queue.Queue, cutoffHour int) {
	store = s
	notifQueue = q
	if cutoffHour > 0 {
		eveningCutoffHour = cutoffHour
	}
}

// dateLock returns the mutex serializing all recomputes of one date.
func dateLock(date string) *sync.Mutex {
	dateLocksMu.Lock()
	defer dateLocksMu.Unlock()
	lock, ok := dateLocks[date]
	if !ok {
		lock = &sync.Mutex{}
		dateLocks[date] = lock
	}
	return lock
}

// RecordActivity logs one occurrence of a catalog activity on a date and
// recomputes the date's daily record.
// It accepts three arguments:
// - ctx: the context within which the operation runs.
// - date: the date key the activity belongs to.
// - catalogID: the id of the catalog entry being logged.
//
// The catalog entry's caps are checked first: a full daily or weekly cap
// rejects the request with ErrDailyCapReached or ErrWeeklyCapReached, both
// carrying a readable reason. An id the catalog does not know rejects with
// ErrUnknownActivity. The awarded points follow the diminishing sequence
// of the entry's prior occurrences on that date.
// Returns the stored activity, or the rejection error.
func RecordActivity(ctx context.Context, date, catalogID string) (*models.LoggedActivity, error) {
	if _, err := dates.Parse(date); err != nil {
		return nil, err
	}

	entry, ok := catalog.Lookup(catalogID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, catalogID)
	}

	lock := dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	occurrences, err := store.GetOccurrenceCount(ctx, catalogID, date)
	if err != nil {
		return nil, fmt.Errorf("error counting occurrences: %w", err)
	}

	if entry.DailyCap > 0 && occurrences >= int64(entry.DailyCap) {
		return nil, fmt.Errorf("%w: %s can only be logged %d time(s) per day", ErrDailyCapReached, entry.Name, entry.DailyCap)
	}

	if entry.WeeklyCap > 0 {
		weekStart, err := dates.WeekStart(date)
		if err != nil {
			return nil, err
		}
		weekly, err := store.GetWeeklyOccurrenceCount(ctx, catalogID, weekStart)
		if err != nil {
			return nil, fmt.Errorf("error counting weekly occurrences: %w", err)
		}
		if weekly >= int64(entry.WeeklyCap) {
			return nil, fmt.Errorf("%w: %s can only be logged %d time(s) per week", ErrWeeklyCapReached, entry.Name, entry.WeeklyCap)
		}
	}

	factor := 1.0
	if entry.IsDiminishing {
		factor = DiminishingFactor(int(occurrences))
	}

	activity := &models.LoggedActivity{
		Date:          date,
		CatalogID:     entry.ID,
		Name:          entry.Name,
		Category:      entry.Category,
		BasePoints:    entry.Points,
		AwardedPoints: AwardedPoints(entry.Points, factor),
		Factor:        factor,
		CreatedAt:     dates.Now(),
	}

	activity, err = store.AddLoggedActivity(ctx, activity)
	if err != nil {
		return nil, fmt.Errorf("error storing activity: %w", err)
	}

	if _, err := recomputeLocked(ctx, date, nil); err != nil {
		return nil, err
	}

	return activity, nil
}

// RecordCustomActivity logs a free-form activity with its own name and
// point value on a date and recomputes the date's daily record. Custom
// activities never diminish and no caps apply to them.
func RecordCustomActivity(ctx context.Context, date, name string, points int) (*models.LoggedActivity, error) {
	if _, err := dates.Parse(date); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("custom activity name cannot be empty")
	}
	if points <= 0 {
		return nil, errors.New("custom activity points must be positive")
	}

	lock := dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	activity := &models.LoggedActivity{
		Date:          date,
		CatalogID:     catalog.CustomID,
		Name:          name,
		Category:      "Custom",
		BasePoints:    points,
		AwardedPoints: points,
		Factor:        1.0,
		CreatedAt:     dates.Now(),
	}

	activity, err := store.AddLoggedActivity(ctx, activity)
	if err != nil {
		return nil, fmt.Errorf("error storing activity: %w", err)
	}

	if _, err := recomputeLocked(ctx, date, nil); err != nil {
		return nil, err
	}

	return activity, nil
}

// DeleteActivity removes a logged activity, re-derives the diminishing
// sequence of its remaining same-catalog siblings and recomputes the
// date's daily record. The factors of the siblings end up gapless, as if
// the deleted entry never existed.
// Returns ErrNotFound if no activity with the given id exists.
func DeleteActivity(ctx context.Context, id primitive.ObjectID) error {
	target, err := store.GetLoggedActivity(ctx, id)
	if err != nil {
		return fmt.Errorf("error loading activity: %w", err)
	}
	if target == nil {
		return fmt.Errorf("%w: activity %s", ErrNotFound, id.Hex())
	}

	lock := dateLock(target.Date)
	lock.Lock()
	defer lock.Unlock()

	result, err := store.DeleteLoggedActivity(ctx, id)
	if err != nil {
		return fmt.Errorf("error deleting activity: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: activity %s", ErrNotFound, id.Hex())
	}

	if target.CatalogID != catalog.CustomID {
		if err := rederiveSiblings(ctx, target.Date, target.CatalogID); err != nil {
			return err
		}
	}

	if _, err := recomputeLocked(ctx, target.Date, nil); err != nil {
		return err
	}

	return nil
}

// rederiveSiblings re-runs the factor assignment for every remaining
// activity of one catalog entry on one date, in creation order.
func rederiveSiblings(ctx context.Context, date, catalogID string) error {
	entry, ok := catalog.Lookup(catalogID)
	if !ok {
		return nil
	}

	activities, err := store.GetLoggedActivities(ctx, date)
	if err != nil {
		return fmt.Errorf("error loading activities: %w", err)
	}

	occurrence := 0
	for _, sibling := range activities {
		if sibling.CatalogID != catalogID {
			continue
		}
		factor := 1.0
		if entry.IsDiminishing {
			factor = DiminishingFactor(occurrence)
		}
		awarded := AwardedPoints(sibling.BasePoints, factor)
		if factor != sibling.Factor || awarded != sibling.AwardedPoints {
			if _, err := store.UpdateLoggedActivityPoints(ctx, sibling.ID, factor, awarded); err != nil {
				return fmt.Errorf("error updating activity points: %w", err)
			}
		}
		occurrence++
	}
	return nil
}

// RecomputeDailyRecord re-derives the daily record of a date from its
// current activities and the persisted history. It is the explicit entry
// point for callers that changed something outside the engine's own
// operations, and for the rollover job.
func RecomputeDailyRecord(ctx context.Context, date string) (*models.DailyRecord, error) {
	if _, err := dates.Parse(date); err != nil {
		return nil, err
	}

	lock := dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	return recomputeLocked(ctx, date, nil)
}

// ApplyPenalty subtracts penalty points from a day and re-derives its
// record. The penalty is remembered on the record, so later recomputes of
// the same day keep subtracting it. Only the missed-to-do job calls this.
func ApplyPenalty(ctx context.Context, date string, points int) (*models.DailyRecord, error) {
	if _, err := dates.Parse(date); err != nil {
		return nil, err
	}
	if points <= 0 {
		return nil, errors.New("penalty points must be positive")
	}

	lock := dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	penalty := points
	old, err := store.GetDailyRecord(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("error loading daily record: %w", err)
	}
	if old != nil {
		penalty += old.PenaltyPoints
	}

	return recomputeLocked(ctx, date, &penalty)
}

// GetDay returns the daily record of a date together with its activities.
// The record is nil when the date has never been recomputed. Results are
// served from the day-snapshot cache when one is wired; every recompute
// drops the date's snapshot.
func GetDay(ctx context.Context, date string) (*models.DailyRecord, []models.LoggedActivity, error) {
	if _, err := dates.Parse(date); err != nil {
		return nil, nil, err
	}

	lock := dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	if snapshot := cachedDay(ctx, date); snapshot != nil {
		return snapshot.Record, snapshot.Activities, nil
	}

	record, err := store.GetDailyRecord(ctx, date)
	if err != nil {
		return nil, nil, err
	}
	activities, err := store.GetLoggedActivities(ctx, date)
	if err != nil {
		return nil, nil, err
	}

	storeDaySnapshot(ctx, date, record, activities)
	return record, activities, nil
}

// recomputeLocked rebuilds the daily record of a date. The caller must
// hold the date's lock. A non-nil penaltyOverride replaces the carried
// penalty; only the penalty path passes one. On any failure the previously
// stored record stays untouched.
func recomputeLocked(ctx context.Context, date string, penaltyOverride *int) (*models.DailyRecord, error) {
	activities, err := store.GetLoggedActivities(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("error loading activities: %w", err)
	}

	total := 0
	recoveryCount := 0
	for _, activity := range activities {
		total += activity.AwardedPoints
		if catalog.IsRecovery(activity.CatalogID) {
			recoveryCount++
		}
	}

	old, err := store.GetDailyRecord(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("error loading daily record: %w", err)
	}

	penalty := 0
	if old != nil && old.HasPenalty {
		penalty = old.PenaltyPoints
	}
	if penaltyOverride != nil {
		penalty = *penaltyOverride
	}
	if penalty > 0 {
		total -= penalty
		if total < 0 {
			total = 0
		}
	}

	lookback, err := lookbackWindow(ctx, date)
	if err != nil {
		return nil, err
	}

	historyCount, err := store.CountDailyRecordsBefore(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("error counting history: %w", err)
	}

	protected := HasStreakProtection(total, recoveryCount)

	streak := ComputeStreakStatus(StreakInput{
		TotalPoints:       total,
		Protected:         protected,
		Lookback:          lookback,
		HistoryCount:      int(historyCount),
		Now:               dates.Now(),
		Historical:        date != dates.Today(),
		EveningCutoffHour: eveningCutoffHour,
	})

	record := &models.DailyRecord{
		Date:                date,
		TotalPoints:         total,
		Tier:                TierForPoints(total),
		RecoveryTaskCount:   recoveryCount,
		HasStreakProtection: protected,
		HasBonus:            HasBonus(total, recoveryCount),
		HasPenalty:          penalty > 0,
		PenaltyPoints:       penalty,
		StreakCount:         streak.StreakCount,
		StreakStatus:        streak.StreakStatus,
		LowPointDaysInARow:  streak.LowPointDaysInARow,
		StreakMessage:       streak.StreakMessage,
		UpdatedAt:           dates.Now(),
	}

	if err := store.UpsertDailyRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("error storing daily record: %w", err)
	}

	dropDaySnapshot(ctx, date)
	publishTransitions(old, record)

	return record, nil
}

// lookbackWindow fetches the previous seven days' records, newest first,
// with nil holes where no record exists.
func lookbackWindow(ctx context.Context, date string) ([]*models.DailyRecord, error) {
	from, err := dates.AddDays(date, -lookbackDays)
	if err != nil {
		return nil, err
	}
	to, err := dates.AddDays(date, -1)
	if err != nil {
		return nil, err
	}

	records, err := store.GetDailyRecordRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("error loading history: %w", err)
	}

	byDate := make(map[string]*models.DailyRecord, len(records))
	for i := range records {
		byDate[records[i].Date] = &records[i]
	}

	window := make([]*models.DailyRecord, lookbackDays)
	for i := 0; i < lookbackDays; i++ {
		day, err := dates.AddDays(date, -(i + 1))
		if err != nil {
			return nil, err
		}
		window[i] = byDate[day]
	}
	return window, nil
}

// publishTransitions emits queue notifications for boundary crossings.
// Publishing is best-effort: a recompute never fails because the queue did.
func publishTransitions(old, current *models.DailyRecord) {
	if notifQueue == nil {
		return
	}

	if old != nil && old.StreakStatus != current.StreakStatus {
		notify(statusEvent(current.StreakStatus), current.StreakMessage, current.Date)
	}
	if (old == nil || !old.HasBonus) && current.HasBonus {
		notify(queue.EventBonusEarned, fmt.Sprintf("Recovery bonus earned! +%d points tomorrow.", BonusPoints), current.Date)
	}
}

func statusEvent(status string) string {
	switch status {
	case StatusPaused:
		return queue.EventStreakPaused
	case StatusReset:
		return queue.EventStreakReset
	default:
		return queue.EventStreakActive
	}
}

func notify(event, message, date string) {
	notification := &queue.Notification{
		Id:      uuid.NewString(),
		Event:   event,
		Date:    date,
		Message: message,
	}
	if err := queue.ProcessNotification(notification, notifQueue); err != nil {
		logrus.WithError(err).WithField("event", event).Warn("failed to publish notification")
	}
}
