package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jurijkreutz/determined/backend/catalog"
	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/engine"
	"github.com/jurijkreutz/determined/backend/queue"
	storage "github.com/jurijkreutz/determined/backend/storage/persistent"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// The jobs run against the same globals the other backend services use.
var (
	store         storage.StorageInterface
	notifQueue    *queue.Queue
	penaltyPoints int
	scheduler     *cron.Cron
)

const (
	// Marker keys in the user state map, holding the last date each job
	// finished. The next run continues after its marker, so days missed
	// while the backend was down are caught up.
	rolloverMarkerKey = "rollover_last"
	penaltyMarkerKey  = "penalty_last"

	// bonusActivityName is the custom activity the rollover logs for a
	// bonus earned the day before.
	bonusActivityName = "Recovery bonus"

	// catchUpLimitDays bounds how far back a catch-up walks.
	catchUpLimitDays = 30
)

// InitJobs wires the nightly jobs to their collaborators.
// It accepts three arguments:
// - s: the persistent storage the jobs read and write through.
// - q: the queue penalty notifications are published to; nil disables them.
// - points: the penalty charged per missed todo.
func InitJobs(s storage.StorageInterface, q *queue.Queue, points int) {
	store = s
	notifQueue = q
	penaltyPoints = points
}

// Start schedules the rollover and penalty jobs and starts the scheduler.
// The cron specs run in the configured timezone, so "a few minutes past
// midnight" means the user's midnight.
func Start(rolloverSpec, penaltySpec string) error {
	scheduler = cron.New(cron.WithLocation(dates.Location()))

	if _, err := scheduler.AddFunc(rolloverSpec, func() { runJob("rollover", RunRollover) }); err != nil {
		return fmt.Errorf("invalid rollover schedule %q: %w", rolloverSpec, err)
	}
	if _, err := scheduler.AddFunc(penaltySpec, func() { runJob("penalty", RunPenalty) }); err != nil {
		return fmt.Errorf("invalid penalty schedule %q: %w", penaltySpec, err)
	}

	scheduler.Start()
	logrus.WithFields(logrus.Fields{
		"rollover": rolloverSpec,
		"penalty":  penaltySpec,
	}).Info("nightly jobs scheduled")
	return nil
}

// Stop halts the scheduler. Runs already in flight finish.
func Stop() {
	if scheduler != nil {
		scheduler.Stop()
	}
}

func runJob(name string, job func(context.Context) error) {
	if err := job(context.Background()); err != nil {
		logrus.WithError(err).WithField("job", name).Error("job run failed")
	}
}

// RunRollover finalizes every day after its marker up to and including
// yesterday: the day's record is re-derived one last time, and a day that
// earned the recovery bonus gets the flat bonus logged onto the following
// day as a custom activity. Finalizing a day nobody logged creates its
// zero-point record, which keeps the history unbroken for the streak
// rules.
func RunRollover(ctx context.Context) error {
	yesterday := dates.Yesterday()
	day, err := catchUpStart(ctx, rolloverMarkerKey, yesterday)
	if err != nil {
		return err
	}

	for day <= yesterday {
		record, err := engine.RecomputeDailyRecord(ctx, day)
		if err != nil {
			return fmt.Errorf("error finalizing %s: %w", day, err)
		}

		if record.HasBonus {
			if err := injectBonus(ctx, day); err != nil {
				return err
			}
		}

		if err := store.SetState(ctx, rolloverMarkerKey, day); err != nil {
			return fmt.Errorf("error storing rollover marker: %w", err)
		}

		logrus.WithFields(logrus.Fields{
			"date":   day,
			"points": record.TotalPoints,
			"streak": record.StreakStatus,
		}).Info("day finalized")

		if day, err = dates.AddDays(day, 1); err != nil {
			return err
		}
	}
	return nil
}

// injectBonus logs the flat recovery bonus onto the day after the one
// that earned it, unless an earlier run already did.
func injectBonus(ctx context.Context, earnedOn string) error {
	next, err := dates.AddDays(earnedOn, 1)
	if err != nil {
		return err
	}

	existing, err := store.GetLoggedActivities(ctx, next)
	if err != nil {
		return fmt.Errorf("error loading activities: %w", err)
	}
	for _, activity := range existing {
		if activity.CatalogID == catalog.CustomID && activity.Name == bonusActivityName {
			return nil
		}
	}

	if _, err := engine.RecordCustomActivity(ctx, next, bonusActivityName, engine.BonusPoints); err != nil {
		return fmt.Errorf("error logging recovery bonus: %w", err)
	}
	logrus.WithField("date", next).Info("recovery bonus granted")
	return nil
}

// RunPenalty charges every day after its marker up to and including
// yesterday for its missed todos: each open, unpenalized todo due that
// day subtracts the configured penalty from the day once, floored at
// zero by the engine. Charged todos are marked, so no run charges one
// twice.
func RunPenalty(ctx context.Context) error {
	yesterday := dates.Yesterday()
	day, err := catchUpStart(ctx, penaltyMarkerKey, yesterday)
	if err != nil {
		return err
	}

	for day <= yesterday {
		missed, err := store.GetMissedTodos(ctx, day)
		if err != nil {
			return fmt.Errorf("error loading missed todos: %w", err)
		}

		charged := 0
		for _, todo := range missed {
			if _, err := store.MarkTodoPenalized(ctx, todo.ID); err != nil {
				logrus.WithError(err).WithField("todo", todo.Title).Error("failed to mark todo penalized")
				continue
			}
			charged++
		}

		if charged > 0 {
			total := charged * penaltyPoints
			if _, err := engine.ApplyPenalty(ctx, day, total); err != nil {
				return fmt.Errorf("error charging %s: %w", day, err)
			}
			notifyPenalty(day, charged, total)
			logrus.WithFields(logrus.Fields{
				"date":    day,
				"missed":  charged,
				"penalty": total,
			}).Info("missed todos charged")
		}

		if err := store.SetState(ctx, penaltyMarkerKey, day); err != nil {
			return fmt.Errorf("error storing penalty marker: %w", err)
		}

		if day, err = dates.AddDays(day, 1); err != nil {
			return err
		}
	}
	return nil
}

// catchUpStart returns the first date a job run has to process: the day
// after its marker, clamped to the catch-up limit. Without a marker only
// yesterday is processed.
func catchUpStart(ctx context.Context, markerKey, yesterday string) (string, error) {
	marker, err := store.GetState(ctx, markerKey)
	if err != nil {
		return "", fmt.Errorf("error loading job marker: %w", err)
	}
	if marker == "" {
		return yesterday, nil
	}

	start, err := dates.AddDays(marker, 1)
	if err != nil {
		logrus.WithField("marker", marker).Warn("unreadable job marker, starting from yesterday")
		return yesterday, nil
	}

	earliest, err := dates.AddDays(yesterday, -(catchUpLimitDays - 1))
	if err != nil {
		return "", err
	}
	if start < earliest {
		start = earliest
	}
	return start, nil
}

func notifyPenalty(date string, missed, points int) {
	if notifQueue == nil {
		return
	}
	notification := &queue.Notification{
		Id:      uuid.NewString(),
		Event:   queue.EventPenaltyApplied,
		Date:    date,
		Message: fmt.Sprintf("%d missed to-do(s): -%d points.", missed, points),
	}
	if err := queue.ProcessNotification(notification, notifQueue); err != nil {
		logrus.WithError(err).Warn("failed to publish notification")
	}
}
