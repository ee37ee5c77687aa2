package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jurijkreutz/determined/backend/models"
	storage "github.com/jurijkreutz/determined/backend/storage/persistent"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Test variables
var testCtx = context.Background()

// newTestEngine wires the engine to a fresh in-memory store with no
// notification queue. Past dates keep the time-of-day rules out of the way.
func newTestEngine() *storage.MemoryStorage {
	st := storage.NewMemoryStorage()
	InitEngine(st, nil, 19)
	return st
}

func mustLog(t *testing.T, date, catalogID string) *models.LoggedActivity {
	t.Helper()
	activity, err := RecordActivity(testCtx, date, catalogID)
	if err != nil {
		t.Fatalf("Failed to log activity %s: %v", catalogID, err)
	}
	return activity
}

func mustLogCustom(t *testing.T, date, name string, points int) *models.LoggedActivity {
	t.Helper()
	activity, err := RecordCustomActivity(testCtx, date, name, points)
	if err != nil {
		t.Fatalf("Failed to log custom activity %s: %v", name, err)
	}
	return activity
}

func TestRecordActivityAppliesDiminishingReturns(t *testing.T) {
	newTestEngine()
	date := "2024-03-12"

	first := mustLog(t, date, "deep-work")
	second := mustLog(t, date, "deep-work")
	third := mustLog(t, date, "deep-work")

	assert.NotEqual(t, primitive.NilObjectID, first.ID)
	assert.Equal(t, 25, first.AwardedPoints)
	assert.Equal(t, 1.0, first.Factor)
	assert.Equal(t, 19, second.AwardedPoints)
	assert.Equal(t, 0.75, second.Factor)
	assert.Equal(t, 13, third.AwardedPoints)
	assert.Equal(t, 0.5, third.Factor)

	record, activities, err := GetDay(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to read day: %v", err)
	}
	assert.Equal(t, 3, len(activities))
	assert.Equal(t, 57, record.TotalPoints)
	assert.Equal(t, 1, record.Tier)
}

func TestRecordActivityRejectsUnknownID(t *testing.T) {
	newTestEngine()

	_, err := RecordActivity(testCtx, "2024-03-12", "underwater-basket-weaving")
	assert.True(t, errors.Is(err, ErrUnknownActivity))
}

func TestRecordActivityRejectsMalformedDate(t *testing.T) {
	newTestEngine()

	_, err := RecordActivity(testCtx, "12.03.2024", "deep-work")
	assert.Error(t, err)
}

func TestRecordActivityEnforcesDailyCap(t *testing.T) {
	newTestEngine()
	date := "2024-03-12"

	mustLog(t, date, "workout-hypertrophy")

	_, err := RecordActivity(testCtx, date, "workout-hypertrophy")
	assert.True(t, errors.Is(err, ErrDailyCapReached))
	assert.Contains(t, err.Error(), "per day")

	// The rejected attempt must not leave anything behind.
	record, activities, err := GetDay(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to read day: %v", err)
	}
	assert.Equal(t, 1, len(activities))
	assert.Equal(t, 30, record.TotalPoints)
}

func TestRecordActivityEnforcesWeeklyCap(t *testing.T) {
	newTestEngine()

	// 2024-03-11 is a Monday; one run per weekday fills the weekly cap.
	weekdays := []string{"2024-03-11", "2024-03-12", "2024-03-13", "2024-03-14", "2024-03-15"}
	for _, date := range weekdays {
		mustLog(t, date, "run")
	}

	_, err := RecordActivity(testCtx, "2024-03-16", "run")
	assert.True(t, errors.Is(err, ErrWeeklyCapReached))
	assert.Contains(t, err.Error(), "per week")

	// The next Monday starts a fresh week.
	mustLog(t, "2024-03-18", "run")
}

func TestRecordCustomActivityNeverDiminishes(t *testing.T) {
	newTestEngine()
	date := "2024-03-12"

	first := mustLogCustom(t, date, "Guitar practice", 20)
	second := mustLogCustom(t, date, "Guitar practice", 20)

	assert.Equal(t, 20, first.AwardedPoints)
	assert.Equal(t, 20, second.AwardedPoints)
	assert.Equal(t, 1.0, second.Factor)

	record, _, err := GetDay(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to read day: %v", err)
	}
	assert.Equal(t, 40, record.TotalPoints)
}

func TestRecordCustomActivityValidatesInput(t *testing.T) {
	newTestEngine()

	_, err := RecordCustomActivity(testCtx, "2024-03-12", "", 10)
	assert.Error(t, err, "Should return an error for an empty name")

	_, err = RecordCustomActivity(testCtx, "2024-03-12", "Reading", 0)
	assert.Error(t, err, "Should return an error for non-positive points")
}

func TestDeleteFirstOccurrenceRederivesFactors(t *testing.T) {
	newTestEngine()
	date := "2024-03-12"

	first := mustLog(t, date, "deep-work")
	mustLog(t, date, "deep-work")
	mustLog(t, date, "deep-work")

	err := DeleteActivity(testCtx, first.ID)
	if err != nil {
		t.Fatalf("Failed to delete activity: %v", err)
	}

	record, activities, err := GetDay(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to read day: %v", err)
	}

	// The remaining occurrences move up as if the deleted one never existed.
	assert.Equal(t, 2, len(activities))
	assert.Equal(t, 1.0, activities[0].Factor)
	assert.Equal(t, 25, activities[0].AwardedPoints)
	assert.Equal(t, 0.75, activities[1].Factor)
	assert.Equal(t, 19, activities[1].AwardedPoints)
	assert.Equal(t, 44, record.TotalPoints)
}

func TestDeleteMiddleOccurrenceKeepsFactorsGapless(t *testing.T) {
	newTestEngine()
	date := "2024-03-12"

	mustLog(t, date, "deep-work")
	middle := mustLog(t, date, "deep-work")
	mustLog(t, date, "deep-work")

	err := DeleteActivity(testCtx, middle.ID)
	if err != nil {
		t.Fatalf("Failed to delete activity: %v", err)
	}

	record, activities, err := GetDay(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to read day: %v", err)
	}
	assert.Equal(t, 2, len(activities))
	assert.Equal(t, 1.0, activities[0].Factor)
	assert.Equal(t, 0.75, activities[1].Factor)
	assert.Equal(t, 44, record.TotalPoints)
}

func TestDeleteActivityRejectsUnknownID(t *testing.T) {
	newTestEngine()

	err := DeleteActivity(testCtx, primitive.NewObjectID())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRecordStaysTheSumOfItsActivities(t *testing.T) {
	st := newTestEngine()
	date := "2024-03-12"

	check := func() {
		t.Helper()
		record, err := st.GetDailyRecord(testCtx, date)
		if err != nil || record == nil {
			t.Fatalf("Failed to read daily record: %v", err)
		}
		activities, err := st.GetLoggedActivities(testCtx, date)
		if err != nil {
			t.Fatalf("Failed to read activities: %v", err)
		}
		sum := 0
		for _, activity := range activities {
			sum += activity.AwardedPoints
		}
		assert.Equal(t, sum, record.TotalPoints)
	}

	mustLog(t, date, "deep-work")
	check()
	second := mustLog(t, date, "deep-work")
	check()
	custom := mustLogCustom(t, date, "Errands", 10)
	check()
	if err := DeleteActivity(testCtx, second.ID); err != nil {
		t.Fatalf("Failed to delete activity: %v", err)
	}
	check()
	mustLog(t, date, "run")
	check()
	if err := DeleteActivity(testCtx, custom.ID); err != nil {
		t.Fatalf("Failed to delete activity: %v", err)
	}
	check()
}

func TestApplyPenaltyCarriesAcrossRecomputes(t *testing.T) {
	newTestEngine()
	date := "2024-03-12"

	mustLogCustom(t, date, "Project work", 60)

	record, err := ApplyPenalty(testCtx, date, 10)
	if err != nil {
		t.Fatalf("Failed to apply penalty: %v", err)
	}
	assert.Equal(t, 50, record.TotalPoints)
	assert.Equal(t, 0, record.Tier)
	assert.True(t, record.HasPenalty)
	assert.Equal(t, 10, record.PenaltyPoints)

	// A plain recompute keeps subtracting the stored penalty.
	record, err = RecomputeDailyRecord(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to recompute: %v", err)
	}
	assert.Equal(t, 50, record.TotalPoints)

	// So does the recompute triggered by new activity.
	mustLogCustom(t, date, "More project work", 20)
	record, _, err = GetDay(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to read day: %v", err)
	}
	assert.Equal(t, 70, record.TotalPoints)

	// Penalties accumulate.
	record, err = ApplyPenalty(testCtx, date, 15)
	if err != nil {
		t.Fatalf("Failed to apply penalty: %v", err)
	}
	assert.Equal(t, 55, record.TotalPoints)
	assert.Equal(t, 25, record.PenaltyPoints)
}

func TestApplyPenaltyFloorsAtZero(t *testing.T) {
	newTestEngine()
	date := "2024-03-12"

	mustLog(t, date, "walk")

	record, err := ApplyPenalty(testCtx, date, 100)
	if err != nil {
		t.Fatalf("Failed to apply penalty: %v", err)
	}
	assert.Equal(t, 0, record.TotalPoints)
	assert.Equal(t, 0, record.Tier)
	assert.Equal(t, 100, record.PenaltyPoints)
}

func TestApplyPenaltyValidatesInput(t *testing.T) {
	newTestEngine()

	_, err := ApplyPenalty(testCtx, "2024-03-12", 0)
	assert.Error(t, err)

	_, err = ApplyPenalty(testCtx, "not-a-date", 10)
	assert.Error(t, err)
}

func TestRecoveryTasksEarnProtectionAndBonus(t *testing.T) {
	newTestEngine()
	date := "2024-03-12"

	mustLog(t, date, "walk")
	mustLog(t, date, "stretching")
	mustLog(t, date, "journaling")

	record, _, err := GetDay(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to read day: %v", err)
	}
	assert.Equal(t, 22, record.TotalPoints)
	assert.Equal(t, 3, record.RecoveryTaskCount)
	assert.True(t, record.HasStreakProtection)
	assert.True(t, record.HasBonus)

	// Crossing into a productive tier drops both flags.
	mustLogCustom(t, date, "Side project", 40)
	record, _, err = GetDay(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to read day: %v", err)
	}
	assert.Equal(t, 62, record.TotalPoints)
	assert.False(t, record.HasStreakProtection)
	assert.False(t, record.HasBonus)
}

func TestStreakNarrativeAcrossDays(t *testing.T) {
	newTestEngine()

	// Day one and two: productive.
	mustLogCustom(t, "2024-03-11", "Project work", 60)
	record, _, _ := GetDay(testCtx, "2024-03-11")
	assert.Equal(t, StatusActive, record.StreakStatus)
	assert.Equal(t, 1, record.StreakCount)
	assert.Equal(t, "Great start!", record.StreakMessage)

	mustLogCustom(t, "2024-03-12", "Project work", 70)
	record, _, _ = GetDay(testCtx, "2024-03-12")
	assert.Equal(t, 2, record.StreakCount)
	assert.Equal(t, "Two days in a row!", record.StreakMessage)

	// Day three: one low day is tolerated.
	mustLogCustom(t, "2024-03-13", "Short session", 30)
	record, _, _ = GetDay(testCtx, "2024-03-13")
	assert.Equal(t, StatusActive, record.StreakStatus)
	assert.Equal(t, 2, record.StreakCount)
	assert.Equal(t, 1, record.LowPointDaysInARow)

	// Day four: the second low day pauses the streak.
	mustLogCustom(t, "2024-03-14", "Short session", 20)
	record, _, _ = GetDay(testCtx, "2024-03-14")
	assert.Equal(t, StatusPaused, record.StreakStatus)
	assert.Equal(t, 2, record.StreakCount)
	assert.Equal(t, 2, record.LowPointDaysInARow)

	// Day five: a productive day saves the held count.
	mustLogCustom(t, "2024-03-15", "Project work", 60)
	record, _, _ = GetDay(testCtx, "2024-03-15")
	assert.Equal(t, StatusActive, record.StreakStatus)
	assert.Equal(t, 2, record.StreakCount)
	assert.Equal(t, 0, record.LowPointDaysInARow)
}

func TestGetDayWithoutRecordReturnsNil(t *testing.T) {
	newTestEngine()

	record, activities, err := GetDay(testCtx, "2024-03-12")
	assert.NoError(t, err)
	assert.Nil(t, record)
	assert.Equal(t, 0, len(activities))
}

func TestConcurrentLogsOnOneDateStayConsistent(t *testing.T) {
	newTestEngine()
	date := "2024-03-12"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := RecordCustomActivity(testCtx, date, "Chunk of work", 5); err != nil {
				t.Errorf("Failed to log activity: %v", err)
			}
		}()
	}
	wg.Wait()

	record, activities, err := GetDay(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to read day: %v", err)
	}
	assert.Equal(t, 10, len(activities))
	assert.Equal(t, 50, record.TotalPoints)
}

// failingStore wraps the in-memory store and fails daily-record writes on
// demand.
type failingStore struct {
	storage.StorageInterface
	failUpsert bool
}

func (f *failingStore) UpsertDailyRecord(ctx context.Context, record *models.DailyRecord) error {
	if f.failUpsert {
		return errors.New("upsert failed")
	}
	return f.StorageInterface.UpsertDailyRecord(ctx, record)
}

func TestFailedRecomputeLeavesPreviousRecord(t *testing.T) {
	mem := storage.NewMemoryStorage()
	fs := &failingStore{StorageInterface: mem}
	InitEngine(fs, nil, 19)
	date := "2024-03-12"

	mustLogCustom(t, date, "Project work", 60)

	fs.failUpsert = true
	_, err := RecordCustomActivity(testCtx, date, "Extra work", 25)
	assert.Error(t, err)

	// The stored record still reflects the last successful derivation.
	record, err := mem.GetDailyRecord(testCtx, date)
	if err != nil || record == nil {
		t.Fatalf("Failed to read daily record: %v", err)
	}
	assert.Equal(t, 60, record.TotalPoints)

	// The next successful recompute reconciles record and activities.
	fs.failUpsert = false
	record, err = RecomputeDailyRecord(testCtx, date)
	if err != nil {
		t.Fatalf("Failed to recompute: %v", err)
	}
	assert.Equal(t, 85, record.TotalPoints)
}
