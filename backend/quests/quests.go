package quests

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/jurijkreutz/determined/backend/catalog"
	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/engine"
	"github.com/jurijkreutz/determined/backend/models"
	storage "github.com/jurijkreutz/determined/backend/storage/persistent"
)

// store is a global variable that holds an interface to the storage system (database).
var store storage.StorageInterface

// ErrAlreadyCompleted marks a second completion attempt of the same daily quest.
var ErrAlreadyCompleted = errors.New("quest already completed")

// questDonePrefix prefixes the user-state keys remembering completed quests.
const questDonePrefix = "quest_done:"

// MysteryQuest is one entry of the daily quest pool. Every date maps to
// exactly one quest, the same one on every evaluation.
type MysteryQuest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	RewardPoints int    `json:"reward_points"`
}

// questPool is the fixed pool the daily quest is drawn from.
var questPool = []MysteryQuest{
	{ID: "inbox-hero", Name: "Inbox Hero", Description: "Clear every unread message before the evening.", RewardPoints: 12},
	{ID: "golden-pomodoro", Name: "Golden Pomodoro", Description: "Finish four focus blocks without touching your phone.", RewardPoints: 15},
	{ID: "fresh-air", Name: "Fresh Air", Description: "Spend twenty minutes outside in daylight.", RewardPoints: 8},
	{ID: "hydration-run", Name: "Hydration Run", Description: "Drink two liters of water over the day.", RewardPoints: 6},
	{ID: "early-bird", Name: "Early Bird", Description: "Start your first task before nine in the morning.", RewardPoints: 10},
	{ID: "desk-reset", Name: "Desk Reset", Description: "Leave your desk spotless at the end of the day.", RewardPoints: 8},
	{ID: "single-tasking", Name: "Single-Tasking", Description: "Work a full hour on exactly one thing.", RewardPoints: 12},
	{ID: "no-snooze", Name: "No Snooze", Description: "Get up with the first alarm.", RewardPoints: 10},
	{ID: "paper-mile", Name: "Paper Mile", Description: "Read twenty pages of an actual book.", RewardPoints: 10},
	{ID: "lights-out", Name: "Lights Out", Description: "Screens off an hour before bed.", RewardPoints: 12},
}

// suggestionWeights biases the suggestion slot towards easier entries.
var suggestionWeights = map[string]int{
	"easy":   3,
	"medium": 2,
	"hard":   1,
}

// eveningCutoffHour is the local hour after which a low-point day is
// treated as nearly over when picking a suggestion.
var eveningCutoffHour int

// InitQuests wires the quest service to its storage.
// It accepts two arguments:
// - s: the persistent storage quest completions are remembered in.
// - cutoffHour: the local hour after which suggestions favor streak protection.
func InitQuests(s storage.StorageInterface, cutoffHour int) {
	store = s
	eveningCutoffHour = cutoffHour
}

// dateSeed derives a stable random seed from a date key and a salt, so the
// quest and the suggestion of one date come out the same on every call.
func dateSeed(date, salt string) int64 {
	h := fnv.New64a()
	h.Write([]byte(date + "|" + salt))
	return int64(h.Sum64())
}

// questForDate picks the quest of a date from the pool.
func questForDate(date string) MysteryQuest {
	rng := rand.New(rand.NewSource(dateSeed(date, "quest")))
	return questPool[rng.Intn(len(questPool))]
}

// GetDailyQuest returns the mystery quest of a date and whether it has
// already been completed.
func GetDailyQuest(ctx context.Context, date string) (*MysteryQuest, bool, error) {
	if _, err := dates.Parse(date); err != nil {
		return nil, false, err
	}
	quest := questForDate(date)

	value, err := store.GetState(ctx, questDonePrefix+date)
	if err != nil {
		return nil, false, fmt.Errorf("error loading quest state: %w", err)
	}
	return &quest, value != "", nil
}

// CompleteDailyQuest marks the mystery quest of a date as completed and
// awards its reward points as a custom activity on that date.
// Returns the logged activity, or ErrAlreadyCompleted on a second attempt.
func CompleteDailyQuest(ctx context.Context, date string) (*models.LoggedActivity, error) {
	quest, done, err := GetDailyQuest(ctx, date)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, quest.Name)
	}

	activity, err := engine.RecordCustomActivity(ctx, date, "Mystery quest: "+quest.Name, quest.RewardPoints)
	if err != nil {
		return nil, err
	}

	if err := store.SetState(ctx, questDonePrefix+date, quest.ID); err != nil {
		return nil, fmt.Errorf("error storing quest state: %w", err)
	}
	return activity, nil
}

// SuggestActivity picks a catalog entry worth doing next on a date. It
// prefers categories the day has not touched yet and leans towards easier
// entries; when every category is covered it falls back to a recovery
// task. In the evening of a day still stuck in the lowest tier the pick
// comes from the recovery set instead, so the streak can still earn its
// protection. The pick is stable for a date.
func SuggestActivity(ctx context.Context, date string) (*catalog.Entry, error) {
	return suggestActivity(ctx, date, dates.Now().Hour())
}

func suggestActivity(ctx context.Context, date string, hour int) (*catalog.Entry, error) {
	if _, err := dates.Parse(date); err != nil {
		return nil, err
	}

	activities, err := store.GetLoggedActivities(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("error loading activities: %w", err)
	}

	candidates, err := rescueCandidates(ctx, date, hour, activities)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		covered := make(map[string]bool)
		for _, activity := range activities {
			covered[activity.Category] = true
		}
		for _, entry := range catalog.Entries() {
			if !covered[entry.Category] {
				candidates = append(candidates, entry)
			}
		}
	}
	if len(candidates) == 0 {
		candidates = catalog.RecoveryEntries()
	}

	pick := weightedPick(candidates, rand.New(rand.NewSource(dateSeed(date, "suggest"))))
	return &pick, nil
}

// rescueCandidates returns the recovery entries still worth logging when
// today is about to end in the lowest tier, and nil whenever that
// situation does not apply.
func rescueCandidates(ctx context.Context, date string, hour int, activities []models.LoggedActivity) ([]catalog.Entry, error) {
	if date != dates.Today() || hour < eveningCutoffHour {
		return nil, nil
	}

	record, err := store.GetDailyRecord(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("error loading daily record: %w", err)
	}
	if record != nil && record.Tier > 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	for _, activity := range activities {
		counts[activity.CatalogID]++
	}

	var open []catalog.Entry
	for _, entry := range catalog.RecoveryEntries() {
		if entry.DailyCap == 0 || counts[entry.ID] < entry.DailyCap {
			open = append(open, entry)
		}
	}
	return open, nil
}

// weightedPick draws one entry from the candidates, weighted by difficulty.
func weightedPick(candidates []catalog.Entry, rng *rand.Rand) catalog.Entry {
	total := 0
	for _, entry := range candidates {
		total += weightFor(entry)
	}

	roll := rng.Intn(total)
	for _, entry := range candidates {
		roll -= weightFor(entry)
		if roll < 0 {
			return entry
		}
	}
	return candidates[len(candidates)-1]
}

func weightFor(entry catalog.Entry) int {
	if weight, ok := suggestionWeights[entry.Difficulty]; ok {
		return weight
	}
	return 1
}
