package backup

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/engine"
	"github.com/jurijkreutz/determined/backend/models"
	storage "github.com/jurijkreutz/determined/backend/storage/persistent"
)

// store is a global variable that holds an interface to the storage system (database).
var store storage.StorageInterface

// ErrInvalidBackup marks a restore stream that could not be parsed.
// Nothing has been wiped when a restore fails with it.
var ErrInvalidBackup = errors.New("invalid backup")

// Section markers. The export is one CSV stream with one section per
// collection, each introduced by its marker row and a header row.
const (
	sectionDays       = "#days"
	sectionActivities = "#activities"
	sectionTodos      = "#todos"
)

var (
	daysHeader = []string{"date", "total_points", "tier", "recovery_task_count", "has_streak_protection",
		"has_bonus", "has_penalty", "penalty_points", "streak_count", "streak_status",
		"low_point_days_in_a_row", "streak_message", "updated_at"}
	activitiesHeader = []string{"date", "catalog_id", "name", "category", "base_points",
		"awarded_points", "factor", "created_at"}
	todosHeader = []string{"title", "due_date", "catalog_id", "done", "done_at", "penalized", "created_at"}
)

// RestoreResult reports how many rows of each collection a restore brought back.
type RestoreResult struct {
	Days       int `json:"days"`
	Activities int `json:"activities"`
	Todos      int `json:"todos"`
}

// InitBackup wires the backup service to its storage.
// It accepts one argument:
// - s: the persistent storage the export reads and the restore rebuilds.
func InitBackup(s storage.StorageInterface) {
	store = s
}

// Export writes every daily record, logged activity and todo to the writer
// as sectioned CSV. The stream is what Restore accepts.
func Export(ctx context.Context, w io.Writer) error {
	records, err := store.GetAllDailyRecords(ctx)
	if err != nil {
		return fmt.Errorf("error loading daily records: %w", err)
	}
	activities, err := store.GetAllLoggedActivities(ctx)
	if err != nil {
		return fmt.Errorf("error loading activities: %w", err)
	}
	todos, err := store.GetAllTodos(ctx)
	if err != nil {
		return fmt.Errorf("error loading todos: %w", err)
	}

	writer := csv.NewWriter(w)

	writeRow := func(row []string) {
		// csv.Writer keeps the first error; checked once on Flush.
		_ = writer.Write(row)
	}

	writeRow([]string{sectionDays})
	writeRow(daysHeader)
	for _, record := range records {
		writeRow([]string{
			record.Date,
			strconv.Itoa(record.TotalPoints),
			strconv.Itoa(record.Tier),
			strconv.Itoa(record.RecoveryTaskCount),
			strconv.FormatBool(record.HasStreakProtection),
			strconv.FormatBool(record.HasBonus),
			strconv.FormatBool(record.HasPenalty),
			strconv.Itoa(record.PenaltyPoints),
			strconv.Itoa(record.StreakCount),
			record.StreakStatus,
			strconv.Itoa(record.LowPointDaysInARow),
			record.StreakMessage,
			record.UpdatedAt.Format(time.RFC3339Nano),
		})
	}

	writeRow([]string{sectionActivities})
	writeRow(activitiesHeader)
	for _, activity := range activities {
		writeRow([]string{
			activity.Date,
			activity.CatalogID,
			activity.Name,
			activity.Category,
			strconv.Itoa(activity.BasePoints),
			strconv.Itoa(activity.AwardedPoints),
			strconv.FormatFloat(activity.Factor, 'g', -1, 64),
			activity.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	writeRow([]string{sectionTodos})
	writeRow(todosHeader)
	for _, todo := range todos {
		doneAt := ""
		if !todo.DoneAt.IsZero() {
			doneAt = todo.DoneAt.Format(time.RFC3339Nano)
		}
		writeRow([]string{
			todo.Title,
			todo.DueDate,
			todo.CatalogID,
			strconv.FormatBool(todo.Done),
			doneAt,
			strconv.FormatBool(todo.Penalized),
			todo.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("error writing backup: %w", err)
	}
	return nil
}

// Restore replaces the stored data with the contents of a backup stream.
// The whole stream is parsed and validated first; nothing is wiped until
// it is known to be loadable. Activities and todos are reinserted as they
// were, then every touched date's daily record is re-derived in date
// order, oldest first, so the streak recurrence sees the restored history.
// Penalties are re-applied from the day rows. User state, like completed
// quests, is not part of a backup and stays as it is.
func Restore(ctx context.Context, r io.Reader) (*RestoreResult, error) {
	days, activities, todos, err := parseBackup(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}

	if _, err := store.DeleteAllLoggedActivities(ctx); err != nil {
		return nil, fmt.Errorf("error clearing activities: %w", err)
	}
	if _, err := store.DeleteAllTodos(ctx); err != nil {
		return nil, fmt.Errorf("error clearing todos: %w", err)
	}
	if _, err := store.DeleteAllDailyRecords(ctx); err != nil {
		return nil, fmt.Errorf("error clearing daily records: %w", err)
	}

	for i := range activities {
		if _, err := store.AddLoggedActivity(ctx, &activities[i]); err != nil {
			return nil, fmt.Errorf("error restoring activity %q: %w", activities[i].Name, err)
		}
	}
	for i := range todos {
		if _, err := store.AddTodo(ctx, &todos[i]); err != nil {
			return nil, fmt.Errorf("error restoring todo %q: %w", todos[i].Title, err)
		}
	}

	// Every date that carried a record or an activity gets re-derived.
	penaltyByDate := make(map[string]int)
	dateSet := make(map[string]bool)
	for _, day := range days {
		dateSet[day.Date] = true
		if day.HasPenalty {
			penaltyByDate[day.Date] = day.PenaltyPoints
		}
	}
	for _, activity := range activities {
		dateSet[activity.Date] = true
	}
	orderedDates := make([]string, 0, len(dateSet))
	for date := range dateSet {
		orderedDates = append(orderedDates, date)
	}
	sort.Strings(orderedDates)

	for _, date := range orderedDates {
		if penalty, ok := penaltyByDate[date]; ok {
			if _, err := engine.ApplyPenalty(ctx, date, penalty); err != nil {
				return nil, fmt.Errorf("error re-deriving %s: %w", date, err)
			}
			continue
		}
		if _, err := engine.RecomputeDailyRecord(ctx, date); err != nil {
			return nil, fmt.Errorf("error re-deriving %s: %w", date, err)
		}
	}

	return &RestoreResult{Days: len(days), Activities: len(activities), Todos: len(todos)}, nil
}

// parseBackup reads a sectioned CSV stream into typed rows without
// touching storage.
func parseBackup(r io.Reader) ([]models.DailyRecord, []models.LoggedActivity, []models.Todo, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var (
		days       []models.DailyRecord
		activities []models.LoggedActivity
		todos      []models.Todo
		section    string
		expectHead bool
	)

	line := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid backup stream: %w", err)
		}
		line++

		if len(row) == 1 && (row[0] == sectionDays || row[0] == sectionActivities || row[0] == sectionTodos) {
			section = row[0]
			expectHead = true
			continue
		}
		if expectHead {
			expectHead = false
			continue
		}

		switch section {
		case sectionDays:
			day, err := parseDayRow(row)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("line %d: %w", line, err)
			}
			days = append(days, day)
		case sectionActivities:
			activity, err := parseActivityRow(row)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("line %d: %w", line, err)
			}
			activities = append(activities, activity)
		case sectionTodos:
			todo, err := parseTodoRow(row)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("line %d: %w", line, err)
			}
			todos = append(todos, todo)
		default:
			return nil, nil, nil, fmt.Errorf("line %d: row outside of any section", line)
		}
	}

	return days, activities, todos, nil
}

func parseDayRow(row []string) (models.DailyRecord, error) {
	var day models.DailyRecord
	if len(row) != len(daysHeader) {
		return day, fmt.Errorf("day row has %d fields, want %d", len(row), len(daysHeader))
	}
	if _, err := dates.Parse(row[0]); err != nil {
		return day, err
	}
	day.Date = row[0]

	var err error
	if day.TotalPoints, err = strconv.Atoi(row[1]); err != nil {
		return day, fmt.Errorf("invalid total points %q", row[1])
	}
	if day.Tier, err = strconv.Atoi(row[2]); err != nil {
		return day, fmt.Errorf("invalid tier %q", row[2])
	}
	if day.RecoveryTaskCount, err = strconv.Atoi(row[3]); err != nil {
		return day, fmt.Errorf("invalid recovery task count %q", row[3])
	}
	if day.HasStreakProtection, err = strconv.ParseBool(row[4]); err != nil {
		return day, fmt.Errorf("invalid protection flag %q", row[4])
	}
	if day.HasBonus, err = strconv.ParseBool(row[5]); err != nil {
		return day, fmt.Errorf("invalid bonus flag %q", row[5])
	}
	if day.HasPenalty, err = strconv.ParseBool(row[6]); err != nil {
		return day, fmt.Errorf("invalid penalty flag %q", row[6])
	}
	if day.PenaltyPoints, err = strconv.Atoi(row[7]); err != nil {
		return day, fmt.Errorf("invalid penalty points %q", row[7])
	}
	if day.StreakCount, err = strconv.Atoi(row[8]); err != nil {
		return day, fmt.Errorf("invalid streak count %q", row[8])
	}
	day.StreakStatus = row[9]
	if day.LowPointDaysInARow, err = strconv.Atoi(row[10]); err != nil {
		return day, fmt.Errorf("invalid low day count %q", row[10])
	}
	day.StreakMessage = row[11]
	if day.UpdatedAt, err = time.Parse(time.RFC3339Nano, row[12]); err != nil {
		return day, fmt.Errorf("invalid update time %q", row[12])
	}
	return day, nil
}

func parseActivityRow(row []string) (models.LoggedActivity, error) {
	var activity models.LoggedActivity
	if len(row) != len(activitiesHeader) {
		return activity, fmt.Errorf("activity row has %d fields, want %d", len(row), len(activitiesHeader))
	}
	if _, err := dates.Parse(row[0]); err != nil {
		return activity, err
	}
	activity.Date = row[0]
	activity.CatalogID = row[1]
	activity.Name = row[2]
	activity.Category = row[3]

	var err error
	if activity.BasePoints, err = strconv.Atoi(row[4]); err != nil {
		return activity, fmt.Errorf("invalid base points %q", row[4])
	}
	if activity.AwardedPoints, err = strconv.Atoi(row[5]); err != nil {
		return activity, fmt.Errorf("invalid awarded points %q", row[5])
	}
	if activity.Factor, err = strconv.ParseFloat(row[6], 64); err != nil {
		return activity, fmt.Errorf("invalid factor %q", row[6])
	}
	if activity.CreatedAt, err = time.Parse(time.RFC3339Nano, row[7]); err != nil {
		return activity, fmt.Errorf("invalid creation time %q", row[7])
	}
	return activity, nil
}

func parseTodoRow(row []string) (models.Todo, error) {
	var todo models.Todo
	if len(row) != len(todosHeader) {
		return todo, fmt.Errorf("todo row has %d fields, want %d", len(row), len(todosHeader))
	}
	todo.Title = row[0]
	if _, err := dates.Parse(row[1]); err != nil {
		return todo, err
	}
	todo.DueDate = row[1]
	todo.CatalogID = row[2]

	var err error
	if todo.Done, err = strconv.ParseBool(row[3]); err != nil {
		return todo, fmt.Errorf("invalid done flag %q", row[3])
	}
	if row[4] != "" {
		if todo.DoneAt, err = time.Parse(time.RFC3339Nano, row[4]); err != nil {
			return todo, fmt.Errorf("invalid completion time %q", row[4])
		}
	}
	if todo.Penalized, err = strconv.ParseBool(row[5]); err != nil {
		return todo, fmt.Errorf("invalid penalized flag %q", row[5])
	}
	if todo.CreatedAt, err = time.Parse(time.RFC3339Nano, row[6]); err != nil {
		return todo, fmt.Errorf("invalid creation time %q", row[6])
	}
	return todo, nil
}
