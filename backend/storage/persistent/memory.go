package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStorage is an in-memory implementation of the StorageInterface.
// It backs demo mode, where the server runs without a MongoDB instance and
// nothing survives a restart, and the service-level tests.
type MemoryStorage struct {
	mu         sync.Mutex
	days       map[string]models.DailyRecord
	activities []models.LoggedActivity
	todos      []models.Todo
	state      map[string]string
}

// NewMemoryStorage creates a new, empty MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		days:  make(map[string]models.DailyRecord),
		state: make(map[string]string),
	}
}

func (m *MemoryStorage) Connect(dbName, uri string) error {
	return nil
}

func (m *MemoryStorage) Disconnect() error {
	return nil
}

func (m *MemoryStorage) GetDailyRecord(ctx context.Context, date string) (*models.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.days[date]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (m *MemoryStorage) UpsertDailyRecord(ctx context.Context, record *models.DailyRecord) error {
	if record.Date == "" {
		return errors.New("daily record must carry a date")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *record
	if existing, ok := m.days[record.Date]; ok {
		stored.ID = existing.ID
	} else if stored.ID.IsZero() {
		stored.ID = primitive.NewObjectID()
	}
	m.days[record.Date] = stored
	return nil
}

func (m *MemoryStorage) GetDailyRecordRange(ctx context.Context, from, to string) ([]models.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []models.DailyRecord
	for date, record := range m.days {
		if date >= from && date <= to {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })
	return records, nil
}

func (m *MemoryStorage) CountDailyRecordsBefore(ctx context.Context, date string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for d := range m.days {
		if d < date {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStorage) GetAllDailyRecords(ctx context.Context) ([]models.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]models.DailyRecord, 0, len(m.days))
	for _, record := range m.days {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })
	return records, nil
}

func (m *MemoryStorage) DeleteAllDailyRecords(ctx context.Context) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := int64(len(m.days))
	m.days = make(map[string]models.DailyRecord)
	return &DeleteResult{DeletedCount: count}, nil
}

func (m *MemoryStorage) AddLoggedActivity(ctx context.Context, activity *models.LoggedActivity) (*models.LoggedActivity, error) {
	if activity.Date == "" || activity.CatalogID == "" || activity.Name == "" || activity.CreatedAt.IsZero() {
		return nil, errors.New("invalid activity fields")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if activity.ID.IsZero() {
		activity.ID = primitive.NewObjectID()
	}
	m.activities = append(m.activities, *activity)
	return activity, nil
}

func (m *MemoryStorage) GetLoggedActivity(ctx context.Context, id primitive.ObjectID) (*models.LoggedActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, activity := range m.activities {
		if activity.ID == id {
			found := activity
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) GetLoggedActivities(ctx context.Context, date string) ([]models.LoggedActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var activities []models.LoggedActivity
	for _, activity := range m.activities {
		if activity.Date == date {
			activities = append(activities, activity)
		}
	}
	// Insertion order breaks ties between identical creation times.
	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].CreatedAt.Before(activities[j].CreatedAt)
	})
	return activities, nil
}

func (m *MemoryStorage) UpdateLoggedActivityPoints(ctx context.Context, id primitive.ObjectID, factor float64, awardedPoints int) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.activities {
		if m.activities[i].ID == id {
			var modified int64
			if m.activities[i].Factor != factor || m.activities[i].AwardedPoints != awardedPoints {
				modified = 1
			}
			m.activities[i].Factor = factor
			m.activities[i].AwardedPoints = awardedPoints
			return &UpdateResult{MatchedCount: 1, ModifiedCount: modified}, nil
		}
	}
	return nil, errors.New("no activity found to update")
}

func (m *MemoryStorage) DeleteLoggedActivity(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.activities {
		if m.activities[i].ID == id {
			m.activities = append(m.activities[:i], m.activities[i+1:]...)
			return &DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &DeleteResult{DeletedCount: 0}, nil
}

func (m *MemoryStorage) GetOccurrenceCount(ctx context.Context, catalogID, date string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, activity := range m.activities {
		if activity.CatalogID == catalogID && activity.Date == date {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStorage) GetWeeklyOccurrenceCount(ctx context.Context, catalogID, weekStart string) (int64, error) {
	weekEnd, err := dates.AddDays(weekStart, 6)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, activity := range m.activities {
		if activity.CatalogID == catalogID && activity.Date >= weekStart && activity.Date <= weekEnd {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStorage) GetAllLoggedActivities(ctx context.Context) ([]models.LoggedActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	activities := make([]models.LoggedActivity, len(m.activities))
	copy(activities, m.activities)
	sort.SliceStable(activities, func(i, j int) bool {
		if activities[i].Date != activities[j].Date {
			return activities[i].Date < activities[j].Date
		}
		return activities[i].CreatedAt.Before(activities[j].CreatedAt)
	})
	return activities, nil
}

func (m *MemoryStorage) DeleteAllLoggedActivities(ctx context.Context) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := int64(len(m.activities))
	m.activities = nil
	return &DeleteResult{DeletedCount: count}, nil
}

func (m *MemoryStorage) AddTodo(ctx context.Context, todo *models.Todo) (*models.Todo, error) {
	if todo.Title == "" || todo.DueDate == "" || todo.CreatedAt.IsZero() {
		return nil, errors.New("invalid todo fields")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if todo.ID.IsZero() {
		todo.ID = primitive.NewObjectID()
	}
	m.todos = append(m.todos, *todo)
	return todo, nil
}

func (m *MemoryStorage) GetTodo(ctx context.Context, id primitive.ObjectID) (*models.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, todo := range m.todos {
		if todo.ID == id {
			found := todo
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) GetTodosForDate(ctx context.Context, date string) ([]models.Todo, error) {
	return m.filterTodos(func(todo models.Todo) bool { return todo.DueDate == date })
}

func (m *MemoryStorage) GetOpenTodos(ctx context.Context) ([]models.Todo, error) {
	return m.filterTodos(func(todo models.Todo) bool { return !todo.Done })
}

func (m *MemoryStorage) GetMissedTodos(ctx context.Context, date string) ([]models.Todo, error) {
	return m.filterTodos(func(todo models.Todo) bool {
		return todo.DueDate == date && !todo.Done && !todo.Penalized
	})
}

func (m *MemoryStorage) filterTodos(keep func(models.Todo) bool) ([]models.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var todos []models.Todo
	for _, todo := range m.todos {
		if keep(todo) {
			todos = append(todos, todo)
		}
	}
	sort.SliceStable(todos, func(i, j int) bool {
		if todos[i].DueDate != todos[j].DueDate {
			return todos[i].DueDate < todos[j].DueDate
		}
		return todos[i].CreatedAt.Before(todos[j].CreatedAt)
	})
	return todos, nil
}

func (m *MemoryStorage) MarkTodoDone(ctx context.Context, id primitive.ObjectID, doneAt time.Time) (*UpdateResult, error) {
	return m.updateTodo(id, func(todo *models.Todo) bool {
		if todo.Done {
			return false
		}
		todo.Done = true
		todo.DoneAt = doneAt
		return true
	})
}

func (m *MemoryStorage) MarkTodoPenalized(ctx context.Context, id primitive.ObjectID) (*UpdateResult, error) {
	return m.updateTodo(id, func(todo *models.Todo) bool {
		if todo.Penalized {
			return false
		}
		todo.Penalized = true
		return true
	})
}

func (m *MemoryStorage) updateTodo(id primitive.ObjectID, apply func(*models.Todo) bool) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.todos {
		if m.todos[i].ID == id {
			var modified int64
			if apply(&m.todos[i]) {
				modified = 1
			}
			return &UpdateResult{MatchedCount: 1, ModifiedCount: modified}, nil
		}
	}
	return nil, errors.New("no todo found to update")
}

func (m *MemoryStorage) DeleteTodo(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.todos {
		if m.todos[i].ID == id {
			m.todos = append(m.todos[:i], m.todos[i+1:]...)
			return &DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &DeleteResult{DeletedCount: 0}, nil
}

func (m *MemoryStorage) GetAllTodos(ctx context.Context) ([]models.Todo, error) {
	return m.filterTodos(func(models.Todo) bool { return true })
}

func (m *MemoryStorage) DeleteAllTodos(ctx context.Context) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := int64(len(m.todos))
	m.todos = nil
	return &DeleteResult{DeletedCount: count}, nil
}

func (m *MemoryStorage) GetState(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state[key], nil
}

func (m *MemoryStorage) SetState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[key] = value
	return nil
}
