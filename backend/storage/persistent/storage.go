package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jurijkreutz/determined/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeleteResult represents the result of a deletion operation in MongoDB,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// UpdateResult represents the result of an update operation in MongoDB,
// specifically the count of documents matched and modified.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error
	// Returns the daily record for a date, or nil if none exists.
	GetDailyRecord(ctx context.Context, date string) (*models.DailyRecord, error)
	// Creates or overwrites the daily record for its date.
	UpsertDailyRecord(ctx context.Context, record *models.DailyRecord) error
	// Returns the daily records with dates in [from, to], ascending by date.
	GetDailyRecordRange(ctx context.Context, from, to string) ([]models.DailyRecord, error)
	// Returns the number of daily records with a date strictly before the given one.
	CountDailyRecordsBefore(ctx context.Context, date string) (int64, error)
	// Returns every daily record, ascending by date.
	GetAllDailyRecords(ctx context.Context) ([]models.DailyRecord, error)
	// Removes every daily record.
	DeleteAllDailyRecords(ctx context.Context) (*DeleteResult, error)
	// Adds a logged activity.
	AddLoggedActivity(ctx context.Context, activity *models.LoggedActivity) (*models.LoggedActivity, error)
	// Returns a logged activity by id, or nil if none exists.
	GetLoggedActivity(ctx context.Context, id primitive.ObjectID) (*models.LoggedActivity, error)
	// Returns the logged activities of a date, ascending by creation time.
	GetLoggedActivities(ctx context.Context, date string) ([]models.LoggedActivity, error)
	// Rewrites the diminishing factor and awarded points of a logged activity.
	UpdateLoggedActivityPoints(ctx context.Context, id primitive.ObjectID, factor float64, awardedPoints int) (*UpdateResult, error)
	// Deletes a logged activity by id.
	DeleteLoggedActivity(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)
	// Returns how often a catalog entry was logged on a date.
	GetOccurrenceCount(ctx context.Context, catalogID, date string) (int64, error)
	// Returns how often a catalog entry was logged in the week starting at weekStart.
	GetWeeklyOccurrenceCount(ctx context.Context, catalogID, weekStart string) (int64, error)
	// Returns every logged activity, ascending by date and creation time.
	GetAllLoggedActivities(ctx context.Context) ([]models.LoggedActivity, error)
	// Removes every logged activity.
	DeleteAllLoggedActivities(ctx context.Context) (*DeleteResult, error)
	// Adds a todo.
	AddTodo(ctx context.Context, todo *models.Todo) (*models.Todo, error)
	// Returns a todo by id, or nil if none exists.
	GetTodo(ctx context.Context, id primitive.ObjectID) (*models.Todo, error)
	// Returns the todos due on a date, ascending by creation time.
	GetTodosForDate(ctx context.Context, date string) ([]models.Todo, error)
	// Returns every open todo, ascending by due date.
	GetOpenTodos(ctx context.Context) ([]models.Todo, error)
	// Returns the open, not yet penalized todos due on a date.
	GetMissedTodos(ctx context.Context, date string) ([]models.Todo, error)
	// Marks a todo as completed at the given time.
	MarkTodoDone(ctx context.Context, id primitive.ObjectID, doneAt time.Time) (*UpdateResult, error)
	// Marks a todo as penalized once the missed-task job has charged it.
	MarkTodoPenalized(ctx context.Context, id primitive.ObjectID) (*UpdateResult, error)
	// Deletes a todo by id.
	DeleteTodo(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)
	// Returns every todo, ascending by due date and creation time.
	GetAllTodos(ctx context.Context) ([]models.Todo, error)
	// Removes every todo.
	DeleteAllTodos(ctx context.Context) (*DeleteResult, error)
	// Returns the value stored under a state key, or "" if none exists.
	GetState(ctx context.Context, key string) (string, error)
	// Creates or overwrites the value stored under a state key.
	SetState(ctx context.Context, key, value string) error
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	storage := NewMongoStorage()
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
