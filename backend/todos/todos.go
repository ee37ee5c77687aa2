package todos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jurijkreutz/determined/backend/catalog"
	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/engine"
	"github.com/jurijkreutz/determined/backend/models"
	storage "github.com/jurijkreutz/determined/backend/storage/persistent"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// store is a global variable that holds an interface to the storage system (database).
var store storage.StorageInterface

// ErrNotFound marks operations on a todo id that does not exist.
var ErrNotFound = errors.New("todo not found")

// InitTodos wires the todo service to its storage.
// It accepts one argument:
// - s: the persistent storage todos are read and written through.
func InitTodos(s storage.StorageInterface) {
	store = s
}

// AddTodo creates a new todo.
// It accepts four arguments:
// - ctx: the context within which the operation runs.
// - title: the text of the todo.
// - dueDate: the date key the todo is due on.
// - catalogID: an optional catalog entry; completing the todo then logs
//   that activity. Pass "" for a plain todo.
//
// Returns the stored todo, or an error when the title is empty, the due
// date is malformed or the catalog id is unknown.
func AddTodo(ctx context.Context, title, dueDate, catalogID string) (*models.Todo, error) {
	if title == "" {
		return nil, errors.New("todo title cannot be empty")
	}
	if _, err := dates.Parse(dueDate); err != nil {
		return nil, err
	}
	if catalogID != "" {
		if _, ok := catalog.Lookup(catalogID); !ok {
			return nil, fmt.Errorf("%w: %s", engine.ErrUnknownActivity, catalogID)
		}
	}

	todo := &models.Todo{
		Title:     title,
		DueDate:   dueDate,
		CatalogID: catalogID,
		CreatedAt: dates.Now(),
	}

	todo, err := store.AddTodo(ctx, todo)
	if err != nil {
		return nil, fmt.Errorf("error storing todo: %w", err)
	}
	return todo, nil
}

// CompleteTodo marks a todo as done. When the todo is linked to a catalog
// entry, the matching activity is logged for today as well, so finishing
// the task earns its points. A cap rejection on that entry does not undo
// the completion; the todo is done either way and the rejection is only
// logged.
// Returns the updated todo and the logged activity, which is nil for
// unlinked todos and capped entries. Completing an already completed todo
// changes nothing and returns it as is.
func CompleteTodo(ctx context.Context, id primitive.ObjectID) (*models.Todo, *models.LoggedActivity, error) {
	todo, err := store.GetTodo(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading todo: %w", err)
	}
	if todo == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	if todo.Done {
		return todo, nil, nil
	}

	doneAt := dates.Now()
	if _, err := store.MarkTodoDone(ctx, id, doneAt); err != nil {
		return nil, nil, fmt.Errorf("error completing todo: %w", err)
	}
	todo.Done = true
	todo.DoneAt = doneAt

	if todo.CatalogID == "" {
		return todo, nil, nil
	}

	activity, err := engine.RecordActivity(ctx, dates.Today(), todo.CatalogID)
	if err != nil {
		if errors.Is(err, engine.ErrDailyCapReached) || errors.Is(err, engine.ErrWeeklyCapReached) {
			logrus.WithField("todo", todo.Title).Info("todo completed without points, the linked activity is capped")
			return todo, nil, nil
		}
		return todo, nil, fmt.Errorf("error logging linked activity: %w", err)
	}

	return todo, activity, nil
}

// DeleteTodo removes a todo.
// Returns ErrNotFound when no todo with the given id exists.
func DeleteTodo(ctx context.Context, id primitive.ObjectID) error {
	result, err := store.DeleteTodo(ctx, id)
	if err != nil {
		return fmt.Errorf("error deleting todo: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	return nil
}

// GetTodosForDate returns the todos due on a date, oldest first.
func GetTodosForDate(ctx context.Context, date string) ([]models.Todo, error) {
	if _, err := dates.Parse(date); err != nil {
		return nil, err
	}
	return store.GetTodosForDate(ctx, date)
}

// GetOpenTodos returns every todo that has not been completed yet, ordered
// by due date.
func GetOpenTodos(ctx context.Context) ([]models.Todo, error) {
	return store.GetOpenTodos(ctx)
}

// GetOverdueTodos returns the open todos whose due date has passed.
func GetOverdueTodos(ctx context.Context) ([]models.Todo, error) {
	open, err := store.GetOpenTodos(ctx)
	if err != nil {
		return nil, err
	}
	today := dates.Today()
	var overdue []models.Todo
	for _, todo := range open {
		if todo.DueDate < today {
			overdue = append(overdue, todo)
		}
	}
	return overdue, nil
}
