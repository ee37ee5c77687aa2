package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jurijkreutz/determined/backend/backup"
	"github.com/jurijkreutz/determined/backend/catalog"
	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/engine"
	"github.com/jurijkreutz/determined/backend/models"
	"github.com/jurijkreutz/determined/backend/quests"
	"github.com/jurijkreutz/determined/backend/todos"
	"github.com/jurijkreutz/determined/lib/utils"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type logActivityRequest struct {
	CatalogID    string `json:"catalog_id"`
	CustomName   string `json:"custom_name"`
	CustomPoints int    `json:"custom_points"`
	Date         string `json:"date"`
}

type addTodoRequest struct {
	Title     string `json:"title"`
	DueDate   string `json:"due_date"`
	CatalogID string `json:"catalog_id"`
}

type dayResponse struct {
	Record     *models.DailyRecord     `json:"record"`
	Activities []models.LoggedActivity `json:"activities"`
}

type streakResponse struct {
	Date               string `json:"date"`
	StreakCount        int    `json:"streak_count"`
	StreakStatus       string `json:"streak_status"`
	LowPointDaysInARow int    `json:"low_point_days_in_a_row"`
	StreakMessage      string `json:"streak_message"`
}

type completeTodoResponse struct {
	Todo     *models.Todo           `json:"todo"`
	Activity *models.LoggedActivity `json:"activity,omitempty"`
}

type questResponse struct {
	Quest      *quests.MysteryQuest `json:"quest"`
	Completed  bool                 `json:"completed"`
	Suggestion *catalog.Entry       `json:"suggestion"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps the engine's terminal errors onto status codes.
// Anything unrecognized is a server-side failure.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownActivity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrDailyCapReached), errors.Is(err, engine.ErrWeeklyCapReached):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, todos.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logrus.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func catalogHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Entries())
}

// logActivityHandler logs either a catalog activity or a custom one,
// depending on which request fields are set. The date defaults to today.
func logActivityHandler(w http.ResponseWriter, r *http.Request) {
	var req logActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date := req.Date
	if date == "" {
		date = dates.Today()
	}
	if _, err := dates.Parse(date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case req.CatalogID != "":
		activity, err := engine.RecordActivity(r.Context(), date, req.CatalogID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, activity)
	case req.CustomName != "":
		if !utils.ValidateCustomPoints(req.CustomPoints) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("custom points must be between 1 and %d", utils.MaxCustomPoints))
			return
		}
		activity, err := engine.RecordCustomActivity(r.Context(), date, req.CustomName, req.CustomPoints)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, activity)
	default:
		writeError(w, http.StatusBadRequest, "either catalog_id or custom_name is required")
	}
}

func deleteActivityHandler(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}

	if err := engine.DeleteActivity(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadDay fetches a day's record and activities. Today's record is derived
// on first sight, so the live view never 404s; past days without a record
// stay nil.
func loadDay(r *http.Request, date string) (*models.DailyRecord, []models.LoggedActivity, error) {
	record, activities, err := engine.GetDay(r.Context(), date)
	if err != nil {
		return nil, nil, err
	}
	if record == nil && date == dates.Today() {
		if record, err = engine.RecomputeDailyRecord(r.Context(), date); err != nil {
			return nil, nil, err
		}
	}
	return record, activities, nil
}

func getDayHandler(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := dates.Parse(date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, activities, err := loadDay(r, date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "no record for this day")
		return
	}
	if activities == nil {
		activities = []models.LoggedActivity{}
	}
	writeJSON(w, http.StatusOK, dayResponse{Record: record, Activities: activities})
}

func getStreakHandler(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := dates.Parse(date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, _, err := loadDay(r, date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "no record for this day")
		return
	}
	writeJSON(w, http.StatusOK, streakResponse{
		Date:               record.Date,
		StreakCount:        record.StreakCount,
		StreakStatus:       record.StreakStatus,
		LowPointDaysInARow: record.LowPointDaysInARow,
		StreakMessage:      record.StreakMessage,
	})
}

func recomputeDayHandler(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := dates.Parse(date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := engine.RecomputeDailyRecord(r.Context(), date)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func listTodosHandler(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")

	var (
		list []models.Todo
		err  error
	)
	switch {
	case date != "":
		if _, err := dates.Parse(date); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		list, err = todos.GetTodosForDate(r.Context(), date)
	case r.URL.Query().Get("overdue") == "true":
		list, err = todos.GetOverdueTodos(r.Context())
	default:
		list, err = todos.GetOpenTodos(r.Context())
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if list == nil {
		list = []models.Todo{}
	}
	writeJSON(w, http.StatusOK, list)
}

func addTodoHandler(w http.ResponseWriter, r *http.Request) {
	var req addTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if _, err := dates.Parse(req.DueDate); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	todo, err := todos.AddTodo(r.Context(), req.Title, req.DueDate, req.CatalogID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, todo)
}

func completeTodoHandler(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid todo id")
		return
	}

	todo, activity, err := todos.CompleteTodo(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeTodoResponse{Todo: todo, Activity: activity})
}

func deleteTodoHandler(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid todo id")
		return
	}

	if err := todos.DeleteTodo(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func getQuestHandler(w http.ResponseWriter, r *http.Request) {
	today := dates.Today()

	quest, completed, err := quests.GetDailyQuest(r.Context(), today)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	suggestion, err := quests.SuggestActivity(r.Context(), today)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questResponse{Quest: quest, Completed: completed, Suggestion: suggestion})
}

func completeQuestHandler(w http.ResponseWriter, r *http.Request) {
	activity, err := quests.CompleteDailyQuest(r.Context(), dates.Today())
	if err != nil {
		if errors.Is(err, quests.ErrAlreadyCompleted) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

func exportHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="determined-backup.csv"`)
	if err := backup.Export(r.Context(), w); err != nil {
		// The status line is already out; all that is left is the log.
		logrus.WithError(err).Error("export failed")
	}
}

func restoreHandler(w http.ResponseWriter, r *http.Request) {
	result, err := backup.Restore(r.Context(), r.Body)
	if err != nil {
		if errors.Is(err, backup.ErrInvalidBackup) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
