package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jurijkreutz/determined/backend/catalog"
	"github.com/jurijkreutz/determined/backend/models"
)

// ServerURL is the base URL of the backend the client is connecting to.
var ServerURL string

// client is the HTTP client used to make requests to the server.
var client = &http.Client{}

// DayView is the response of the day endpoint: the derived daily record
// plus the logged activities behind it.
type DayView struct {
	Record     *models.DailyRecord     `json:"record"`
	Activities []models.LoggedActivity `json:"activities"`
}

// StreakView is the streak slice of a daily record.
type StreakView struct {
	Date               string `json:"date"`
	StreakCount        int    `json:"streak_count"`
	StreakStatus       string `json:"streak_status"`
	LowPointDaysInARow int    `json:"low_point_days_in_a_row"`
	StreakMessage      string `json:"streak_message"`
}

// MysteryQuest mirrors the quest entity served by the backend.
type MysteryQuest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	RewardPoints int    `json:"reward_points"`
}

// QuestView is the response of the quest endpoint: today's quest, whether
// it has been completed, and a suggested activity for an empty slot.
type QuestView struct {
	Quest      *MysteryQuest  `json:"quest"`
	Completed  bool           `json:"completed"`
	Suggestion *catalog.Entry `json:"suggestion"`
}

// TodoCompletion is the response of the todo completion endpoint. The
// activity is only set when the todo was linked to a catalog entry.
type TodoCompletion struct {
	Todo     *models.Todo           `json:"todo"`
	Activity *models.LoggedActivity `json:"activity"`
}

// RestoreView reports how many rows of each collection a restore brought back.
type RestoreView struct {
	Days       int `json:"days"`
	Activities int `json:"activities"`
	Todos      int `json:"todos"`
}

// InitAPIClient initializes the ServerURL variable.
// This function must be called before using any other functions in the package.
func InitAPIClient(serverURL string) {
	ServerURL = serverURL
}

// sendRequest sends a JSON request to the server and handles the response.
// It accepts four arguments:
// - method: the HTTP method of the request.
// - path: the path of the endpoint, starting with a slash.
// - body: the request payload, or nil for requests without one.
// - out: the target the response is decoded into, or nil when the response body does not matter.
//
// Error responses are unwrapped into plain errors carrying the server's reason string.
func sendRequest(method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to create request: %v", err)
		}
		reqBody = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest(method, ServerURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return errors.New(errorMessage(bodyBytes, resp.StatusCode))
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	return json.Unmarshal(bodyBytes, out)
}

// errorMessage digs the reason string out of an error response body. When
// the body is not the usual JSON shape, the status code has to do.
func errorMessage(body []byte, statusCode int) string {
	var parsed map[string]string
	if err := json.Unmarshal(body, &parsed); err == nil {
		if message, ok := parsed["error"]; ok && message != "" {
			return message
		}
	}
	return fmt.Sprintf("server returned status %d", statusCode)
}

// GetCatalog fetches the full activity catalog.
func GetCatalog() ([]catalog.Entry, error) {
	var entries []catalog.Entry
	if err := sendRequest("GET", "/catalog", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// LogActivity logs one occurrence of a catalog activity.
// An empty date means today.
func LogActivity(catalogID, date string) (*models.LoggedActivity, error) {
	payload := map[string]interface{}{
		"catalog_id": catalogID,
		"date":       date,
	}

	var activity models.LoggedActivity
	if err := sendRequest("POST", "/activities", payload, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// LogCustomActivity logs a free-form activity with its own name and points.
// An empty date means today.
func LogCustomActivity(name string, points int, date string) (*models.LoggedActivity, error) {
	payload := map[string]interface{}{
		"custom_name":   name,
		"custom_points": points,
		"date":          date,
	}

	var activity models.LoggedActivity
	if err := sendRequest("POST", "/activities", payload, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// DeleteActivity removes a logged activity by its id.
func DeleteActivity(id string) error {
	return sendRequest("DELETE", "/activities/"+id, nil, nil)
}

// GetDay fetches the daily record and activities of a date.
func GetDay(date string) (*DayView, error) {
	var day DayView
	if err := sendRequest("GET", "/days/"+date, nil, &day); err != nil {
		return nil, err
	}
	return &day, nil
}

// GetStreak fetches the streak state of a date.
func GetStreak(date string) (*StreakView, error) {
	var streak StreakView
	if err := sendRequest("GET", "/days/"+date+"/streak", nil, &streak); err != nil {
		return nil, err
	}
	return &streak, nil
}

// GetTodos fetches todos. With a date it returns the todos due on that
// day; without one it returns all open todos.
func GetTodos(date string) ([]models.Todo, error) {
	path := "/todos"
	if date != "" {
		path += "?date=" + date
	}

	var todos []models.Todo
	if err := sendRequest("GET", path, nil, &todos); err != nil {
		return nil, err
	}
	return todos, nil
}

// GetOverdueTodos fetches the open todos whose due date has passed.
func GetOverdueTodos() ([]models.Todo, error) {
	var todos []models.Todo
	if err := sendRequest("GET", "/todos?overdue=true", nil, &todos); err != nil {
		return nil, err
	}
	return todos, nil
}

// AddTodo creates a todo. An empty catalogID leaves the todo unlinked.
func AddTodo(title, dueDate, catalogID string) (*models.Todo, error) {
	payload := map[string]interface{}{
		"title":      title,
		"due_date":   dueDate,
		"catalog_id": catalogID,
	}

	var todo models.Todo
	if err := sendRequest("POST", "/todos", payload, &todo); err != nil {
		return nil, err
	}
	return &todo, nil
}

// CompleteTodo marks a todo as done and returns the linked activity, if any.
func CompleteTodo(id string) (*TodoCompletion, error) {
	var completion TodoCompletion
	if err := sendRequest("POST", "/todos/"+id+"/complete", nil, &completion); err != nil {
		return nil, err
	}
	return &completion, nil
}

// DeleteTodo removes a todo by its id.
func DeleteTodo(id string) error {
	return sendRequest("DELETE", "/todos/"+id, nil, nil)
}

// GetQuest fetches today's mystery quest and activity suggestion.
func GetQuest() (*QuestView, error) {
	var quest QuestView
	if err := sendRequest("GET", "/quests/today", nil, &quest); err != nil {
		return nil, err
	}
	return &quest, nil
}

// CompleteQuest completes today's mystery quest and returns the activity
// that was logged for it.
func CompleteQuest() (*models.LoggedActivity, error) {
	var activity models.LoggedActivity
	if err := sendRequest("POST", "/quests/today/complete", nil, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// ExportBackup streams a full CSV backup from the server into a file.
func ExportBackup(path string) error {
	resp, err := client.Get(ServerURL + "/backup/export")
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return errors.New(errorMessage(bodyBytes, resp.StatusCode))
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %v", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("failed to write backup file: %v", err)
	}
	return nil
}

// RestoreBackup uploads a CSV backup file to the server and returns the
// restore counts.
func RestoreBackup(path string) (*RestoreView, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %v", err)
	}
	defer file.Close()

	req, err := http.NewRequest("POST", ServerURL+"/backup/restore", file)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "text/csv")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, errors.New(errorMessage(bodyBytes, resp.StatusCode))
	}

	var result RestoreView
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
