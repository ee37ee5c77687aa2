package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStorage is a struct representing a MongoDB storage.
// It provides an interface to perform CRUD operations on the collections
// backing daily records, logged activities, todos and the user state map.
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// Connect establishes a connection to the MongoDB server at the given URI and a database name.
// Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {

	// Set a timeout for the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Create the client options for the connection
	clientOptions := options.Client().ApplyURI(uri)
	// Connect to the MongoDB server
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	// Save the client in the MongoStorage structure
	// Save the database name that we are connecting to
	m.client = client
	m.dbName = dbName

	// Initializing days collection
	daysCollection := m.client.Database(m.dbName).Collection("days")

	// Create an index on the "date" field. This is to ensure that there is
	// exactly one daily record per date. It will also speed up queries on the "date" field
	dateIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"date": 1, // 1 for ascending order
		},
		Options: options.Index().SetUnique(true),
	}

	// Create the date index
	_, err = daysCollection.Indexes().CreateOne(ctx, dateIndexModel)
	if err != nil {
		return fmt.Errorf("error creating date index: %v", err)
	}

	// Initializing activities collection
	activitiesCollection := m.client.Database(m.dbName).Collection("activities")

	// Create an index on the "date" field. This will speed up queries on the "date" field
	activityDateIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"date": 1,
		},
		Options: options.Index(),
	}

	// Create the activity date index
	_, err = activitiesCollection.Indexes().CreateOne(ctx, activityDateIndexModel)
	if err != nil {
		return fmt.Errorf("error creating activity date index: %v", err)
	}

	// Create a compound index on the "catalog_id" and "date" fields.
	// This will speed up the occurrence counts behind caps and diminishing returns.
	catalogIdDateIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "catalog_id", Value: 1}, // 1 for ascending order
			{Key: "date", Value: 1},       // 1 for ascending order
		},
		Options: options.Index(),
	}

	// Create the catalog_id and date index
	_, err = activitiesCollection.Indexes().CreateOne(ctx, catalogIdDateIndexModel)
	if err != nil {
		return fmt.Errorf("error creating catalog_id and date index: %v", err)
	}

	// Initializing todos collection
	todosCollection := m.client.Database(m.dbName).Collection("todos")

	// Create an index on the "due_date" field. This will speed up queries on the "due_date" field
	dueDateIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"due_date": 1,
		},
		Options: options.Index(),
	}

	// Create the due_date index
	_, err = todosCollection.Indexes().CreateOne(ctx, dueDateIndexModel)
	if err != nil {
		return fmt.Errorf("error creating due_date index: %v", err)
	}

	// Initializing user state collection
	stateCollection := m.client.Database(m.dbName).Collection("user_state")

	// Create an index on the "key" field. This is to ensure that every state key is unique.
	// It will also speed up queries on the "key" field
	keyIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"key": 1,
		},
		Options: options.Index().SetUnique(true),
	}

	// Create the key index
	_, err = stateCollection.Indexes().CreateOne(ctx, keyIndexModel)
	if err != nil {
		return fmt.Errorf("error creating key index: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

// GetDailyRecord finds the daily record for the given date in the 'days' collection.
// Returns nil without an error if no record exists for the date, because missing
// history is regular data for the streak computation, not a failure.
func (m *MongoStorage) GetDailyRecord(ctx context.Context, date string) (*models.DailyRecord, error) {
	collection := m.client.Database(m.dbName).Collection("days")
	result := collection.FindOne(ctx, bson.M{"date": date})
	record := &models.DailyRecord{}
	err := result.Decode(record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// UpsertDailyRecord creates or overwrites the daily record for its date in the 'days' collection.
// Returns an error if the upsert operation fails.
func (m *MongoStorage) UpsertDailyRecord(ctx context.Context, record *models.DailyRecord) error {
	if record.Date == "" {
		return errors.New("daily record must carry a date")
	}
	collection := m.client.Database(m.dbName).Collection("days")
	update := bson.M{"$set": bson.M{
		"date":                  record.Date,
		"total_points":          record.TotalPoints,
		"tier":                  record.Tier,
		"recovery_task_count":   record.RecoveryTaskCount,
		"has_streak_protection": record.HasStreakProtection,
		"has_bonus":             record.HasBonus,
		"has_penalty":           record.HasPenalty,
		"penalty_points":        record.PenaltyPoints,
		"streak_count":          record.StreakCount,
		"streak_status":         record.StreakStatus,
		"low_point_days_in_a_row": record.LowPointDaysInARow,
		"streak_message":        record.StreakMessage,
		"updated_at":            record.UpdatedAt,
	}}
	_, err := collection.UpdateOne(ctx, bson.M{"date": record.Date}, update, options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	return nil
}

// GetDailyRecordRange finds the daily records with dates between from and to, both inclusive.
// Returns the records in ascending date order and an error if the find operation fails.
func (m *MongoStorage) GetDailyRecordRange(ctx context.Context, from, to string) ([]models.DailyRecord, error) {
	collection := m.client.Database(m.dbName).Collection("days")
	opts := options.Find().SetSort(bson.M{"date": 1})
	cursor, err := collection.Find(ctx, bson.M{"date": bson.M{"$gte": from, "$lte": to}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []models.DailyRecord
	for cursor.Next(ctx) {
		var record models.DailyRecord
		err := cursor.Decode(&record)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

// CountDailyRecordsBefore returns the number of daily records with a date strictly
// before the given one. Returns an error if the count operation fails.
func (m *MongoStorage) CountDailyRecordsBefore(ctx context.Context, date string) (int64, error) {
	collection := m.client.Database(m.dbName).Collection("days")
	count, err := collection.CountDocuments(ctx, bson.M{"date": bson.M{"$lt": date}})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetAllDailyRecords returns every document in the 'days' collection in ascending date order.
// Returns an error if the find operation fails.
func (m *MongoStorage) GetAllDailyRecords(ctx context.Context) ([]models.DailyRecord, error) {
	collection := m.client.Database(m.dbName).Collection("days")
	opts := options.Find().SetSort(bson.M{"date": 1})
	cursor, err := collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []models.DailyRecord
	for cursor.Next(ctx) {
		var record models.DailyRecord
		err := cursor.Decode(&record)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

// DeleteAllDailyRecords removes every document from the 'days' collection.
// Only the restore path is allowed to do this.
// Returns the result of the delete operation as a DeleteResult instance and an error if it fails.
func (m *MongoStorage) DeleteAllDailyRecords(ctx context.Context) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("days")
	result, err := collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// AddLoggedActivity adds a new logged activity document to the 'activities' collection.
// The activity is provided as a pointer to a LoggedActivity instance.
// Returns the added activity instance and an error if the insert operation fails.
func (m *MongoStorage) AddLoggedActivity(ctx context.Context, activity *models.LoggedActivity) (*models.LoggedActivity, error) {
	// Check if the activity has the necessary fields
	if activity.Date == "" || activity.CatalogID == "" || activity.Name == "" || activity.CreatedAt.IsZero() {
		return nil, errors.New("invalid activity fields")
	}

	collection := m.client.Database(m.dbName).Collection("activities")
	result, err := collection.InsertOne(ctx, activity)
	if err != nil {
		return nil, err
	}

	activity.ID = result.InsertedID.(primitive.ObjectID)
	return activity, nil
}

// GetLoggedActivity finds a logged activity by its id in the 'activities' collection.
// Returns nil without an error if no activity with that id exists.
func (m *MongoStorage) GetLoggedActivity(ctx context.Context, id primitive.ObjectID) (*models.LoggedActivity, error) {
	collection := m.client.Database(m.dbName).Collection("activities")
	result := collection.FindOne(ctx, bson.M{"_id": id})
	activity := &models.LoggedActivity{}
	err := result.Decode(activity)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return activity, nil
}

// GetLoggedActivities finds the logged activities of a date in the 'activities' collection.
// The activities are returned in ascending creation-time order, which is the order
// the diminishing-returns sequence is derived in.
// Returns an error if the find operation fails.
func (m *MongoStorage) GetLoggedActivities(ctx context.Context, date string) ([]models.LoggedActivity, error) {
	collection := m.client.Database(m.dbName).Collection("activities")
	// BSON datetimes only carry milliseconds, so _id breaks creation-time ties.
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := collection.Find(ctx, bson.M{"date": date}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var activities []models.LoggedActivity
	for cursor.Next(ctx) {
		var activity models.LoggedActivity
		err := cursor.Decode(&activity)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}

	return activities, nil
}

// UpdateLoggedActivityPoints rewrites the diminishing factor and awarded points of a
// logged activity. Used when a deletion re-derives the factors of its siblings.
// Returns the result of the update operation as an UpdateResult instance and an error if it fails.
func (m *MongoStorage) UpdateLoggedActivityPoints(ctx context.Context, id primitive.ObjectID, factor float64, awardedPoints int) (*UpdateResult, error) {
	collection := m.client.Database(m.dbName).Collection("activities")
	update := bson.M{"$set": bson.M{"factor": factor, "awarded_points": awardedPoints}}
	result, err := collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, errors.New("no activity found to update")
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// DeleteLoggedActivity deletes a logged activity document from the 'activities' collection.
// Returns the result of the delete operation as a DeleteResult instance and an error if it fails.
func (m *MongoStorage) DeleteLoggedActivity(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("activities")
	result, err := collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// GetOccurrenceCount returns how often the given catalog entry was logged on the given date.
// Returns an error if the count operation fails.
func (m *MongoStorage) GetOccurrenceCount(ctx context.Context, catalogID, date string) (int64, error) {
	collection := m.client.Database(m.dbName).Collection("activities")
	count, err := collection.CountDocuments(ctx, bson.M{"catalog_id": catalogID, "date": date})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetWeeklyOccurrenceCount returns how often the given catalog entry was logged in the
// week starting at weekStart. The week key is the Monday date of the week.
// Returns an error if the count operation fails.
func (m *MongoStorage) GetWeeklyOccurrenceCount(ctx context.Context, catalogID, weekStart string) (int64, error) {
	weekEnd, err := dates.AddDays(weekStart, 6)
	if err != nil {
		return 0, err
	}
	collection := m.client.Database(m.dbName).Collection("activities")
	filter := bson.M{
		"catalog_id": catalogID,
		"date":       bson.M{"$gte": weekStart, "$lte": weekEnd},
	}
	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetAllLoggedActivities returns every document in the 'activities' collection,
// ascending by date and creation time. Returns an error if the find operation fails.
func (m *MongoStorage) GetAllLoggedActivities(ctx context.Context) ([]models.LoggedActivity, error) {
	collection := m.client.Database(m.dbName).Collection("activities")
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "created_at", Value: 1}})
	cursor, err := collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var activities []models.LoggedActivity
	for cursor.Next(ctx) {
		var activity models.LoggedActivity
		err := cursor.Decode(&activity)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}

	return activities, nil
}

// DeleteAllLoggedActivities removes every document from the 'activities' collection.
// Only the restore path is allowed to do this.
// Returns the result of the delete operation as a DeleteResult instance and an error if it fails.
func (m *MongoStorage) DeleteAllLoggedActivities(ctx context.Context) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("activities")
	result, err := collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// AddTodo adds a new todo document to the 'todos' collection.
// The todo is provided as a pointer to a Todo instance.
// Returns the added todo instance and an error if the insert operation fails.
func (m *MongoStorage) AddTodo(ctx context.Context, todo *models.Todo) (*models.Todo, error) {
	// Check if the todo has the necessary fields
	if todo.Title == "" || todo.DueDate == "" || todo.CreatedAt.IsZero() {
		return nil, errors.New("invalid todo fields")
	}

	collection := m.client.Database(m.dbName).Collection("todos")
	result, err := collection.InsertOne(ctx, todo)
	if err != nil {
		return nil, err
	}

	todo.ID = result.InsertedID.(primitive.ObjectID)
	return todo, nil
}

// GetTodo finds a todo by its id in the 'todos' collection.
// Returns nil without an error if no todo with that id exists.
func (m *MongoStorage) GetTodo(ctx context.Context, id primitive.ObjectID) (*models.Todo, error) {
	collection := m.client.Database(m.dbName).Collection("todos")
	result := collection.FindOne(ctx, bson.M{"_id": id})
	todo := &models.Todo{}
	err := result.Decode(todo)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return todo, nil
}

// GetTodosForDate finds the todos due on a date in the 'todos' collection.
// Returns the todos in ascending creation-time order and an error if the find operation fails.
func (m *MongoStorage) GetTodosForDate(ctx context.Context, date string) ([]models.Todo, error) {
	return m.findTodos(ctx, bson.M{"due_date": date}, bson.D{{Key: "created_at", Value: 1}})
}

// GetOpenTodos finds every todo that has not been completed yet.
// Returns the todos in ascending due-date order and an error if the find operation fails.
func (m *MongoStorage) GetOpenTodos(ctx context.Context) ([]models.Todo, error) {
	return m.findTodos(ctx, bson.M{"done": false}, bson.D{{Key: "due_date", Value: 1}, {Key: "created_at", Value: 1}})
}

// GetMissedTodos finds the todos due on a date that are neither completed nor already
// penalized. The missed-task penalty job uses this to find its work.
// Returns an error if the find operation fails.
func (m *MongoStorage) GetMissedTodos(ctx context.Context, date string) ([]models.Todo, error) {
	filter := bson.M{"due_date": date, "done": false, "penalized": false}
	return m.findTodos(ctx, filter, bson.D{{Key: "created_at", Value: 1}})
}

// findTodos runs a find on the 'todos' collection with the given filter and sort order.
func (m *MongoStorage) findTodos(ctx context.Context, filter bson.M, sort bson.D) ([]models.Todo, error) {
	collection := m.client.Database(m.dbName).Collection("todos")
	opts := options.Find().SetSort(sort)
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var todos []models.Todo
	for cursor.Next(ctx) {
		var todo models.Todo
		err := cursor.Decode(&todo)
		if err != nil {
			return nil, err
		}
		todos = append(todos, todo)
	}

	return todos, nil
}

// MarkTodoDone marks a todo document in the 'todos' collection as completed at the
// given time.
// Returns the result of the update operation as an UpdateResult instance and an error if it fails.
func (m *MongoStorage) MarkTodoDone(ctx context.Context, id primitive.ObjectID, doneAt time.Time) (*UpdateResult, error) {
	return m.updateTodoByID(ctx, id, bson.M{"$set": bson.M{"done": true, "done_at": doneAt}})
}

// MarkTodoPenalized marks a todo document in the 'todos' collection as penalized, so
// the missed-task job charges it at most once.
// Returns the result of the update operation as an UpdateResult instance and an error if it fails.
func (m *MongoStorage) MarkTodoPenalized(ctx context.Context, id primitive.ObjectID) (*UpdateResult, error) {
	return m.updateTodoByID(ctx, id, bson.M{"$set": bson.M{"penalized": true}})
}

func (m *MongoStorage) updateTodoByID(ctx context.Context, id primitive.ObjectID, update bson.M) (*UpdateResult, error) {
	collection := m.client.Database(m.dbName).Collection("todos")
	result, err := collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, errors.New("no todo found to update")
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// DeleteTodo deletes a todo document from the 'todos' collection by its id.
// Returns the result of the delete operation as a DeleteResult instance and an error if it fails.
func (m *MongoStorage) DeleteTodo(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("todos")
	result, err := collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// GetAllTodos returns every document in the 'todos' collection, ascending by due date
// and creation time. Returns an error if the find operation fails.
func (m *MongoStorage) GetAllTodos(ctx context.Context) ([]models.Todo, error) {
	return m.findTodos(ctx, bson.M{}, bson.D{{Key: "due_date", Value: 1}, {Key: "created_at", Value: 1}})
}

// DeleteAllTodos removes every document from the 'todos' collection.
// Only the restore path is allowed to do this.
// Returns the result of the delete operation as a DeleteResult instance and an error if it fails.
func (m *MongoStorage) DeleteAllTodos(ctx context.Context) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("todos")
	result, err := collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// GetState returns the value stored under a state key in the 'user_state' collection.
// Returns an empty string without an error if the key does not exist, because the
// state map starts out empty.
func (m *MongoStorage) GetState(ctx context.Context, key string) (string, error) {
	collection := m.client.Database(m.dbName).Collection("user_state")
	result := collection.FindOne(ctx, bson.M{"key": key})
	entry := &models.StateEntry{}
	err := result.Decode(entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", nil
		}
		return "", err
	}
	return entry.Value, nil
}

// SetState creates or overwrites the value stored under a state key in the
// 'user_state' collection. Returns an error if the upsert operation fails.
func (m *MongoStorage) SetState(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("state key cannot be empty")
	}
	collection := m.client.Database(m.dbName).Collection("user_state")
	update := bson.M{"$set": bson.M{"key": key, "value": value, "updated_at": time.Now()}}
	_, err := collection.UpdateOne(ctx, bson.M{"key": key}, update, options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	return nil
}
