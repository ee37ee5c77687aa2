package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LoggedActivity struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Date          string             `bson:"date" json:"date"`
	CatalogID     string             `bson:"catalog_id" json:"catalog_id"`
	Name          string             `bson:"name" json:"name"`
	Category      string             `bson:"category" json:"category"`
	BasePoints    int                `bson:"base_points" json:"base_points"`
	AwardedPoints int                `bson:"awarded_points" json:"awarded_points"`
	Factor        float64            `bson:"factor" json:"factor"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

type DailyRecord struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Date                string             `bson:"date" json:"date"`
	TotalPoints         int                `bson:"total_points" json:"total_points"`
	Tier                int                `bson:"tier" json:"tier"`
	RecoveryTaskCount   int                `bson:"recovery_task_count" json:"recovery_task_count"`
	HasStreakProtection bool               `bson:"has_streak_protection" json:"has_streak_protection"`
	HasBonus            bool               `bson:"has_bonus" json:"has_bonus"`
	HasPenalty          bool               `bson:"has_penalty" json:"has_penalty"`
	PenaltyPoints       int                `bson:"penalty_points" json:"penalty_points"`
	StreakCount         int                `bson:"streak_count" json:"streak_count"`
	StreakStatus        string             `bson:"streak_status" json:"streak_status"`
	LowPointDaysInARow  int                `bson:"low_point_days_in_a_row" json:"low_point_days_in_a_row"`
	StreakMessage       string             `bson:"streak_message" json:"streak_message"`
	UpdatedAt           time.Time          `bson:"updated_at" json:"updated_at"`
}

type Todo struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title     string             `bson:"title" json:"title"`
	DueDate   string             `bson:"due_date" json:"due_date"`
	CatalogID string             `bson:"catalog_id,omitempty" json:"catalog_id"`
	Done      bool               `bson:"done" json:"done"`
	DoneAt    time.Time          `bson:"done_at,omitempty" json:"done_at"`
	Penalized bool               `bson:"penalized" json:"penalized"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

type StateEntry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Key       string             `bson:"key" json:"key"`
	Value     string             `bson:"value" json:"value"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}
