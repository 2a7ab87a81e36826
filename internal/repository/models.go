package repository

import (
	"time"
)

// TaskDuration is one recorded run duration of a component grid task.
type TaskDuration struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	LevelKey  string    `gorm:"column:level_key;size:128;index"`
	TaskID    int64     `gorm:"column:task_id"`
	Iteration int       `gorm:"column:iteration"`
	Micros    int64     `gorm:"column:micros"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName names the durations table.
func (TaskDuration) TableName() string {
	return "task_durations"
}
