package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/pkg/model"
)

// GormDurationRepository implements DurationRepository using GORM.
type GormDurationRepository struct {
	db *gorm.DB
}

// NewGormDurationRepository creates a GormDurationRepository.
func NewGormDurationRepository(db *gorm.DB) *GormDurationRepository {
	return &GormDurationRepository{db: db}
}

// Record appends one measured duration for a level vector.
func (r *GormDurationRepository) Record(ctx context.Context, level model.LevelVector, taskID model.TaskID, iteration int, micros int64) error {
	row := TaskDuration{
		LevelKey:  level.Key(),
		TaskID:    int64(taskID),
		Iteration: iteration,
		Micros:    micros,
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "record task duration", err)
	}
	return nil
}

// AverageDuration returns the mean recorded duration in microseconds for
// the level vector.
func (r *GormDurationRepository) AverageDuration(level model.LevelVector) (float64, bool) {
	var avg *float64
	err := r.db.Model(&TaskDuration{}).
		Where("level_key = ?", level.Key()).
		Select("AVG(micros)").
		Scan(&avg).Error
	if err != nil || avg == nil {
		return 0, false
	}
	return *avg, true
}
