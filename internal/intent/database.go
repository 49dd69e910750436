package intent

import (
	"errors"
	"time"

	"github.com/ksred/autopilot/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateIntentWithSteps persists an intent and its step graph in a
// transaction, so a half-written plan can never be picked up for execution.
func (d *Database) CreateIntentWithSteps(intent *types.Intent) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	steps := intent.Steps
	intent.Steps = nil
	if err := tx.Create(intent).Error; err != nil {
		tx.Rollback()
		return err
	}

	for i := range steps {
		if err := tx.Create(&steps[i]).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	intent.Steps = steps

	return tx.Commit().Error
}

func (d *Database) GetIntent(intentID string) (*types.Intent, error) {
	var intent types.Intent
	if err := d.db.Where("intent_id = ?", intentID).First(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	steps, err := d.GetSteps(intentID)
	if err != nil {
		return nil, err
	}
	intent.Steps = steps

	return &intent, nil
}

func (d *Database) GetIntentByOwner(intentID, ownerID string) (*types.Intent, error) {
	var intent types.Intent
	if err := d.db.Where("intent_id = ? AND owner_id = ?", intentID, ownerID).First(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	steps, err := d.GetSteps(intentID)
	if err != nil {
		return nil, err
	}
	intent.Steps = steps

	return &intent, nil
}

func (d *Database) GetSteps(intentID string) ([]types.Step, error) {
	var steps []types.Step
	if err := d.db.Where("intent_id = ?", intentID).Order("id").Find(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func (d *Database) UpdateStep(step *types.Step) error {
	step.UpdatedAt = time.Now()
	return d.db.Save(step).Error
}

// SetIntentStatus applies a status unconditionally. Used by the executor,
// which is the sole writer while an intent is running.
func (d *Database) SetIntentStatus(intentID string, status types.IntentStatus) error {
	return d.db.Model(&types.Intent{}).
		Where("intent_id = ?", intentID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// TransitionIntentStatus moves an intent between statuses as a
// compare-and-set, for transitions that race with the executor (cancellation).
func (d *Database) TransitionIntentStatus(intentID string, from []types.IntentStatus, to types.IntentStatus) (bool, error) {
	result := d.db.Model(&types.Intent{}).
		Where("intent_id = ? AND status IN ?", intentID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IntentStatusValue reads just the current status, used for the cancellation
// check between execution waves.
func (d *Database) IntentStatusValue(intentID string) (types.IntentStatus, error) {
	var intent types.Intent
	if err := d.db.Select("status").Where("intent_id = ?", intentID).First(&intent).Error; err != nil {
		return "", err
	}
	return intent.Status, nil
}
