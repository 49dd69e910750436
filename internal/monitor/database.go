package monitor

import (
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

func (d *Database) CreateRule(rule *types.MonitoringRule) error {
	return d.db.Create(rule).Error
}

func (d *Database) ActiveRules() ([]types.MonitoringRule, error) {
	var rules []types.MonitoringRule
	if err := d.db.Where("active = ?", true).Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (d *Database) RulesForIntent(intentID string) ([]types.MonitoringRule, error) {
	var rules []types.MonitoringRule
	if err := d.db.Where("intent_id = ?", intentID).Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (d *Database) ActiveRuleCountForIntent(intentID string) (int64, error) {
	var count int64
	err := d.db.Model(&types.MonitoringRule{}).
		Where("intent_id = ? AND active = ?", intentID, true).
		Count(&count).Error
	return count, err
}

// ClaimTrigger atomically deactivates a rule before its action runs. Only the
// caller that wins the compare-and-set performs the action, which is what
// makes rule firing exactly-once under concurrent evaluations.
func (d *Database) ClaimTrigger(ruleID string, now time.Time) (bool, error) {
	result := d.db.Model(&types.MonitoringRule{}).
		Where("rule_id = ? AND active = ?", ruleID, true).
		Updates(map[string]interface{}{
			"active":       false,
			"triggered_at": now,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeactivateForIntent turns off every rule belonging to a cancelled intent.
func (d *Database) DeactivateForIntent(intentID string) error {
	return d.db.Model(&types.MonitoringRule{}).
		Where("intent_id = ? AND active = ?", intentID, true).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now(),
		}).Error
}
