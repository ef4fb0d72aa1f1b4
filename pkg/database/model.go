package database

import (
	"time"
)

// BugMedian represents a record in the public.bug_medians table: one survival
// summary row of a campaign report. Nil medians mean the bug was not reached
// or triggered in at least half of the trials.
type BugMedian struct {
	ID               int       `gorm:"primaryKey;column:id"`
	CampaignID       string    `gorm:"column:campaign_id;not null;index"`
	CreatedAt        time.Time `gorm:"column:created_at;default:now()"`
	Binary           string    `gorm:"column:binary;not null"`
	Fuzzer           string    `gorm:"column:fuzzer;not null"`
	BugID            string    `gorm:"column:bug_id;not null"`
	ReachedMinutes   *int      `gorm:"column:reached_minutes"`
	TriggerMinutes   *int      `gorm:"column:triggered_minutes"`
	TriggerCount     int       `gorm:"column:trigger_count"`
	NumTrials        int       `gorm:"column:num_trials"`
	TrialTimeSeconds int       `gorm:"column:trial_time_seconds"`
	ReportPath       string    `gorm:"column:report_path"`
}

func (BugMedian) TableName() string {
	return "bug_medians"
}
