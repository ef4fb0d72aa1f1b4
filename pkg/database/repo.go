package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// inserts the summary rows of one report in a single transaction, replacing
// rows stored earlier for the same campaign and report
func SaveBugMedians(ctx context.Context, db *gorm.DB, campaignID, reportPath string, rows []*BugMedian) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ? AND report_path = ?", campaignID, reportPath).Delete(&BugMedian{}).Error; err != nil {
			return err
		}
		return tx.Create(rows).Error
	})
}

// NewBugMedian creates a new BugMedian object with the provided parameters
func NewBugMedian(
	campaignID string,
	reportPath string,
	binary string,
	fuzzer string,
	bugID string,
	reached *int,
	triggered *int,
	triggerCount int,
) *BugMedian {
	return &BugMedian{
		CampaignID:     campaignID,
		CreatedAt:      time.Now(),
		Binary:         binary,
		Fuzzer:         fuzzer,
		BugID:          bugID,
		ReachedMinutes: reached,
		TriggerMinutes: triggered,
		TriggerCount:   triggerCount,
		ReportPath:     reportPath,
	}
}
