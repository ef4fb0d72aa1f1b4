package types

// ReportMessage is broadcast once a campaign report has been written.
type ReportMessage struct {
	CampaignID string `json:"campaign_id"`
	Fuzzer     string `json:"fuzzer"`
	Target     string `json:"target"`
	ReportPath string `json:"report_path"`
	Runs       int    `json:"runs"`
	Ungrouped  int    `json:"ungrouped_crashes"`
}
