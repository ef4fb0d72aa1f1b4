package main

import (
	"errors"
	"frbench/internal/campaign"
	"frbench/internal/report"
	"frbench/internal/scheduler"
	"frbench/internal/survival"
	"frbench/internal/types"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFuzzGroupDiscoversTargets(t *testing.T) {
	base := t.TempDir()
	for _, dir := range []string{
		"FirmBench/01-targets/CNC/fuzzers/Fuzzware",
		"FirmBench/01-targets/Drone/fuzzers/SEmu-Fuzz",
		"FirmBench/02-targets/Gateway/fuzzers/Fuzzware",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, dir), 0o755))
	}
	layout := campaign.NewLayout(base)

	c := &fuzzCommand{Bench: "FirmBench", Fuzzers: []string{"Fuzzware"}, Time: "1h"}
	g, err := c.group(layout)
	require.NoError(t, err)
	assert.Equal(t, []string{"01-targets/CNC", "02-targets/Gateway"}, g.Targets)
	assert.Equal(t, campaign.DefaultTrials, g.Trials)
	assert.Equal(t, campaign.DefaultOutputName, g.OutputName)

	c = &fuzzCommand{Bench: "FirmBench", Fuzzers: []string{"DICE"}}
	_, err = c.group(layout)
	assert.Error(t, err)

	c = &fuzzCommand{Bench: "FirmBench", Fuzzers: []string{"DICE"}, Targets: []string{"01-targets/CNC"}, Time: "forever"}
	_, err = c.group(layout)
	assert.Error(t, err)
}

func TestLogSummaryExitCode(t *testing.T) {
	log := zap.NewNop()
	assert.Equal(t, 0, logSummary(log, &scheduler.Summary{Completed: 3, TimedOut: 1}, nil))
	assert.Equal(t, 0, logSummary(log, &scheduler.Summary{Interrupted: 2, Stopped: true}, nil))
	assert.Equal(t, 1, logSummary(log, &scheduler.Summary{Completed: 1, Errors: []scheduler.RunError{{JobID: "j", ExitCode: 2}}}, nil))
	assert.Equal(t, 1, logSummary(log, nil, errors.New("boom")))
}

func TestLogSummaryNamesIncompleteGroups(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	group := types.GroupKey{Fuzzer: "Fuzzware", Bench: "FirmBench", Suite: "01-targets", Target: "CNC", OutputName: "base"}
	code := logSummary(zap.New(core), &scheduler.Summary{
		Failed:     1,
		Errors:     []scheduler.RunError{{JobID: "j", ExitCode: -1, Err: errors.New("image not found")}},
		Incomplete: []types.GroupKey{group},
	}, nil)
	assert.Equal(t, 1, code)

	entries := logs.FilterMessage("group has trials that never started and was not analyzed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, group.String(), entries[0].ContextMap()["group"])
}

func TestBugMedians(t *testing.T) {
	r := &report.CampaignReport{Fuzzer: "Fuzzware", Target: "CNC", NumTrials: 3, TrialTime: 3600}
	rows := []survival.Row{{
		Binary:          "CNC",
		Fuzzer:          "Fuzzware",
		BugID:           "B1",
		MedianReached:   survival.Median{Seconds: 61},
		MedianTriggered: survival.Median{Infinite: true},
		TriggerCount:    1,
	}}
	got := bugMedians("c1", "/r/frb_report.json", r, rows)
	require.Len(t, got, 1)
	m := got[0]
	assert.Equal(t, "c1", m.CampaignID)
	assert.Equal(t, "B1", m.BugID)
	require.NotNil(t, m.ReachedMinutes)
	assert.Equal(t, 2, *m.ReachedMinutes)
	assert.Nil(t, m.TriggerMinutes)
	assert.Equal(t, 1, m.TriggerCount)
	assert.Equal(t, 3, m.NumTrials)
	assert.Equal(t, 3600, m.TrialTimeSeconds)
	assert.Equal(t, "/r/frb_report.json", m.ReportPath)
}
