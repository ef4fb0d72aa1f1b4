package replay

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassifyStopsReachedAtTrigger(t *testing.T) {
	stdout := "REACHED: A\nREACHED: B\nTRIGGERED: B\nREACHED: C\nTRIGGERED: C\nTRIGGERED: B\n"
	res := Classify(stdout, "", true)
	assert.Equal(t, []string{"A", "B"}, res.Reached)
	assert.Equal(t, []string{"B", "C"}, res.Triggered)
	assert.False(t, res.Anomalous)
}

func TestClassifyDedupAndNoise(t *testing.T) {
	stdout := "booting\r\n[frb] REACHED: FW1\r\nREACHED: FW1\nREACHED:   \nsome other line\n"
	res := Classify(stdout, "", false)
	assert.Equal(t, []string{"FW1"}, res.Reached)
	assert.Empty(t, res.Triggered)
}

func TestClassifyAnomalies(t *testing.T) {
	assert.True(t, Classify("write SYSCTL_AIRCR\nTRIGGERED: X\n", "", true).Anomalous)
	assert.True(t, Classify("", "warning: input file not read until end", true).Anomalous)
	assert.False(t, Classify("write SYSCTL_AIRCR\n", "", false).Anomalous, "only crash replays are checked")
}

func TestDescriptorEnv(t *testing.T) {
	assert.Equal(t, "FIRMREBUGGER_CONFIG=/b/bug_descriptor.c", DescriptorEnv("/b/bug_descriptor.c"))
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell available")
	}
	r := NewExecRunner(zap.NewNop())

	res, err := r.Replay(context.Background(), Input{
		Path: "crash-1",
		Args: []string{"sh", "-c", `echo "REACHED: $BUG"; echo "TRIGGERED: $BUG"; exit 3`},
		Env:  []string{"BUG=FW7"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"FW7"}, res.Reached)
	assert.Equal(t, []string{"FW7"}, res.Triggered)
	assert.Equal(t, 3, res.ExitCode)

	_, err = r.Replay(context.Background(), Input{Path: "x", Args: []string{"/nonexistent/replayer"}}, false)
	assert.Error(t, err)

	_, err = r.Replay(context.Background(), Input{Path: "y"}, false)
	assert.Error(t, err)
}
