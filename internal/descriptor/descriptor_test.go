package descriptor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
static void report_detected_triggered(char* bug_id) {
    frb_report_detected_triggered(bug_id);
}

void BUG_FW11() {
    report_reached("FW11");
    if (reg_state[2] > 9) {
        report_detected_triggered("FW11");
    }
}

void BUG_FW18() {
    // report_detected_triggered("COMMENTED");
    if (reg_state[3] == 0) { report_detected_triggered("FW18"); }
    report_detected_triggered("FW11");
}

/*
void BUG_OLD() {
    report_detected_triggered("BLOCK");
}
*/
void BUG_FP_E02() { report_detected_triggered("FP_E02"); }
`

func TestParse(t *testing.T) {
	ids, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"FP_E02", "FW11", "FW18"}, ids)
}

func TestParseEmpty(t *testing.T) {
	ids, err := Parse(strings.NewReader("int main() { return 0; }"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), FileName))
	assert.Error(t, err)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	ids, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}
