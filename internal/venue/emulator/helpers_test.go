package emulator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const barsHeader = "timestamp,open,high,low,close,volume"

// barsFile writes rows under the bar CSV header and returns the file path.
func barsFile(t *testing.T, rows ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bars.csv")
	src := strings.Join(append([]string{barsHeader}, rows...), "\n")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}
