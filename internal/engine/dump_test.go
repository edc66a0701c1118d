package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDump(t *testing.T) {
	var buff bytes.Buffer
	d := newCsvBarsDump(&buff)
	err := d.Dump(market.Bar{
		Time:   time.Unix(1588223760, 0),
		Open:   decimal.NewFromInt(100),
		High:   decimal.NewFromInt(200),
		Low:    decimal.NewFromInt(300),
		Close:  decimal.NewFromInt(400),
		Volume: decimal.NewFromInt(500),
	})

	require.NoError(t, err)
	assert.Equal(t, `timestamp,open,high,low,close,volume
1588223760,100,200,300,400,500
`, buff.String())
}

func TestDumpBars(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dump")

	require.NoError(t, dumpBars(dir, "BTCUSDT", bars(1.5, 2)))

	data, err := os.ReadFile(filepath.Join(dir, "BTCUSDT.csv"))
	require.NoError(t, err)
	assert.Equal(t, `timestamp,open,high,low,close,volume
1704067200,1.5,1.5,1.5,1.5,1
1704153600,2,2,2,2,1
`, string(data))
}
