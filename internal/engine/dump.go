package engine

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gamma-omg/cycle-trader/internal/market"
)

// csvBarsDump writes bars in the format the emulator venue replays.
type csvBarsDump struct {
	w           *csv.Writer
	writeHeader bool
}

func newCsvBarsDump(w io.Writer) *csvBarsDump {
	return &csvBarsDump{csv.NewWriter(w), true}
}

func (d *csvBarsDump) Dump(bar market.Bar) error {
	if d.writeHeader {
		if err := d.w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
			return fmt.Errorf("failed to write bars dump csv header: %w", err)
		}
		d.writeHeader = false
	}

	err := d.w.Write([]string{
		strconv.FormatInt(bar.Time.Unix(), 10),
		bar.Open.String(),
		bar.High.String(),
		bar.Low.String(),
		bar.Close.String(),
		bar.Volume.String()})

	if err != nil {
		return fmt.Errorf("failed to dump bar: %w", err)
	}

	d.w.Flush()
	return d.w.Error()
}

func dumpBars(dir, symbol string, bars []market.Bar) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dump dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, symbol+".csv"))
	if err != nil {
		return fmt.Errorf("failed to create bars dump: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close bars dump: %w", cerr)
		}
	}()

	d := newCsvBarsDump(f)
	for _, b := range bars {
		if err := d.Dump(b); err != nil {
			return err
		}
	}

	return nil
}
