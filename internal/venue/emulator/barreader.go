package emulator

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/market"
	"github.com/shopspring/decimal"
)

type barFilter func(b market.Bar) bool

func readBars(dataPath string) ([]market.Bar, error) {
	return readBarsWithFilter(dataPath, func(b market.Bar) bool { return true })
}

// readBarsWithFilter loads a timestamp,open,high,low,close,volume CSV file.
// Timestamps are unix seconds, possibly fractional.
func readBarsWithFilter(dataPath string, filter barFilter) ([]market.Bar, error) {
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open bar data: %w", err)
	}
	defer f.Close()

	rdr := csv.NewReader(bufio.NewReader(f))
	if _, err := rdr.Read(); err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var bars []market.Bar
	for {
		data, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read bar data: %w", err)
		}

		bar, err := parseBar(data)
		if err != nil {
			return nil, err
		}
		if filter(bar) {
			bars = append(bars, bar)
		}
	}

	return bars, nil
}

func parseBar(data []string) (b market.Bar, err error) {
	if len(data) < 6 {
		return b, fmt.Errorf("expected 6 columns, got %d", len(data))
	}

	timestamp, err := strconv.ParseFloat(data[0], 64)
	if err != nil {
		return b, fmt.Errorf("failed to parse bar time: %w", err)
	}
	b.Time = time.Unix(int64(timestamp), 0).UTC()

	if b.Open, err = decimal.NewFromString(data[1]); err != nil {
		return b, fmt.Errorf("failed to read open price: %w", err)
	}
	if b.High, err = decimal.NewFromString(data[2]); err != nil {
		return b, fmt.Errorf("failed to read high price: %w", err)
	}
	if b.Low, err = decimal.NewFromString(data[3]); err != nil {
		return b, fmt.Errorf("failed to read low price: %w", err)
	}
	if b.Close, err = decimal.NewFromString(data[4]); err != nil {
		return b, fmt.Errorf("failed to read close price: %w", err)
	}
	if b.Volume, err = decimal.NewFromString(data[5]); err != nil {
		return b, fmt.Errorf("failed to read volume: %w", err)
	}

	return b, nil
}
