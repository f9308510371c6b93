package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"lpRebalancer/internal/domain"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteKlinesToCSV writes klines to filename, creating its directory if needed.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", filename, err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(klineHeader); err != nil {
		return err
	}

	for _, k := range klines {
		if k == nil {
			continue
		}
		if err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339Nano),
			k.CloseTime.UTC().Format(time.RFC3339Nano),
			k.Symbol,
			k.Interval,
			strconv.FormatFloat(k.Open, 'f', -1, 64),
			strconv.FormatFloat(k.High, 'f', -1, 64),
			strconv.FormatFloat(k.Low, 'f', -1, 64),
			strconv.FormatFloat(k.Close, 'f', -1, 64),
			strconv.FormatFloat(k.Volume, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadKlinesFromCSV reads klines written by WriteKlinesToCSV. Every row is
// treated as a final kline.
func ReadKlinesFromCSV(filename string) ([]*domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(klineHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", filename, err)
	}
	if header[0] != klineHeader[0] {
		return nil, fmt.Errorf("%s: unexpected header %v", filename, header)
	}

	var klines []*domain.Kline
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filename, line, err)
		}
		k, err := parseKline(record)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filename, line, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(record []string) (*domain.Kline, error) {
	openTime, err := time.Parse(time.RFC3339Nano, record[0])
	if err != nil {
		return nil, fmt.Errorf("open_time: %w", err)
	}
	closeTime, err := time.Parse(time.RFC3339Nano, record[1])
	if err != nil {
		return nil, fmt.Errorf("close_time: %w", err)
	}

	var values [5]float64
	for i := range values {
		values[i], err = strconv.ParseFloat(record[4+i], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", klineHeader[4+i], err)
		}
	}

	return &domain.Kline{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Symbol:    record[2],
		Interval:  record[3],
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		IsFinal:   true,
	}, nil
}

// WriteLedgerToCSV writes closed positions to filename for spreadsheet review.
func WriteLedgerToCSV(entries []*domain.LedgerEntry, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", filename, err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{
		"pool", "handle", "opened_at", "closed_at", "lower", "upper", "liquidity", "open_price", "close_price",
		"capital_deployed", "exit_value", "accrued_fees", "realized_fees", "close_reason",
	}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writer.Write([]string{
			e.Pool,
			e.HandleID,
			e.OpenedAt.UTC().Format(time.RFC3339),
			e.ClosedAt.UTC().Format(time.RFC3339),
			strconv.FormatFloat(e.Range.LowerPrice, 'f', -1, 64),
			strconv.FormatFloat(e.Range.UpperPrice, 'f', -1, 64),
			strconv.FormatFloat(e.Range.Liquidity, 'f', -1, 64),
			strconv.FormatFloat(e.OpenPrice, 'f', -1, 64),
			strconv.FormatFloat(e.ClosePrice, 'f', -1, 64),
			e.CapitalDeployed.String(),
			e.ExitValue.String(),
			e.AccruedFees.String(),
			e.RealizedFees.String(),
			string(e.CloseReason),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
