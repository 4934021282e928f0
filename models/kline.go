package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DatetimeLayout is the format of the derived datetime column and of the
// timestamps embedded in output file names.
const DatetimeLayout = "2006-01-02 15:04:05"

// RawColumns is the positional schema of one kline row as returned by the API.
var RawColumns = []string{
	"open_time",
	"open",
	"high",
	"low",
	"close",
	"volume",
	"close_time",
	"quote_asset_volume",
	"number_of_trades",
	"taker_buy_base_asset_volume",
	"taker_buy_quote_asset_volume",
	"ignore",
}

// Columns is the persisted schema: the raw columns plus the derived datetime.
var Columns = append(append([]string{}, RawColumns...), "datetime")

// Candle is one raw kline row.
type Candle struct {
	OpenTime            int64           `json:"open_time"`
	Open                decimal.Decimal `json:"open"`
	High                decimal.Decimal `json:"high"`
	Low                 decimal.Decimal `json:"low"`
	Close               decimal.Decimal `json:"close"`
	Volume              decimal.Decimal `json:"volume"`
	CloseTime           int64           `json:"close_time"`
	QuoteAssetVolume    decimal.Decimal `json:"quote_asset_volume"`
	NumberOfTrades      int64           `json:"number_of_trades"`
	TakerBuyBaseVolume  decimal.Decimal `json:"taker_buy_base_asset_volume"`
	TakerBuyQuoteVolume decimal.Decimal `json:"taker_buy_quote_asset_volume"`
	Ignore              string          `json:"ignore"`
}

// OpenDateTime returns OpenTime as a UTC time.
func (c Candle) OpenDateTime() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// FormatOpenTime renders OpenTime in DatetimeLayout.
func (c Candle) FormatOpenTime() string {
	return FormatMillis(c.OpenTime)
}

// Equal reports whether two candles carry identical values.
func (c Candle) Equal(o Candle) bool {
	return c.OpenTime == o.OpenTime &&
		c.Open.Equal(o.Open) &&
		c.High.Equal(o.High) &&
		c.Low.Equal(o.Low) &&
		c.Close.Equal(o.Close) &&
		c.Volume.Equal(o.Volume) &&
		c.CloseTime == o.CloseTime &&
		c.QuoteAssetVolume.Equal(o.QuoteAssetVolume) &&
		c.NumberOfTrades == o.NumberOfTrades &&
		c.TakerBuyBaseVolume.Equal(o.TakerBuyBaseVolume) &&
		c.TakerBuyQuoteVolume.Equal(o.TakerBuyQuoteVolume) &&
		c.Ignore == o.Ignore
}

// UnmarshalJSON decodes the positional array form used by the klines endpoint:
// [openTime, "open", "high", "low", "close", "volume", closeTime,
// "quoteVolume", trades, "takerBase", "takerQuote", "ignore"].
func (c *Candle) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("kline row: %w", err)
	}
	if len(fields) < len(RawColumns) {
		return fmt.Errorf("kline row: expected %d fields, got %d", len(RawColumns), len(fields))
	}

	var out Candle
	ints := []struct {
		idx int
		dst *int64
	}{
		{0, &out.OpenTime},
		{6, &out.CloseTime},
		{8, &out.NumberOfTrades},
	}
	for _, f := range ints {
		v, err := parseInt(fields[f.idx])
		if err != nil {
			return fmt.Errorf("kline row: %s: %w", RawColumns[f.idx], err)
		}
		*f.dst = v
	}

	decs := []struct {
		idx int
		dst *decimal.Decimal
	}{
		{1, &out.Open},
		{2, &out.High},
		{3, &out.Low},
		{4, &out.Close},
		{5, &out.Volume},
		{7, &out.QuoteAssetVolume},
		{9, &out.TakerBuyBaseVolume},
		{10, &out.TakerBuyQuoteVolume},
	}
	for _, f := range decs {
		if err := f.dst.UnmarshalJSON(fields[f.idx]); err != nil {
			return fmt.Errorf("kline row: %s: %w", RawColumns[f.idx], err)
		}
	}

	var ignore string
	if err := json.Unmarshal(fields[11], &ignore); err != nil {
		ignore = string(bytes.TrimSpace(fields[11]))
	}
	out.Ignore = ignore

	*c = out
	return nil
}

// MarshalJSON encodes the candle in the same positional form it is decoded from.
func (c Candle) MarshalJSON() ([]byte, error) {
	row := []interface{}{
		c.OpenTime,
		c.Open.String(),
		c.High.String(),
		c.Low.String(),
		c.Close.String(),
		c.Volume.String(),
		c.CloseTime,
		c.QuoteAssetVolume.String(),
		c.NumberOfTrades,
		c.TakerBuyBaseVolume.String(),
		c.TakerBuyQuoteVolume.String(),
		c.Ignore,
	}
	return json.Marshal(row)
}

func parseInt(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not an integer: %s", string(raw))
	}
	return strconv.ParseInt(s, 10, 64)
}

// DecodeKlines decodes a klines response body.
func DecodeKlines(body []byte) ([]Candle, error) {
	var candles []Candle
	if err := json.Unmarshal(body, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// FormatMillis renders epoch milliseconds in DatetimeLayout (UTC).
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DatetimeLayout)
}

// Row is a finalized candle with its derived datetime column.
type Row struct {
	Candle
	Datetime string
}

// NewRow derives the datetime column for c.
func NewRow(c Candle) Row {
	return Row{Candle: c, Datetime: c.FormatOpenTime()}
}

// Record returns the row's values in Columns order. Decimals are written
// without trailing zeros, so "42000.01000000" becomes "42000.01".
func (r Row) Record() []string {
	return []string{
		strconv.FormatInt(r.OpenTime, 10),
		r.Open.String(),
		r.High.String(),
		r.Low.String(),
		r.Close.String(),
		r.Volume.String(),
		strconv.FormatInt(r.CloseTime, 10),
		r.QuoteAssetVolume.String(),
		strconv.FormatInt(r.NumberOfTrades, 10),
		r.TakerBuyBaseVolume.String(),
		r.TakerBuyQuoteVolume.String(),
		r.Ignore,
		r.Datetime,
	}
}

// ParseRecord is the inverse of Record.
func ParseRecord(rec []string) (Row, error) {
	if len(rec) != len(Columns) {
		return Row{}, fmt.Errorf("expected %d columns, got %d", len(Columns), len(rec))
	}
	var (
		r   Row
		err error
	)
	ints := []struct {
		idx int
		dst *int64
	}{
		{0, &r.OpenTime},
		{6, &r.CloseTime},
		{8, &r.NumberOfTrades},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.ParseInt(rec[f.idx], 10, 64); err != nil {
			return Row{}, fmt.Errorf("%s: %w", Columns[f.idx], err)
		}
	}
	decs := []struct {
		idx int
		dst *decimal.Decimal
	}{
		{1, &r.Open},
		{2, &r.High},
		{3, &r.Low},
		{4, &r.Close},
		{5, &r.Volume},
		{7, &r.QuoteAssetVolume},
		{9, &r.TakerBuyBaseVolume},
		{10, &r.TakerBuyQuoteVolume},
	}
	for _, f := range decs {
		if *f.dst, err = decimal.NewFromString(rec[f.idx]); err != nil {
			return Row{}, fmt.Errorf("%s: %w", Columns[f.idx], err)
		}
	}
	r.Ignore = rec[11]
	r.Datetime = rec[12]
	return r, nil
}

// Series is the finalized, ordered output for one symbol.
type Series struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
	Rows     []Row
}

// Len returns the number of rows.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}
