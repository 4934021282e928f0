package writer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"klineflow/models"
)

// ParquetRecord represents the structure of our parquet file
type ParquetRecord struct {
	Symbol              string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Interval            string  `parquet:"name=interval, type=BYTE_ARRAY, convertedtype=UTF8"`
	OpenTime            int64   `parquet:"name=open_time, type=INT64"`
	Open                float64 `parquet:"name=open, type=DOUBLE"`
	High                float64 `parquet:"name=high, type=DOUBLE"`
	Low                 float64 `parquet:"name=low, type=DOUBLE"`
	Close               float64 `parquet:"name=close, type=DOUBLE"`
	Volume              float64 `parquet:"name=volume, type=DOUBLE"`
	CloseTime           int64   `parquet:"name=close_time, type=INT64"`
	QuoteAssetVolume    float64 `parquet:"name=quote_asset_volume, type=DOUBLE"`
	NumberOfTrades      int64   `parquet:"name=number_of_trades, type=INT64"`
	TakerBuyBaseVolume  float64 `parquet:"name=taker_buy_base_asset_volume, type=DOUBLE"`
	TakerBuyQuoteVolume float64 `parquet:"name=taker_buy_quote_asset_volume, type=DOUBLE"`
	Datetime            string  `parquet:"name=datetime, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func newParquetRecord(series *models.Series, r models.Row) ParquetRecord {
	return ParquetRecord{
		Symbol:              series.Symbol,
		Interval:            series.Interval,
		OpenTime:            r.OpenTime,
		Open:                r.Open.InexactFloat64(),
		High:                r.High.InexactFloat64(),
		Low:                 r.Low.InexactFloat64(),
		Close:               r.Close.InexactFloat64(),
		Volume:              r.Volume.InexactFloat64(),
		CloseTime:           r.CloseTime,
		QuoteAssetVolume:    r.QuoteAssetVolume.InexactFloat64(),
		NumberOfTrades:      r.NumberOfTrades,
		TakerBuyBaseVolume:  r.TakerBuyBaseVolume.InexactFloat64(),
		TakerBuyQuoteVolume: r.TakerBuyQuoteVolume.InexactFloat64(),
		Datetime:            r.Datetime,
	}
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(string) (source.ParquetFile, error)   { return mfw, nil }

// Seek only reports the current size; the writer never seeks backwards.
func (mfw *memoryFileWriter) Seek(int64, int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// ParquetSink encodes the series as a parquet file.
type ParquetSink struct {
	Compression string
	Parallelism int64
}

func (ParquetSink) Name() string { return "parquet" }
func (ParquetSink) Ext() string  { return ".parquet" }

func (p ParquetSink) codec() parquet.CompressionCodec {
	switch p.Compression {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

func (p ParquetSink) Write(w io.Writer, series *models.Series) error {
	np := p.Parallelism
	if np < 1 {
		np = 1
	}

	fw := newMemoryFileWriter()
	pw, err := pqwriter.NewParquetWriter(fw, new(ParquetRecord), np)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = p.codec()

	for _, row := range series.Rows {
		if err := pw.Write(newParquetRecord(series, row)); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	_, err = w.Write(fw.Bytes())
	return err
}

// ReadParquet loads every record of a parquet file written by ParquetSink.
func ReadParquet(path string) ([]ParquetRecord, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(ParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	records := make([]ParquetRecord, int(pr.GetNumRows()))
	if len(records) == 0 {
		return records, nil
	}
	if err := pr.Read(&records); err != nil {
		return nil, fmt.Errorf("failed to read parquet records: %w", err)
	}
	return records, nil
}
