package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	appconfig "klineflow/config"
	"klineflow/internal/metrics"
	"klineflow/logger"
	"klineflow/models"
)

const component = "persister"

// Sink encodes a finalized series into one artifact format.
type Sink interface {
	Name() string
	Ext() string
	Write(w io.Writer, series *models.Series) error
}

// Uploader copies a persisted file to remote storage.
type Uploader interface {
	Upload(ctx context.Context, localPath, runID string) (string, error)
}

// Meta carries run-level values stamped onto persisted artifacts.
type Meta struct {
	RunID string
}

// FileStem is the base name shared by every artifact of one symbol:
// "{symbol} {interval}_{start}_{end}".
func FileStem(symbol, interval string, start, end time.Time) string {
	return fmt.Sprintf("%s %s_%s_%s",
		symbol,
		interval,
		start.UTC().Format(models.DatetimeLayout),
		end.UTC().Format(models.DatetimeLayout),
	)
}

// Persister writes finalized series to the output directory.
type Persister struct {
	dir       string
	createDir bool
	manifest  bool
	sinks     []Sink
	uploader  Uploader
	log       *logger.Log
}

// Option configures a Persister.
type Option func(*Persister)

// WithUploader uploads every written artifact after the local write.
func WithUploader(u Uploader) Option {
	return func(p *Persister) { p.uploader = u }
}

// WithSinks replaces the sinks derived from configuration.
func WithSinks(sinks ...Sink) Option {
	return func(p *Persister) { p.sinks = sinks }
}

// NewPersister builds a persister for the writer section of cfg.
func NewPersister(cfg *appconfig.Config, opts ...Option) *Persister {
	wcfg := cfg.Writer
	p := &Persister{
		dir:       wcfg.OutputDir,
		createDir: wcfg.CreateDir,
		manifest:  wcfg.Manifest,
		log:       logger.GetLogger(),
	}
	if wcfg.Formats.CSV.Enabled {
		p.sinks = append(p.sinks, CSVSink{})
	}
	if wcfg.Formats.Parquet.Enabled {
		p.sinks = append(p.sinks, ParquetSink{
			Compression: wcfg.Formats.Parquet.Compression,
			Parallelism: wcfg.Formats.Parquet.Parallelism,
		})
	}
	if wcfg.Formats.Chart.Enabled {
		p.sinks = append(p.sinks, ChartSink{})
	}
	for _, opt := range opts {
		opt(p)
	}

	p.log.WithComponent(component).WithFields(logger.Fields{
		"output_dir": p.dir,
		"sinks":      len(p.sinks),
		"manifest":   p.manifest,
		"upload":     p.uploader != nil,
	}).Info("persister initialized")
	return p
}

// Dir returns the output directory.
func (p *Persister) Dir() string { return p.dir }

// Persist writes series through every sink and returns the local paths
// written, followed by remote locations when an uploader is set. The first
// failure stops this series and is returned as a *PersistenceError.
func (p *Persister) Persist(ctx context.Context, series *models.Series, meta Meta) ([]string, error) {
	stats := metrics.WriterStats{Symbol: series.Symbol}
	defer func() { metrics.ReportWriter(p.log, component, stats) }()

	log := p.log.WithComponent(component).WithFields(logger.Fields{
		"symbol": series.Symbol,
		"rows":   series.Len(),
		"run_id": meta.RunID,
	})

	fail := func(sink, path string, err error) error {
		stats.ErrorsCount++
		perr := &PersistenceError{Symbol: series.Symbol, Sink: sink, Path: path, Err: err}
		log.WithError(err).WithFields(logger.Fields{"sink": sink, "path": path}).Error("failed to persist series")
		return perr
	}

	if err := p.ensureDir(); err != nil {
		return nil, fail("dir", p.dir, err)
	}

	stem := FileStem(series.Symbol, series.Interval, series.Start, series.End)
	var (
		written []string
		files   []ManifestFile
	)
	for _, sink := range p.sinks {
		path := filepath.Join(p.dir, stem+sink.Ext())
		size, err := writeFile(path, sink, series)
		if err != nil {
			return written, fail(sink.Name(), path, err)
		}
		stats.FilesWritten++
		stats.RowsWritten += int64(series.Len())
		stats.BytesWritten += size
		logger.IncrementFileWritten(size)
		logger.LogDataFlowEntry(log, "aggregator", sink.Name(), series.Len(), "kline")

		written = append(written, path)
		files = append(files, ManifestFile{
			Path:        path,
			Format:      sink.Name(),
			FileSize:    size,
			RecordCount: int64(series.Len()),
		})
	}

	if p.manifest {
		path, err := WriteManifest(p.dir, stem, Manifest{
			RunID:    meta.RunID,
			Symbol:   series.Symbol,
			Interval: series.Interval,
			Start:    series.Start.UTC().Format(models.DatetimeLayout),
			End:      series.End.UTC().Format(models.DatetimeLayout),
			Files:    files,
		})
		if err != nil {
			return written, fail("manifest", path, err)
		}
		written = append(written, path)
	}

	if p.uploader != nil {
		local := append([]string(nil), written...)
		for _, path := range local {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			loc, err := p.uploader.Upload(ctx, path, meta.RunID)
			if err != nil {
				return written, fail("s3", path, err)
			}
			written = append(written, loc)
		}
	}

	log.WithFields(logger.Fields{"files": len(written)}).Info("series persisted")
	return written, nil
}

func (p *Persister) ensureDir() error {
	info, err := os.Stat(p.dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("%s is not a directory", p.dir)
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist) && p.createDir:
		return os.MkdirAll(p.dir, 0o755)
	default:
		return err
	}
}

func writeFile(path string, sink Sink, series *models.Series) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if err := sink.Write(f, series); err != nil {
		f.Close()
		os.Remove(path)
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
