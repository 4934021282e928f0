package writer

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"klineflow/models"
)

const (
	colorBull = "#26a69a"
	colorBear = "#ef5350"
)

// ChartSink renders the series as a standalone HTML candlestick chart.
type ChartSink struct{}

func (ChartSink) Name() string { return "chart" }
func (ChartSink) Ext() string  { return ".html" }

func (ChartSink) Write(w io.Writer, series *models.Series) error {
	xAxis := make([]string, 0, len(series.Rows))
	data := make([]opts.KlineData, 0, len(series.Rows))
	for _, r := range series.Rows {
		xAxis = append(xAxis, r.Datetime)
		// echarts expects open, close, low, high.
		data = append(data, opts.KlineData{Value: [4]float64{
			r.Open.InexactFloat64(),
			r.Close.InexactFloat64(),
			r.Low.InexactFloat64(),
			r.High.InexactFloat64(),
		}})
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("%s %s", series.Symbol, series.Interval),
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s %s", series.Symbol, series.Interval),
			Subtitle: fmt.Sprintf("%s to %s", series.Start.UTC().Format(models.DatetimeLayout), series.End.UTC().Format(models.DatetimeLayout)),
			Left:     "left",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	kline.SetXAxis(xAxis)
	kline.AddSeries(series.Symbol, data)

	return kline.Render(w)
}
