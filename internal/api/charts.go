package api

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/speedwatch/internal/db"
	"github.com/banshee-data/speedwatch/internal/httputil"
	"github.com/banshee-data/speedwatch/internal/units"
)

const (
	echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"
	defaultBucketKmh    = 5.0
	maxChartDays        = 365
)

type histogramQuery struct {
	since     time.Time
	days      int
	bucketKmh float64
	limitKmh  float64
}

// parseHistogramQuery reads ?days=N (whole local days including today)
// and ?bucket=km/h.
func (s *Server) parseHistogramQuery(r *http.Request) (histogramQuery, error) {
	cal := s.cfg.Store.Load()
	q := histogramQuery{days: 1, bucketKmh: defaultBucketKmh, limitKmh: cal.SpeedLimitKmh}
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 || parsed > maxChartDays {
			return q, errors.New("invalid 'days' parameter")
		}
		q.days = parsed
	}
	if b := r.URL.Query().Get("bucket"); b != "" {
		parsed, err := strconv.ParseFloat(b, 64)
		if err != nil || parsed < 1 || parsed > 100 {
			return q, errors.New("invalid 'bucket' parameter")
		}
		q.bucketKmh = parsed
	}
	today := startOfDay(s.cfg.Clock.Now(), units.LocationOrUTC(cal.Timezone))
	q.since = today.AddDate(0, 0, -(q.days - 1))
	return q, nil
}

func (s *Server) histogram(w http.ResponseWriter, r *http.Request) (histogramQuery, []db.HistogramBucket, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return histogramQuery{}, nil, false
	}
	if s.cfg.History == nil {
		httputil.ServiceUnavailable(w, "speed history is not available")
		return histogramQuery{}, nil, false
	}
	q, err := s.parseHistogramQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return q, nil, false
	}
	buckets, err := s.cfg.History.SpeedHistogram(r.Context(), q.since, q.bucketKmh)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to build histogram: %v", err))
		return q, nil, false
	}
	return q, buckets, true
}

func bucketLabel(b db.HistogramBucket) string {
	return fmt.Sprintf("%g-%g", b.LowerKmh, b.UpperKmh)
}

// speedChart renders the vehicle speed histogram as an echarts page.
func (s *Server) speedChart(w http.ResponseWriter, r *http.Request) {
	q, buckets, ok := s.histogram(w, r)
	if !ok {
		return
	}

	x := make([]string, len(buckets))
	within := make([]opts.BarData, len(buckets))
	over := make([]opts.BarData, len(buckets))
	for i, b := range buckets {
		x[i] = bucketLabel(b)
		within[i] = opts.BarData{Value: b.Count - b.Overspeed}
		over[i] = opts.BarData{Value: b.Overspeed}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Vehicle speeds", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Vehicle speeds",
			Subtitle: fmt.Sprintf("since %s, limit %g km/h", q.since.Format(time.DateOnly), q.limitKmh),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "km/h", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vehicles"}),
	)
	bar.SetXAxis(x).
		AddSeries("within limit", within, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#35b779"})).
		AddSeries("overspeed", over, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#d62728"}))
	bar.SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{Stack: "vehicles"}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// speedChartPNG renders the same histogram as a static image.
func (s *Server) speedChartPNG(w http.ResponseWriter, r *http.Request) {
	q, buckets, ok := s.histogram(w, r)
	if !ok {
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Vehicle speeds since %s", q.since.Format(time.DateOnly))
	p.X.Label.Text = "km/h"
	p.Y.Label.Text = "vehicles"

	if len(buckets) > 0 {
		within := make(plotter.Values, len(buckets))
		over := make(plotter.Values, len(buckets))
		labels := make([]string, len(buckets))
		for i, b := range buckets {
			within[i] = float64(b.Count - b.Overspeed)
			over[i] = float64(b.Overspeed)
			labels[i] = bucketLabel(b)
		}
		barWidth := vg.Points(12)
		withinBars, err := plotter.NewBarChart(within, barWidth)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("plot error: %v", err))
			return
		}
		withinBars.Color = color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 0xff}
		overBars, err := plotter.NewBarChart(over, barWidth)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("plot error: %v", err))
			return
		}
		overBars.Color = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
		overBars.StackOn(withinBars)

		p.Add(withinBars, overBars)
		p.Legend.Add("within limit", withinBars)
		p.Legend.Add("overspeed", overBars)
		p.Legend.Top = true
		p.NominalX(labels...)
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("plot error: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
