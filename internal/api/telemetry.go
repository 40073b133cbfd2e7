package api

import (
	"bytes"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/cozmonaut/cozmonaut/internal/httputil"
	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/robot"
)

const (
	defaultSampleLimit = 500
	maxSampleLimit     = 10000
)

// BatteryStats summarises stored battery samples.
type BatteryStats struct {
	Robot   robot.ID  `json:"robot"`
	Samples int       `json:"samples"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Mean    float64   `json:"mean"`
	StdDev  float64   `json:"std_dev"`
	Min     float64   `json:"min"`
	Median  float64   `json:"median"`
	Max     float64   `json:"max"`

	// VoltsPerHour is the least-squares slope over the window; negative
	// while discharging. Zero with fewer than two samples.
	VoltsPerHour float64 `json:"volts_per_hour"`
}

// ComputeBatteryStats summarises samples, which must be oldest first.
func ComputeBatteryStats(id robot.ID, samples []monitor.Sample) BatteryStats {
	st := BatteryStats{Robot: id, Samples: len(samples)}
	if len(samples) == 0 {
		return st
	}
	volts := make([]float64, len(samples))
	hours := make([]float64, len(samples))
	for i, s := range samples {
		volts[i] = s.X
		hours[i] = s.At.Sub(samples[0].At).Hours()
	}
	st.From, st.To = samples[0].At, samples[len(samples)-1].At
	st.Mean = stat.Mean(volts, nil)
	st.Min, st.Max = floats.Min(volts), floats.Max(volts)

	sorted := slices.Clone(volts)
	slices.Sort(sorted)
	st.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	if len(samples) > 1 {
		st.StdDev = stat.StdDev(volts, nil)
		if hours[len(hours)-1] > 0 {
			_, st.VoltsPerHour = stat.LinearRegression(hours, volts, nil, false)
		}
	}
	return st
}

func (s *Server) samples(w http.ResponseWriter, r *http.Request, ch monitor.Channel) (robot.ID, []monitor.Sample, bool) {
	id, ok := robotID(w, r)
	if !ok || !s.requireDB(w) {
		return 0, nil, false
	}
	limit, ok := queryLimit(w, r, defaultSampleLimit, maxSampleLimit)
	if !ok {
		return 0, nil, false
	}
	samples, err := s.db.Samples(r.Context(), id, ch, time.Time{}, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve samples: %v", err))
		return 0, nil, false
	}
	return id, samples, true
}

func (s *Server) batteryStats(w http.ResponseWriter, r *http.Request) {
	id, samples, ok := s.samples(w, r, monitor.ChannelBattery)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, ComputeBatteryStats(id, samples))
}

// batteryPlot renders stored battery voltage as a PNG line plot.
func (s *Server) batteryPlot(w http.ResponseWriter, r *http.Request) {
	id, samples, ok := s.samples(w, r, monitor.ChannelBattery)
	if !ok {
		return
	}
	if len(samples) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no battery samples for robot %d", id))
		return
	}

	pts := make(plotter.XYs, len(samples))
	for i, smp := range samples {
		pts[i] = plotter.XY{X: float64(smp.At.Unix()), Y: smp.X}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Battery voltage, robot %d", id)
	p.X.Label.Text = "Time"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04:05"}
	p.Y.Label.Text = "Volts"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	line.Width = vg.Points(1)
	p.Add(line)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// chartSeries names the components plotted for each channel.
var chartSeries = map[monitor.Channel][]string{
	monitor.ChannelBattery:       {"volts"},
	monitor.ChannelAccelerometer: {"x", "y", "z"},
	monitor.ChannelGyroscope:     {"x", "y", "z"},
	monitor.ChannelWheelSpeeds:   {"left", "right"},
}

// telemetryChart renders one channel as an HTML line chart. Query params:
//   - channel (default battery)
//   - limit (default 500)
func (s *Server) telemetryChart(w http.ResponseWriter, r *http.Request) {
	ch := monitor.Channel(r.URL.Query().Get("channel"))
	if ch == "" {
		ch = monitor.ChannelBattery
	}
	series, known := chartSeries[ch]
	if !known {
		httputil.BadRequest(w, fmt.Sprintf("unknown channel %q", ch))
		return
	}
	id, samples, ok := s.samples(w, r, ch)
	if !ok {
		return
	}

	x := make([]string, len(samples))
	data := make([][]opts.LineData, len(series))
	for i, smp := range samples {
		x[i] = smp.At.Format("15:04:05.000")
		vals := []float64{smp.X, smp.Y, smp.Z}
		for j := range series {
			data[j] = append(data[j], opts.LineData{Value: vals[j]})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Robot Telemetry", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Robot %d %s", id, ch), Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x)
	for j, name := range series {
		line.AddSeries(name, data[j], charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
