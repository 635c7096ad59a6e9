package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/httputil"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
	"github.com/banshee-data/deauth.watch/internal/timeutil"
)

// RenderTimeline writes an HTML scatter chart of alerts: one series per
// attacker, time on x, mean RSSI on y. recs must be grouped by attacker.
func RenderTimeline(w io.Writer, recs []event.Record, subtitle string) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Deauth alerts", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Deauthentication alerts", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "time", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "RSSI (dBm)", NameLocation: "middle", NameGap: 40}),
	)
	for _, g := range GroupByAttacker(recs) {
		data := make([]opts.ScatterData, 0, len(g.Events))
		for _, r := range g.Events {
			data = append(data, opts.ScatterData{
				Name:  r.Sensor.String(),
				Value: []interface{}{timeutil.FromMicros(r.Timestamp).UnixMilli(), r.RSSIMean},
			})
		}
		scatter.AddSeries(g.Attacker.String(), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}
	return scatter.Render(w)
}

func (s *Server) timelineChart(w http.ResponseWriter, r *http.Request) {
	center, window, err := s.windowParams(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	recs, err := s.events.EventsInWindow(r.Context(), center, window)
	if err != nil {
		httputil.InternalServerError(w, "failed to query events")
		monitoring.Logf("[api] timeline query failed: %v", err)
		return
	}
	var buf bytes.Buffer
	subtitle := fmt.Sprintf("%s ± %dµs, %d alerts", timeutil.FromMicros(center).UTC().Format("2006-01-02 15:04:05"), window, len(recs))
	if err := RenderTimeline(&buf, recs, subtitle); err != nil {
		httputil.InternalServerError(w, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
