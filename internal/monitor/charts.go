package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/banshee-data/anchorplace/internal/journal"
	"github.com/banshee-data/anchorplace/internal/session"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handlePoolChart renders instance pool usage across a session's events.
// Query params:
//   - session_id (optional; defaults to the live session)
//   - style (optional; "line" (default) or "bar")
func (ws *WebServer) handlePoolChart(w http.ResponseWriter, r *http.Request) {
	if ws.journal == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	id := ws.sessionParam(r)
	if id == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'session_id' parameter")
		return
	}
	style := r.URL.Query().Get("style")
	if style == "" {
		style = "line"
	}
	if style != "line" && style != "bar" {
		ws.writeJSONError(w, http.StatusBadRequest, "'style' must be line or bar")
		return
	}

	events, err := ws.journal.ListEvents(r.Context(), journal.EventFilter{SessionID: id, Limit: 5000})
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list events: %v", err))
		return
	}
	if len(events) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no events for session")
		return
	}

	var buf bytes.Buffer
	if err := renderPoolChart(&buf, id, style, events); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// poolSeries extracts the x axis labels and the issued/remaining series.
func poolSeries(events []session.Event) (x []string, issued, remaining []int) {
	for i, ev := range events {
		x = append(x, fmt.Sprintf("%d %s", i+1, ev.Kind))
		issued = append(issued, ev.InstancesIssued)
		remaining = append(remaining, ev.InstancesRemaining)
	}
	return x, issued, remaining
}

func renderPoolChart(buf *bytes.Buffer, sessionID, style string, events []session.Event) error {
	x, issued, remaining := poolSeries(events)
	subtitle := fmt.Sprintf("session=%s events=%d", sessionID, len(events))

	global := []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Instance Pool", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Instance Pool Usage", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "instances", Min: 0}),
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)

	switch style {
	case "bar":
		bar := charts.NewBar()
		bar.SetGlobalOptions(global...)
		bar.SetXAxis(x).
			AddSeries("issued", toBarData(issued)).
			AddSeries("remaining", toBarData(remaining))
		page.AddCharts(bar)
	default:
		line := charts.NewLine()
		line.SetGlobalOptions(global...)
		line.SetXAxis(x).
			AddSeries("issued", toLineData(issued)).
			AddSeries("remaining", toLineData(remaining))
		page.AddCharts(line)
	}
	return page.Render(buf)
}

func toLineData(vals []int) []opts.LineData {
	out := make([]opts.LineData, len(vals))
	for i, v := range vals {
		out[i] = opts.LineData{Value: v}
	}
	return out
}

func toBarData(vals []int) []opts.BarData {
	out := make([]opts.BarData, len(vals))
	for i, v := range vals {
		out[i] = opts.BarData{Value: v}
	}
	return out
}
