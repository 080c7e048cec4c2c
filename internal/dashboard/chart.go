package dashboard

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/wearables.relay/internal/channels"
	"github.com/banshee-data/wearables.relay/internal/httputil"
	"github.com/banshee-data/wearables.relay/internal/relay"
)

const chartAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleChart renders the buffered history of one stream as a line chart,
// one series per channel. Query params:
//   - source_id (required)
func (ws *WebServer) handleChart(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		httputil.BadRequest(w, "missing source_id")
		return
	}
	history := ws.state.Recent(sourceID)
	if len(history) == 0 {
		httputil.NotFound(w, "no samples buffered for source_id")
		return
	}

	line, err := buildLineChart(history)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	page := components.NewPage()
	page.SetAssetsHost(chartAssetsHost)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	httputil.NoCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// buildLineChart uses the latest sample for labels. Older samples with
// fewer channels leave gaps.
func buildLineChart(history []SamplePayload) (*charts.Line, error) {
	latest := history[len(history)-1]
	labels := channels.Labels(&relay.Sample{
		Stream:    relay.StreamInfo{Device: relay.DeviceInfo{Channel: latest.DeviceChannel}},
		Values:    latest.Values,
		AxisNames: latest.AxisNames,
	})
	if len(labels) == 0 {
		return nil, fmt.Errorf("stream %s has no channels", latest.SourceID)
	}

	origin := history[0].PlotTimestamp
	x := make([]string, len(history))
	for i, p := range history {
		x[i] = strconv.FormatFloat(p.PlotTimestamp-origin, 'f', 3, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: Title, Theme: "dark", Width: "100%", Height: "600px", AssetsHost: chartAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: latest.StreamName, Subtitle: fmt.Sprintf("source_id=%s samples=%d", latest.SourceID, len(history))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x)
	for i, label := range labels {
		data := make([]opts.LineData, len(history))
		for j, p := range history {
			if i < len(p.Values) {
				data[j] = opts.LineData{Value: p.Values[i]}
			} else {
				data[j] = opts.LineData{Value: "-"}
			}
		}
		if i < len(latest.AxisUnits) && latest.AxisUnits[i] != "" {
			label = fmt.Sprintf("%s (%s)", label, latest.AxisUnits[i])
		}
		line.AddSeries(label, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line, nil
}
