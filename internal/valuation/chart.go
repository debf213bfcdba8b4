package valuation

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// RenderStatisticChart renders a PNG line chart of total portfolio value over
// time, answering §1's "statistic series suitable for charting" output.
func RenderStatisticChart(series []Statistic) ([]byte, error) {
	if len(series) < 2 {
		return nil, fmt.Errorf("valuation: need at least 2 statistic points, got %d", len(series))
	}

	xValues := make([]time.Time, len(series))
	yValues := make([]float64, len(series))
	for i, s := range series {
		xValues[i] = s.Date
		yValues[i] = s.TotalUSD
	}

	span := xValues[len(xValues)-1].Sub(xValues[0])
	xFormat := "Jan 06"
	switch {
	case span < 60*24*time.Hour:
		xFormat = "02 Jan"
	case span > 18*30*24*time.Hour:
		xFormat = "Jan 2006"
	}

	valueSeries := chart.TimeSeries{
		Name: "Portfolio Value",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"),
			StrokeWidth: 2.5,
		},
		XValues: xValues,
		YValues: yValues,
	}

	graph := chart.Chart{
		Title:  "Portfolio Value",
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format(xFormat)
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.0fk", f/1000)
				}
				return ""
			},
		},
		Series: []chart.Series{valueSeries},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("valuation: chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}
