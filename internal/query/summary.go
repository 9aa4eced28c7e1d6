package query

import (
	"context"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/sensorlake/internal/frame"
)

// ChannelSummary holds running statistics for one measurement channel over
// a query range, with DDSketch-backed percentiles.
type ChannelSummary struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64
	P50   float64
	P90   float64
	P95   float64
	P99   float64
}

// sketchAccuracy is the DDSketch relative accuracy (1% error).
const sketchAccuracy = 0.01

// fixed columns never summarized.
var nonChannel = map[string]bool{
	frame.TimestampColumn: true,
	"plant_name":          true,
	"machine_no":          true,
	"year":                true,
	"month":               true,
}

// Summarize runs a range query and reduces every measurement channel in the
// result to summary statistics. Null cells are skipped; a channel with no
// valid cells in the range is omitted from the result.
func (s *Service) Summarize(ctx context.Context, p Params) (map[string]ChannelSummary, error) {
	table, err := s.Query(ctx, p)
	if err != nil {
		return nil, err
	}

	type acc struct {
		count  int64
		sum    float64
		min    float64
		max    float64
		sketch *ddsketch.DDSketch
	}

	accs := make(map[string]*acc)
	for i, col := range table.Columns {
		if nonChannel[col] {
			continue
		}
		a := &acc{min: math.MaxFloat64, max: -math.MaxFloat64}
		if sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy); err == nil {
			a.sketch = sketch
		}
		accs[col] = a

		for _, row := range table.Rows {
			v, ok := row[i].(float64)
			if !ok {
				continue // null or non-numeric cell
			}
			a.count++
			a.sum += v
			if v < a.min {
				a.min = v
			}
			if v > a.max {
				a.max = v
			}
			if a.sketch != nil {
				a.sketch.Add(v)
			}
		}
	}

	summaries := make(map[string]ChannelSummary)
	for name, a := range accs {
		if a.count == 0 {
			continue
		}
		sum := ChannelSummary{
			Count: a.count,
			Sum:   a.sum,
			Min:   a.min,
			Max:   a.max,
			Avg:   a.sum / float64(a.count),
		}
		if a.sketch != nil {
			if qs, err := a.sketch.GetValuesAtQuantiles([]float64{0.5, 0.9, 0.95, 0.99}); err == nil {
				sum.P50, sum.P90, sum.P95, sum.P99 = qs[0], qs[1], qs[2], qs[3]
			}
		}
		summaries[name] = sum
	}
	return summaries, nil
}
