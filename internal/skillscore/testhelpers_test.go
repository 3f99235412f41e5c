package skillscore

import (
	"time"

	"github.com/INESCTEC/predico-collabforecast-sub000/internal/frame"
)

func buildFrame(idx []time.Time, columns map[string][]float64) *frame.Frame {
	f := frame.NewFromIndex(idx)
	for name, values := range columns {
		f.SetColumn(name, idx, values)
	}
	return f
}

func constSeries(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
