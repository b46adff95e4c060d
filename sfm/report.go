package sfm

import (
	"bytes"
	"math"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/edaniels/golog"
	"gonum.org/v1/gonum/stat"

	"github.com/fschwaiger/gosfm/track"
)

// RoundStats summarizes one growth round.
type RoundStats struct {
	Round            int
	Selected         []track.ViewID
	Reconstructed    []track.ViewID
	Rejected         []track.ViewID
	NewLandmarks     int
	MeanSquaredError float64
}

// FinalStats summarizes a finished reconstruction.
type FinalStats struct {
	Cameras          int
	Landmarks        int
	Observations     int
	MeanSquaredError float64
	Residuals        []float64
	TrackLengths     []float64
	Reconstructed    []track.ViewID
	Rejected         []track.ViewID
}

// Reporter receives progress notifications from a reconstruction run.
type Reporter interface {
	ObserveRound(stats RoundStats)
	Final(stats FinalStats)
}

type noopReporter struct{}

func (*noopReporter) ObserveRound(RoundStats) {}
func (*noopReporter) Final(FinalStats)        {}

// LogReporter logs round summaries, residual statistics and ascii
// histograms of the finished reconstruction.
type LogReporter struct {
	Logger golog.Logger
}

// ObserveRound implements Reporter.
func (r *LogReporter) ObserveRound(s RoundStats) {
	r.Logger.Infow("resection round",
		"round", s.Round,
		"selected", len(s.Selected),
		"reconstructed", s.Reconstructed,
		"rejected", s.Rejected,
		"new_landmarks", s.NewLandmarks,
		"rmse_px", math.Sqrt(s.MeanSquaredError),
	)
}

// Final implements Reporter.
func (r *LogReporter) Final(s FinalStats) {
	r.Logger.Infow("reconstruction finished",
		"cameras", s.Cameras,
		"landmarks", s.Landmarks,
		"observations", s.Observations,
		"rmse_px", math.Sqrt(s.MeanSquaredError),
		"rejected_views", s.Rejected,
	)
	if len(s.Residuals) == 0 {
		return
	}
	mean, stddev := stat.MeanStdDev(s.Residuals, nil)
	r.Logger.Infof("residuals: mean %.3f px, stddev %.3f px", mean, stddev)
	r.printHist("residual histogram (px)", s.Residuals)
	r.printHist("track length histogram", s.TrackLengths)
}

func (r *LogReporter) printHist(title string, data []float64) {
	hist := histogram.Hist(10, data)
	var buf bytes.Buffer
	if err := histogram.Fprint(&buf, hist, histogram.Linear(40)); err != nil {
		r.Logger.Debugw("could not render histogram", "error", err)
		return
	}
	r.Logger.Infof("%s:\n%s", title, buf.String())
}
