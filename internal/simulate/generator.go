package simulate

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/railflow/internal/domain/model"
)

// Sample generation ranges.
const (
	baseLatitude  = 52.0
	baseLongitude = 4.5
	trainSpacing  = 0.05 // degrees between train origins
	stepDegrees   = 0.002
	minSpeed      = 40.0
	speedRange    = 80.0
	maxDelayS     = 600
)

var statuses = []string{"running", "running", "running", "stopped", "delayed"} //nolint:gochecknoglobals // weighted pick list

// generate builds the telemetry for every train followed by the injected
// duplicates. It returns the samples and the number of duplicates.
func generate(cfg *Config, start time.Time) ([]model.RealTimeData, int) {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	out := make([]model.RealTimeData, 0, cfg.Trains*cfg.SamplesPerTrain)
	for t := 0; t < cfg.Trains; t++ {
		trainID := trainName(t)
		delay := 0
		for i := 0; i < cfg.SamplesPerTrain; i++ {
			// Trains advance one section every SamplesPerTrain/len(Sections) samples.
			sec := i * len(cfg.Sections) / cfg.SamplesPerTrain
			delay += rng.IntN(60) - 20
			delay = max(0, min(delay, maxDelayS))
			out = append(out, model.RealTimeData{
				EventID:   uuid.NewString(),
				Timestamp: start.Add(time.Duration(i) * cfg.Interval),
				TrainID:   trainID,
				Position: model.Position{
					Latitude:  baseLatitude + float64(t)*trainSpacing + float64(i)*stepDegrees,
					Longitude: baseLongitude + float64(i)*stepDegrees,
				},
				Speed:       minSpeed + rng.Float64()*speedRange,
				Direction:   float64(rng.IntN(360)),
				SectionID:   cfg.Sections[sec],
				Delay:       delay,
				Status:      statuses[rng.IntN(len(statuses))],
				NextStation: cfg.Sections[min(sec+1, len(cfg.Sections)-1)],
			})
		}
	}

	dups := int(float64(len(out)) * cfg.DuplicateRate)
	for i := 0; i < dups; i++ {
		out = append(out, out[rng.IntN(len(out)-i)])
	}
	return out, dups
}

func trainName(i int) string {
	return fmt.Sprintf("SIM%03d", i+1)
}
