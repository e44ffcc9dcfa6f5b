// Package network loads the static description of a railway network from a
// YAML file: its sections and the rolling stock that runs on them.
package network

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/okian/railflow/internal/domain/model"
)

// ErrEmpty is returned for a file that declares no sections.
var ErrEmpty = errors.New("network declares no sections")

// File is the on-disk shape.
type File struct {
	Sections     []SectionConfig      `yaml:"sections"`
	RollingStock []RollingStockConfig `yaml:"rolling_stock"`
}

type SectionConfig struct {
	SectionID   string         `yaml:"section_id"`
	StartPoint  string         `yaml:"start_point"`
	EndPoint    string         `yaml:"end_point"`
	Length      float64        `yaml:"length"`
	MaxSpeed    float64        `yaml:"max_speed"`
	Capacity    int            `yaml:"capacity"`
	Gradient    float64        `yaml:"gradient"`
	TrackType   string         `yaml:"track_type"`
	Electrified bool           `yaml:"electrified"`
	Stations    []string       `yaml:"stations"`
	Curves      []CurveConfig  `yaml:"curves"`
	Signals     []SignalConfig `yaml:"signals"`
}

type CurveConfig struct {
	Radius float64 `yaml:"radius"`
	Length float64 `yaml:"length"`
}

type SignalConfig struct {
	Position float64 `yaml:"position"`
	Type     string  `yaml:"type"`
}

type RollingStockConfig struct {
	TrainID           string   `yaml:"train_id"`
	Type              string   `yaml:"type"`
	Length            float64  `yaml:"length"`
	MaxSpeed          float64  `yaml:"max_speed"`
	Acceleration      float64  `yaml:"acceleration"`
	Deceleration      float64  `yaml:"deceleration"`
	Weight            float64  `yaml:"weight"`
	PowerType         string   `yaml:"power_type"`
	PassengerCapacity *int     `yaml:"passenger_capacity"`
	CargoCapacity     *float64 `yaml:"cargo_capacity"`
}

// Network is a validated topology.
type Network struct {
	Sections      []model.Section
	TrackSections []model.TrackSection
	RollingStock  []model.RollingStock
}

// Load reads and parses the file at path.
func Load(path string) (*Network, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// Parse decodes and validates a YAML network description.
func Parse(raw []byte) (*Network, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode network: %w", err)
	}
	return f.Build()
}

// Build converts the file into domain types and validates every entry.
func (f *File) Build() (*Network, error) {
	if len(f.Sections) == 0 {
		return nil, ErrEmpty
	}
	n := &Network{}
	seen := make(map[string]struct{}, len(f.Sections))
	for i := range f.Sections {
		sc := &f.Sections[i]
		if _, dup := seen[sc.SectionID]; dup {
			return nil, fmt.Errorf("section %s declared twice: %w", sc.SectionID, model.ErrInvalid)
		}
		seen[sc.SectionID] = struct{}{}

		ts := sc.trackSection()
		if err := ts.Validate(); err != nil {
			return nil, err
		}
		s := sc.section()
		if err := s.Validate(); err != nil {
			return nil, err
		}
		n.Sections = append(n.Sections, s)
		n.TrackSections = append(n.TrackSections, ts)
	}
	stock := make(map[string]struct{}, len(f.RollingStock))
	for _, rc := range f.RollingStock {
		if _, dup := stock[rc.TrainID]; dup {
			return nil, fmt.Errorf("rolling stock %s declared twice: %w", rc.TrainID, model.ErrInvalid)
		}
		stock[rc.TrainID] = struct{}{}
		r := model.RollingStock(rc)
		if err := r.Validate(); err != nil {
			return nil, err
		}
		n.RollingStock = append(n.RollingStock, r)
	}
	return n, nil
}

func (sc *SectionConfig) trackSection() model.TrackSection {
	tt := model.TrackType(sc.TrackType)
	if tt == "" {
		tt = model.TrackMain
	}
	ts := model.TrackSection{
		SectionID:   sc.SectionID,
		TrackType:   tt,
		LengthKM:    sc.Length,
		MaxSpeed:    sc.MaxSpeed,
		Gradient:    sc.Gradient,
		Stations:    sc.Stations,
		Electrified: sc.Electrified,
	}
	for _, c := range sc.Curves {
		ts.Curves = append(ts.Curves, model.Curve(c))
	}
	for _, s := range sc.Signals {
		ts.Signals = append(ts.Signals, model.Signal{Position: s.Position, Type: model.SignalType(s.Type)})
	}
	return ts
}

func (sc *SectionConfig) section() model.Section {
	capacity := sc.Capacity
	if capacity == 0 {
		capacity = 1
	}
	positions := make([]float64, 0, len(sc.Signals))
	for _, s := range sc.Signals {
		positions = append(positions, s.Position)
	}
	sort.Float64s(positions)
	return model.Section{
		SectionID:       sc.SectionID,
		StartPoint:      sc.StartPoint,
		EndPoint:        sc.EndPoint,
		Length:          sc.Length,
		MaxSpeed:        sc.MaxSpeed,
		Capacity:        capacity,
		SignalPositions: positions,
		Gradient:        sc.Gradient,
	}
}
