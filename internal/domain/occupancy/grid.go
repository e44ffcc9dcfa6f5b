package occupancy

import (
	"errors"
	"time"
)

// ErrGridShape is returned for a non-positive window or step.
var ErrGridShape = errors.New("grid window and step must be positive")

// Grid is a time-space occupancy grid. Rows are time buckets of Step starting
// at From, columns follow Sections, and each cell is the peak number of trains
// on that section during the bucket.
type Grid struct {
	From     time.Time     `json:"from"`
	Step     time.Duration `json:"step"`
	Sections []string      `json:"sections"`
	Cells    [][]int       `json:"cells"`
}

// NewGrid samples the timelines keyed by section id. Sections without a
// timeline produce zero columns.
func NewGrid(sections []string, timelines map[string]*Timeline, from time.Time, window, step time.Duration) (*Grid, error) {
	if window <= 0 || step <= 0 {
		return nil, ErrGridShape
	}
	rows := int((window + step - 1) / step)
	g := &Grid{From: from, Step: step, Sections: append([]string(nil), sections...), Cells: make([][]int, rows)}
	for i := range g.Cells {
		g.Cells[i] = make([]int, len(sections))
	}
	for col, id := range sections {
		tl, ok := timelines[id]
		if !ok {
			continue
		}
		for row := range g.Cells {
			start := from.Add(time.Duration(row) * step)
			g.Cells[row][col] = tl.MaxConcurrent(start, start.Add(step))
		}
	}
	return g, nil
}

// Peak returns the largest cell value in column col, or 0 when out of range.
func (g *Grid) Peak(col int) int {
	best := 0
	for _, row := range g.Cells {
		if col >= 0 && col < len(row) && row[col] > best {
			best = row[col]
		}
	}
	return best
}
