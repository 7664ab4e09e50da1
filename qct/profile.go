package qct

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// Sample is the palette index found at one chart pixel.
type Sample struct {
	LatLon
	X     int   `json:"x"`
	Y     int   `json:"y"`
	Index uint8 `json:"index"`
}

// Profile samples the chart along a path of geographic positions, visiting every
// pixel crossed by each segment once, at the chart's native resolution.
func (tc *TileCache) Profile(path []LatLon) ([]Sample, error) {
	if len(path) < 2 {
		return nil, errors.New("at least two positions are required to create a profile")
	}

	c := tc.chart
	var samples []Sample
	visited := make(map[image.Point]struct{})

	for i := 0; i < len(path)-1; i++ {
		from, to := path[i], path[i+1]
		x1, y1, ok := c.PixelAt(from.Lat, from.Lon)
		if !ok {
			return nil, fmt.Errorf("position %d %v lies outside the chart", i, from)
		}
		x2, y2, ok := c.PixelAt(to.Lat, to.Lon)
		if !ok {
			return nil, fmt.Errorf("position %d %v lies outside the chart", i+1, to)
		}

		dx, dy := float64(x2-x1), float64(y2-y1)
		steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
		if steps == 0 {
			steps = 1
		}
		xInc, yInc := dx/float64(steps), dy/float64(steps)

		for j := 0; j <= steps; j++ {
			p := image.Pt(x1+int(math.Round(float64(j)*xInc)), y1+int(math.Round(float64(j)*yInc)))
			if _, ok := visited[p]; ok {
				continue
			}
			visited[p] = struct{}{}

			idx, err := tc.IndexAt(p.X, p.Y)
			if err != nil {
				return nil, fmt.Errorf("failed to sample pixel (%d, %d): %w", p.X, p.Y, err)
			}
			samples = append(samples, Sample{LatLon: c.LatLonAt(p.X, p.Y), X: p.X, Y: p.Y, Index: idx})
		}
	}
	return samples, nil
}
