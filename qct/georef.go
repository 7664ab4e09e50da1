package qct

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Polynomial is a bivariate cubic with coefficients ordered
// c, x, y, x², xy, y², x³, x²y, xy², y³.
type Polynomial [10]float64

// Eval evaluates the polynomial at (x, y).
func (p Polynomial) Eval(x, y float64) float64 {
	x2, y2 := x*x, y*y
	return p[0] + p[1]*x + p[2]*y + p[3]*x2 + p[4]*x*y + p[5]*y2 +
		p[6]*x2*x + p[7]*x2*y + p[8]*x*y2 + p[9]*y2*y
}

// Georef holds the four georeferencing polynomials in file order and the datum shift.
//
// Lat and Lon take pixel (x, y). East and North are stored as
// c, lat, lon, lat², lat·lon, lon², lat³, lat²·lon, lat·lon², lon³ and therefore
// evaluate as Eval(lat, lon), yielding pixel x and y respectively.
type Georef struct {
	East  Polynomial
	North Polynomial
	Lat   Polynomial
	Lon   Polynomial

	DatumShiftNorth float64
	DatumShiftEast  float64
}

func readGeoref(cur *cursor, shiftNorth, shiftEast float64) Georef {
	g := Georef{DatumShiftNorth: shiftNorth, DatumShiftEast: shiftEast}
	for _, p := range []*Polynomial{&g.East, &g.North, &g.Lat, &g.Lon} {
		for i := range p {
			p[i] = cur.f64()
		}
	}
	return g
}

// LatLon converts pixel coordinates to latitude and longitude in degrees,
// datum shift included. No clipping is applied here.
func (g *Georef) LatLon(x, y float64) (lat, lon float64) {
	lat = g.Lat.Eval(x, y) + g.DatumShiftNorth
	lon = g.Lon.Eval(x, y) + g.DatumShiftEast
	return lat, lon
}

// Pixel converts latitude and longitude to fractional pixel coordinates with the
// east/north polynomials.
func (g *Georef) Pixel(lat, lon float64) (x, y float64) {
	lat -= g.DatumShiftNorth
	lon -= g.DatumShiftEast
	return g.East.Eval(lat, lon), g.North.Eval(lat, lon)
}

// LatLon is a geographic position in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p LatLon) String() string { return fmt.Sprintf("(Lat: %f, Lon: %f)", p.Lat, p.Lon) }

// Point returns p as an orb point (lon, lat).
func (p LatLon) Point() orb.Point { return orb.Point{p.Lon, p.Lat} }

// Corners holds the geocoordinates of the four corners of a pixel rectangle.
type Corners struct {
	TopLeft     LatLon `json:"top_left"`
	TopRight    LatLon `json:"top_right"`
	BottomLeft  LatLon `json:"bottom_left"`
	BottomRight LatLon `json:"bottom_right"`
}

// Center is the average of the four corners.
func (c Corners) Center() LatLon {
	return LatLon{
		Lat: (c.TopLeft.Lat + c.TopRight.Lat + c.BottomLeft.Lat + c.BottomRight.Lat) / 4,
		Lon: (c.TopLeft.Lon + c.TopRight.Lon + c.BottomLeft.Lon + c.BottomRight.Lon) / 4,
	}
}

// Bound returns the smallest lon/lat box containing the corners.
func (c Corners) Bound() orb.Bound {
	return orb.MultiPoint{
		c.TopLeft.Point(), c.TopRight.Point(), c.BottomLeft.Point(), c.BottomRight.Point(),
	}.Bound()
}

// LatLonAt converts absolute pixel coordinates to latitude/longitude. Coordinates
// outside the raster are clipped to its edges rather than extrapolated.
func (c *Chart) LatLonAt(x, y int) LatLon {
	x = clamp(x, 0, c.Header.Width*TileSize-1)
	y = clamp(y, 0, c.Header.Height*TileSize-1)
	lat, lon := c.Georef.LatLon(float64(x), float64(y))
	return LatLon{Lat: lat, Lon: lon}
}

// PixelAt converts latitude/longitude to the nearest absolute pixel. ok is false
// when the pixel falls outside the raster.
func (c *Chart) PixelAt(lat, lon float64) (x, y int, ok bool) {
	fx, fy := c.Georef.Pixel(lat, lon)
	// NaN fails both comparisons.
	if !(fx >= -0.5 && fx < float64(c.Header.Width*TileSize)-0.5) ||
		!(fy >= -0.5 && fy < float64(c.Header.Height*TileSize)-0.5) {
		return 0, 0, false
	}
	return int(fx + 0.5), int(fy + 0.5), true
}

// Corners returns the geocoordinates of the corner pixels of the whole chart.
func (c *Chart) Corners() Corners {
	w, h := c.Header.Width*TileSize-1, c.Header.Height*TileSize-1
	return Corners{
		TopLeft:     c.LatLonAt(0, 0),
		TopRight:    c.LatLonAt(w, 0),
		BottomLeft:  c.LatLonAt(0, h),
		BottomRight: c.LatLonAt(w, h),
	}
}

// Contains reports whether (lat, lon) lies inside the chart outline. Charts
// without an outline fall back to the bounding box of their corners.
func (c *Chart) Contains(lat, lon float64) bool {
	p := orb.Point{lon, lat}
	if len(c.outline) >= 4 {
		return planar.RingContains(c.outline, p)
	}
	return c.Corners().Bound().Contains(p)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
