package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"github.com/akhenakh/qctapi/qct"
)

// api serves one chart over HTTP.
type api struct {
	chart          *qct.Chart
	tiles          *qct.TileCache
	maxWindowTiles int
	logger         *slog.Logger
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metadata", a.metadataHandler)
	mux.HandleFunc("GET /palette", a.paletteHandler)
	mux.HandleFunc("GET /latlon/{x}/{y}", a.latLonHandler)
	mux.HandleFunc("GET /pixel/{lat}/{lon}", a.pixelHandler)
	mux.HandleFunc("GET /raster/{x}/{y}/{w}/{h}", a.rasterHandler)
	mux.HandleFunc("GET /overlay/{x}/{y}/{w}/{h}", a.overlayHandler)
	mux.HandleFunc("POST /profile", a.profileHandler)
	return mux
}

type metadataResponse struct {
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	PixelWidth  int           `json:"pixel_width"`
	PixelHeight int           `json:"pixel_height"`
	Version     int32         `json:"version"`
	Title       string        `json:"title"`
	Name        string        `json:"name"`
	Identifier  string        `json:"identifier"`
	Edition     string        `json:"edition"`
	Revision    string        `json:"revision"`
	Keywords    string        `json:"keywords"`
	Copyright   string        `json:"copyright"`
	Scale       string        `json:"scale"`
	Datum       string        `json:"datum"`
	Depths      string        `json:"depths"`
	Heights     string        `json:"heights"`
	Projection  string        `json:"projection"`
	MapType     string        `json:"map_type"`
	DiskName    string        `json:"disk_name"`
	Flags       uint32        `json:"flags"`
	DatumShift  [2]float64    `json:"datum_shift"`
	OrigName    string        `json:"original_file_name"`
	OrigSize    int32         `json:"original_file_size"`
	OrigTime    time.Time     `json:"original_file_time"`
	Colours     int           `json:"palette_colours"`
	Corners     qct.Corners   `json:"corners"`
	Bound       [2][2]float64 `json:"bound"`
	Outline     [][2]float64  `json:"outline,omitempty"`
}

func (a *api) metadataHandler(w http.ResponseWriter, r *http.Request) {
	c := a.chart
	h := c.Header
	pw, ph := c.Grid().Pixels()

	var bound orb.Bound
	if o := c.Outline(); len(o) > 0 {
		bound = o.Bound()
	} else {
		bound = c.Corners().Bound()
	}
	resp := metadataResponse{
		Width:       h.Width,
		Height:      h.Height,
		PixelWidth:  pw,
		PixelHeight: ph,
		Version:     h.Version,
		Title:       h.Title,
		Name:        h.Name,
		Identifier:  h.Identifier,
		Edition:     h.Edition,
		Revision:    h.Revision,
		Keywords:    h.Keywords,
		Copyright:   h.Copyright,
		Scale:       h.Scale,
		Datum:       h.Datum,
		Depths:      h.Depths,
		Heights:     h.Heights,
		Projection:  h.Projection,
		MapType:     h.MapType,
		DiskName:    h.DiskName,
		Flags:       h.Flags,
		DatumShift:  [2]float64{h.DatumShiftNorth, h.DatumShiftEast},
		OrigName:    h.OriginalFileName,
		OrigSize:    h.OriginalFileSize,
		OrigTime:    h.OriginalFileTime,
		Colours:     c.Palette.Used(),
		Corners:     c.Corners(),
		Bound:       [2][2]float64{{bound.Min.Lon(), bound.Min.Lat()}, {bound.Max.Lon(), bound.Max.Lat()}},
	}
	for _, p := range c.Outline() {
		resp.Outline = append(resp.Outline, [2]float64{p.Lon(), p.Lat()})
	}
	writeJSON(w, resp)
}

func (a *api) paletteHandler(w http.ResponseWriter, r *http.Request) {
	colours := make([]string, qct.PaletteSize)
	for i := range colours {
		colours[i] = a.chart.Palette.Hex(uint8(i))
	}
	writeJSON(w, colours)
}

func (a *api) latLonHandler(w http.ResponseWriter, r *http.Request) {
	x, err := strconv.Atoi(r.PathValue("x"))
	if err != nil {
		http.Error(w, "Invalid x", http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(r.PathValue("y"))
	if err != nil {
		http.Error(w, "Invalid y", http.StatusBadRequest)
		return
	}
	ll := a.chart.LatLonAt(x, y)
	writeJSON(w, map[string]any{"x": x, "y": y, "lat": ll.Lat, "lon": ll.Lon})
}

func (a *api) pixelHandler(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.PathValue("lat"), 64)
	if err != nil {
		http.Error(w, "Invalid latitude", http.StatusBadRequest)
		return
	}
	lon, err := strconv.ParseFloat(r.PathValue("lon"), 64)
	if err != nil {
		http.Error(w, "Invalid longitude", http.StatusBadRequest)
		return
	}
	x, y, ok := a.chart.PixelAt(lat, lon)
	if !ok {
		http.Error(w, "Coordinates are outside the chart", http.StatusNotFound)
		return
	}
	idx, err := a.tiles.IndexAt(x, y)
	if err != nil {
		a.logger.Error("failed to read pixel", "x", x, "y", y, "error", err)
		http.Error(w, fmt.Sprintf("Could not read pixel: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"lat":    lat,
		"lon":    lon,
		"x":      x,
		"y":      y,
		"index":  idx,
		"colour": a.chart.Palette.Hex(idx),
		"inside": a.chart.Contains(lat, lon),
	})
}

// window parses the {x}/{y}/{w}/{h} path values and checks the tile budget.
func (a *api) window(r *http.Request) (qct.Window, error) {
	var v [4]int
	for i, name := range []string{"x", "y", "w", "h"} {
		n, err := strconv.Atoi(r.PathValue(name))
		if err != nil {
			return qct.Window{}, fmt.Errorf("invalid %s", name)
		}
		v[i] = n
	}
	win := qct.Window{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	if a.maxWindowTiles > 0 && win.Tiles() > a.maxWindowTiles {
		return win, fmt.Errorf("window %s has %d tiles, limit is %d", win, win.Tiles(), a.maxWindowTiles)
	}
	return win, nil
}

func (a *api) rasterHandler(w http.ResponseWriter, r *http.Request) {
	win, err := a.window(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ras, err := a.chart.ReadRaster(r.Context(), win)
	if err != nil {
		a.httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Raster-Width", strconv.Itoa(ras.Width))
	w.Header().Set("X-Raster-Height", strconv.Itoa(ras.Height))
	w.Header().Set("X-Blank-Tiles", strconv.Itoa(len(ras.Blank)))
	w.Write(ras.Pix)
}

func (a *api) overlayHandler(w http.ResponseWriter, r *http.Request) {
	win, err := a.window(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := qct.ExportOptions{}
	if s := r.URL.Query().Get("block"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "Invalid block size", http.StatusBadRequest)
			return
		}
		opts.BlockWidth, opts.BlockHeight = n, n
	}
	if s := r.URL.Query().Get("rotate"); s != "" {
		if opts.Rotate, err = strconv.ParseBool(s); err != nil {
			http.Error(w, "Invalid rotate flag", http.StatusBadRequest)
			return
		}
	}
	blocks, err := a.chart.Blocks(win, opts)
	if err != nil {
		a.httpError(w, err)
		return
	}
	overlays := make([]qct.GroundOverlay, len(blocks))
	for i, b := range blocks {
		overlays[i] = b.Overlay(opts.Href)
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	if err := qct.WriteKML(w, "Layer", overlays); err != nil {
		a.logger.Error("failed to write KML", "error", err)
	}
}

// profileHandler samples palette indices along a JSON path of [lat, lon] pairs.
func (a *api) profileHandler(w http.ResponseWriter, r *http.Request) {
	var req [][2]float64
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	path := make([]qct.LatLon, len(req))
	for i, p := range req {
		path[i] = qct.LatLon{Lat: p[0], Lon: p[1]}
	}
	samples, err := a.tiles.Profile(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("Could not generate profile: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, samples)
}

func (a *api) httpError(w http.ResponseWriter, err error) {
	var re *qct.RangeError
	if errors.As(err, &re) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.logger.Error("request failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
