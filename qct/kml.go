package qct

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
)

// GroundOverlay is one georeferenced image placed by an external mapping tool.
type GroundOverlay struct {
	Name     string
	Href     string
	North    float64
	South    float64
	East     float64
	West     float64
	Rotation float64
}

type kmlDoc struct {
	XMLName  xml.Name     `xml:"http://www.opengis.net/kml/2.2 kml"`
	Folder   *kmlFolder   `xml:"Folder,omitempty"`
	Document *kmlDocument `xml:"Document,omitempty"`
}

type kmlDocument struct {
	Name      string       `xml:"name"`
	Placemark kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name        string `xml:"name"`
	Coordinates string `xml:"LineString>coordinates"`
}

type kmlFolder struct {
	Name     string       `xml:"name"`
	Open     int          `xml:"open"`
	Overlays []kmlOverlay `xml:"GroundOverlay"`
}

type kmlOverlay struct {
	Name      string    `xml:"name"`
	DrawOrder int       `xml:"drawOrder"`
	Href      string    `xml:"Icon>href"`
	Box       kmlLatLon `xml:"LatLonBox"`
}

type kmlLatLon struct {
	North    float64 `xml:"north"`
	South    float64 `xml:"south"`
	East     float64 `xml:"east"`
	West     float64 `xml:"west"`
	Rotation float64 `xml:"rotation"`
}

// WriteKML writes a KML document holding one GroundOverlay per entry inside a
// single folder.
func WriteKML(w io.Writer, name string, overlays []GroundOverlay) error {
	folder := &kmlFolder{Name: name, Open: 1}
	for _, o := range overlays {
		folder.Overlays = append(folder.Overlays, kmlOverlay{
			Name: o.Name,
			Href: o.Href,
			Box: kmlLatLon{
				North:    o.North,
				South:    o.South,
				East:     o.East,
				West:     o.West,
				Rotation: o.Rotation,
			},
		})
	}
	return writeKML(w, kmlDoc{Folder: folder})
}

// WriteOutlineKML writes the chart outline as a single line placemark.
func WriteOutlineKML(w io.Writer, name string, outline orb.Ring) error {
	coords := make([]string, len(outline))
	for i, p := range outline {
		coords[i] = fmt.Sprintf("%f,%f,0", p.Lon(), p.Lat())
	}
	return writeKML(w, kmlDoc{Document: &kmlDocument{
		Name:      name,
		Placemark: kmlPlacemark{Name: name, Coordinates: strings.Join(coords, " ")},
	}})
}

func writeKML(w io.Writer, doc kmlDoc) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
