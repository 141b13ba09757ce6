package metax

import (
	"fmt"
	"strings"

	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

// placeReferences maps English place names to their YSO location
// reference-data URIs.
var placeReferences = map[string]string{
	"espoo":    "http://www.yso.fi/onto/yso/p105747",
	"europe":   "http://www.yso.fi/onto/yso/p94120",
	"finland":  "http://www.yso.fi/onto/yso/p94426",
	"helsinki": "http://www.yso.fi/onto/yso/p94112",
	"norway":   "http://www.yso.fi/onto/yso/p94254",
	"oulu":     "http://www.yso.fi/onto/yso/p105635",
	"sweden":   "http://www.yso.fi/onto/yso/p94325",
	"tampere":  "http://www.yso.fi/onto/yso/p105629",
	"turku":    "http://www.yso.fi/onto/yso/p105911",
}

// mapSpatial converts DataCite geolocations to Metax spatial coverage with
// WKT geometry.
func mapSpatial(locations []datacite.GeoLocation) ([]Spatial, error) {
	var spatial []Spatial
	for _, location := range locations {
		entry := Spatial{GeographicName: location.GeoLocationPlace}
		if url, ok := placeReferences[strings.ToLower(location.GeoLocationPlace)]; ok {
			entry.Reference = &RefData{URL: url}
		}

		if location.GeoLocationPoint != nil {
			entry.CustomWKT = append(entry.CustomWKT, pointWKT(*location.GeoLocationPoint))
		}
		if location.GeoLocationBox != nil {
			entry.CustomWKT = append(entry.CustomWKT, boxWKT(*location.GeoLocationBox))
		}
		if len(location.GeoLocationPolygon) > 0 {
			wkts, err := polygonWKT(location.GeoLocationPolygon)
			if err != nil {
				return nil, err
			}
			entry.CustomWKT = append(entry.CustomWKT, wkts...)
		}

		spatial = append(spatial, entry)
	}
	return spatial, nil
}

func pointWKT(point datacite.GeoPoint) string {
	return fmt.Sprintf("POINT(%s %s)", point.PointLongitude, point.PointLatitude)
}

// boxWKT renders a bounding box as a closed five-vertex polygon.
func boxWKT(box datacite.GeoBox) string {
	return fmt.Sprintf("POLYGON((%[1]s %[3]s, %[2]s %[3]s, %[2]s %[4]s, %[1]s %[4]s, %[1]s %[3]s))",
		box.WestBoundLongitude, box.EastBoundLongitude,
		box.SouthBoundLatitude, box.NorthBoundLatitude)
}

// polygonWKT renders a drawn polygon, closing the outer ring when the last
// vertex differs from the first. Inner points become separate POINT
// geometries.
func polygonWKT(points []datacite.GeoPolygonPoint) ([]string, error) {
	var vertices []string
	var inner []string
	for _, point := range points {
		if point.PolygonPoint != nil {
			vertices = append(vertices, fmt.Sprintf("%s %s",
				point.PolygonPoint.PointLongitude, point.PolygonPoint.PointLatitude))
		}
		if point.InPolygonPoint != nil {
			inner = append(inner, pointWKT(*point.InPolygonPoint))
		}
	}

	if len(vertices) < 3 {
		return nil, apperrors.NewUserError("a polygon needs at least three vertices", nil)
	}
	if vertices[0] != vertices[len(vertices)-1] {
		vertices = append(vertices, vertices[0])
	}

	wkts := []string{fmt.Sprintf("POLYGON((%s))", strings.Join(vertices, ", "))}
	return append(wkts, inner...), nil
}
