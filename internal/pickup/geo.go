package pickup

import (
	"math"

	"github.com/yashp387/DigitalDump-sub001/internal/state"
)

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle (haversine) distance between a and b.
func DistanceKm(a, b state.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// boundingBox covers every point within radiusKm of center. Near the poles or
// across the antimeridian it widens to the full longitude range.
func boundingBox(center state.GeoPoint, radiusKm float64) state.BoundingBox {
	delta := radiusKm / earthRadiusKm
	dLat := delta * 180 / math.Pi
	box := state.BoundingBox{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		return box
	}
	// Widest longitude offset on the circle is asin(sin δ / cos φ).
	arg := math.Sin(delta) / math.Cos(center.Lat*math.Pi/180)
	if arg >= 1 {
		return box
	}
	dLng := math.Asin(arg) * 180 / math.Pi
	if center.Lng-dLng < -180 || center.Lng+dLng > 180 {
		return box
	}
	box.MinLng = center.Lng - dLng
	box.MaxLng = center.Lng + dLng
	return box
}
