// Package geodesy solves the direct and inverse great-circle problems on a
// spherical Earth.
package geodesy

import "math"

// EarthRadiusKm is the mean Earth radius used for all projections.
const EarthRadiusKm = 6371.0

// Destination returns the points reached from (lat, lon) by travelling each of
// distancesKm along the initial bearing (degrees clockwise from north).
// Longitudes are not wrapped. A distance of 0 returns the origin.
func Destination(lat, lon, bearingDeg float64, distancesKm []float64) (lats, lons []float64) {
	lats = make([]float64, len(distancesKm))
	lons = make([]float64, len(distancesKm))

	latRad := radians(lat)
	lonRad := radians(lon)
	brg := radians(bearingDeg)
	sinLat, cosLat := math.Sincos(latRad)
	sinBrg, cosBrg := math.Sincos(brg)

	for k, d := range distancesKm {
		if d == 0 {
			lats[k], lons[k] = lat, lon
			continue
		}
		sinAng, cosAng := math.Sincos(d / EarthRadiusKm)
		destLat := math.Asin(sinLat*cosAng + cosLat*sinAng*cosBrg)
		destLon := lonRad + math.Atan2(sinBrg*sinAng*cosLat, cosAng-sinLat*math.Sin(destLat))
		lats[k] = degrees(destLat)
		lons[k] = degrees(destLon)
	}
	return lats, lons
}

// DestinationPoint is the scalar form of Destination.
func DestinationPoint(lat, lon, bearingDeg, distanceKm float64) (float64, float64) {
	lats, lons := Destination(lat, lon, bearingDeg, []float64{distanceKm})
	return lats[0], lons[0]
}

// Distance returns the haversine great-circle distance in km.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// InitialBearing returns the bearing in degrees [0, 360) from the first point
// toward the second.
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dLon := radians(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)
	return math.Mod(degrees(math.Atan2(y, x))+360, 360)
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }
