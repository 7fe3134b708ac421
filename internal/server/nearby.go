// Package server filters users by great-circle distance for nearby search.
package server

import (
	"errors"
	"math"
	"net/url"
	"sort"
	"strconv"

	"github.com/Tyrowin/wicara/internal/store"
)

const (
	earthRadiusKm       = 6371.0
	defaultNearbyRadius = 50.0
)

type nearbyQuery struct {
	lat, lng  float64
	radiusKm  float64
	excludeID string
}

// NearbyUser is a located user together with its distance from the query point.
type NearbyUser struct {
	store.User
	DistanceKm float64 `json:"distanceKm"`
}

func parseNearbyQuery(v url.Values) (nearbyQuery, error) {
	lat, err := strconv.ParseFloat(v.Get("lat"), 64)
	if err != nil {
		return nearbyQuery{}, errors.New("lat is required")
	}
	lng, err := strconv.ParseFloat(v.Get("lng"), 64)
	if err != nil {
		return nearbyQuery{}, errors.New("lng is required")
	}
	if !validCoordinates(lat, lng) {
		return nearbyQuery{}, errors.New("coordinates out of range")
	}
	q := nearbyQuery{lat: lat, lng: lng, radiusKm: defaultNearbyRadius, excludeID: v.Get("userId")}
	if raw := v.Get("radius"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 {
			return nearbyQuery{}, errors.New("radius must be a positive number of kilometres")
		}
		q.radiusKm = radius
	}
	return q, nil
}

func validCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// filterNearby keeps users within the query radius, nearest first.
func filterNearby(users []store.User, q nearbyQuery) []NearbyUser {
	res := make([]NearbyUser, 0, len(users))
	for _, u := range users {
		if u.Latitude == nil || u.Longitude == nil || u.ID == q.excludeID {
			continue
		}
		d := haversineKm(q.lat, q.lng, *u.Latitude, *u.Longitude)
		if d <= q.radiusKm {
			res = append(res, NearbyUser{User: u, DistanceKm: d})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DistanceKm < res[j].DistanceKm })
	return res
}

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
