// Package geo provides great-circle distance and nearest-neighbour search
// over located dispatch targets.
package geo

import (
	"fmt"
	"math"
	"sort"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Haversine.
	EarthRadiusKm = 6371.0

	// AssumedSpeedKmh is the average travel speed used for ETA estimates.
	AssumedSpeedKmh = 60.0

	kmToMiles = 0.621371
)

// Point is a WGS84 coordinate in decimal degrees
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Candidate is anything with an id and a location
type Candidate interface {
	CandidateID() string
	Location() Point
}

// Ranked pairs a candidate with its distance from the query point
type Ranked[T Candidate] struct {
	Candidate  T
	DistanceKm float64
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// Nearest returns the candidate closest to p. Equal distances are broken by
// the lower candidate id. ok is false for an empty candidate set.
func Nearest[T Candidate](p Point, candidates []T) (best Ranked[T], ok bool) {
	for _, c := range candidates {
		d := Haversine(p, c.Location())
		if !ok || closer(d, c.CandidateID(), best.DistanceKm, best.Candidate.CandidateID()) {
			best = Ranked[T]{Candidate: c, DistanceKm: d}
			ok = true
		}
	}
	return best, ok
}

// Rank sorts candidates by distance from p (then id) and returns at most limit
// entries. A limit <= 0 returns all of them.
func Rank[T Candidate](p Point, candidates []T, limit int) []Ranked[T] {
	ranked := make([]Ranked[T], 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Ranked[T]{Candidate: c, DistanceKm: Haversine(p, c.Location())})
	}

	sort.Slice(ranked, func(i, j int) bool {
		return closer(ranked[i].DistanceKm, ranked[i].Candidate.CandidateID(),
			ranked[j].DistanceKm, ranked[j].Candidate.CandidateID())
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Within returns the candidates no farther than radiusKm from p, nearest first.
func Within[T Candidate](p Point, candidates []T, radiusKm float64) []Ranked[T] {
	var out []Ranked[T]
	for _, r := range Rank(p, candidates, 0) {
		if r.DistanceKm > radiusKm {
			break
		}
		out = append(out, r)
	}
	return out
}

// ETAMinutes estimates driving time at AssumedSpeedKmh, rounded up.
func ETAMinutes(distanceKm float64) int {
	return int(math.Ceil(distanceKm / AssumedSpeedKmh * 60))
}

// KmToMiles converts kilometres to statute miles.
func KmToMiles(km float64) float64 {
	return km * kmToMiles
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

func closer(d1 float64, id1 string, d2 float64, id2 string) bool {
	if d1 != d2 {
		return d1 < d2
	}
	return id1 < id2
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
