package geo

import (
	"fmt"
	"net/url"
)

// NavigationURL returns a Google Maps driving-directions link from origin to destination.
func NavigationURL(origin, destination Point) string {
	q := url.Values{}
	q.Set("api", "1")
	q.Set("origin", origin.String())
	q.Set("destination", destination.String())
	q.Set("travelmode", "driving")
	return "https://www.google.com/maps/dir/?" + q.Encode()
}

// MapURL returns a Google Maps link pinned at p.
func MapURL(p Point) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%s", p.String())
}
