package navigation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-vista/internal/httpc"
)

// ErrNoRoute is returned when the router finds no walking route.
var ErrNoRoute = errors.New("navigation: no route found")

const earthRadiusMeters = 6371000.0

// Coord is a WGS84 position.
type Coord struct {
	Lat float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Lon float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

func (c Coord) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Router produces spoken turn-by-turn instructions.
type Router interface {
	Route(ctx context.Context, from, to Coord) ([]string, error)
}

// OSRM queries an OSRM-compatible HTTP router for walking routes.
type OSRM struct {
	baseURL string
	client  *http.Client
}

// NewOSRM creates a router client for baseURL (e.g. http://localhost:5000).
func NewOSRM(baseURL string) *OSRM {
	return &OSRM{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpc.NewClient(10 * time.Second),
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Legs     []struct {
			Steps []osrmStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

type osrmStep struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
	Maneuver struct {
		Type        string `json:"type"`
		Modifier    string `json:"modifier"`
		Instruction string `json:"instruction"`
	} `json:"maneuver"`
}

// Route fetches the foot profile route with steps.
func (o *OSRM) Route(ctx context.Context, from, to Coord) ([]string, error) {
	url := fmt.Sprintf("%s/route/v1/foot/%f,%f;%f,%f?steps=true",
		o.baseURL, from.Lon, from.Lat, to.Lon, to.Lat)

	var resp osrmResponse
	if err := httpc.GetJSON(ctx, o.client, url, &resp); err != nil {
		var se *httpc.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s", ErrNoRoute, se.Body)
		}
		return nil, fmt.Errorf("route request: %w", err)
	}
	if resp.Code != "" && resp.Code != "Ok" {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, resp.Code)
	}
	if len(resp.Routes) == 0 || len(resp.Routes[0].Legs) == 0 {
		return nil, ErrNoRoute
	}

	var out []string
	for _, leg := range resp.Routes[0].Legs {
		for _, s := range leg.Steps {
			if text := stepText(s); text != "" {
				out = append(out, text)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRoute
	}
	return out, nil
}

// stepText prefers a router-supplied instruction and otherwise phrases the
// maneuver. Arrival is left to the guide.
func stepText(s osrmStep) string {
	if s.Maneuver.Instruction != "" {
		return s.Maneuver.Instruction
	}
	onto := ""
	if s.Name != "" {
		onto = " onto " + s.Name
	}
	switch s.Maneuver.Type {
	case "arrive":
		return ""
	case "depart":
		if s.Name != "" {
			return "Head along " + s.Name
		}
		return "Start walking"
	case "turn", "end of road", "fork", "on ramp", "off ramp":
		if s.Maneuver.Modifier == "" {
			return "Turn" + onto
		}
		return "Turn " + s.Maneuver.Modifier + onto
	case "roundabout", "rotary":
		return "Enter the roundabout"
	default:
		if s.Maneuver.Modifier == "straight" || s.Maneuver.Modifier == "" {
			return "Continue straight" + onto
		}
		return "Continue " + s.Maneuver.Modifier + onto
	}
}
