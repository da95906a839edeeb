package navigation

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownLocation is returned for names that are not saved.
var ErrUnknownLocation = errors.New("navigation: unknown location")

// Location is a saved, named place.
type Location struct {
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SavedAt   time.Time `json:"saved_at,omitempty"`
}

// Coord returns the location's position.
func (l Location) Coord() Coord {
	return Coord{Lat: l.Latitude, Lon: l.Longitude}
}

// LocationResolver turns a place name into a position.
type LocationResolver interface {
	Resolve(name string) (Location, error)
	List() []Location
}

// StaticLocations is an in-memory resolver. Names match case-insensitively.
// A "lat,lon" literal resolves to itself.
type StaticLocations struct {
	mu   sync.RWMutex
	byID map[string]Location
}

// NewStaticLocations creates a resolver over locs.
func NewStaticLocations(locs ...Location) *StaticLocations {
	s := &StaticLocations{byID: make(map[string]Location, len(locs))}
	for _, l := range locs {
		s.Add(l)
	}
	return s
}

// LoadLocations reads a JSON array of locations. A missing file yields an
// empty resolver.
func LoadLocations(path string) (*StaticLocations, error) {
	if path == "" {
		return NewStaticLocations(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewStaticLocations(), nil
	}
	if err != nil {
		return nil, err
	}
	var locs []Location
	if err := json.Unmarshal(data, &locs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return NewStaticLocations(locs...), nil
}

// Add saves or replaces l.
func (s *StaticLocations) Add(l Location) {
	s.mu.Lock()
	s.byID[key(l.Name)] = l
	s.mu.Unlock()
}

// Save writes all locations to path as a JSON array, replacing the file
// atomically.
func (s *StaticLocations) Save(path string) error {
	data, err := json.MarshalIndent(s.List(), "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Resolve implements LocationResolver.
func (s *StaticLocations) Resolve(name string) (Location, error) {
	if c, ok := ParseCoord(name); ok {
		return Location{Name: c.String(), Latitude: c.Lat, Longitude: c.Lon}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byID[key(name)]
	if !ok {
		return Location{}, fmt.Errorf("%w: %q", ErrUnknownLocation, name)
	}
	return l, nil
}

// List implements LocationResolver, sorted by name.
func (s *StaticLocations) List() []Location {
	s.mu.RLock()
	out := make([]Location, 0, len(s.byID))
	for _, l := range s.byID {
		out = append(out, l)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ParseCoord parses "lat,lon".
func ParseCoord(s string) (Coord, bool) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return Coord{}, false
	}
	la, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	lo, err2 := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err1 != nil || err2 != nil || la < -90 || la > 90 || lo < -180 || lo > 180 {
		return Coord{}, false
	}
	return Coord{Lat: la, Lon: lo}, true
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
