package navigation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticLocations(t *testing.T) {
	s := NewStaticLocations(
		Location{Name: "Home", Latitude: 1, Longitude: 2},
		Location{Name: "Bus Stop", Latitude: 3, Longitude: 4},
	)

	l, err := s.Resolve("  home ")
	if err != nil || l.Latitude != 1 {
		t.Errorf("Resolve(home) = %+v, %v", l, err)
	}
	if _, err := s.Resolve("Office"); !errors.Is(err, ErrUnknownLocation) {
		t.Errorf("Resolve(Office) = %v", err)
	}
	l, err = s.Resolve("37.5, -122.25")
	if err != nil || l.Latitude != 37.5 || l.Longitude != -122.25 {
		t.Errorf("Resolve(literal) = %+v, %v", l, err)
	}

	list := s.List()
	if len(list) != 2 || list[0].Name != "Bus Stop" {
		t.Errorf("List() = %+v", list)
	}
}

func TestParseCoord(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"1.5,2.5", true},
		{" -33.9 , 151.2 ", true},
		{"91,0", false},
		{"0,181", false},
		{"home", false},
		{"a,b", false},
	}
	for _, tt := range tests {
		if _, ok := ParseCoord(tt.in); ok != tt.ok {
			t.Errorf("ParseCoord(%q) ok = %v", tt.in, ok)
		}
	}
}

func TestLoadLocations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved_locations.json")
	data := `[{"name":"Home","latitude":37.77,"longitude":-122.41,"saved_at":"2025-01-02T15:04:05Z"}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadLocations(path)
	if err != nil {
		t.Fatal(err)
	}
	l, err := s.Resolve("Home")
	if err != nil || l.Coord() != (Coord{Lat: 37.77, Lon: -122.41}) || l.SavedAt.IsZero() {
		t.Errorf("Resolve() = %+v, %v", l, err)
	}

	s, err = LoadLocations(filepath.Join(dir, "missing.json"))
	if err != nil || len(s.List()) != 0 {
		t.Errorf("missing file: %v, %d locations", err, len(s.List()))
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{"), 0o644)
	if _, err := LoadLocations(bad); err == nil {
		t.Error("bad file loaded")
	}
}

func TestSaveLocationsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved_locations.json")
	s := NewStaticLocations(Location{Name: "Home", Latitude: 1, Longitude: 2})
	s.Add(Location{Name: "Pharmacy", Latitude: 5, Longitude: 6})
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadLocations(path)
	if err != nil {
		t.Fatal(err)
	}
	got := loaded.List()
	if len(got) != 2 || got[0].Name != "Home" || got[1].Name != "Pharmacy" {
		t.Errorf("List() after reload = %+v", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}
