package navigation

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHaversine(t *testing.T) {
	a := Coord{Lat: 37.7749, Lon: -122.4194}
	b := Coord{Lat: 37.7849, Lon: -122.4094}
	d := Haversine(a, b)
	if math.Abs(d-1417) > 5 {
		t.Errorf("Haversine() = %.0f, want about 1417", d)
	}
	if Haversine(a, a) != 0 {
		t.Error("distance to self is not zero")
	}
}

const osrmBody = `{
  "code": "Ok",
  "routes": [{
    "distance": 1400,
    "legs": [{
      "steps": [
        {"name": "Market Street", "maneuver": {"type": "depart"}},
        {"name": "5th Street", "maneuver": {"type": "turn", "modifier": "left"}},
        {"name": "", "maneuver": {"type": "continue", "modifier": "straight"}},
        {"name": "", "maneuver": {"type": "new name", "instruction": "Keep right at the fork"}},
        {"name": "", "maneuver": {"type": "arrive"}}
      ]
    }]
  }]
}`

func TestOSRMRoute(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(osrmBody))
	}))
	defer srv.Close()

	steps, err := NewOSRM(srv.URL+"/").Route(context.Background(),
		Coord{Lat: 37.7749, Lon: -122.4194}, Coord{Lat: 37.7849, Lon: -122.4094})
	if err != nil {
		t.Fatalf("Route() = %v", err)
	}

	if gotPath != "/route/v1/foot/-122.419400,37.774900;-122.409400,37.784900" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "steps=true" {
		t.Errorf("query = %q", gotQuery)
	}
	want := []string{"Head along Market Street", "Turn left onto 5th Street", "Continue straight", "Keep right at the fork"}
	if len(steps) != len(want) {
		t.Fatalf("steps = %q", steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, steps[i], want[i])
		}
	}
}

func TestOSRMNoRoute(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"no route code", http.StatusOK, `{"code":"NoRoute","routes":[]}`},
		{"empty routes", http.StatusOK, `{"code":"Ok","routes":[]}`},
		{"bad request", http.StatusBadRequest, `{"code":"InvalidQuery"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOSRM(srv.URL).Route(context.Background(), Coord{}, Coord{Lat: 1})
			if !errors.Is(err, ErrNoRoute) {
				t.Errorf("Route() = %v, want ErrNoRoute", err)
			}
		})
	}
}
