package geo

import (
	"math"
	"testing"
)

func TestDistanceMeters_SamePoint(t *testing.T) {
	if d := DistanceMeters(40.4433, -79.9436, 40.4433, -79.9436); d != 0 {
		t.Errorf("expected 0, got %v", d)
	}
}

func TestDistanceMeters_KnownDistances(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want, tolerance        float64
	}{
		{"one degree of latitude", 0, 0, 1, 0, 111195, 5},
		{"one degree of longitude at equator", 0, 0, 0, 1, 111195, 5},
		{"paris to london", 48.8566, 2.3522, 51.5074, -0.1278, 343500, 1500},
		{"antipodes", 0, 0, 0, 180, math.Pi * earthRadiusMeters, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("got %.1f, want %.1f±%.0f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	a := DistanceMeters(25.2048, 55.2708, 25.2100, 55.2800)
	b := DistanceMeters(25.2100, 55.2800, 25.2048, 55.2708)
	if math.Abs(a-b) > 1e-6 {
		t.Errorf("distance not symmetric: %v vs %v", a, b)
	}
}

func TestWithin_Boundary(t *testing.T) {
	if !Within(50, 50) {
		t.Error("distance equal to radius must be in range")
	}
	if Within(51, 50) {
		t.Error("one meter beyond radius must be out of range")
	}
}

func TestValidate(t *testing.T) {
	valid := [][2]float64{{0, 0}, {90, 180}, {-90, -180}, {45.5, -122.6}}
	for _, c := range valid {
		if err := Validate(c[0], c[1]); err != nil {
			t.Errorf("Validate(%v, %v): unexpected error %v", c[0], c[1], err)
		}
	}
	invalid := [][2]float64{{90.1, 0}, {-91, 0}, {0, 180.5}, {0, -181}, {math.NaN(), 0}}
	for _, c := range invalid {
		if err := Validate(c[0], c[1]); err == nil {
			t.Errorf("Validate(%v, %v): expected error", c[0], c[1])
		}
	}
}
