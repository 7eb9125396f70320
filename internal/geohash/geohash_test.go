package geohash

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestEncodeKnownValue(t *testing.T) {
	got, err := Encode(57.64911, 10.40744, 11)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != "u4pruydqqvj" {
		t.Fatalf("want u4pruydqqvj, got %s", got)
	}
}

func TestEncodePrefixStable(t *testing.T) {
	full := MustEncode(31.2304, 121.4737, 9)
	for p := 1; p <= 9; p++ {
		h := MustEncode(31.2304, 121.4737, p)
		if !strings.HasPrefix(full, h) {
			t.Fatalf("precision %d: %s is not a prefix of %s", p, h, full)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a := MustEncode(-33.8688, 151.2093, 9)
	b := MustEncode(-33.8688, 151.2093, 9)
	if a != b {
		t.Fatalf("want identical hashes, got %s and %s", a, b)
	}
	if len(a) != 9 {
		t.Fatalf("want length 9, got %d", len(a))
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	cases := []struct {
		lat, lng float64
	}{
		{91, 0}, {-90.0001, 0}, {0, 180.5}, {0, -181}, {math.NaN(), 0},
	}
	for _, c := range cases {
		if _, err := Encode(c.lat, c.lng, 9); !errors.Is(err, ErrInvalidCoordinate) {
			t.Fatalf("lat=%v lng=%v: want ErrInvalidCoordinate, got %v", c.lat, c.lng, err)
		}
	}
	if _, err := Encode(0, 0, 0); !errors.Is(err, ErrInvalidPrecision) {
		t.Fatalf("want ErrInvalidPrecision, got %v", err)
	}
	if _, err := Encode(0, 0, MaxPrecision+1); !errors.Is(err, ErrInvalidPrecision) {
		t.Fatalf("want ErrInvalidPrecision, got %v", err)
	}
}

func TestEncodeBoundaries(t *testing.T) {
	for _, p := range [][2]float64{{90, 180}, {-90, -180}, {0, 0}} {
		if _, err := Encode(p[0], p[1], 12); err != nil {
			t.Fatalf("%v: %v", p, err)
		}
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(48.8566, 2.3522, 48.8566, 2.3522); d != 0 {
		t.Fatalf("same point: want 0, got %v", d)
	}
	ab := Distance(48.8566, 2.3522, 51.5074, -0.1278)
	ba := Distance(51.5074, -0.1278, 48.8566, 2.3522)
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("asymmetric: %v vs %v", ab, ba)
	}
	if ab < 341 || ab > 346 {
		t.Fatalf("paris-london: want ~343.5km, got %v", ab)
	}
}
