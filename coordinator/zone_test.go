package coordinator

import (
	"context"
	"testing"
)

func TestLastSegment(t *testing.T) {
	cases := map[string]string{
		"projects/123456789/zones/us-central1-a": "us-central1-a",
		"us-central1-a":                          "us-central1-a",
		"":                                       "",
		"/":                                      "",
	}
	for in, want := range cases {
		if got := lastSegment(in); got != want {
			t.Fatalf("lastSegment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestZoneOfProviderNone(t *testing.T) {
	zone, err := ZoneOf(context.Background(), ProviderNone)
	if err != nil {
		t.Fatalf("ZoneOf(ProviderNone) error: %v", err)
	}
	if zone != "" {
		t.Fatalf("ZoneOf(ProviderNone) = %q, want empty", zone)
	}
}
