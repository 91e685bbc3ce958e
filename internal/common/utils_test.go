package common

import "testing"

func TestTrailingID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/rise/api/catalog-item/128562", "128562"},
		{"https://data.usbr.gov/rise/api/catalog-item/42/", "42"},
		{"plain", "plain"},
	}
	for _, tc := range cases {
		if got := TrailingID(tc.in); got != tc.want {
			t.Errorf("TrailingID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a, ,b,c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected split: %#v", got)
	}
	if SplitList("   ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestHasAny(t *testing.T) {
	if !HasAny("application/vnd.api+json", "json") {
		t.Fatal("expected json content type to match")
	}
	if HasAny("text/html", "json", "xml") {
		t.Fatal("did not expect html to match")
	}
}
