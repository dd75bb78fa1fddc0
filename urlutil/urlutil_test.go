package urlutil

import "testing"

func TestCanonicalizeIdempotent(t *testing.T) {
	cases := []string{
		"HTTP://WWW.Example.com:80/foo//bar/?utm_source=x&b=2&a=1#frag",
		"https://example.com/foo/bar",
		"https://example.com:443/",
	}
	for _, c := range cases {
		once, err := Canonicalize(c)
		if err != nil {
			t.Fatalf("Canonicalize(%q) error: %v", c, err)
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("Canonicalize(%q) (second pass) error: %v", once, err)
		}
		if once != twice {
			t.Errorf("not idempotent: Canonicalize(%q) = %q, Canonicalize(%q) = %q", c, once, once, twice)
		}
	}
}

func TestCanonicalizeStripsTrackingAndSortsQuery(t *testing.T) {
	got, err := Canonicalize("https://example.com/path?utm_source=ad&b=2&a=1&fbclid=xyz")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://example.com/path?a=1&b=2"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCanonicalizeStripsWWWAndDefaultPort(t *testing.T) {
	got, err := Canonicalize("HTTP://WWW.Example.com:80/a")
	if err != nil {
		t.Fatal(err)
	}
	want := "http://example.com/a"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCanonicalizeCollapsesSlashesAndDropsFragment(t *testing.T) {
	got, err := Canonicalize("https://example.com/a//b///c#section")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://example.com/a/b/c"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractHostStripsWWWAndLowercases(t *testing.T) {
	host, err := ExtractHost("HTTPS://WWW.Example.COM/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if host != "example.com" {
		t.Errorf("got %q, want %q", host, "example.com")
	}
}

func TestIsTrackingParam(t *testing.T) {
	if !IsTrackingParam("utm_source") {
		t.Error("expected utm_source to be a tracking param")
	}
	if !IsTrackingParam("FBCLID") {
		t.Error("expected case-insensitive match for fbclid")
	}
	if IsTrackingParam("page") {
		t.Error("did not expect 'page' to be a tracking param")
	}
}
