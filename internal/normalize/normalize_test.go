package normalize

import "testing"

func TestPathCollapsesDuplicateSlashes(t *testing.T) {
	cases := map[string]string{
		"/a//b///c": "/a/b/c",
		"":          "/",
		"/":         "/",
		"//":        "/",
		"/api/v1":   "/api/v1",
	}
	for in, want := range cases {
		if got := Path(in); got != want {
			t.Errorf("Path(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPathIdempotent(t *testing.T) {
	for _, p := range []string{"/a//b", "", "/", "/x/y/z", "weird//"} {
		once := Path(p)
		twice := Path(once)
		if once != twice {
			t.Errorf("Path not idempotent for %q: once=%q twice=%q", p, once, twice)
		}
		if len(p) > 0 && p[0] == '/' {
			if once == "" || once[0] != '/' {
				t.Errorf("Path(%q) = %q, expected leading slash preserved", p, once)
			}
		}
	}
}

func TestHost(t *testing.T) {
	cases := map[string]string{
		"Host.Example.COM:8080": "host.example.com",
		"Host.Example.COM.":     "host.example.com",
		"[::1]:8080":            "[::1]",
		"[2001:db8::1]":         "[2001:db8::1]",
		"api.customer.com":      "api.customer.com",
	}
	for in, want := range cases {
		if got := Host(in); got != want {
			t.Errorf("Host(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMethod(t *testing.T) {
	if Method(" post ") != "POST" {
		t.Fatal("Method should uppercase and trim")
	}
}
