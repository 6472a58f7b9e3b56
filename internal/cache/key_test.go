package cache

import "testing"

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"":                "/",
		".":               "/",
		"./":              "/",
		"/":               "/",
		"./index.html":    "/index.html",
		"index.html":      "/index.html",
		"/index.html":     "/index.html",
		"./data.csv":      "/data.csv",
		"/a/../data.csv":  "/data.csv",
		"/assets/":        "/assets/",
		"/.well-known/x":  "/.well-known/x",
		"/app.js?v=3":     "/app.js?v=3",
		"./app.js?v=3&x=": "/app.js?v=3&x=",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKeyForAndSplitKey(t *testing.T) {
	key := KeyFor("/data.csv", "lang=fi")
	if key != "/data.csv?lang=fi" {
		t.Fatalf("unexpected key %q", key)
	}
	path, query := SplitKey(key)
	if path != "/data.csv" || query != "lang=fi" {
		t.Fatalf("unexpected split %q %q", path, query)
	}
	if path, query := SplitKey("/"); path != "/" || query != "" {
		t.Fatalf("unexpected split for root: %q %q", path, query)
	}
}
