package strategy

import (
	"net/http"
	"testing"

	"github.com/any-hub/shellcache/internal/fetch"
)

func TestRouterClassify(t *testing.T) {
	router := NewRouter("./data.csv")
	cases := []struct {
		name string
		req  *fetch.Request
		want Kind
	}{
		{"navigation", &fetch.Request{Method: http.MethodGet, Path: "/", Navigate: true}, KindNavigation},
		{"navigation wins over pinned", &fetch.Request{Method: http.MethodGet, Path: "/data.csv", Navigate: true}, KindNavigation},
		{"pinned root", &fetch.Request{Method: http.MethodGet, Path: "/data.csv"}, KindPinned},
		{"pinned no separator", &fetch.Request{Method: http.MethodGet, Path: "data.csv"}, KindPinned},
		{"pinned nested", &fetch.Request{Method: http.MethodGet, Path: "/sv-fi-game/data.csv"}, KindPinned},
		{"pinned with query", &fetch.Request{Method: http.MethodHead, Path: "/data.csv", RawQuery: "t=1"}, KindPinned},
		{"prefix is not a segment", &fetch.Request{Method: http.MethodGet, Path: "/mydata.csv"}, KindDefault},
		{"directory named like pinned", &fetch.Request{Method: http.MethodGet, Path: "/data.csv/"}, KindDefault},
		{"default", &fetch.Request{Method: http.MethodGet, Path: "/app.js"}, KindDefault},
		{"post bypasses", &fetch.Request{Method: http.MethodPost, Path: "/data.csv"}, KindBypass},
	}
	for _, tc := range cases {
		if got := router.Classify(tc.req); got != tc.want {
			t.Fatalf("%s: Classify = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestRouterPinnedName(t *testing.T) {
	if got := NewRouter("/data.csv").Pinned(); got != "data.csv" {
		t.Fatalf("unexpected pinned name %q", got)
	}
	if NewRouter("").MatchesPinned("/") {
		t.Fatalf("empty pinned name must never match")
	}
}
