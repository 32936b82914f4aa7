package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_ErrorIncludesBody(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer s.Close()

	c := NewClient(s.URL)
	_, err := c.Usage(context.Background(), "bogus")
	if err == nil {
		t.Fatalf("expected error")
	}
	got := err.Error()
	if want := "400"; !strings.Contains(got, want) {
		t.Fatalf("error missing status: %q", got)
	}
	if want := `"error":"nope"`; !strings.Contains(got, want) {
		t.Fatalf("error missing body: %q", got)
	}
}

func TestClient_Status(t *testing.T) {
	t.Parallel()

	var gotPath string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		_, _ = w.Write([]byte(`{"paired":true,"phone_name":"Pixel","signal":{"quality":3,"quality_name":"three_bars","type":"LTE"}}`))
	}))
	defer s.Close()

	resp, err := NewClient(strings.TrimPrefix(s.URL, "http://")).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if gotPath != "/api/v1/status" {
		t.Fatalf("path=%q", gotPath)
	}
	if !resp.Paired || resp.PhoneName != "Pixel" || resp.Signal == nil || resp.Signal.Type != "LTE" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"127.0.0.1:7420":       "http://127.0.0.1:7420",
		"http://host:1/":       "http://host:1",
		"https://example.test": "https://example.test",
	}
	for in, want := range cases {
		if got := NormalizeBaseURL(in); got != want {
			t.Fatalf("NormalizeBaseURL(%q)=%q want %q", in, got, want)
		}
	}
}
