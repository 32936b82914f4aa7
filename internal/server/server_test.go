package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"tetherctl/internal/agent"
	"tetherctl/internal/api"
	"tetherctl/internal/fetch"
	"tetherctl/internal/model"
	"tetherctl/internal/pairing"
	"tetherctl/internal/session"
)

type staticHistory []model.Session

func (h staticHistory) Sessions() ([]model.Session, error) { return h, nil }

type brokenHistory struct{}

func (brokenHistory) Sessions() ([]model.Session, error) { return nil, errors.New("disk gone") }

func get(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v body=%s", target, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestStatus_ReflectsLastTick(t *testing.T) {
	t.Parallel()

	s := New(Options{})
	h := s.Handler()

	var empty api.StatusResponse
	if code := get(t, h, "/api/v1/status", &empty); code != http.StatusOK || empty.Paired {
		t.Fatalf("code=%d status=%+v", code, empty)
	}

	reading := model.SignalReading{Quality: model.ThreeBars, Type: model.TypeLTE}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.OnTick(agent.Tick{
		At:      at,
		Poll:    pairing.Result{Status: model.Paired("phone-x"), Reading: &reading, InterfaceName: "usb0"},
		Session: session.Snapshot{Active: true, ID: "s1", PhoneName: "phone-x", InterfaceName: "usb0", StartedAt: at, BytesTransferred: 70},
	})

	var status api.StatusResponse
	get(t, h, "/api/v1/status", &status)
	if !status.Paired || status.PhoneName != "phone-x" || status.InterfaceName != "usb0" {
		t.Fatalf("status=%+v", status)
	}
	if status.Signal == nil || status.Signal.Quality != 3 || status.Signal.Type != "LTE" || status.Signal.QualityName != "three_bars" {
		t.Fatalf("signal=%+v", status.Signal)
	}
	if status.Session == nil || status.Session.BytesTransferred != 70 {
		t.Fatalf("session=%+v", status.Session)
	}

	s.OnTick(agent.Tick{
		At:   at.Add(5 * time.Second),
		Poll: pairing.Result{Status: model.Unpaired(), Err: &fetch.Error{Reason: fetch.ReasonRefused, Err: errors.New("refused")}},
	})
	get(t, h, "/api/v1/status", &status)
	if status.Paired || status.Signal != nil || status.Session != nil || status.LastReason != "refused" {
		t.Fatalf("status=%+v", status)
	}
}

func TestSessionsAndUsage(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	clk.Set(now)
	history := staticHistory{
		{ID: "old", StartedAt: now.Add(-10 * 24 * time.Hour), EndedAt: now.Add(-10*24*time.Hour + time.Hour), BytesTransferred: 5},
		{ID: "a", StartedAt: now.Add(-2 * time.Hour), EndedAt: now.Add(-time.Hour), BytesTransferred: 70},
	}
	h := New(Options{History: history, Clock: clk}).Handler()

	var sessions api.SessionsResponse
	get(t, h, "/api/v1/sessions", &sessions)
	if len(sessions.Sessions) != 2 {
		t.Fatalf("sessions=%+v", sessions)
	}

	var usage api.UsageResponse
	if code := get(t, h, "/api/v1/usage?window=24h", &usage); code != http.StatusOK {
		t.Fatalf("code=%d", code)
	}
	if usage.Count != 1 || usage.TotalBytes != 70 || len(usage.Days) != 1 || usage.Days[0].Day != "2024-05-10" {
		t.Fatalf("usage=%+v", usage)
	}

	get(t, h, "/api/v1/usage?window=30d", &usage)
	if usage.Count != 2 {
		t.Fatalf("usage=%+v", usage)
	}

	if code := get(t, h, "/api/v1/usage?window=soon", nil); code != http.StatusBadRequest {
		t.Fatalf("bad window code=%d", code)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	h := New(Options{History: brokenHistory{}}).Handler()
	if code := get(t, h, "/api/v1/sessions", nil); code != http.StatusInternalServerError {
		t.Fatalf("code=%d", code)
	}
	if code := get(t, h, "/nope", nil); code != http.StatusNotFound {
		t.Fatalf("code=%d", code)
	}
	if code := get(t, h, "/metrics", nil); code != http.StatusNotFound {
		t.Fatalf("metrics without handler code=%d", code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post code=%d", rec.Code)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	c := api.NewClient(ln.Addr().String())
	if _, err := c.Status(context.Background()); err != nil {
		t.Fatalf("Status: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not stop")
	}
}

func TestParseWindow(t *testing.T) {
	t.Parallel()

	if d, err := ParseWindow("7d"); err != nil || d != 7*24*time.Hour {
		t.Fatalf("7d=%s %v", d, err)
	}
	if d, err := ParseWindow("90m"); err != nil || d != 90*time.Minute {
		t.Fatalf("90m=%s %v", d, err)
	}
	for _, bad := range []string{"0d", "-1h", "xd", ""} {
		if _, err := ParseWindow(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
