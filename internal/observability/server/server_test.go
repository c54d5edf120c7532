package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"remindbot/internal/observability/metrics"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func do(t *testing.T, h http.Handler, target string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	body, _ := io.ReadAll(w.Result().Body)
	return w.Code, string(body)
}

func testDeps() Deps {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg).ObservePass(reminder.PassReport{ItemsDue: 2})
	return Deps{
		Gatherer: reg,
		Status: func() any {
			return map[string]any{"last_pass": reminder.PassReport{PassID: "p1", ItemsDue: 2}}
		},
	}
}

func TestRouterEndpoints(t *testing.T) {
	t.Parallel()

	h := Router(Config{}, testDeps())

	if code, body := do(t, h, "/healthz", nil); code != http.StatusOK || body != "ok" {
		t.Fatalf("/healthz = %d %q", code, body)
	}

	code, body := do(t, h, "/metrics", nil)
	if code != http.StatusOK || !strings.Contains(body, "remindbot_items_due_total 2") {
		t.Fatalf("/metrics = %d\n%s", code, body)
	}

	code, body = do(t, h, "/status", nil)
	if code != http.StatusOK {
		t.Fatalf("/status = %d", code)
	}
	var got struct {
		LastPass reminder.PassReport `json:"last_pass"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode status: %v\n%s", err, body)
	}
	if got.LastPass.PassID != "p1" || got.LastPass.ItemsDue != 2 {
		t.Fatalf("status = %+v", got.LastPass)
	}

	if code, _ := do(t, h, "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("pprof should be off, got %d", code)
	}
}

func TestRouterPprof(t *testing.T) {
	t.Parallel()

	h := Router(Config{Pprof: true}, Deps{})
	if code, body := do(t, h, "/debug/pprof/", nil); code != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("/debug/pprof/ = %d", code)
	}
}

func TestRouterHealthFailure(t *testing.T) {
	t.Parallel()

	h := Router(Config{}, Deps{Health: func() error { return errors.New("db down") }})
	if code, body := do(t, h, "/healthz", nil); code != http.StatusServiceUnavailable || !strings.Contains(body, "db down") {
		t.Fatalf("/healthz = %d %q", code, body)
	}
}

func TestRouterToken(t *testing.T) {
	t.Parallel()

	h := Router(Config{Token: "s3cret"}, testDeps())

	cases := []struct {
		target string
		header map[string]string
		want   int
	}{
		{"/healthz", nil, http.StatusOK},
		{"/status", nil, http.StatusUnauthorized},
		{"/status?token=wrong", nil, http.StatusUnauthorized},
		{"/status?token=s3cret", nil, http.StatusOK},
		{"/metrics", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"/metrics", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if code, _ := do(t, h, tc.target, tc.header); code != tc.want {
			t.Fatalf("%s %v = %d, want %d", tc.target, tc.header, code, tc.want)
		}
	}
}

func TestServiceStartStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testDeps(), logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no bound address")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = client.Get("http://" + addr + "/healthz")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := client.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatal("server still answering after Stop")
	}
}

func TestServiceRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		_ = s.Stop(context.Background())
		t.Fatal("expected refusal for public bind without token")
	}

	disabled := New(Config{}, Deps{}, logx.Nop())
	if err := disabled.Start(context.Background()); err != nil || disabled.Addr() != "" {
		t.Fatalf("disabled start = %v, addr %q", err, disabled.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := IsLoopback(addr); got != want {
			t.Fatalf("IsLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}
