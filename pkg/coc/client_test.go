package coc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/PancyStudios/ClashBotGo/pkg/throttle"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{
		BaseURL:     srv.URL,
		Token:       "token",
		Throttler:   throttle.New(throttle.Config{Rate: 1000, Burst: 100}),
		BreakerName: t.Name(),
	})
	return c, &hits
}

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"#2pp", "#2PP"},
		{"2PP", "#2PP"},
		{"  #8oqq ", "#80QQ"},
		{"##2PP", "#2PP"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeTag(tt.in); got != tt.want {
				t.Errorf("NormalizeTag(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateTag(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"#2PP", true},
		{"#P2Y8QRL0", true},
		{"#ABC", false},
		{"#2P", false},
		{"#", false},
		{"#2PPPPPPPPPPPP", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ValidateTag(tt.in)
			if tt.valid && err != nil {
				t.Errorf("ValidateTag(%q) returned error: %v", tt.in, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidTag) {
				t.Errorf("ValidateTag(%q) = %v, want ErrInvalidTag", tt.in, err)
			}
		})
	}
}

func TestGetClan(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/clans/%232PP" {
			t.Errorf("path = %v, want /clans/%%232PP", r.URL.EscapedPath())
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %v, want Bearer token", got)
		}
		w.Write([]byte(`{"tag":"#2PP","name":"Los Panchos","members":2,"memberList":[{"tag":"#A","name":"uno"},{"tag":"#B","name":"dos"}]}`))
	})

	clan, err := c.GetClan(context.Background(), "2pp")
	if err != nil {
		t.Fatalf("GetClan() returned error: %v", err)
	}
	if clan.Name != "Los Panchos" || len(clan.MemberList) != 2 {
		t.Errorf("GetClan() = %+v, want name Los Panchos with 2 members", clan)
	}

	stats := c.Throttler().Stats()
	if stats.TotalSent != 1 || stats.TotalReceived != 1 {
		t.Errorf("throttle totals = (%v, %v), want (1, 1)", stats.TotalSent, stats.TotalReceived)
	}
}

func TestInvalidTagMakesNoRequest(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.GetPlayer(context.Background(), "#NOPE")
	if !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("GetPlayer() error = %v, want ErrInvalidTag", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server hits = %v, want 0", hits.Load())
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   string
	}{
		{"not found", http.StatusNotFound, `{"reason":"notFound"}`, "not_found"},
		{"private war log", http.StatusForbidden, `{"reason":"accessDenied"}`, "denied"},
		{"bad token", http.StatusForbidden, `{"reason":"accessDenied.invalidIp"}`, "unexpected"},
		{"rate limited", http.StatusTooManyRequests, `{"reason":"requestThrottled"}`, "transient"},
		{"bad gateway", http.StatusBadGateway, ``, "transient"},
		{"maintenance", http.StatusServiceUnavailable, `{"reason":"inMaintenance"}`, "maintenance"},
		{"teapot", http.StatusTeapot, ``, "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.GetCurrentWar(context.Background(), "#2PP")
			if got := Kind(err); got != tt.kind {
				t.Errorf("Kind(%v) = %v, want %v", err, got, tt.kind)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
				t.Errorf("error %v should be an *APIError with status %d", err, tt.status)
			}
		})
	}
}

func TestDecodeFailureIsUnexpected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag": 12`))
	})

	_, err := c.GetClan(context.Background(), "#2PP")
	if err == nil {
		t.Fatal("GetClan() should fail on a truncated body")
	}
	if got := Kind(err); got != "unexpected" {
		t.Errorf("Kind() = %v, want unexpected", got)
	}
}

func TestLeagueWarKeepsWarTag(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"inWar","clan":{"tag":"#2PP"},"opponent":{"tag":"#8QQ"}}`))
	})

	war, err := c.GetLeagueWar(context.Background(), "#2gg")
	if err != nil {
		t.Fatalf("GetLeagueWar() returned error: %v", err)
	}
	if war.WarTag != "#2GG" {
		t.Errorf("WarTag = %v, want #2GG", war.WarTag)
	}
}

func TestPingTreatsNotFoundAsUp(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if err := c.Ping(context.Background(), "#2PP"); err != nil {
		t.Errorf("Ping() = %v, want nil", err)
	}

	down, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if err := down.Ping(context.Background(), "#2PP"); !errors.Is(err, ErrMaintenance) {
		t.Errorf("Ping() = %v, want ErrMaintenance", err)
	}
}

func TestCancelledContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetClan(ctx, "#2PP")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("GetClan() error = %v, want context.Canceled", err)
	}
}
