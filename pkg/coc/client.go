// Package coc is a small client for the Clash of Clans REST API.
// Every request is throttled and guarded by a circuit breaker, and failures
// come back as one of the error kinds in errors.go.
package coc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/metrics"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"github.com/PancyStudios/ClashBotGo/pkg/throttle"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Options configures a Client
type Options struct {
	BaseURL    string
	Token      string
	Throttler  *throttle.Throttler
	HTTPClient *http.Client
	// BreakerName labels the breaker in logs and metrics
	BreakerName string
}

// Client talks to the game API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	throttle   *throttle.Throttler
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a Client
func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Throttler == nil {
		opts.Throttler = throttle.New(throttle.Config{})
	}
	if opts.BreakerName == "" {
		opts.BreakerName = "coc-api"
	}

	metrics.CircuitBreakerState.WithLabelValues(opts.BreakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        opts.BreakerName,
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Only upstream trouble counts against the breaker. A 404 is a healthy answer.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(fmt.Sprintf("Circuit breaker %s: %s -> %s", name, from.String(), to.String()), "CocAPI")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Client{
		baseURL:    opts.BaseURL,
		token:      opts.Token,
		httpClient: opts.HTTPClient,
		throttle:   opts.Throttler,
		breaker:    cb,
	}
}

// Throttler returns the limiter in front of the API
func (c *Client) Throttler() *throttle.Throttler {
	return c.throttle
}

// GetClan fetches a clan snapshot
func (c *Client) GetClan(ctx context.Context, tag string) (*models.Clan, error) {
	tag, err := ValidateTag(tag)
	if err != nil {
		return nil, err
	}
	return getJSON[models.Clan](ctx, c, "clan", "/clans/"+url.PathEscape(tag))
}

// GetPlayer fetches a player snapshot
func (c *Client) GetPlayer(ctx context.Context, tag string) (*models.Player, error) {
	tag, err := ValidateTag(tag)
	if err != nil {
		return nil, err
	}
	return getJSON[models.Player](ctx, c, "player", "/players/"+url.PathEscape(tag))
}

// GetCurrentWar fetches the current regular war of a clan
func (c *Client) GetCurrentWar(ctx context.Context, clanTag string) (*models.War, error) {
	clanTag, err := ValidateTag(clanTag)
	if err != nil {
		return nil, err
	}
	return getJSON[models.War](ctx, c, "currentwar", "/clans/"+url.PathEscape(clanTag)+"/currentwar")
}

// GetLeagueGroup fetches the war league group a clan is in
func (c *Client) GetLeagueGroup(ctx context.Context, clanTag string) (*models.LeagueGroup, error) {
	clanTag, err := ValidateTag(clanTag)
	if err != nil {
		return nil, err
	}
	return getJSON[models.LeagueGroup](ctx, c, "leaguegroup", "/clans/"+url.PathEscape(clanTag)+"/currentwar/leaguegroup")
}

// GetLeagueWar fetches one round war of a league group
func (c *Client) GetLeagueWar(ctx context.Context, warTag string) (*models.War, error) {
	warTag, err := ValidateTag(warTag)
	if err != nil {
		return nil, err
	}
	war, err := getJSON[models.War](ctx, c, "leaguewar", "/clanwarleagues/wars/"+url.PathEscape(warTag))
	if err != nil {
		return nil, err
	}
	war.WarTag = warTag
	return war, nil
}

// GetRaidLog fetches the latest capital raid seasons, newest first
func (c *Client) GetRaidLog(ctx context.Context, clanTag string, limit int) (*models.RaidLog, error) {
	clanTag, err := ValidateTag(clanTag)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/clans/%s/capitalraidseasons?limit=%d", url.PathEscape(clanTag), limit)
	return getJSON[models.RaidLog](ctx, c, "capitalraidseasons", path)
}

// Ping reports whether the API is answering. A not-found answer counts as up.
func (c *Client) Ping(ctx context.Context, probeTag string) error {
	_, err := c.GetClan(ctx, probeTag)
	if err == nil || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func getJSON[T any](ctx context.Context, c *Client, endpoint, path string) (*T, error) {
	data, err := c.get(ctx, endpoint, path)
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return &out, nil
}

// get runs one request behind the breaker
func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, endpoint, path)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %v", ErrTransient, endpoint, err)
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint, path string) ([]byte, error) {
	if err := c.throttle.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, endpoint, err)
	}
	defer c.throttle.Release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrTransient, endpoint, err)
	}

	metrics.APIResponses.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusOK {
		return data, nil
	}

	var body errorBody
	_ = json.Unmarshal(data, &body)
	return nil, &APIError{
		Endpoint: endpoint,
		Status:   resp.StatusCode,
		Reason:   body.Reason,
		Message:  body.Message,
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
