// Package client is a Go client for the insider coordinator. It talks to the HTTP API,
// listens on the room websocket and keeps the local view of server time and pending
// actions consistent with what the server broadcasts.
package client

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"insider/internal/game"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Client struct {
	baseURL  string
	playerID string
	http     *http.Client
	logger   *zap.Logger
	now      func() time.Time
	backoff  func() backoff.BackOff

	mu       sync.Mutex
	offset   time.Duration
	handlers map[string][]Handler
	seen     *recentIDs
	versions map[string]int64
	pending  map[string]*Pending
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithBackoff replaces the retry policy used for reads and vote submission.
func WithBackoff(policy func() backoff.BackOff) Option {
	return func(c *Client) { c.backoff = policy }
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// New returns a client acting as playerID. playerID may be empty for spectators.
func New(baseURL, playerID string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		playerID: playerID,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   zap.NewNop(),
		now:      time.Now,
		backoff:  defaultBackoff,
		handlers: make(map[string][]Handler),
		seen:     newRecentIDs(recentIDCapacity),
		versions: make(map[string]int64),
		pending:  make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) PlayerID() string {
	return c.playerID
}

// SetPlayerID switches identity, typically after CreateRoom or JoinRoom.
func (c *Client) SetPlayerID(playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = playerID
}

func (c *Client) player() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// Offset is the last measured difference between the server clock and the local clock.
func (c *Client) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Client) observeServerNow(serverNow int64) {
	if serverNow <= 0 {
		return
	}
	offset := game.Offset(game.FromEpoch(serverNow), c.now())
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

// Remaining is the time left until deadlineEpoch on the server's clock.
func (c *Client) Remaining(deadlineEpoch int64) time.Duration {
	return game.RemainingWithOffset(game.FromEpoch(deadlineEpoch), c.now(), c.Offset())
}
