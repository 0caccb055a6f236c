package live

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

const (
	// DefaultVersionPoll is the fallback poll interval used while the push
	// channel is not Open.
	DefaultVersionPoll = 60 * time.Second
	// DefaultVersionDebounce suppresses bursts of on-demand version checks.
	DefaultVersionDebounce = 5 * time.Second
)

// ChannelStater exposes the push channel state to the polling fallback.
type ChannelStater interface {
	State() models.ConnectionState
}

// MismatchReporter publishes a detected version mismatch to the fleet.
// Implementations must tolerate being nil-safe wrappers.
type MismatchReporter interface {
	PublishVersionMismatch(running, deployed string)
}

// Checker compares the deployed version token against the running one.
// Push events feed it directly; while the push channel is down it polls the
// version endpoint itself so a deploy is never missed.
type Checker struct {
	url      string
	client   *http.Client
	running  string
	notice   *Notice
	channel  ChannelStater
	reporter MismatchReporter
	clock    clock.Clock
	reg      *registry.Registry
	poll     time.Duration
	debounce time.Duration
	logger   *logrus.Entry

	mu        sync.Mutex
	lastCheck time.Time
}

// NewChecker wires the checker. running is the version token this process was
// built with; channel may be nil, in which case the poller always runs.
func NewChecker(url, running string, notice *Notice, channel ChannelStater, reporter MismatchReporter, clk clock.Clock, reg *registry.Registry, poll, debounce time.Duration, logger *logrus.Logger) *Checker {
	if poll <= 0 {
		poll = DefaultVersionPoll
	}
	if debounce <= 0 {
		debounce = DefaultVersionDebounce
	}
	return &Checker{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		running:  running,
		notice:   notice,
		channel:  channel,
		reporter: reporter,
		clock:    clk,
		reg:      reg,
		poll:     poll,
		debounce: debounce,
		logger:   logger.WithField("component", "version"),
	}
}

// Running returns the version token of this process.
func (c *Checker) Running() string { return c.running }

// BindChannel attaches the push channel after construction; the checker, the
// channel and the event dispatcher reference each other, so one of the edges
// has to be tied late.
func (c *Checker) BindChannel(ch ChannelStater) {
	c.channel = ch
}

// Check fetches the deployed version unless one was checked within the
// debounce interval. Used by the lifecycle coordinator on wake/restore.
func (c *Checker) Check(ctx context.Context) {
	c.mu.Lock()
	now := c.clock.Now()
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.debounce {
		c.mu.Unlock()
		c.logger.Debug("Version check debounced")
		return
	}
	c.lastCheck = now
	c.mu.Unlock()

	deployed, err := c.fetch(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Version check failed")
		return
	}
	c.Observe(deployed)
}

// Observe compares a deployed version token against the running one and
// surfaces the update notice on mismatch. Push events land here.
func (c *Checker) Observe(deployed string) {
	if deployed == "" || deployed == c.running {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"running":  c.running,
		"deployed": deployed,
	}).Info("Version mismatch detected")
	if c.reporter != nil {
		c.reporter.PublishVersionMismatch(c.running, deployed)
	}
	c.notice.Trigger(deployed)
}

// Run polls the version endpoint on the fallback interval for as long as the
// push channel is not Open. While the channel is Open the push path carries
// version updates and the poll is skipped.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.poll)
	id := c.reg.TrackTimer(registry.OwnerGlobal, "version-poll", ticker.Stop)
	defer func() {
		ticker.Stop()
		c.reg.ReleaseTimer(id)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.channel != nil && c.channel.State() == models.StateOpen {
				continue
			}
			c.Check(ctx)
		}
	}
}

func (c *Checker) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build version request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch version: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("version endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read version response: %w", err)
	}
	var payload struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode version response: %w", err)
	}
	return payload.Version, nil
}
