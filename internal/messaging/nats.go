package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/pkg/config"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// Subjects published by the agent. A fleet of displays shares one upstream;
// the bus lets operators watch freshness across all of them.
const (
	SubjectStale     = "spot.freshness.stale"
	SubjectRefreshed = "spot.freshness.refreshed"
	SubjectVersion   = "spot.version.mismatch"
)

// Publisher emits freshness and version telemetry to NATS. A nil *Publisher
// is valid and publishes nothing, so callers need no enabled-checks.
type Publisher struct {
	conn   *nats.Conn
	agent  string
	logger *logrus.Entry
}

// NewPublisher connects to NATS with reconnect handling.
func NewPublisher(cfg *config.NATSConfig, agent string, logger *logrus.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Publisher{
		conn:   conn,
		agent:  agent,
		logger: logger.WithField("component", "nats"),
	}, nil
}

// StaleNotice is the payload for SubjectStale.
type StaleNotice struct {
	Agent        string    `json:"agent"`
	Role         string    `json:"role"`
	ExpectedDate string    `json:"expected_date"`
	At           time.Time `json:"at"`
}

// RefreshNotice is the payload for SubjectRefreshed.
type RefreshNotice struct {
	Agent string    `json:"agent"`
	Role  string    `json:"role"`
	Date  string    `json:"date"`
	Rows  int       `json:"rows"`
	At    time.Time `json:"at"`
}

// VersionNotice is the payload for SubjectVersion.
type VersionNotice struct {
	Agent    string    `json:"agent"`
	Running  string    `json:"running"`
	Deployed string    `json:"deployed"`
	At       time.Time `json:"at"`
}

// PublishStale reports a role whose snapshot is missing or expired.
func (p *Publisher) PublishStale(role models.Role, expectedDate string) {
	if p == nil {
		return
	}
	p.publish(SubjectStale, StaleNotice{
		Agent:        p.agent,
		Role:         string(role),
		ExpectedDate: expectedDate,
		At:           time.Now().UTC(),
	})
}

// PublishRefreshed reports an accepted refresh.
func (p *Publisher) PublishRefreshed(role models.Role, snap *models.Snapshot) {
	if p == nil {
		return
	}
	p.publish(SubjectRefreshed, RefreshNotice{
		Agent: p.agent,
		Role:  string(role),
		Date:  snap.Date,
		Rows:  len(snap.Rows),
		At:    time.Now().UTC(),
	})
}

// PublishVersionMismatch reports a deployed version differing from the
// running one.
func (p *Publisher) PublishVersionMismatch(running, deployed string) {
	if p == nil {
		return
	}
	p.publish(SubjectVersion, VersionNotice{
		Agent:    p.agent,
		Running:  running,
		Deployed: deployed,
		At:       time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("Failed to marshal notice")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		// Telemetry only; the scheduler never depends on the bus.
		p.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish notice")
	}
}

// IsConnected checks if NATS is connected.
func (p *Publisher) IsConnected() bool {
	if p == nil {
		return false
	}
	return p.conn.IsConnected()
}

// Close closes the NATS connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.conn.Close()
	return nil
}
