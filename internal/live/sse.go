package live

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Event is one named server-sent event from the push stream.
type Event struct {
	Name string
	Data []byte
}

// Stream is an open push connection. Events closes when the stream dies;
// the consumer then owns reconnecting.
type Stream interface {
	Events() <-chan Event
	Close() error
}

// Dialer opens a push stream. Split out as an interface so the channel state
// machine is testable without a server.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// SSEDialer connects to a text/event-stream endpoint.
type SSEDialer struct {
	URL    string
	Client *http.Client
	logger *logrus.Entry
}

// NewSSEDialer uses a client without a global timeout: the stream is
// long-lived by design, only the dial phase is bounded (by the caller's
// context and the channel watchdog).
func NewSSEDialer(url string, logger *logrus.Logger) *SSEDialer {
	return &SSEDialer{
		URL:    url,
		Client: &http.Client{},
		logger: logger.WithField("component", "sse"),
	}
}

// Dial issues the streaming GET and starts the background reader.
func (d *SSEDialer) Dial(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to push stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("push stream returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("push stream returned content-type %q", ct)
	}

	s := &sseStream{
		resp:   resp,
		events: make(chan Event, 16),
		logger: d.logger,
	}
	go s.read()
	return s, nil
}

type sseStream struct {
	resp   *http.Response
	events chan Event
	logger *logrus.Entry
}

func (s *sseStream) Events() <-chan Event { return s.events }

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}

// read parses the wire format: "event:"/"data:" lines accumulate until a
// blank line dispatches the event. Comments and id/retry fields are ignored.
func (s *sseStream) read() {
	defer close(s.events)
	defer s.resp.Body.Close()

	scanner := bufio.NewScanner(s.resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 || name != "" {
				ev := Event{Name: name, Data: []byte(data.String())}
				if ev.Name == "" {
					ev.Name = "message"
				}
				select {
				case s.events <- ev:
				default:
					s.logger.WithField("event", ev.Name).Warn("Dropping push event, consumer too slow")
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.WithError(err).Debug("Push stream closed")
	}
}
