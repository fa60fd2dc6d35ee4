package datastreams

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"StreamPull/internal/domain/models"
	drepo "StreamPull/internal/domain/repository"
	xhttp "StreamPull/pkg/http"
	applogger "StreamPull/pkg/logger"
	"StreamPull/pkg/streams"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Stream implements ReportStream over the Data Streams WebSocket.
type Stream struct {
	wsURL          string
	signer         *streams.Signer
	feedIDs        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	dialer         *websocket.Dialer
	log            *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

var _ drepo.ReportStream = (*Stream)(nil)

// NewStream creates a report stream for feedIDs.
func NewStream(wsURL string, signer *streams.Signer, feedIDs []string, reconnectDelay, pingInterval time.Duration, l *applogger.Logger) *Stream {
	if l == nil {
		l = applogger.Nop()
	}
	return &Stream{
		wsURL:          strings.TrimRight(wsURL, "/"),
		signer:         signer,
		feedIDs:        feedIDs,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		dialer:         websocket.DefaultDialer,
		log:            l,
	}
}

// Connect dials the stream with freshly signed headers.
func (s *Stream) Connect(ctx context.Context) error {
	path := pathWS + "?feedIDs=" + strings.Join(s.feedIDs, ",")
	signed, err := s.signer.Sign(http.MethodGet, path)
	if err != nil {
		return fmt.Errorf("stream sign: %w", err)
	}
	hdr := http.Header{}
	signed.Apply(hdr)

	conn, resp, err := s.dialer.DialContext(ctx, s.wsURL+path, hdr)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stream connect: %w", &xhttp.StatusError{StatusCode: resp.StatusCode})
		}
		return fmt.Errorf("stream connect: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	s.log.Info("stream connected", applogger.Int("feeds", len(s.feedIDs)))
	return nil
}

// Read streams report envelopes until the connection fails or ctx ends.
// Both channels are closed when reading stops.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Report, <-chan error) {
	reports := make(chan *models.Report, 256)
	errs := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		errs <- errors.New("stream not connected")
		close(reports)
		close(errs)
		return reports, errs
	}

	done := make(chan struct{})
	if s.pingInterval > 0 {
		go s.pingLoop(ctx, conn, done)
	}

	go func() {
		defer close(done)
		defer close(reports)
		defer close(errs)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				s.connected.Store(false)
				if ctx.Err() == nil {
					errs <- fmt.Errorf("stream read: %w", err)
				}
				return
			}
			r, ok := parseFrame(b)
			if !ok {
				continue
			}
			select {
			case reports <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	return reports, errs
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.pingInterval)); err != nil {
				s.log.Warn("stream ping failed", applogger.Error(err))
			}
		}
	}
}

// parseFrame extracts the report envelope; frames without one are skipped.
func parseFrame(b []byte) (*models.Report, bool) {
	if !gjson.ValidBytes(b) {
		return nil, false
	}
	rep := gjson.GetBytes(b, "report")
	if !rep.IsObject() {
		return nil, false
	}
	r := &models.Report{
		FeedID:                rep.Get("feedID").String(),
		ValidFromTimestamp:    uint32(rep.Get("validFromTimestamp").Uint()),
		ObservationsTimestamp: uint32(rep.Get("observationsTimestamp").Uint()),
		FullReport:            rep.Get("fullReport").String(),
	}
	if r.FullReport == "" {
		return nil, false
	}
	return r, true
}

// Reconnect closes the connection, waits the fixed reconnect delay and dials again.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
	}
	return s.Connect(ctx)
}

// Close closes the WebSocket connection.
func (s *Stream) Close() error {
	s.connected.Store(false)
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected reports whether the last dial succeeded and reading has not failed.
func (s *Stream) IsConnected() bool { return s.connected.Load() }
