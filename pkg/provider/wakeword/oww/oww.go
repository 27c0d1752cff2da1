// Package oww provides a wake-word [wakeword.Provider] backed by an
// openWakeWord inference bridge reached over a WebSocket.
//
// Protocol:
//
//   - The client connects to the bridge URL with the requested models in the
//     "models" query parameter (comma-separated) and "sample_rate".
//   - The bridge sends a text message {"type":"hello","loaded_models":[...]}.
//   - For every binary message carrying little-endian int16 PCM, the bridge
//     replies with {"type":"predictions","predictions":{"label":score,...}}.
//   - {"type":"error","error":"..."} reports a bridge-side failure.
//
// Predict runs on the hot audio path, so it never dials. A prediction that
// fails drops the connection and starts a background redial; until it
// succeeds Predict fails fast with [ErrDisconnected].
package oww

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/wakeword"
)

const (
	defaultURL              = "ws://127.0.0.1:9002/ws"
	defaultPredictTimeout   = 60 * time.Millisecond
	defaultHandshakeTimeout = 5 * time.Second
	defaultRedialDelay      = 500 * time.Millisecond
	maxRedialDelay          = 10 * time.Second
)

// ErrDisconnected is returned by Predict while the bridge connection is
// being re-established.
var ErrDisconnected = errors.New("oww: bridge disconnected")

// Compile-time interface assertions.
var (
	_ wakeword.Provider = (*Provider)(nil)
	_ wakeword.Model    = (*Session)(nil)
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModels requests the named models from the bridge (e.g. "hey_jarvis").
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// WithPredictTimeout bounds a single prediction round trip. It should stay
// below the 80ms frame period. Default: 60ms.
func WithPredictTimeout(d time.Duration) Option {
	return func(p *Provider) { p.predictTimeout = d }
}

// WithHandshakeTimeout bounds dialing and waiting for the hello message.
// Default: 5s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(p *Provider) { p.handshakeTimeout = d }
}

// WithRedialDelay sets the first wait between reconnection attempts. It
// doubles after every failure up to 10s. Default: 500ms.
func WithRedialDelay(d time.Duration) Option {
	return func(p *Provider) { p.redialDelay = d }
}

// Provider dials an openWakeWord bridge.
type Provider struct {
	url              string
	models           []string
	predictTimeout   time.Duration
	handshakeTimeout time.Duration
	redialDelay      time.Duration
}

// New creates a Provider for the bridge at rawURL (ws:// or wss://). An empty
// URL selects ws://127.0.0.1:9002/ws.
func New(rawURL string, opts ...Option) (*Provider, error) {
	if rawURL == "" {
		rawURL = defaultURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("oww: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("oww: url scheme must be ws or wss, got %q", u.Scheme)
	}
	p := &Provider{
		url:              rawURL,
		predictTimeout:   defaultPredictTimeout,
		handshakeTimeout: defaultHandshakeTimeout,
		redialDelay:      defaultRedialDelay,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Load implements [wakeword.Provider]. It connects to the bridge and waits
// for the list of loaded models.
func (p *Provider) Load(ctx context.Context) (wakeword.Model, error) {
	conn, labels, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	s := &Session{p: p, conn: conn, labels: labels}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (p *Provider) dialURL() string {
	u, err := url.Parse(p.url)
	if err != nil {
		return p.url
	}
	q := u.Query()
	if len(p.models) > 0 {
		q.Set("models", strings.Join(p.models, ","))
	}
	q.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	u.RawQuery = q.Encode()
	return u.String()
}

// message is the envelope of every bridge message.
type message struct {
	Type         string             `json:"type"`
	LoadedModels []string           `json:"loaded_models,omitempty"`
	Predictions  map[string]float64 `json:"predictions,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Session is a live connection to the bridge. Predict calls are serialised.
type Session struct {
	p      *Provider
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	conn      *websocket.Conn
	labels    []string
	closed    bool
	redialing bool
}

// dial connects and waits for the hello message.
func (p *Provider) dial(ctx context.Context) (*websocket.Conn, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, p.dialURL(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("oww: dial: %w", err)
	}
	var hello message
	if err := readMessage(ctx, conn, &hello); err != nil {
		conn.Close(websocket.StatusProtocolError, "no hello")
		return nil, nil, fmt.Errorf("oww: handshake: %w", err)
	}
	if hello.Type != "hello" {
		conn.Close(websocket.StatusProtocolError, "unexpected message")
		return nil, nil, fmt.Errorf("oww: handshake: unexpected message type %q", hello.Type)
	}
	slog.Debug("oww: connected", "models", hello.LoadedModels)
	return conn, hello.LoadedModels, nil
}

// Predict implements [wakeword.Model]. It never dials; while disconnected it
// returns [ErrDisconnected] immediately.
func (s *Session) Predict(ctx context.Context, samples []int16) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("oww: session closed")
	}
	if s.conn == nil {
		s.redial()
		return nil, ErrDisconnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.p.predictTimeout)
	defer cancel()

	if err := s.conn.Write(ctx, websocket.MessageBinary, audio.SamplesToBytes(samples)); err != nil {
		s.drop()
		return nil, fmt.Errorf("oww: send frame: %w", err)
	}
	var resp message
	if err := readMessage(ctx, s.conn, &resp); err != nil {
		s.drop()
		return nil, fmt.Errorf("oww: read predictions: %w", err)
	}
	switch resp.Type {
	case "predictions":
		return resp.Predictions, nil
	case "error":
		return nil, fmt.Errorf("oww: bridge error: %s", resp.Error)
	default:
		return nil, fmt.Errorf("oww: unexpected message type %q", resp.Type)
	}
}

// Labels implements [wakeword.Model].
func (s *Session) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.labels...)
}

// Close implements [wakeword.Model].
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "closing")
}

// drop abandons a broken connection and starts a redial. s.mu must be held.
func (s *Session) drop() {
	if s.conn != nil {
		s.conn.CloseNow()
		s.conn = nil
	}
	s.redial()
}

// redial starts the background reconnect loop unless one is running.
// s.mu must be held.
func (s *Session) redial() {
	if s.redialing || s.closed {
		return
	}
	s.redialing = true
	s.wg.Add(1)
	go s.redialLoop()
}

func (s *Session) redialLoop() {
	defer s.wg.Done()
	delay := s.p.redialDelay
	for {
		select {
		case <-s.ctx.Done():
			s.finishRedial(nil, nil)
			return
		case <-time.After(delay):
		}

		conn, labels, err := s.p.dial(s.ctx)
		if err == nil {
			s.finishRedial(conn, labels)
			slog.Info("oww: reconnected to bridge")
			return
		}
		if s.ctx.Err() != nil {
			s.finishRedial(nil, nil)
			return
		}
		delay = min(delay*2, maxRedialDelay)
		slog.Warn("oww: reconnect failed", "err", err, "retry_in", delay)
	}
}

// finishRedial installs conn unless the session was closed meanwhile.
func (s *Session) finishRedial(conn *websocket.Conn, labels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redialing = false
	if conn == nil {
		return
	}
	if s.closed {
		conn.CloseNow()
		return
	}
	s.conn = conn
	if len(labels) > 0 {
		s.labels = labels
	}
}

func readMessage(ctx context.Context, conn *websocket.Conn, v *message) error {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	if typ != websocket.MessageText {
		return errors.New("expected a text message")
	}
	return json.Unmarshal(data, v)
}
