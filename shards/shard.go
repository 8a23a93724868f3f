package shards

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Zarithya/TwitchIO/credential"
	"github.com/Zarithya/TwitchIO/errors"
	"github.com/Zarithya/TwitchIO/health"
	"github.com/Zarithya/TwitchIO/metric"
	"github.com/Zarithya/TwitchIO/pkg/ratelimit"
	"github.com/Zarithya/TwitchIO/pkg/retry"
	"github.com/Zarithya/TwitchIO/pkg/worker"
	"github.com/Zarithya/TwitchIO/transport"
)

// inboundFrame is one line handed off to the dispatch pool.
type inboundFrame struct {
	shardID string
	line    string
}

// Shard owns one transport-backed connection under one identity and a
// mutable set of member channels. It runs its own
// connect/authenticate/join/reconnect state machine; channel sets are
// disjoint across shards, so no cross-shard locking is needed.
type Shard struct {
	id       string
	identity string
	creation int

	provider  credential.Provider
	transport transport.Transport

	connectTimeout time.Duration
	authTimeout    time.Duration
	backoffCfg     retry.Config

	joinLimiter *ratelimit.Limiter
	msgLimiter  *ratelimit.Limiter

	frameHandler FrameHandler
	pool         *worker.Pool[inboundFrame]

	logger    *slog.Logger
	events    *EventLogger
	healthMon *health.Monitor
	metrics   *metric.Metrics

	mu         sync.Mutex
	state      State
	channels   map[string]struct{}
	joined     map[string]bool
	conn       transport.Conn
	termErr    error
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	startedAt  time.Time
	reconnects int
}

// newShard builds a shard from defaulted options. Shards are created
// only by their manager; creation is the manager's monotonic ordering.
func newShard(id string, creation int, opts Options) *Shard {
	s := &Shard{
		id:             id,
		identity:       opts.Identity,
		creation:       creation,
		provider:       opts.Provider,
		transport:      opts.Transport,
		connectTimeout: opts.ConnectTimeout,
		authTimeout:    opts.AuthTimeout,
		backoffCfg:     opts.Backoff,
		joinLimiter:    ratelimit.NewJoinLimiter(opts.Status),
		msgLimiter:     ratelimit.NewMessageLimiter(opts.Status),
		frameHandler:   opts.FrameHandler,
		logger:         opts.Logger.With("shard", id),
		events:         opts.Events,
		healthMon:      opts.Health,
		metrics:        opts.Metrics,
		state:          StateDisconnected,
		channels:       make(map[string]struct{}),
	}
	return s
}

// ID returns the shard's unique identifier.
func (s *Shard) ID() string { return s.id }

// Identity returns the account the shard authenticates as.
func (s *Shard) Identity() string { return s.identity }

// State returns the current connection state.
func (s *Shard) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channels returns a sorted snapshot of the tracked channel set.
func (s *Shard) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// ChannelCount returns the number of tracked channels.
func (s *Shard) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Err returns the terminal error recorded when the run loop exited, if
// any. Only fatal conditions (failed authentication) are recorded.
func (s *Shard) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// Done returns a channel closed when the run loop has fully exited.
// For a shard that was never started it is already closed.
func (s *Shard) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Start brings the shard up. With block=true the reconnection loop runs
// inline and Start returns only once the shard is stopped, reporting
// any terminal error. With block=false the loop runs concurrently and
// Start returns immediately.
//
// After a terminal auth failure the shard may be started again once
// credentials have been refreshed.
func (s *Shard) Start(ctx context.Context, block bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "shard", "start", s.id)
	}
	s.running = true
	s.termErr = nil
	s.done = make(chan struct{})
	s.startedAt = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.frameHandler != nil {
		s.pool = worker.NewPool(dispatchWorkers, dispatchQueueSize, s.processFrame)
	}
	pool := s.pool
	s.mu.Unlock()

	if pool != nil {
		if err := pool.Start(runCtx); err != nil {
			s.finishRun()
			return errors.Wrap(err, "shard", "start", "dispatch pool")
		}
	}

	if block {
		s.run(runCtx)
		return s.Err()
	}
	go s.run(runCtx)
	return nil
}

// Stop transitions the shard to stopped from any state, cancelling an
// in-flight connect or backoff wait, and returns once the run loop has
// fully exited. Stopping a shard that never started is a no-op.
func (s *Shard) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	running := s.running
	done := s.done
	s.mu.Unlock()

	if !running {
		return
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

// AddChannels adds channels to the tracked set. When the shard is
// connected the membership frames are sent immediately; otherwise the
// mutation is retained and replayed in full on the next (re)connect.
func (s *Shard) AddChannels(ctx context.Context, names ...string) error {
	pending := make([]string, 0, len(names))
	s.mu.Lock()
	for _, name := range names {
		ch := normalizeChannel(name)
		if ch == "" {
			continue
		}
		s.channels[ch] = struct{}{}
		pending = append(pending, ch)
	}
	count := len(s.channels)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordChannelsTracked(s.id, count)
	}

	// Already-tracked channels go through sendJoin too: the per-session
	// joined set makes it a no-op when the JOIN already went out, and a
	// retry after a failed send reaches the live connection.
	for _, ch := range pending {
		if err := s.sendJoin(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// RemoveChannels removes channels from the tracked set, sending PART
// frames for any the shard had joined on the live connection.
func (s *Shard) RemoveChannels(ctx context.Context, names ...string) error {
	type part struct {
		ch   string
		conn transport.Conn
	}
	var parts []part

	s.mu.Lock()
	for _, name := range names {
		ch := normalizeChannel(name)
		if ch == "" {
			continue
		}
		delete(s.channels, ch)
		if s.joined != nil && s.joined[ch] {
			delete(s.joined, ch)
			parts = append(parts, part{ch: ch, conn: s.conn})
		}
	}
	count := len(s.channels)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordChannelsTracked(s.id, count)
	}

	for _, p := range parts {
		if p.conn == nil {
			continue
		}
		if err := p.conn.Send(ctx, "PART #"+p.ch); err != nil {
			return errors.WrapTransient(err, "shard", "remove_channels", p.ch)
		}
		if s.metrics != nil {
			s.metrics.RecordFrameSent(s.id)
		}
	}
	return nil
}

// SendRaw sends one raw frame on the live connection. Sends while the
// shard is not active fail fast with a transient error; frames are
// never queued.
func (s *Shard) SendRaw(ctx context.Context, line string) error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()

	if state != StateActive || conn == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "shard", "send", s.id)
	}
	if err := conn.Send(ctx, line); err != nil {
		return errors.WrapTransient(err, "shard", "send", s.id)
	}
	if s.metrics != nil {
		s.metrics.RecordFrameSent(s.id)
	}
	return nil
}

// Privmsg sends a chat message to a channel through the message rate
// limiter.
func (s *Shard) Privmsg(ctx context.Context, channel, text string) error {
	ch := normalizeChannel(channel)
	if err := s.msgLimiter.Wait(ctx); err != nil {
		return errors.WrapTransient(err, "shard", "privmsg", ch)
	}
	return s.SendRaw(ctx, fmt.Sprintf("PRIVMSG #%s :%s", ch, text))
}

// run is the reconnection loop: one session per connection, unbounded
// exponential backoff between transient failures, terminal exit on
// stop or a fatal auth error.
func (s *Shard) run(ctx context.Context) {
	defer s.finishRun()

	bo := retry.NewBackoff(s.backoffCfg)
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runSession(ctx, bo)
		if err == nil || ctx.Err() != nil {
			return
		}
		if errors.IsFatal(err) {
			s.recordTerminal(err)
			return
		}

		s.setState(StateReconnectWait)
		s.noteReconnect()
		s.logger.Warn("connection lost, backing off",
			"error", err,
			"attempt", bo.Attempt()+1)

		if werr := bo.Wait(ctx); werr != nil {
			return
		}
	}
}

// runSession performs one full connect/authenticate/join/active cycle.
// A nil return means a clean stop; transient errors send the caller
// into backoff and fatal ones are terminal.
func (s *Shard) runSession(ctx context.Context, bo *retry.Backoff) error {
	s.setState(StateConnecting)

	// Credentials are resolved per attempt so a refreshed token is
	// picked up across reconnects.
	creds, err := s.provider.Resolve(ctx, s.identity, "")
	if err != nil {
		if errors.IsFatal(err) {
			return err
		}
		return errors.WrapTransient(err, "shard", "connect", "resolve credentials")
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, s.connectTimeout)
	conn, err := s.transport.Open(dialCtx, creds.Login)
	cancelDial()
	if err != nil {
		if errors.IsFatal(err) {
			return err
		}
		return errors.WrapTransient(err, "shard", "connect", "open transport")
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.joined = make(map[string]bool)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.joined = nil
		s.mu.Unlock()
	}()

	if err := s.authenticate(ctx, conn, creds); err != nil {
		return err
	}

	s.setState(StateJoining)
	for _, ch := range s.Channels() {
		if err := s.sendJoin(ctx, ch); err != nil {
			return err
		}
	}

	s.setState(StateActive)
	bo.Reset()
	s.logger.Info("shard active", "channels", s.ChannelCount())

	return s.readLoop(ctx, conn)
}

// authenticate performs the PASS/NICK/CAP handshake and waits for the
// welcome (001) or an auth-failure NOTICE, bounded by the auth timeout.
// Auth rejection is fatal; everything else is transient.
func (s *Shard) authenticate(ctx context.Context, conn transport.Conn, creds credential.Credentials) error {
	s.setState(StateAuthenticating)

	authCtx, cancel := context.WithTimeout(ctx, s.authTimeout)
	defer cancel()

	for _, line := range []string{
		creds.PassLine(),
		"NICK " + creds.Login,
		"CAP REQ :twitch.tv/membership twitch.tv/tags twitch.tv/commands",
	} {
		if err := conn.Send(authCtx, line); err != nil {
			return errors.WrapTransient(err, "shard", "authenticate", "handshake send")
		}
	}

	for {
		line, err := conn.Recv(authCtx)
		if err != nil {
			if authCtx.Err() != nil && ctx.Err() == nil {
				return errors.WrapTransient(errors.ErrConnectionTimeout, "shard", "authenticate", "no welcome before deadline")
			}
			return errors.WrapTransient(err, "shard", "authenticate", "handshake recv")
		}

		switch {
		case isAuthSuccess(line):
			return nil
		case isAuthFailure(line):
			if s.metrics != nil {
				s.metrics.RecordAuthFailure(s.id)
			}
			return errors.WrapFatal(errors.ErrAuthenticationFailed, "shard", "authenticate", s.identity)
		case isPing(line):
			if err := conn.Send(authCtx, pongFor(line)); err != nil {
				return errors.WrapTransient(err, "shard", "authenticate", "pong send")
			}
		}
		// Pre-welcome server noise (MOTD etc) is ignored.
	}
}

// readLoop consumes inbound frames until the connection is lost, the
// gateway requests a reconnect, or the shard is stopped.
func (s *Shard) readLoop(ctx context.Context, conn transport.Conn) error {
	for {
		line, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WrapTransient(err, "shard", "run", "connection lost")
		}
		if s.metrics != nil {
			s.metrics.RecordFrameReceived(s.id)
		}

		switch {
		case isPing(line):
			if err := conn.Send(ctx, pongFor(line)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.WrapTransient(err, "shard", "run", "pong send")
			}
			if s.metrics != nil {
				s.metrics.RecordFrameSent(s.id)
			}
		case isReconnect(line):
			s.logger.Info("gateway requested reconnect")
			return errors.WrapTransient(errors.ErrConnectionLost, "shard", "run", "reconnect requested")
		default:
			if s.pool != nil {
				// Drop rather than stall the read loop when the
				// handler cannot keep up.
				_ = s.pool.Submit(inboundFrame{shardID: s.id, line: line})
			}
		}
	}
}

// processFrame runs on the dispatch pool.
func (s *Shard) processFrame(_ context.Context, f inboundFrame) error {
	s.frameHandler(f.shardID, f.line)
	return nil
}

// sendJoin sends the membership frame for one channel at most once per
// session; replay and concurrent AddChannels calls coordinate through
// the per-session joined set so each tracked channel gets exactly one
// JOIN per connection.
func (s *Shard) sendJoin(ctx context.Context, ch string) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil || s.joined == nil || s.joined[ch] {
		s.mu.Unlock()
		return nil
	}
	if s.state != StateJoining && s.state != StateActive {
		s.mu.Unlock()
		return nil
	}
	s.joined[ch] = true
	s.mu.Unlock()

	err := s.joinLimiter.Wait(ctx)
	if err == nil {
		err = conn.Send(ctx, "JOIN #"+ch)
	}
	if err != nil {
		// Release the reservation so a retry can still send the frame
		// on this session. Without this the channel would stay tracked
		// but unjoined until the next reconnect.
		s.mu.Lock()
		if s.conn == conn && s.joined != nil {
			delete(s.joined, ch)
		}
		s.mu.Unlock()
		return errors.WrapTransient(err, "shard", "join", ch)
	}
	if s.metrics != nil {
		s.metrics.RecordJoinSent(s.id)
		s.metrics.RecordFrameSent(s.id)
	}
	return nil
}

func (s *Shard) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	uptime := time.Since(s.startedAt)
	channels := len(s.channels)
	reconnects := s.reconnects
	s.mu.Unlock()

	if from == to {
		return
	}

	s.logger.Debug("state transition", "from", from.String(), "to", to.String())
	s.events.StateChanged(s.id, from, to)
	if s.metrics != nil {
		s.metrics.RecordShardState(s.id, int(to))
	}
	if s.healthMon == nil {
		return
	}

	switch to {
	case StateActive:
		status := health.NewHealthy(s.id, "connected").WithMetrics(&health.Metrics{
			Uptime:       uptime,
			Channels:     channels,
			Reconnects:   reconnects,
			LastActivity: time.Now(),
		})
		s.healthMon.Update(s.id, status)
	case StateReconnectWait:
		s.healthMon.UpdateDegraded(s.id, "reconnecting")
	case StateStopped:
		if err := s.Err(); err != nil {
			s.healthMon.UpdateUnhealthy(s.id, err.Error())
		} else {
			s.healthMon.UpdateUnhealthy(s.id, "stopped")
		}
	}
}

func (s *Shard) noteReconnect() {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordReconnect(s.id)
	}
}

func (s *Shard) recordTerminal(err error) {
	s.mu.Lock()
	s.termErr = err
	s.mu.Unlock()
	s.events.ShardError(s.id, err)
	s.logger.Error("shard terminated", "error", err)
}

// finishRun marks the shard stopped and releases run-loop resources.
func (s *Shard) finishRun() {
	s.mu.Lock()
	pool := s.pool
	s.pool = nil
	done := s.done
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pool != nil {
		_ = pool.Stop(2 * time.Second)
	}
	s.setState(StateStopped)
	if done != nil {
		close(done)
	}
}
