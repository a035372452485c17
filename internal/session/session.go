// Package session implements C8, the per-(peer,pair) session state
// machine (spec.md §4.8): greeting, index exchange, transfer, conflict
// resolution, and finalize, driven as a single cooperative task per
// session (spec.md §5 "Scheduling model"). Structurally grounded on the
// teacher's sync.Engine (internal/sync/engine.go) — a config-struct
// constructor plus a numbered-step run method — generalized from a
// one-shot local/remote diff-and-execute cycle to a long-lived two-peer
// protocol session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/butterflysync/bdp/internal/bdperr"
	"github.com/butterflysync/bdp/internal/cas"
	"github.com/butterflysync/bdp/internal/folder"
	"github.com/butterflysync/bdp/internal/ids"
	"github.com/butterflysync/bdp/internal/index"
	"github.com/butterflysync/bdp/internal/merkle"
	"github.com/butterflysync/bdp/internal/model"
	"github.com/butterflysync/bdp/internal/transport"
	"github.com/butterflysync/bdp/internal/wire"
)

// State is one node of the session state machine (spec.md §4.8).
type State string

// State values.
const (
	StateIdle              State = "idle"
	StateGreeting          State = "greeting"
	StateDeltaSync         State = "delta_sync"
	StateFullSync          State = "full_sync"
	StateTransferring      State = "transferring"
	StateResolvingConflict State = "resolving_conflict"
	StateFinalizing        State = "finalizing"
	StateRetrying          State = "retrying"
	StateError             State = "error"
)

// Tunables from spec.md §6.
const (
	MaxConcurrentTransfers = 4
	MaxRetries             = 5
	RetryBaseDelayMS       = 1000
	PingIntervalMS         = 30000
	pingMissedLimit        = 2
)

// Store is the subset of the persistence layer a Session depends on:
// index and merkle node storage plus the pair/device/conflict/history
// tables. *store.Store satisfies this directly.
type Store interface {
	index.Store
	merkle.Store
	PutConflict(ctx context.Context, c model.Conflict) error
	GetConflict(ctx context.Context, pairID ids.PairID, path string) (*model.Conflict, error)
	ListConflicts(ctx context.Context, pairID ids.PairID, onlyUnresolved bool) ([]model.Conflict, error)
	AppendHistory(ctx context.Context, h model.SyncHistory) error
	GetPair(ctx context.Context, id ids.PairID) (*model.SyncPair, error)
	PutPair(ctx context.Context, p model.SyncPair) error
}

// Config configures a new Session. Mirrors the teacher's EngineConfig
// shape (internal/sync/engine.go): a struct because the field count is
// too large for positional parameters.
type Config struct {
	PairID     ids.PairID
	DeviceID   ids.DeviceID
	DeviceName string

	Transport transport.Transport
	Store     Store
	CAS       *cas.Store
	Source    folder.Source
	Sink      folder.Sink

	Pair model.SyncPair

	Logger *slog.Logger

	// OnStateChange and OnStopped are the explicit observer callbacks
	// from spec.md §9 ("Cross-component event emission → explicit
	// observer"). Both may be nil.
	OnStateChange func(State)
	OnStopped     func(error)

	// Now is injectable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// Session runs one BDP protocol session against a single peer for a
// single pair (spec.md §4.8: "one session per (peer, pair)").
type Session struct {
	pairID       ids.PairID
	deviceID     ids.DeviceID
	deviceName   string
	peerDeviceID ids.DeviceID

	conn   transport.Transport
	store  Store
	idx    *index.Index
	tree   *merkle.Tree
	blobs  *cas.Store
	source folder.Source
	sink   folder.Sink

	pair model.SyncPair

	logger *slog.Logger
	now    func() time.Time

	onStateChange func(State)
	onStopped     func(error)

	state State

	retryCount   int
	stats        model.TransferStats
	syncType     model.SyncType
	sentDone     bool
	receivedDone bool

	// knownRemoteRoot is kept in memory rather than on model.SyncPair:
	// the spec's "pair.knownRemoteRoots[peerDeviceId]" map has no
	// corresponding store column, so a session tracks only the single
	// peer it is actually talking to and lets the caller persist
	// whatever cross-peer bookkeeping it needs.
	knownRemoteRoot string

	// Index-exchange accumulation state (reset per sync).
	remoteEntries []model.FileEntry
	remoteMaxSeq  uint64

	// Conflict bookkeeping.
	pendingConflicts map[string]model.Conflict

	// Transfer bookkeeping (transfer.go).
	uploadQueue     []model.FileEntry
	downloadQueue   []model.FileEntry
	activeTransfers int
	pendingUploads  map[string]model.FileEntry  // path -> entry, awaiting ACK
	downloads       map[string]*downloadTransfer // by transferId

	msgSeq int

	lastPongAt time.Time
	pingNonce  string

	incoming chan recvResult
	stopOnce sync.Once
	done     chan struct{}
}

type recvResult struct {
	msg transport.Message
	err error
}

// New constructs a Session ready to Run. The caller owns opening/closing
// cfg.Transport, cfg.Store, and cfg.CAS.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		pairID:           cfg.PairID,
		deviceID:         cfg.DeviceID,
		deviceName:       cfg.DeviceName,
		conn:             cfg.Transport,
		store:            cfg.Store,
		idx:              index.New(cfg.Store),
		tree:             merkle.New(cfg.Store),
		blobs:            cfg.CAS,
		source:           cfg.Source,
		sink:             cfg.Sink,
		pair:             cfg.Pair,
		logger:           logger,
		now:              now,
		onStateChange:    cfg.OnStateChange,
		onStopped:        cfg.OnStopped,
		state:            StateIdle,
		pendingConflicts: make(map[string]model.Conflict),
		pendingUploads:   make(map[string]model.FileEntry),
		downloads:        make(map[string]*downloadTransfer),
		incoming:         make(chan recvResult, 16),
		done:             make(chan struct{}),
	}, nil
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// Stats returns a copy of the session's accumulated transfer counters.
func (s *Session) Stats() model.TransferStats { return s.stats }

func (s *Session) setState(next State) {
	s.state = next

	if s.onStateChange != nil {
		s.onStateChange(next)
	}
}

// Run drives the session to completion: greeting, index exchange,
// transfer, and finalize, returning when the session reaches a terminal
// state (idle after finalize, or a fatal error). Run owns a background
// goroutine that reads cfg.Transport; it exits when ctx is cancelled or
// the transport closes.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.recvLoop(ctx)

	err := s.runLoop(ctx)

	s.stopOnce.Do(func() { close(s.done) })

	if s.onStopped != nil {
		s.onStopped(err)
	}

	return err
}

// recvLoop continuously reads frames off the transport and forwards them
// to the main task, satisfying spec.md §5's "single logical thread per
// session": all dispatch and state mutation happens on runLoop's
// goroutine, never here.
func (s *Session) recvLoop(ctx context.Context) {
	for {
		msg, err := s.conn.Recv(ctx)

		select {
		case s.incoming <- recvResult{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}

		if err != nil {
			return
		}
	}
}

// runLoop is the cooperative task: it sends the initial HELLO, then
// services incoming frames and the keepalive ticker until the session
// reaches idle (success) or error (fatal).
func (s *Session) runLoop(ctx context.Context) error {
	s.setState(StateGreeting)

	if err := s.sendHello(ctx); err != nil {
		return s.fail(fmt.Errorf("session: sending hello: %w", err))
	}

	ticker := time.NewTicker(PingIntervalMS * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-s.incoming:
			if r.err != nil {
				if errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded) {
					return r.err
				}

				return s.fail(fmt.Errorf("session: transport: %w", bdperr.ErrTransportClosed))
			}

			done, err := s.handleMessage(ctx, r.msg)
			if err != nil {
				if outcome := s.handleTransientError(ctx, err); outcome != nil {
					return outcome
				}

				continue
			}

			if done {
				return nil
			}

		case <-ticker.C:
			if !s.lastPongAt.IsZero() && s.now().Sub(s.lastPongAt) > pingMissedLimit*PingIntervalMS*time.Millisecond {
				return s.fail(fmt.Errorf("session: %w: no pong within %d intervals", bdperr.ErrTransportClosed, pingMissedLimit))
			}

			if err := s.sendPing(ctx); err != nil {
				return s.fail(err)
			}
		}
	}
}

// handleMessage dispatches one transport message and reports whether the
// session has reached its terminal success state (finalize complete).
func (s *Session) handleMessage(ctx context.Context, msg transport.Message) (bool, error) {
	if msg.IsBinary() {
		return false, s.handleChunkFrame(ctx, msg.Binary)
	}

	env, err := wire.DecodeControl([]byte(msg.Text))
	if err != nil {
		s.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
		return false, nil
	}

	switch env.Type {
	case wire.FrameHello:
		return s.handleHello(ctx, env)
	case wire.FrameIndexRequest:
		return false, s.handleIndexRequest(ctx, env)
	case wire.FrameIndexResponse:
		return false, s.handleIndexResponse(ctx, env)
	case wire.FrameChunkRequest:
		return false, s.handleChunkRequest(ctx, env)
	case wire.FrameAck:
		return false, s.handleAck(ctx, env)
	case wire.FrameConflict:
		return false, s.handleConflict(ctx, env)
	case wire.FrameConflictResolution:
		return false, s.handleConflictResolution(ctx, env)
	case wire.FrameDone:
		return s.handleDone(ctx, env)
	case wire.FrameError:
		return false, s.handlePeerError(env)
	case wire.FramePing:
		return false, s.handlePing(ctx, env)
	case wire.FramePong:
		s.lastPongAt = s.now()
		return false, nil
	default:
		s.logger.Warn("unknown frame type", slog.String("type", string(env.Type)))
		return false, nil
	}
}

// handleTransientError implements the retry branch of spec.md §4.8
// ("Any caught in-band error during frame dispatch increments a retry
// counter..."). It returns a non-nil error only when the session must
// terminate (retries exhausted or the error is non-recoverable).
func (s *Session) handleTransientError(ctx context.Context, cause error) error {
	if errors.Is(cause, bdperr.ErrDecode) {
		// spec.md §7: log, drop the frame, do not touch the retry budget.
		s.logger.Warn("dropping malformed frame payload", slog.String("error", cause.Error()))
		return nil
	}

	if errors.Is(cause, bdperr.ErrPairNotFound) ||
		errors.Is(cause, bdperr.ErrPermissionDenied) ||
		errors.Is(cause, bdperr.ErrTransportClosed) {
		return s.fail(cause)
	}

	s.retryCount++
	if s.retryCount > MaxRetries {
		return s.fail(fmt.Errorf("%w: %v", bdperr.ErrRetryExhausted, cause))
	}

	prevState := s.state
	s.setState(StateRetrying)

	delay := time.Duration(RetryBaseDelayMS) * time.Millisecond * time.Duration(1<<uint(s.retryCount-1))

	s.logger.Warn("transient error, retrying",
		slog.String("error", cause.Error()),
		slog.Int("attempt", s.retryCount),
		slog.Duration("delay", delay),
	)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.setState(prevState)
	s.drainQueues(ctx)

	return nil
}

// fail transitions to the terminal error state and returns the causing
// error to the caller of Run.
func (s *Session) fail(err error) error {
	s.setState(StateError)
	return err
}

func (s *Session) nextMsgID() string {
	s.msgSeq++
	return fmt.Sprintf("%s-%d", s.deviceID.String(), s.msgSeq)
}

func (s *Session) envelope(frameType wire.FrameType) wire.Envelope {
	return wire.Envelope{
		Type:         frameType,
		PairID:       s.pairID.String(),
		MsgID:        s.nextMsgID(),
		FromDeviceID: s.deviceID.String(),
		TS:           s.now().UnixMilli(),
	}
}

// send encodes a control frame and writes it to the transport.
func (s *Session) send(ctx context.Context, frameType wire.FrameType, payload any) error {
	raw, err := wire.EncodeControl(s.envelope(frameType), payload)
	if err != nil {
		return fmt.Errorf("session: encoding %s: %w", frameType, err)
	}

	if err := s.conn.Send(ctx, transport.Message{Text: string(raw)}); err != nil {
		return fmt.Errorf("session: sending %s: %w", frameType, err)
	}

	return nil
}

func (s *Session) sendPing(ctx context.Context) error {
	s.pingNonce = uuid.New().String()
	return s.send(ctx, wire.FramePing, wire.PingPongPayload{Nonce: s.pingNonce})
}

func (s *Session) handlePing(ctx context.Context, env wire.Envelope) error {
	var p wire.PingPongPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	return s.send(ctx, wire.FramePong, p)
}

func (s *Session) handlePeerError(env wire.Envelope) error {
	var p wire.ErrorPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	s.logger.Warn("peer reported error", slog.String("code", p.Code), slog.String("message", p.Message))

	if !p.Recoverable {
		return fmt.Errorf("bdp: peer reported non-recoverable error: %s", p.Message)
	}

	return nil
}

func decodePayload(env wire.Envelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%w: %v", bdperr.ErrDecode, err)
	}

	return nil
}
