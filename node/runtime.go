// Package node implements the single-threaded cooperative runtime that
// owns a formula pool, a genome log, and an optional UDP listener, and
// drives them through the Booting -> Ready tick loop.
package node

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kolibri-swarm/kolibri/digits"
	"github.com/kolibri-swarm/kolibri/gene"
	"github.com/kolibri-swarm/kolibri/genomelog"
	"github.com/kolibri-swarm/kolibri/pool"
	"github.com/kolibri-swarm/kolibri/swarm"
)

// State is the runtime's coarse lifecycle stage.
type State int

const (
	// StateBooting means key load and log open have not both succeeded yet.
	StateBooting State = iota
	// StateReady means the runtime is serving ticks and commands.
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "booting"
}

// Config bundles every CLI-level setting a Runtime needs.
type Config struct {
	Seed       uint64
	NodeID     uint32
	GenomePath string
	HMACKeyArg string

	ListenEnabled bool
	ListenPort    int

	PeerEnabled bool
	PeerHost    string
	PeerPort    int

	AutoLearn    bool
	AutoEvolveMs int64
	AutoSyncMs   int64

	PoolConfig pool.Config
}

// DefaultConfig mirrors the CLI's documented defaults.
func DefaultConfig() Config {
	return Config{
		Seed:         20250923,
		NodeID:       1,
		GenomePath:   "genome.dat",
		AutoLearn:    true,
		AutoEvolveMs: 500,
		AutoSyncMs:   2000,
		PoolConfig:   pool.DefaultConfig(),
	}
}

// Runtime is a single node's cooperative event loop and its owned state.
type Runtime struct {
	cfg Config

	pool     *pool.Pool
	log      *genomelog.Log
	listener *swarm.Listener
	registry *Registry

	logger *zap.Logger
	runID  uuid.UUID

	key       []byte
	state     State
	keyOrigin KeyOrigin
	healthy   bool

	lastEvolveMs uint64
	lastSyncMs   uint64

	inbox chan swarm.Message
}

// New boots a runtime: loads the HMAC key, opens the genome log, starts
// the listener if enabled, registers the configured peer, and seeds the
// pool. It records one BOOT event before returning.
func New(cfg Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key, origin, err := LoadKey(cfg.HMACKeyArg)
	if err != nil {
		return nil, fmt.Errorf("node: loading hmac key: %w", err)
	}

	log, err := genomelog.Open(cfg.GenomePath, key)
	if err != nil {
		return nil, fmt.Errorf("node: opening genome log: %w", err)
	}

	var listener *swarm.Listener
	if cfg.ListenEnabled {
		listener, err = swarm.ListenerStart(cfg.ListenPort)
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("node: starting listener: %w", err)
		}
	}

	registry := NewRegistry()
	if cfg.PeerEnabled {
		registry.Add(cfg.PeerHost, cfg.PeerPort)
	}

	p := pool.New(cfg.PoolConfig)
	p.Init(cfg.Seed)

	runID := uuid.New()
	r := &Runtime{
		cfg:       cfg,
		pool:      p,
		log:       log,
		listener:  listener,
		registry:  registry,
		logger:    logger.With(zap.Uint32("node_id", cfg.NodeID), zap.String("run_id", runID.String())),
		runID:     runID,
		key:       key,
		state:     StateReady,
		keyOrigin: origin,
		healthy:   true,
		inbox:     make(chan swarm.Message, 64),
	}

	r.logger.Info("node boot", zap.String("key_origin", origin.String()))
	if err := r.recordEvent("BOOT", fmt.Sprintf("node=%d seed=%d", cfg.NodeID, cfg.Seed)); err != nil {
		r.logger.Warn("failed to record BOOT event", zap.Error(err))
	}
	return r, nil
}

// State reports the runtime's current lifecycle stage.
func (r *Runtime) State() State { return r.state }

// Healthy reports whether the runtime considers itself able to serve.
func (r *Runtime) Healthy() bool { return r.healthy }

// Pool exposes the runtime's formula pool for callers that need direct
// read access.
func (r *Runtime) Pool() *pool.Pool { return r.pool }

// GenomePath returns the path the runtime opened its log at.
func (r *Runtime) GenomePath() string { return r.cfg.GenomePath }

// KeyOrigin reports which source produced the runtime's HMAC key.
func (r *Runtime) KeyOrigin() KeyOrigin { return r.keyOrigin }

// Close flushes the genome log and releases the listener socket.
func (r *Runtime) Close() error {
	if r.listener != nil {
		r.listener.Close()
	}
	return r.log.Close()
}

func nowMs() uint64 { return uint64(time.Now().UnixMilli()) }

// recordEvent encodes text through the digit codec and appends it,
// truncating as needed to fit the log's fixed payload field.
func (r *Runtime) recordEvent(eventType, text string) error {
	maxBytes := genomelog.PayloadSize / 3
	raw := []byte(text)
	if len(raw) > maxBytes {
		raw = raw[:maxBytes]
	}
	payload, err := digits.EncodeASCII(raw, genomelog.PayloadSize)
	if err != nil {
		return err
	}
	_, err = r.log.Append(eventType, payload)
	if err != nil {
		r.healthy = false
		r.logger.Error("append failed", zap.String("event_type", eventType), zap.Error(err))
	}
	return err
}

// RunOnce executes one beat of the tick loop: adopt any buffered inbound
// MigrateRule above the pool's worst fitness, run one evolutionary step
// if the auto-evolve beat is due, and broadcast the best gene if the
// auto-sync beat is due. It never blocks — inbound messages are drained
// from the channel the listener goroutine fills, not read from the
// socket directly.
func (r *Runtime) RunOnce(now uint64) {
	r.drainInbox()

	if r.cfg.AutoLearn && now-r.lastEvolveMs >= uint64(r.cfg.AutoEvolveMs) {
		if len(r.pool.Examples()) > 0 {
			r.pool.Tick(1)
			r.recordEvent("EVOLVE", fmt.Sprintf("gen=%d", r.pool.Generation()))
		}
		r.lastEvolveMs = now
	}

	if r.cfg.AutoLearn && now-r.lastSyncMs >= uint64(r.cfg.AutoSyncMs) {
		r.broadcastBest()
		r.lastSyncMs = now
	}
}

func (r *Runtime) drainInbox() {
	for {
		select {
		case msg := <-r.inbox:
			r.handleMessage(msg)
		default:
			return
		}
	}
}

func (r *Runtime) handleMessage(msg swarm.Message) {
	switch msg.Type {
	case swarm.MessageHello:
		r.registry.Touch(msg.Hello.NodeID, nowMs())
		r.logger.Debug("hello received", zap.Uint32("peer_node_id", msg.Hello.NodeID))
	case swarm.MessageAck:
		// acknowledged, no further action per spec.md 4.F.
	case swarm.MessageMigrateRule:
		r.adoptMigrateRule(msg.MigrateRule)
	}
}

func (r *Runtime) adoptMigrateRule(m swarm.MigrateRule) {
	g, err := gene.New(m.Digits)
	if err != nil {
		return
	}
	worst, ok := r.pool.Worst()
	if !ok || m.Fitness <= worst.Fitness {
		return
	}
	r.pool.ReplaceWorst(g, m.Fitness)
	r.recordEvent("IMPORT", fmt.Sprintf("node=%d fitness=%.6f", m.NodeID, m.Fitness))
}

func (r *Runtime) broadcastBest() {
	best, ok := r.pool.Best()
	if !ok {
		return
	}
	peers := r.registry.All()
	if len(peers) == 0 {
		return
	}
	for _, p := range peers {
		if err := p.SendFormula(r.cfg.NodeID, best.Gene.Digits(), best.Fitness); err != nil {
			r.logger.Warn("sync send failed", zap.String("peer", p.Host), zap.Error(err))
		}
	}
	r.recordEvent("SYNC", fmt.Sprintf("fitness=%.6f", best.Fitness))
}

// Run drives the runtime until ctx is canceled: a dedicated goroutine
// reads the UDP listener and feeds decoded messages into the inbox, a
// second goroutine reads interactive commands from in (only if it is a
// terminal, per the caller's choice to pass one), and the tick loop beats
// at a fine granularity so both auto-evolve and auto-sync deadlines are
// honored promptly. Pool and log methods are only ever called from this
// loop, never from the listener or command goroutines, preserving the
// single-owner invariant of spec.md 5.
func (r *Runtime) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	cmds := make(chan Command, 8)

	if r.listener != nil {
		g.Go(func() error { return r.listenerLoop(gctx) })
	}
	if in != nil {
		// not part of the group: a read blocked on in cannot be
		// interrupted, and shutdown must not wait for the next line.
		go readCommands(gctx, in, cmds)
	}
	g.Go(func() error { return r.tickLoop(gctx, cmds, out) })

	return g.Wait()
}

func (r *Runtime) listenerLoop(ctx context.Context) error {
	const pollMs = 50
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		msg, ok := r.listener.Poll(pollMs)
		if !ok {
			continue
		}
		select {
		case r.inbox <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Runtime) tickLoop(ctx context.Context, cmds <-chan Command, out io.Writer) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// finish the in-flight beat, then let Run's goroutines unwind
			// and Close (called by the caller) flush the log.
			r.RunOnce(nowMs())
			return nil
		case cmd := <-cmds:
			r.handleCommand(cmd, out)
		case <-ticker.C:
			r.RunOnce(nowMs())
		}
	}
}
