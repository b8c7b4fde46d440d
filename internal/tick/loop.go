// Package tick implements the single-threaded cooperative simulation loop
// of spec.md §4.4: drain inputs, run plugins, resolve and apply commands,
// run script hooks, compute AOI/broadcast deltas, checkpoint, advance.
//
// The loop's shape — a select over a wall-clock ticker and a shutdown
// signal, with a sampled tick-duration average feeding a TPS warning — is
// adapted from the teacher's cmd/l1jgo game loop and the tick-rate
// monitoring pattern in other_examples' Dragonfly fork world/tick.go (see
// DESIGN.md). Unlike the teacher's generic Phase/System runner
// (internal/core/system), this loop is a fixed seven-step pipeline over
// named subsystems, not a registry of pluggable systems — spec.md §4.4
// names exactly those seven steps, so a pluggable-system abstraction would
// only add indirection no caller needs.
package tick

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/simcore/internal/aoi"
	"github.com/l1jgo/simcore/internal/command"
	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/plugin"
	"github.com/l1jgo/simcore/internal/scripting"
	"github.com/l1jgo/simcore/internal/session"
	"github.com/l1jgo/simcore/internal/snapshot"
	"github.com/l1jgo/simcore/internal/spatial"
)

// tpsSampleSize and tpsWarningFraction mirror the Dragonfly ticker's
// rolling-average TPS monitor: sample a window of ticks, warn once the
// measured rate drops below a fraction of the configured target, and only
// log the transition (not every tick while it stays low).
const (
	tpsSampleSize      = 20
	tpsWarningFraction = 0.95
)

// Config carries the loop's timing and checkpoint parameters.
type Config struct {
	TicksPerSecond   float64
	SnapshotInterval uint64 // 0 disables periodic checkpoints
	SnapshotDir      string
	AOIRadius        int32 // Grid variant only
}

// DefaultConfig returns a 20 TPS loop with checkpoints every 10 minutes
// (12,000 ticks) and a 32-cell AOI radius.
func DefaultConfig() Config {
	return Config{TicksPerSecond: 20, SnapshotInterval: 12000, SnapshotDir: "snapshots", AOIRadius: 32}
}

// PluginRunner is the subset of plugin.Runtime the loop depends on.
type PluginRunner interface {
	RunTick(tick uint64) []command.Command
	DispatchEvent(tick, eventID uint64, payload []byte) []command.Command
}

var _ PluginRunner = (*plugin.Runtime)(nil)

// Checkpointer persists a captured snapshot. internal/persist supplies the
// concrete implementation (spec.md's "persistence collaborator").
type Checkpointer interface {
	SaveSnapshot(snap snapshot.WorldSnapshot) error
	PersistSessions(sessions []*session.Session) error
}

// AuthHandler drives a non-Playing session's state machine from a raw
// input line (login name, password, character selection). spec.md leaves
// the account wire format unspecified beyond the session state diagram
// (§4.9); the core only needs somewhere to route these lines, so callers
// supply this hook rather than the loop inventing an auth protocol.
type AuthHandler func(s *session.Session, line string, sessions *session.Manager)

// Loop is the tick-owning orchestrator. It holds every piece of mutable
// simulation state and is never touched from any goroutine but the one
// running Run/RunOnce — per spec.md §5's shared-resource policy, there are
// no locks here.
type Loop struct {
	cfg Config
	log *zap.Logger

	world    *component.World
	space    spatial.Model
	stream   *command.Stream
	plugins  PluginRunner
	scripts  *scripting.Engine
	sessions *session.Manager

	inbox  Inbox
	outbox Outbox
	output scripting.OutputSink

	checkpoint Checkpointer
	authLogin  AuthHandler

	aoiStates   map[uint64]*aoi.State   // session id -> AOI tracking state (Grid)
	roomRosters map[uint64][]entity.ID // session id -> last sent room roster (RoomGraph)
	current     uint64
}

// Deps bundles every collaborator a Loop needs. Plugins, Scripts, Inbox,
// Checkpoint and AuthLogin may be left nil to skip the corresponding step
// (e.g. a nil Checkpointer skips checkpointing, useful for tests that only
// exercise a handful of ticks); World, Space, Stream, Sessions and Outbox
// are always used and must be set.
type Deps struct {
	World      *component.World
	Space      spatial.Model
	Stream     *command.Stream
	Plugins    PluginRunner
	Scripts    *scripting.Engine
	Sessions   *session.Manager
	Inbox      Inbox
	Outbox     Outbox
	Checkpoint Checkpointer
	AuthLogin  AuthHandler
}

// New assembles a Loop from its collaborators.
func New(cfg Config, log *zap.Logger, d Deps) *Loop {
	l := &Loop{
		cfg:        cfg,
		log:        log,
		world:      d.World,
		space:      d.Space,
		stream:     d.Stream,
		plugins:    d.Plugins,
		scripts:    d.Scripts,
		sessions:   d.Sessions,
		inbox:      d.Inbox,
		outbox:     d.Outbox,
		checkpoint: d.Checkpoint,
		authLogin:   d.AuthLogin,
		aoiStates:   make(map[uint64]*aoi.State),
		roomRosters: make(map[uint64][]entity.ID),
	}
	l.output = &outputAdapter{out: d.Outbox, occupant: l}
	return l
}

// SessionsInRoom implements occupantLookup for the output adapter: every
// Playing session whose entity currently resolves to room.
func (l *Loop) SessionsInRoom(room entity.ID) []uint64 {
	var out []uint64
	for _, s := range l.sessions.PlayingSessions() {
		e, ok := s.Entity()
		if !ok {
			continue
		}
		if r, ok := l.space.EntityRoom(e); ok && r == room {
			out = append(out, s.ID)
		}
	}
	return out
}

// RunOnce executes exactly one tick (spec.md §4.4 steps 1-6) and returns
// the tick number that was just processed, then advances the tick counter.
// Timing (step 7's sleep until the next boundary) is left to Run.
func (l *Loop) RunOnce() uint64 {
	t := l.current

	l.drainInputs()
	l.runPlugins(t)
	l.resolveAndApply()
	l.runScripts(t)
	l.broadcastAOI(t)
	l.maybeCheckpoint(t)

	l.current++
	return t
}

// drainInputs implements step 1.
func (l *Loop) drainInputs() {
	if l.inbox == nil {
		return
	}
	for _, msg := range l.inbox.Drain() {
		switch msg.Kind {
		case InNewConnection:
			l.sessions.Add(session.New(msg.SessionID))
		case InDisconnected:
			l.sessions.Remove(msg.SessionID, characterIDFor(l.sessions, msg.SessionID), time.Now())
			delete(l.aoiStates, msg.SessionID)
			delete(l.roomRosters, msg.SessionID)
		case InPlayerInput:
			l.routeInput(msg.SessionID, msg.Line)
		}
	}
}

func characterIDFor(m *session.Manager, sessionID uint64) int64 {
	s, ok := m.Get(sessionID)
	if !ok {
		return 0
	}
	return s.AccountID()
}

// routeInput sends a non-Playing session's raw line to the AuthHandler and
// a Playing session's line to the on_action script hook, per the dispatch
// spec.md §4.9's state diagram implies but doesn't itself encode a wire
// format for.
func (l *Loop) routeInput(sessionID uint64, line string) {
	s, ok := l.sessions.Get(sessionID)
	if !ok {
		return
	}
	if s.Phase() != session.PhasePlaying {
		if l.authLogin != nil {
			l.authLogin(s, line, l.sessions)
		}
		return
	}
	e, ok := s.Entity()
	if !ok {
		return
	}
	if l.scripts == nil {
		return
	}
	l.scripts.FireAction(l.scriptDeps(), "input", map[string]interface{}{
		"entity":     e.ToUint64(),
		"session_id": sessionID,
		"line":       line,
	})
}

// runPlugins implements step 2: ascending-priority plugin execution,
// collecting every emitted command onto the shared stream. The stream is
// not reset here — it already carries anything scripts pushed onto it
// during the previous tick's script phase (see scriptDeps/proxies.go),
// and is only drained by resolveAndApply below.
func (l *Loop) runPlugins(t uint64) {
	if l.plugins == nil {
		return
	}
	for _, c := range l.plugins.RunTick(t) {
		l.stream.Push(c)
	}
}

// resolveAndApply implements step 3 (spec.md §4.3): resolve LWW conflicts,
// apply each resolved command against the store and spatial model, logging
// and skipping individual failures without aborting the tick.
func (l *Loop) resolveAndApply() {
	resolved := l.stream.Resolve()
	l.stream.Reset()
	for _, c := range resolved {
		if c.Kind == command.KindEmitEvent {
			l.dispatchEvent(c)
			continue
		}
		if err := applyCommand(l.world, l.space, c); err != nil {
			l.log.Warn("command apply failed", zap.String("kind", commandKindName(c)), zap.Error(err))
		}
	}
}

// dispatchEvent routes a resolved EmitEvent command to every plugin's
// optional on_event export (spec.md §4.6), forwarding the event name's
// hashed id and payload. Commands a plugin emits in response are pushed
// onto the stream for resolution next tick, same as any other
// out-of-band plugin command.
func (l *Loop) dispatchEvent(c command.Command) {
	if l.plugins == nil {
		return
	}
	for _, out := range l.plugins.DispatchEvent(l.current, plugin.EventID(c.Event), c.Payload) {
		l.stream.Push(out)
	}
}

// runScripts implements step 4: on_tick for every loaded script. on_action
// dispatch already happened inline during drainInputs, since it's driven by
// each PlayerInput message rather than a separate pending-action queue.
func (l *Loop) runScripts(t uint64) {
	if l.scripts == nil {
		return
	}
	l.scripts.FireTick(l.scriptDeps(), t)
}

// broadcastAOI implements step 5. Grid worlds get a real entered/moved/left
// delta per spec.md §4.10; RoomGraph worlds have no position to diff, so
// each Playing session simply gets the current room roster.
func (l *Loop) broadcastAOI(t uint64) {
	grid, isGrid := l.space.(*spatial.Grid)
	graph, isGraph := l.space.(*spatial.RoomGraph)

	for _, s := range l.sessions.PlayingSessions() {
		e, ok := s.Entity()
		if !ok {
			continue
		}
		switch {
		case isGrid:
			cell, ok := grid.EntityRoom(e)
			if !ok {
				continue
			}
			current, err := aoi.CurrentFromGrid(grid, cell, l.cfg.AOIRadius)
			if err != nil {
				continue
			}
			state, ok := l.aoiStates[s.ID]
			if !ok {
				state = aoi.NewState()
				l.aoiStates[s.ID] = state
			}
			delta := state.Compute(t, current)
			if delta.IsEmpty() {
				continue
			}
			l.outbox.Enqueue(Outbound{SessionID: s.ID, Text: encodeDeltaNotice(delta)})

		case isGraph:
			room, ok := graph.EntityRoom(e)
			if !ok {
				continue
			}
			occupants, err := graph.EntitiesInSameArea(e)
			if err != nil {
				continue
			}
			if rosterEqual(l.roomRosters[s.ID], occupants) {
				continue
			}
			l.roomRosters[s.ID] = occupants
			l.outbox.Enqueue(Outbound{SessionID: s.ID, Text: encodeRoomRoster(t, room, occupants)})
		}
	}
}

// rosterEqual compares two sorted occupant lists for equality.
func rosterEqual(a, b []entity.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// maybeCheckpoint implements step 6.
func (l *Loop) maybeCheckpoint(t uint64) {
	if l.checkpoint == nil || l.cfg.SnapshotInterval == 0 {
		return
	}
	if t == 0 || t%l.cfg.SnapshotInterval != 0 {
		return
	}
	snap, err := snapshot.Capture(l.world, l.space, t)
	if err != nil {
		l.log.Error("snapshot capture failed", zap.Error(err))
		return
	}
	if err := l.checkpoint.SaveSnapshot(snap); err != nil {
		l.log.Error("snapshot save failed", zap.Error(err))
	}
	if err := l.checkpoint.PersistSessions(l.sessions.PlayingSessions()); err != nil {
		l.log.Error("session persist failed", zap.Error(err))
	}
}

func (l *Loop) scriptDeps() scripting.Deps {
	return scripting.Deps{
		World:    l.world,
		Registry: l.world.Registry(),
		Stream:   l.stream,
		Space:    l.space,
		Sessions: l.sessions,
		Output:   l.output,
	}
}

// Run drives RunOnce at the configured tick rate until ctx is cancelled,
// implementing step 7's sleep-until-next-boundary and spec.md §5's
// shutdown sequence (final message to every Playing session, snapshot,
// persist, break).
func (l *Loop) Run(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / l.cfg.TicksPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		durationSum time.Duration
		sampleCount int
		lastTick    = time.Now()
		warned      bool
	)

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-ticker.C:
			tickStart := time.Now()
			d := tickStart.Sub(lastTick)
			lastTick = tickStart

			l.RunOnce()

			elapsed := time.Since(tickStart)
			if elapsed > interval {
				l.log.Warn("tick exceeded budget", zap.Duration("elapsed", elapsed), zap.Duration("budget", interval))
			}

			if d <= 0 {
				continue
			}
			durationSum += d
			sampleCount++
			if sampleCount < tpsSampleSize {
				continue
			}
			avg := durationSum / time.Duration(sampleCount)
			durationSum, sampleCount = 0, 0
			if avg <= 0 {
				continue
			}
			measured := 1.0 / avg.Seconds()
			if measured < l.cfg.TicksPerSecond*tpsWarningFraction {
				if !warned {
					l.log.Warn("tick rate dropped below threshold", zap.Float64("tps", math.Round(measured*100)/100))
					warned = true
				}
			} else {
				warned = false
			}
		}
	}
}

func (l *Loop) shutdown() {
	for _, s := range l.sessions.PlayingSessions() {
		l.outbox.Enqueue(Outbound{SessionID: s.ID, Text: "The world is shutting down.", Disconnect: true})
	}
	if l.checkpoint != nil {
		snap, err := snapshot.Capture(l.world, l.space, l.current)
		if err != nil {
			l.log.Error("shutdown snapshot capture failed", zap.Error(err))
		} else if err := l.checkpoint.SaveSnapshot(snap); err != nil {
			l.log.Error("shutdown snapshot save failed", zap.Error(err))
		}
		if err := l.checkpoint.PersistSessions(l.sessions.PlayingSessions()); err != nil {
			l.log.Error("shutdown session persist failed", zap.Error(err))
		}
	}
}
