package plugin

import (
	"sync"

	"github.com/l1jgo/simcore/internal/command"
	"github.com/l1jgo/simcore/internal/entity"
)

// ComponentReader is the host-side component cache the get_component ABI
// call reads from. The tick loop populates it once per tick before
// running plugins; plugins only ever see a read-only snapshot.
type ComponentReader interface {
	// ReadComponent returns the serialized form of a component value for
	// an entity, or ok=false if no such (entity, component) pair exists
	// in the cache.
	ReadComponent(e entity.ID, componentTag string) (payload []byte, ok bool)
}

// Logger receives forwarded plugin log(level, msg) calls.
type Logger interface {
	PluginLog(pluginID string, level int32, msg string)
}

// hostState is the per-runtime state the host ABI functions close over.
// It is reset at the start of every plugin's turn (beginTick) and its
// pending buffer is drained (takePending) or thrown away (discardPending)
// once that plugin's on_tick call returns.
type hostState struct {
	mu sync.Mutex

	tick    uint64
	seed    uint64
	pending []command.Command

	components ComponentReader
	logger     Logger
	pluginID   string
}

func newHostState() *hostState {
	return &hostState{}
}

// SetComponentReader installs the current tick's component cache.
func (h *hostState) SetComponentReader(r ComponentReader) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components = r
}

// SetLogger installs the sink for forwarded plugin log calls.
func (h *hostState) SetLogger(l Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = l
}

func (h *hostState) beginTick(tick, seed uint64, pluginID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tick = tick
	h.seed = seed
	h.pluginID = pluginID
	h.pending = h.pending[:0]
}

func (h *hostState) takePending() []command.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]command.Command, len(h.pending))
	copy(out, h.pending)
	return out
}

func (h *hostState) discardPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = h.pending[:0]
}

// emitCommand implements the emit_command host call: decode a Command
// from the caller's linear memory slice and append it to pending_commands.
func (h *hostState) emitCommand(data []byte) int32 {
	c, err := command.Decode(data)
	if err != nil {
		return ErrSerializeCode
	}
	h.mu.Lock()
	h.pending = append(h.pending, c)
	h.mu.Unlock()
	return OK
}

// log implements the log(level, msg) host call.
func (h *hostState) log(level int32, msg string) {
	h.mu.Lock()
	l, id := h.logger, h.pluginID
	h.mu.Unlock()
	if l != nil {
		l.PluginLog(id, level, msg)
	}
}

// getTick implements the get_tick host call.
func (h *hostState) getTick() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tick
}

// randomSeed implements the random_seed host call.
func (h *hostState) randomSeed() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seed
}

// getComponent implements the get_component host call: returns the
// component payload for (entity, componentTag), or ErrEntityNotFoundAbi
// if the cache holds no such entry. Capping to outCap is the caller's
// (sandbox adapter's) responsibility since only it can see out_cap.
func (h *hostState) getComponent(e entity.ID, componentTag string) ([]byte, int32) {
	h.mu.Lock()
	reader := h.components
	h.mu.Unlock()
	if reader == nil {
		return nil, ErrEntityNotFoundAbi
	}
	payload, ok := reader.ReadComponent(e, componentTag)
	if !ok {
		return nil, ErrEntityNotFoundAbi
	}
	return payload, OK
}
