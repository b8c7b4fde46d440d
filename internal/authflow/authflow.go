// Package authflow drives spec.md §4.9's session state machine from raw
// input lines — the AuthHandler hook the tick loop calls for every
// non-Playing session. The wire format itself is unspecified by spec.md
// beyond the phase diagram, so this is one reasonable line-oriented
// protocol (username, then password, then character selection), adapted
// from the teacher's own login/character-select packet handlers.
package authflow

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/perm"
	"github.com/l1jgo/simcore/internal/persist"
	"github.com/l1jgo/simcore/internal/session"
	"github.com/l1jgo/simcore/internal/spatial"
	"github.com/l1jgo/simcore/internal/tick"
	"go.uber.org/zap"
)

// AccountStore is the subset of *persist.AccountRepo this package needs,
// narrowed so tests can substitute an in-memory fake instead of a real
// database pool.
type AccountStore interface {
	Load(ctx context.Context, name string) (*persist.AccountRow, error)
	Create(ctx context.Context, name, rawPassword, ip, host string) (*persist.AccountRow, error)
	ValidatePassword(hash, rawPassword string) bool
	UpdateLastActive(ctx context.Context, name, ip string) error
	NameByID(ctx context.Context, id int64) (string, error)
}

// CharacterStore is the subset of *persist.CharacterRepo this package
// needs, for the same reason as AccountStore.
type CharacterStore interface {
	Get(ctx context.Context, accountName string, slot int16) (*persist.CharacterRow, error)
	ListForAccount(ctx context.Context, accountName string) ([]persist.CharacterRow, error)
	Create(ctx context.Context, accountName string, slot int16, name string, entityID uint64) (*persist.CharacterRow, error)
}

// Deps bundles the collaborators the auth flow needs beyond the Session
// itself: the account/character tables and the world/space to spawn a
// fresh character's entity into.
type Deps struct {
	Accounts   AccountStore
	Characters CharacterStore
	World      *component.World
	Space      spatial.Model
	SpawnRoom  entity.ID // RoomGraph variant's entry room; ignored for Grid
	Log        *zap.Logger
}

// pending holds the cross-line bookkeeping a Session's own state machine
// doesn't expose (it only tracks phase transitions, not the raw strings
// that produced them) until the flow reaches SelectingCharacter.
type pending struct {
	username string
	password string
	isNew    bool
}

// Handler is a stateful tick.AuthHandler: one pending-flow table shared
// across every session routed through it.
type Handler struct {
	deps Deps

	mu      sync.Mutex
	flows   map[uint64]*pending
	timeout time.Duration
}

func New(deps Deps) *Handler {
	return &Handler{deps: deps, flows: make(map[uint64]*pending), timeout: 5 * time.Second}
}

// Handle implements tick.AuthHandler.
func (h *Handler) Handle(s *session.Session, line string, sessions *session.Manager) {
	line = strings.TrimSpace(line)
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	switch s.Phase() {
	case session.PhaseAwaitingLogin:
		h.handleLogin(ctx, s, line)
	case session.PhaseAwaitingPassword:
		h.handlePassword(ctx, s, line)
	case session.PhaseAwaitingPasswordConfirm:
		h.handleConfirm(ctx, s, line)
	case session.PhaseSelectingCharacter:
		h.handleCharacterSelect(ctx, s, line)
	}
}

// AsTickHandler adapts Handle to the tick.AuthHandler function type.
func (h *Handler) AsTickHandler() tick.AuthHandler {
	return h.Handle
}

func (h *Handler) setFlow(sessionID uint64, p *pending) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flows[sessionID] = p
}

func (h *Handler) getFlow(sessionID uint64) (*pending, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.flows[sessionID]
	return p, ok
}

func (h *Handler) dropFlow(sessionID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.flows, sessionID)
}

func (h *Handler) handleLogin(ctx context.Context, s *session.Session, username string) {
	if username == "" {
		return
	}
	row, err := h.deps.Accounts.Load(ctx, username)
	if err != nil {
		h.deps.Log.Error("authflow: load account", zap.Error(err))
		return
	}
	isNew := row == nil
	if err := s.EnterAwaitingPassword(username, isNew); err != nil {
		return
	}
	h.setFlow(s.ID, &pending{username: username, isNew: isNew})
}

func (h *Handler) handlePassword(ctx context.Context, s *session.Session, password string) {
	p, ok := h.getFlow(s.ID)
	if !ok {
		return
	}

	if p.isNew {
		p.password = password
		if err := s.EnterAwaitingPasswordConfirm(password); err != nil {
			h.dropFlow(s.ID)
		}
		return
	}

	row, err := h.deps.Accounts.Load(ctx, p.username)
	if err != nil || row == nil || !h.deps.Accounts.ValidatePassword(row.PasswordHash, password) {
		s.Disconnect()
		h.dropFlow(s.ID)
		return
	}
	_ = h.deps.Accounts.UpdateLastActive(ctx, row.Name, "")
	if err := s.AuthenticateExisting(row.ID, accessLevelToPermission(row.AccessLevel)); err != nil {
		s.Disconnect()
	}
	h.dropFlow(s.ID)
}

func (h *Handler) handleConfirm(ctx context.Context, s *session.Session, confirm string) {
	p, ok := h.getFlow(s.ID)
	if !ok || !p.isNew {
		return
	}
	if confirm != p.password {
		s.Disconnect()
		h.dropFlow(s.ID)
		return
	}
	row, err := h.deps.Accounts.Create(ctx, p.username, p.password, "", "")
	if err != nil {
		h.deps.Log.Error("authflow: create account", zap.Error(err))
		s.Disconnect()
		h.dropFlow(s.ID)
		return
	}
	if err := s.ConfirmPassword(confirm, row.ID); err != nil {
		s.Disconnect()
	}
	h.dropFlow(s.ID)
}

func (h *Handler) handleCharacterSelect(ctx context.Context, s *session.Session, line string) {
	accountName := h.accountNameFor(ctx, s)
	if strings.HasPrefix(line, "new ") {
		name := strings.TrimSpace(strings.TrimPrefix(line, "new "))
		if name == "" {
			return
		}
		h.createCharacter(ctx, s, accountName, name)
		return
	}

	slot, err := strconv.Atoi(line)
	if err != nil {
		return
	}
	row, err := h.deps.Characters.Get(ctx, accountName, int16(slot))
	if err != nil || row == nil {
		return
	}
	_ = s.BindEntity(entity.FromUint64(row.EntityID))
}

func (h *Handler) createCharacter(ctx context.Context, s *session.Session, accountName, name string) {
	existing, err := h.deps.Characters.ListForAccount(ctx, accountName)
	if err != nil {
		h.deps.Log.Error("authflow: list characters", zap.Error(err))
		return
	}

	e := h.deps.World.SpawnEntity()
	if h.deps.Space.Variant() == spatial.VariantRoomGraph {
		if err := h.deps.Space.PlaceEntity(e, h.deps.SpawnRoom); err != nil {
			h.deps.Log.Warn("authflow: place new character", zap.Error(err))
		}
	}

	slot := int16(len(existing))
	if _, err := h.deps.Characters.Create(ctx, accountName, slot, name, e.ToUint64()); err != nil {
		h.deps.Log.Error("authflow: create character", zap.Error(err))
		return
	}
	_ = s.BindEntity(e)
}

// accountNameFor recovers the account name backing s's already-authenticated
// AccountID. Sessions beyond AwaitingPassword carry only the numeric ID
// (spec.md's session struct has no reason to keep the string around), so
// character-selection needs a reverse lookup.
func (h *Handler) accountNameFor(ctx context.Context, s *session.Session) string {
	name, err := h.deps.Accounts.NameByID(ctx, s.AccountID())
	if err != nil {
		h.deps.Log.Warn("authflow: resolve account name", zap.Error(err))
		return ""
	}
	return name
}

func accessLevelToPermission(level int16) perm.Permission {
	switch {
	case level >= int16(perm.Admin):
		return perm.Admin
	case level >= int16(perm.GameMaster):
		return perm.GameMaster
	case level >= int16(perm.Helper):
		return perm.Helper
	default:
		return perm.Player
	}
}
