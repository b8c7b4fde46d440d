// Package session implements the connection state machine of spec.md
// §4.9: AwaitingLogin through Playing, the lingering-entity table that
// lets a disconnected player's entity survive briefly for reconnection,
// and the permission a session carries once authenticated.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/perm"
)

// Phase tags which variant of the state machine a Session currently
// occupies.
type Phase int

const (
	PhaseAwaitingLogin Phase = iota
	PhaseAwaitingPassword
	PhaseAwaitingPasswordConfirm
	PhaseSelectingCharacter
	PhasePlaying
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingLogin:
		return "awaiting_login"
	case PhaseAwaitingPassword:
		return "awaiting_password"
	case PhaseAwaitingPasswordConfirm:
		return "awaiting_password_confirm"
	case PhaseSelectingCharacter:
		return "selecting_character"
	case PhasePlaying:
		return "playing"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidTransition is returned when a state transition method is
	// called from a phase that doesn't support it.
	ErrInvalidTransition = errors.New("session: invalid state transition")
	// ErrPasswordMismatch is returned when AwaitingPasswordConfirm's
	// confirmation doesn't match the originally entered password.
	ErrPasswordMismatch = errors.New("session: password confirmation mismatch")
)

// Session is one client connection's authentication/character-selection
// state machine plus, once Playing, its bound game entity.
type Session struct {
	ID    uint64
	phase Phase

	// AwaitingPassword / AwaitingPasswordConfirm
	pendingUsername string
	pendingPassword string
	isNewAccount    bool

	// SelectingCharacter
	accountID  int64
	permission perm.Permission

	// Playing
	entity entity.ID
}

// New returns a session in AwaitingLogin.
func New(id uint64) *Session {
	return &Session{ID: id, phase: PhaseAwaitingLogin}
}

// Phase returns the session's current state.
func (s *Session) Phase() Phase { return s.phase }

// Entity returns the bound entity and whether the session is Playing.
func (s *Session) Entity() (entity.ID, bool) {
	if s.phase != PhasePlaying {
		return 0, false
	}
	return s.entity, true
}

// Permission returns the session's authenticated permission level. Zero
// value (Player) before authentication completes.
func (s *Session) Permission() perm.Permission { return s.permission }

// AccountID returns the authenticated account's ID, valid from
// SelectingCharacter onward. Zero before authentication completes.
func (s *Session) AccountID() int64 { return s.accountID }

// EnterAwaitingPassword transitions from AwaitingLogin once a username
// has been entered, per spec.md §4.9's auth-mode branch.
func (s *Session) EnterAwaitingPassword(username string, isNewAccount bool) error {
	if s.phase != PhaseAwaitingLogin {
		return ErrInvalidTransition
	}
	s.pendingUsername = username
	s.isNewAccount = isNewAccount
	s.phase = PhaseAwaitingPassword
	return nil
}

// EnterAwaitingPasswordConfirm transitions once a password has been
// entered for a new account, which must be confirmed before account
// creation proceeds.
func (s *Session) EnterAwaitingPasswordConfirm(password string) error {
	if s.phase != PhaseAwaitingPassword || !s.isNewAccount {
		return ErrInvalidTransition
	}
	s.pendingPassword = password
	s.phase = PhaseAwaitingPasswordConfirm
	return nil
}

// ConfirmPassword validates the re-entered password and, on match,
// transitions to SelectingCharacter.
func (s *Session) ConfirmPassword(confirm string, accountID int64) error {
	if s.phase != PhaseAwaitingPasswordConfirm {
		return ErrInvalidTransition
	}
	if confirm != s.pendingPassword {
		return ErrPasswordMismatch
	}
	return s.enterSelectingCharacter(accountID, perm.Player)
}

// AuthenticateExisting transitions AwaitingPassword straight to
// SelectingCharacter for a returning (non-new) account, skipping
// confirmation.
func (s *Session) AuthenticateExisting(accountID int64, permission perm.Permission) error {
	if s.phase != PhaseAwaitingPassword || s.isNewAccount {
		return ErrInvalidTransition
	}
	return s.enterSelectingCharacter(accountID, permission)
}

func (s *Session) enterSelectingCharacter(accountID int64, permission perm.Permission) error {
	s.accountID = accountID
	s.permission = permission
	s.phase = PhaseSelectingCharacter
	return nil
}

// BindEntity transitions SelectingCharacter to Playing once a character
// has been chosen, per the "bind_entity" edge in spec.md §4.9's diagram.
func (s *Session) BindEntity(e entity.ID) error {
	if s.phase != PhaseSelectingCharacter {
		return ErrInvalidTransition
	}
	s.entity = e
	s.phase = PhasePlaying
	return nil
}

// Disconnect transitions Playing (or any phase) to Disconnected.
func (s *Session) Disconnect() {
	s.phase = PhaseDisconnected
}

// LingeringEntity is a disconnected Playing session's entity, kept
// briefly so a prompt reconnect can re-bind it instead of despawning and
// respawning (spec.md §4.9, "entity may linger").
type LingeringEntity struct {
	CharacterID int64
	Entity      entity.ID
	Permission  perm.Permission
	ExpiresAt   time.Time
}

// Manager tracks live sessions, the session-to-entity mapping the
// scripting bridge's sessions proxy reads, and the lingering-entity
// table for reconnection.
type Manager struct {
	mu sync.Mutex

	sessions map[uint64]*Session
	lingered map[int64]LingeringEntity // keyed by character_id

	lingerDuration time.Duration
	quickPlay      bool
}

// Config configures reconnection behavior. QuickPlay, if true, skips
// lingering entirely: Remove records no lingering entry. The Manager has
// no world access and does not despawn the entity itself.
type Config struct {
	LingerDuration time.Duration
	QuickPlay      bool
}

// NewManager returns an empty session manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		sessions:       make(map[uint64]*Session),
		lingered:       make(map[int64]LingeringEntity),
		lingerDuration: cfg.LingerDuration,
		quickPlay:      cfg.QuickPlay,
	}
}

// Add registers a new session (transport-layer NewConnection).
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Get returns a session by ID.
func (m *Manager) Get(id uint64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops a session from the live set, lingering its entity if it
// was Playing and QuickPlay is disabled. characterID identifies the
// lingering slot for reconnection; callers for non-player-bound sessions
// pass 0.
func (m *Manager) Remove(id uint64, characterID int64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)

	if m.quickPlay {
		return
	}
	if ent, playing := s.Entity(); playing && characterID != 0 {
		m.lingered[characterID] = LingeringEntity{
			CharacterID: characterID,
			Entity:      ent,
			Permission:  s.Permission(),
			ExpiresAt:   now.Add(m.lingerDuration),
		}
	}
}

// Reclaim pops a lingering entity for characterID if it hasn't expired
// as of now, for re-binding to a freshly reconnected session.
func (m *Manager) Reclaim(characterID int64, now time.Time) (LingeringEntity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lingered[characterID]
	if !ok {
		return LingeringEntity{}, false
	}
	delete(m.lingered, characterID)
	if now.After(l.ExpiresAt) {
		return LingeringEntity{}, false
	}
	return l, true
}

// SweepExpired removes every lingering entry that has expired as of now
// and returns the expired entities so the caller can despawn them.
func (m *Manager) SweepExpired(now time.Time) []LingeringEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []LingeringEntity
	for id, l := range m.lingered {
		if now.After(l.ExpiresAt) {
			expired = append(expired, l)
			delete(m.lingered, id)
		}
	}
	return expired
}

// EntityForSession implements scripting.SessionLookup.
func (m *Manager) EntityForSession(sessionID uint64) (entity.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return 0, false
	}
	return s.Entity()
}

// SessionForEntity implements scripting.SessionLookup.
func (m *Manager) SessionForEntity(e entity.ID) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if ent, ok := s.Entity(); ok && ent == e {
			return id, true
		}
	}
	return 0, false
}

// PlayingSessions returns every session currently in the Playing phase,
// for the AOI/broadcast phase to iterate (spec.md §4.4 step 5).
func (m *Manager) PlayingSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.phase == PhasePlaying {
			out = append(out, s)
		}
	}
	return out
}
