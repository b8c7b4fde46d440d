package component

// SessionRef links an entity to the network session currently controlling
// it. This is a back-reference only — the session itself lives in
// internal/session, addressed by SessionID.
type SessionRef struct {
	SessionID uint64
}
