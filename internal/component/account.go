package component

// Account links an entity to the persisted account that owns it, so
// scripts and plugins can read the owning account's name and access level
// without reaching into the persistence collaborator directly.
type Account struct {
	Name        string
	AccessLevel int16
}
