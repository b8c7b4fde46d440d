package component

// Stats is a minimal numeric attribute block: whatever a script or plugin
// wants to read or mutate through the host ABI's component read/write
// calls (spec.md §4.6-4.8). Deployments that need a richer schema define
// their own component type the same way; the core never special-cases it.
type Stats struct {
	HP    int32
	MaxHP int32
	Level int32
}
