package reconcile

// IDMap maps source identifiers to destination identifiers for one entity
// type. It is built during a step and discarded at the end of the run.
type IDMap map[string]string

// Set records a source to destination pair. Empty ids are ignored.
func (m IDMap) Set(srcID, destID string) {
	if srcID == "" || destID == "" {
		return
	}
	m[srcID] = destID
}

// Lookup returns the destination id for srcID.
func (m IDMap) Lookup(srcID string) (string, bool) {
	id, ok := m[srcID]
	return id, ok
}

// Registry holds the IDMaps of one run. A map is sealed once its step has
// finished classification and creation, after which dependents may read it.
// Steps run one at a time, so it is not safe for concurrent use.
type Registry struct {
	maps   map[string]IDMap
	sealed map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{maps: make(map[string]IDMap), sealed: make(map[string]bool)}
}

// Seal publishes the completed mapping for entity.
func (r *Registry) Seal(entity string, m IDMap) {
	r.maps[entity] = m
	r.sealed[entity] = true
}

// Sealed returns the mapping for entity if its step has completed.
func (r *Registry) Sealed(entity string) (IDMap, bool) {
	if !r.sealed[entity] {
		return nil, false
	}
	return r.maps[entity], true
}
