// Package objects tracks per-session Wayland protocol state: the live
// object-id map, the shadow of the compositor's global registry, and
// the advisory toplevel context exported to helper processes.
package objects

import "github.com/PeterCxy/wl-mitm/internal/errx"

// DisplayObjectID is the object id every session starts with:
// id 1 is always wl_display.
const DisplayObjectID uint32 = 1

// DisplayInterface is the interface bound to DisplayObjectID.
const DisplayInterface = "wl_display"

// serverIDBase splits the id space: ids at or above it are allocated
// by the server, below it by the client.
const serverIDBase uint32 = 0xFF000000

// Object is one live object binding.
type Object struct {
	Interface string
	Version   uint32
}

// Map records live object ids for one session. Sessions drive both
// directions through their own lock, so Map itself is unsynchronised.
type Map struct {
	objects map[uint32]Object
}

// NewMap returns a map pre-populated with wl_display at id 1.
func NewMap() *Map {
	m := &Map{objects: make(map[uint32]Object)}
	m.objects[DisplayObjectID] = Object{Interface: DisplayInterface, Version: 1}
	return m
}

// Register installs a new object binding. Registering an id that is
// already live is an error: it means the two ends disagree about the
// object graph and filtering results would be meaningless.
func (m *Map) Register(id uint32, iface string, version uint32) error {
	if id == 0 {
		return ErrNullID
	}
	if existing, ok := m.objects[id]; ok {
		return errx.With(ErrIDInUse, " %d (%s)", id, existing.Interface)
	}
	m.objects[id] = Object{Interface: iface, Version: version}
	return nil
}

// Unregister removes an object binding. Removing an id that is not
// live is a no-op: destructor messages and wl_display.delete_id both
// prune, and either may arrive first.
func (m *Map) Unregister(id uint32) {
	delete(m.objects, id)
}

// Lookup returns the binding for id.
func (m *Map) Lookup(id uint32) (Object, bool) {
	o, ok := m.objects[id]
	return o, ok
}

// Len reports the number of live objects.
func (m *Map) Len() int {
	return len(m.objects)
}

// ServerAllocated reports whether id falls in the server's id range.
func ServerAllocated(id uint32) bool {
	return id >= serverIDBase
}

// Global is one advertised registry global.
type Global struct {
	Interface string
	Version   uint32
	// Hidden marks globals the policy suppressed from the client. The
	// shadow still records them so a bind attempt can be refused and a
	// later global_remove swallowed.
	Hidden bool
}

// Registry shadows the compositor's global registry for one session.
type Registry struct {
	globals map[uint32]Global
}

// NewRegistry returns an empty registry shadow.
func NewRegistry() *Registry {
	return &Registry{globals: make(map[uint32]Global)}
}

// Record stores an advertised global under its registry name.
func (r *Registry) Record(name uint32, iface string, version uint32, hidden bool) {
	r.globals[name] = Global{Interface: iface, Version: version, Hidden: hidden}
}

// Remove drops a global on global_remove. It returns the removed entry
// so the caller can tell whether the removal itself must be hidden.
func (r *Registry) Remove(name uint32) (Global, bool) {
	g, ok := r.globals[name]
	if ok {
		delete(r.globals, name)
	}
	return g, ok
}

// Lookup returns the global advertised under name.
func (r *Registry) Lookup(name uint32) (Global, bool) {
	g, ok := r.globals[name]
	return g, ok
}

// ToplevelContext is a best-effort capture of the most recent
// xdg_toplevel window metadata, exported to helpers as hints. Never
// authoritative.
type ToplevelContext struct {
	Title    string
	HasTitle bool
	AppID    string
	HasAppID bool
}

// SetTitle records the latest xdg_toplevel.set_title string.
func (t *ToplevelContext) SetTitle(s string) {
	t.Title = s
	t.HasTitle = true
}

// SetAppID records the latest xdg_toplevel.set_app_id string.
func (t *ToplevelContext) SetAppID(s string) {
	t.AppID = s
	t.HasAppID = true
}
