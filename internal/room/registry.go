package room

import (
	"context"
	"sync"

	"github.com/Aryog/VibezLive-sub000/internal/bus"
	"github.com/Aryog/VibezLive-sub000/internal/logging"
	"github.com/Aryog/VibezLive-sub000/internal/mediaworker"
	"github.com/Aryog/VibezLive-sub000/internal/metrics"
	"github.com/Aryog/VibezLive-sub000/internal/registry"
	"go.uber.org/zap"
)

// Deps bundles everything a newly created Room needs beyond its id. The
// same Client and Bus are shared by every Room in the process; only the
// Router differs per room.
type Deps struct {
	Client *mediaworker.Client
	Bcast  Broadcaster
	Bus    *bus.Service
}

// Registry owns the map from RoomID to *Room and creates a Room (and its
// Router) lazily on first reference, guarded by its own short-lived mutex
// that is never held across a media worker call — distinct from a Room's
// own per-operation lock.
type Registry struct {
	deps Deps

	mu    sync.Mutex
	rooms map[registry.RoomID]*Room
}

// NewRegistry constructs an empty Registry.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:  deps,
		rooms: make(map[registry.RoomID]*Room),
	}
}

// GetOrCreate returns the Room for id, creating it (and its Router) on
// first reference: there is no Room object, hence no Router, until the
// first peer joins that roomID.
func (reg *Registry) GetOrCreate(ctx context.Context, id registry.RoomID) (*Room, error) {
	ctx = logging.WithRoomID(ctx, string(id))
	reg.mu.Lock()
	if rm, ok := reg.rooms[id]; ok {
		reg.mu.Unlock()
		return rm, nil
	}
	reg.mu.Unlock()

	router, err := reg.deps.Client.CreateRouter(ctx)
	if err != nil {
		return nil, errMediaError("getOrCreateRoom", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	// Another goroutine may have created the room while we were creating
	// a Router outside the lock; keep the first one and discard ours.
	if rm, ok := reg.rooms[id]; ok {
		_ = router.Close(ctx)
		return rm, nil
	}

	rm := newRoom(id, router, reg.deps.Client, reg.deps.Bcast, reg.deps.Bus, reg.remove)
	reg.rooms[id] = rm
	metrics.ActiveRooms.Inc()
	logging.Info(ctx, "room created")

	// Another instance may already be serving this roomID; its peers are
	// visible in the shared presence set. Broadcasts merge through the
	// bus either way, so this only surfaces the split-room condition.
	if members, err := reg.deps.Bus.SetMembers(ctx, presenceKey(id)); err == nil && len(members) > 0 {
		logging.Info(ctx, "room already has peers on other instances", zap.Int("remote_peers", len(members)))
	}
	return rm, nil
}

// Get returns the Room for id without creating one.
func (reg *Registry) Get(id registry.RoomID) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, ok := reg.rooms[id]
	return rm, ok
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// remove drops a Room from the registry. Passed to newRoom as its onEmpty
// callback, invoked from inside that Room's own lock at reapIfEmptyLocked
// — it must not call back into the Room, only forget it.
func (reg *Registry) remove(id registry.RoomID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, id)
}
