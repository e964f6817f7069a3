package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/event"
)

// Reaper is the single background task per node that catches clients
// which vanished without a disconnect: every reap interval it enumerates
// the online-users set and transitions any user whose heartbeat is absent
// or stale to offline, emitting user_disconnected for every room in their
// prior active-rooms list. Each sweep is a bounded enumerate-and-process
// pass holding no long transaction.
type Reaper struct {
	engine *Engine
}

func NewReaper(engine *Engine) *Reaper {
	return &Reaper{engine: engine}
}

// Run blocks until ctx is canceled, ticking every engine.reapInterval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.engine.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	userIDs, err := r.engine.online.Members(ctx)
	if err != nil {
		r.engine.logger.Error("reaper: list online users failed", "err", err)
		return
	}
	for _, userID := range userIDs {
		r.reapOne(ctx, userID)
	}
}

func (r *Reaper) reapOne(ctx context.Context, userID uuid.UUID) {
	last, found, err := r.engine.heartbeats.Get(ctx, userID)
	if err != nil {
		r.engine.logger.Warn("reaper: heartbeat read failed", "user_id", userID, "err", err)
		return
	}
	stale := !found || time.Since(last) > r.engine.staleThreshold
	if !stale {
		return
	}

	removed, rooms, err := r.engine.MarkOffline(ctx, userID)
	if err != nil {
		r.engine.logger.Error("reaper: mark offline failed", "user_id", userID, "err", err)
		return
	}
	// [COMMIT_GATE] Only the node whose removal from the online set went
	// through gets to emit; another node already reaped this user and
	// already broadcast.
	if !removed {
		return
	}
	for _, roomID := range rooms {
		r.emitDisconnected(ctx, userID, roomID)
	}
}

func (r *Reaper) emitDisconnected(ctx context.Context, userID, roomID uuid.UUID) {
	snap, err := r.engine.Snapshot(ctx, roomID)
	if err != nil {
		r.engine.logger.Warn("reaper: snapshot failed", "room_id", roomID, "err", err)
	}
	ev := event.NewUserDisconnectedEvent(roomID, userID, snap)
	if err := r.engine.bus.Publish(ctx, ev); err != nil {
		r.engine.logger.Warn("reaper: publish user_disconnected failed", "room_id", roomID, "err", err)
	}
}
