// Package directory resolves user ids to display names for presence
// snapshots and typing indicators. Usernames are immutable after account
// creation, so a hit stays valid for the life of the process; the LRU
// bound only caps memory on nodes that see many distinct users.
package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/chat-core/internal/domain/model"
)

const (
	cacheSize       = 10000
	resolveParallel = 8
)

// UserLookup is the DB adapter surface the directory falls back to on a
// cache miss.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

type Directory struct {
	users UserLookup
	cache *lru.Cache[uuid.UUID, string]
}

func NewDirectory(users UserLookup) *Directory {
	cache, _ := lru.New[uuid.UUID, string](cacheSize)
	return &Directory{users: users, cache: cache}
}

// Lookup returns the display name for id, consulting the cache first.
func (d *Directory) Lookup(ctx context.Context, id uuid.UUID) (string, error) {
	if id == uuid.Nil {
		return "", nil
	}
	if name, ok := d.cache.Get(id); ok {
		return name, nil
	}
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("directory: resolve %s: %w", id, err)
	}
	d.cache.Add(id, u.Username)
	return u.Username, nil
}

// Annotate fills the Username field of every presence in ps, resolving
// cache misses concurrently. A user that cannot be resolved keeps an empty
// name rather than failing the whole snapshot.
func (d *Directory) Annotate(ctx context.Context, ps []model.Presence) []model.Presence {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(resolveParallel)
	for i := range ps {
		i := i
		g.Go(func() error {
			name, err := d.Lookup(gCtx, ps[i].UserID)
			if err != nil {
				return nil
			}
			ps[i].Username = name
			return nil
		})
	}
	_ = g.Wait()
	return ps
}
