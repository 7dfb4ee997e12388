package persistence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"manhole-inspection/internal/model"
)

// IDGenerator mints numeric record ids.
type IDGenerator interface {
	NextID() model.ID
}

// MonotonicIDs issues millisecond-clock ids that strictly increase within a
// process, even when several are requested in the same millisecond. Values
// stay below 2^53 so they survive a round trip through JSON numbers.
type MonotonicIDs struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewMonotonicIDs(now func() time.Time) *MonotonicIDs {
	if now == nil {
		now = time.Now
	}
	return &MonotonicIDs{now: now}
}

func (g *MonotonicIDs) NextID() model.ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return model.ID(ms)
}

// NewPhotoID returns an id for a photo record.
func NewPhotoID() string { return "photo_" + uuid.NewString() }

// NewItemID returns an id for an inspection item definition.
func NewItemID() string { return "item_" + uuid.NewString() }

// freshID draws ids until one is not taken.
func freshID(g IDGenerator, taken func(model.ID) bool) model.ID {
	for {
		if id := g.NextID(); !taken(id) {
			return id
		}
	}
}
