package buffer

import (
	"sync"
	"time"

	"github.com/cyscaledb/cyscaledb/storage/page"
)

// PageKey identifies a cached page by its owning file name (one physical
// file per table, per spec §4.2) and page id within that file.
type PageKey struct {
	Space  string
	PageID uint32
}

type region int

const (
	regionOld region = iota
	regionYoung
)

// Frame is one slot of the fixed-size pool: a page, its pin count, dirty
// flag, last access time, and young/old marker, per spec §4.3's model.
// Pin count and dirty flag are mutated under frame.mu; the pool's own
// frame-table lock governs only which key maps to which frame, not the
// frame's own state, matching the spec's "per-frame lock" / "pool-wide
// lock" split.
type Frame struct {
	mu         sync.Mutex
	key        PageKey
	page       *page.Page
	pinCount   int32
	dirty      bool
	lastAccess time.Time
	region     region
	oldSince   time.Time // when this frame entered the old region
}

func (f *Frame) pin() {
	f.mu.Lock()
	f.pinCount++
	f.lastAccess = time.Now()
	f.mu.Unlock()
}

func (f *Frame) unpin() {
	f.mu.Lock()
	if f.pinCount > 0 {
		f.pinCount--
	}
	f.mu.Unlock()
}

func (f *Frame) isPinned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinCount > 0
}

func (f *Frame) isDirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

func (f *Frame) setDirty(v bool) {
	f.mu.Lock()
	f.dirty = v
	f.mu.Unlock()
}

// reset re-purposes a reclaimed frame to hold a freshly loaded page.
func (f *Frame) reset(key PageKey, pg *page.Page) {
	f.mu.Lock()
	f.key = key
	f.page = pg
	f.dirty = false
	f.lastAccess = time.Now()
	f.region = regionOld
	f.oldSince = f.lastAccess
	f.mu.Unlock()
}
