package linestore

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/MrWong99/bubbletalk/internal/clock"
	"github.com/MrWong99/bubbletalk/internal/observe"
	"github.com/MrWong99/bubbletalk/pkg/dialogue"
)

// DefaultReloadInterval is the polling period used by [Reloader.Run].
const DefaultReloadInterval = 2 * time.Second

// ErrNotLoaded is returned by readiness checks before the first successful
// load.
var ErrNotLoaded = errors.New("linestore: lines not loaded")

// Reloader keeps the [dialogue.Index] of a [Store] current. It polls the
// store, fingerprints the lines with BLAKE3 and rebuilds the index only when
// the content changed. Readers get the latest index from [Reloader.Index]
// without locking.
type Reloader struct {
	store    Store
	interval time.Duration
	clock    clock.Clock
	metrics  *observe.Metrics
	logger   *slog.Logger
	onChange func(*dialogue.Index)

	mu  sync.Mutex // serialises reloads
	sum [32]byte

	idx    atomic.Pointer[dialogue.Index]
	loaded atomic.Bool
}

// ReloaderOption configures a [Reloader].
type ReloaderOption func(*Reloader)

// WithInterval sets the polling period. Non-positive values keep the default.
func WithInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReloadClock sets the clock that paces polling.
func WithReloadClock(c clock.Clock) ReloaderOption {
	return func(r *Reloader) { r.clock = c }
}

// WithReloadMetrics records reload outcomes.
func WithReloadMetrics(m *observe.Metrics) ReloaderOption {
	return func(r *Reloader) { r.metrics = m }
}

// WithReloadLogger sets the logger for load and reload messages. Default:
// slog.Default().
func WithReloadLogger(l *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithOnChange registers a callback run after each index swap.
func WithOnChange(fn func(*dialogue.Index)) ReloaderOption {
	return func(r *Reloader) { r.onChange = fn }
}

// NewReloader returns a Reloader for store. Call [Reloader.Reload] once
// before serving and [Reloader.Run] to keep polling.
func NewReloader(store Store, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		store:    store,
		interval: DefaultReloadInterval,
		clock:    clock.Real(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.idx.Store(dialogue.BuildIndex(nil))
	return r
}

// Index returns the most recently built index. Before the first load it is
// empty.
func (r *Reloader) Index() *dialogue.Index { return r.idx.Load() }

// Loaded reports whether at least one load succeeded.
func (r *Reloader) Loaded() bool { return r.loaded.Load() }

// Reload reads the store once and swaps in a new index if the content
// changed. A failed read keeps the previous index.
func (r *Reloader) Reload(ctx context.Context) (changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines, err := r.store.Lines(ctx)
	if err != nil {
		r.metrics.RecordStoreReload(ctx, "error")
		return false, err
	}
	sum := Fingerprint(lines)
	if r.loaded.Load() && sum == r.sum {
		r.metrics.RecordStoreReload(ctx, "unchanged")
		return false, nil
	}

	idx := dialogue.BuildIndex(lines)
	r.sum = sum
	r.idx.Store(idx)
	r.loaded.Store(true)
	r.metrics.RecordStoreReload(ctx, "ok")
	r.logger.Info("dialogue lines loaded",
		"lines", idx.Len(),
		"speakers", len(idx.Speakers()),
		"duplicates", len(idx.Duplicates()),
	)
	if r.onChange != nil {
		r.onChange(idx)
	}
	return true, nil
}

// Run polls the store until ctx is cancelled. Errors are logged and the
// previous index stays in use.
func (r *Reloader) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(r.interval):
		}
		if _, err := r.Reload(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("dialogue reload failed, keeping previous lines", "err", err)
		}
	}
}

// Check is a readiness probe: it fails until lines are loaded and the index
// holds at least one line.
func (r *Reloader) Check(_ context.Context) error {
	if !r.loaded.Load() {
		return ErrNotLoaded
	}
	if r.Index().Len() == 0 {
		return errors.New("linestore: no dialogue lines")
	}
	return nil
}

// Fingerprint returns a BLAKE3 digest of lines in order. Equal collections
// produce equal digests.
func Fingerprint(lines []dialogue.Line) [32]byte {
	h := blake3.New()
	var buf []byte
	for _, l := range lines {
		buf = buf[:0]
		for _, f := range [...]string{l.Speaker, l.ID, string(l.Condition), l.Text, l.Duration, l.NextID, l.Note} {
			buf = binary.AppendUvarint(buf, uint64(len(f)))
			buf = append(buf, f...)
		}
		_, _ = h.Write(buf)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
