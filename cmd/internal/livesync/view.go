package livesync

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"checkin/cmd/internal/ids"
)

// DefaultCoalesce is the window in which matching notifications collapse
// into a single re-fetch.
const DefaultCoalesce = 50 * time.Millisecond

var (
	// ErrStale is returned by Load when the view moved to another key while
	// the request was in flight, or a newer result was already applied.
	ErrStale = errors.New("stale view result")
	// ErrClosed is returned by Load after Close.
	ErrClosed = errors.New("view closed")
)

// Loader fetches the data set for key.
type Loader[T any] func(ctx context.Context, key Key) (T, error)

// ViewOptions configures a View.
type ViewOptions struct {
	// Cache is shared between views; nil gives the view its own.
	Cache *Cache
	// Coalesce defaults to DefaultCoalesce.
	Coalesce time.Duration
	// Accept, when set, must also approve a message that passed the key's filter.
	Accept func(Key, Message) bool
	// OnError receives failed loads of the current key. Last-good data is kept.
	OnError func(Key, error)
	Logger  *slog.Logger
	Metrics *Metrics
}

// View is a cached list bound to a Loader and a Key.
//
// OnUpdate callbacks run on the goroutine that completed the load (the caller
// of Load, or the view's refresher) and never concurrently with each other.
type View[T any] struct {
	id      string
	load    Loader[T]
	cache   *Cache
	window  time.Duration
	accept  func(Key, Message) bool
	onError func(Key, error)
	log     *slog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	emitMu sync.Mutex

	mu      sync.Mutex
	key     Key
	gen     uint64
	seq     uint64
	applied uint64
	tick    uint64
	timer   *time.Timer
	closed  bool
	updates []func(T)
}

// NewView returns a View on key. Nothing is fetched until Load.
func NewView[T any](key Key, load Loader[T], opts ViewOptions) *View[T] {
	ctx, cancel := context.WithCancel(context.Background())
	v := &View[T]{
		id:      ids.MustULID(),
		load:    load,
		cache:   opts.Cache,
		window:  opts.Coalesce,
		accept:  opts.Accept,
		onError: opts.OnError,
		log:     opts.Logger,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		key:     key,
	}
	if v.cache == nil {
		v.cache = NewCache()
	}
	if v.window <= 0 {
		v.window = DefaultCoalesce
	}
	if v.log == nil {
		v.log = slog.New(slog.DiscardHandler)
	}
	v.log = v.log.With("view", v.id)
	return v
}

// Key returns the current request key.
func (v *View[T]) Key() Key {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key
}

// Current returns the last-good data of the current key.
func (v *View[T]) Current() (T, bool) {
	val, _, ok := Lookup[T](v.cache, v.Key())
	return val, ok
}

// OnUpdate registers fn to receive every applied result.
func (v *View[T]) OnUpdate(fn func(T)) {
	v.mu.Lock()
	v.updates = append(v.updates, fn)
	v.mu.Unlock()
}

// SetKey moves the view to another data set. In-flight results for the old
// key are discarded and a pending refresh is dropped.
func (v *View[T]) SetKey(key Key) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || key == v.key {
		return
	}
	v.key = key
	v.gen++
	v.stopTimerLocked()
}

// Load fetches the current key now.
func (v *View[T]) Load(ctx context.Context) (T, error) {
	return v.fetch(ctx)
}

// Notify feeds a push message to the view. It reports whether the message
// matched and a re-fetch was scheduled.
func (v *View[T]) Notify(msg Message) bool {
	v.mu.Lock()
	key, closed := v.key, v.closed
	v.mu.Unlock()
	if closed {
		return false
	}

	if !FilterFor(key).Match(msg) || (v.accept != nil && !v.accept(key, msg)) {
		v.metrics.message("ignored")
		v.log.Debug("view.message.ignored", "key", key.String(), "rfid_uid", msg.RFIDUID)
		return false
	}

	v.metrics.message("matched")
	v.cache.Invalidate(key)
	v.schedule()
	return true
}

// Invalidate marks the current data stale after a local mutation and
// schedules a re-fetch.
func (v *View[T]) Invalidate() {
	v.cache.Invalidate(v.Key())
	v.schedule()
}

// Close stops the refresher and waits for an in-flight refresh to finish.
func (v *View[T]) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.stopTimerLocked()
	v.mu.Unlock()

	v.cancel()
	v.wg.Wait()
}

func (v *View[T]) schedule() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.timer != nil {
		return
	}

	v.tick++
	tick := v.tick
	v.wg.Add(1)
	v.timer = time.AfterFunc(v.window, func() { v.refresh(tick) })
}

func (v *View[T]) stopTimerLocked() {
	if v.timer != nil && v.timer.Stop() {
		v.wg.Done()
	}
	v.timer = nil
}

func (v *View[T]) refresh(tick uint64) {
	defer v.wg.Done()

	v.mu.Lock()
	if v.tick == tick {
		v.timer = nil
	}
	closed := v.closed
	key := v.key
	v.mu.Unlock()
	if closed {
		return
	}

	v.log.Debug("view.refetch", "key", key.String())
	_, _ = v.fetch(v.ctx)
}

func (v *View[T]) fetch(ctx context.Context) (T, error) {
	var zero T

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return zero, ErrClosed
	}
	key, gen := v.key, v.gen
	v.seq++
	seq := v.seq
	v.mu.Unlock()

	val, err := v.load(ctx, key)

	v.mu.Lock()
	current := !v.closed && v.gen == gen && seq > v.applied
	if err == nil && current {
		v.applied = seq
		v.cache.Set(key, val)
	}
	fns := slices.Clone(v.updates)
	v.mu.Unlock()

	if !current {
		v.metrics.refetch(key.Kind, "stale")
		v.log.Debug("view.result.stale", "key", key.String())
		return zero, ErrStale
	}
	if err != nil {
		v.metrics.refetch(key.Kind, "error")
		v.log.Warn("view.load.fail", "key", key.String(), "err", err)
		if v.onError != nil {
			v.onError(key, err)
		}
		return zero, err
	}

	v.metrics.refetch(key.Kind, "ok")

	v.emitMu.Lock()
	v.mu.Lock()
	latest := v.applied == seq
	v.mu.Unlock()
	if latest {
		for _, fn := range fns {
			fn(val)
		}
	}
	v.emitMu.Unlock()

	return val, nil
}

// Notifier receives push messages.
type Notifier interface {
	Notify(Message) bool
}

// Fanout returns a message handler that feeds every notifier.
func Fanout(ns ...Notifier) func(Message) {
	return func(m Message) {
		for _, n := range ns {
			n.Notify(m)
		}
	}
}
