package unbg

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
)

// SessionKey builds the key a warm session is stored under.
func SessionKey(modelFile string, p Provider, libPath string) string {
	return strings.Join([]string{modelFile, p.String(), libPath}, "|")
}

// warmSession guards a session so it's only closed once nobody is using it.
type warmSession struct {
	mu      sync.Mutex
	sess    Session
	users   int
	evicted bool
}

func (ws *warmSession) acquire() {
	ws.mu.Lock()
	ws.users++
	ws.mu.Unlock()
}

func (ws *warmSession) release() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.users--
	if ws.evicted && ws.users == 0 {
		ws.sess.Close()
	}
}

func (ws *warmSession) evict() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.evicted = true
	if ws.users == 0 {
		ws.sess.Close()
	}
}

// =============================================================================

// Sessions keeps loaded sessions warm across calls. A session is created
// the first time a model file is run on an execution path and reused after.
type Sessions struct {
	log    Logger
	engine Engine
	loadMu sync.Mutex
	runMu  sync.Map
	cache  *otter.Cache[string, *warmSession]
	live   atomic.Int32
}

// NewSessions constructs the session store. A maxSessions of zero keeps
// every session until Close.
func NewSessions(log Logger, engine Engine, maxSessions int) (*Sessions, error) {
	if log == nil {
		log = DiscardLogger
	}

	s := Sessions{
		log:    log,
		engine: engine,
	}

	opt := otter.Options[string, *warmSession]{
		OnDeletion: s.eviction,
	}

	if maxSessions > 0 {
		opt.MaximumSize = maxSessions
	}

	cache, err := otter.New(&opt)
	if err != nil {
		return nil, fmt.Errorf("new-sessions: constructing cache: %w", err)
	}

	s.cache = cache

	return &s, nil
}

// Run executes the input on the warm session for the key, loading the
// session on first use. Runs on the same session are serialized.
func (s *Sessions) Run(ctx context.Context, key string, modelFile string, p Provider, input Tensor) (Tensor, error) {
	ws, err := s.acquire(ctx, key, modelFile, p)
	if err != nil {
		return Tensor{}, err
	}
	defer ws.release()

	mu, _ := s.runMu.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	out, err := ws.sess.Run(ctx, input)
	if err != nil {
		return Tensor{}, fmt.Errorf("run: %w", err)
	}

	return out, nil
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	return int(s.live.Load())
}

// Shutdown releases every session and waits for the evictions to finish.
func (s *Sessions) Shutdown(ctx context.Context) error {
	if _, exists := ctx.Deadline(); !exists {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	s.cache.InvalidateAll()

	for s.live.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-time.NewTimer(10 * time.Millisecond).C:
		}
	}

	return nil
}

func (s *Sessions) acquire(ctx context.Context, key string, modelFile string, p Provider) (*warmSession, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if ws, exists := s.cache.GetIfPresent(key); exists {
		ws.acquire()
		return ws, nil
	}

	sess, err := s.engine.Load(modelFile, p)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	ws := warmSession{sess: sess}
	ws.acquire()

	s.cache.Set(key, &ws)
	s.live.Add(1)

	s.log(ctx, "session-load", "provider", p, "model-file", modelFile)

	return &ws, nil
}

func (s *Sessions) eviction(event otter.DeletionEvent[string, *warmSession]) {
	s.log(context.Background(), "session-eviction", "key", event.Key, "cause", event.Cause)

	event.Value.evict()
	s.live.Add(-1)
}
