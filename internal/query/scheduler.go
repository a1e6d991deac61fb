package query

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	"github.com/kgraph/kgraph/internal/cache"
	"github.com/kgraph/kgraph/internal/config"
	"github.com/kgraph/kgraph/internal/kgerrors"
)

// JobState is an analytics job's lifecycle state.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is one analytics run, kept in the bounded recent-job history for
// diagnostics.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Scope      string    `json:"scope"`
	Trigger    string    `json:"trigger"`
	State      JobState  `json:"state"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// jobSlot tracks the single in-flight job for one (kind, scope) pair;
// triggers arriving while it runs coalesce into one pending re-run.
type jobSlot struct {
	running bool
	rerun   bool
}

var jobsBucket = []byte("jobs")

// Scheduler drives the analytics engine: it serves cached results,
// serializes trigger-driven runs per (kind, scope) (a manual Run
// executes directly, outside that serialization), debounces file-change triggers,
// runs periodic schedules, and keeps a bounded job history (in memory
// and in a bolt bucket so diagnostics survive restarts).
type Scheduler struct {
	engine  *Engine
	results *cache.Manager
	cfg     config.AnalyticsConfig
	log     *logrus.Logger

	// limiter throttles trigger-driven runs so a burst of file events
	// cannot starve the process.
	limiter *rate.Limiter

	mu      sync.Mutex
	slots   map[string]*jobSlot
	history []Job

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	db *bbolt.DB

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// NewScheduler opens the job-history store at historyPath and builds a
// scheduler over engine and results.
func NewScheduler(engine *Engine, results *cache.Manager, cfg config.AnalyticsConfig, historyPath string, logger *logrus.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}

	var db *bbolt.DB
	if historyPath != "" {
		var err error
		db, err = bbolt.Open(historyPath, 0600, &bbolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			return nil, kgerrors.FatalWrap(err, "opening job history store %s", historyPath)
		}
		if err := db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(jobsBucket)
			return err
		}); err != nil {
			db.Close()
			return nil, kgerrors.FatalWrap(err, "initializing job history store")
		}
	}

	return &Scheduler{
		engine:  engine,
		results: results,
		cfg:     cfg,
		log:     logger,
		limiter: rate.NewLimiter(rate.Every(time.Second), 4),
		slots:   make(map[string]*jobSlot),
		timers:  make(map[string]*time.Timer),
		db:      db,
	}, nil
}

// Start launches the periodic triggers. Idempotent-with-warning.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.log.Warn("analytics scheduler already started")
		return
	}
	s.started = true
	s.runCtx, s.cancelRun = context.WithCancel(ctx)
	s.mu.Unlock()

	for i, p := range s.cfg.Periodic {
		if !p.Enabled || p.Every <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.periodicLoop(i, p)
	}
}

func (s *Scheduler) periodicLoop(idx int, p config.PeriodicTriggerConfig) {
	defer s.wg.Done()
	ticker := time.NewTicker(p.Every)
	defer ticker.Stop()
	for {
		select {
		case <-s.runCtx.Done():
			return
		case <-ticker.C:
			for _, kind := range p.Analyses {
				s.trigger(kind, "", fmt.Sprintf("periodic[%d]", idx), true)
			}
		}
	}
}

// Stop cancels periodic loops and pending debounce timers and closes
// the history store.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.started = false
	cancel := s.cancelRun
	s.cancelRun = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.timersMu.Lock()
	for path, timer := range s.timers {
		timer.Stop()
		delete(s.timers, path)
	}
	s.timersMu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db != nil {
		if err := db.Close(); err != nil {
			s.log.WithError(err).Warn("closing job history store")
		}
	}
}

// Run executes (or serves from cache) one analysis synchronously. This
// is the manual trigger; forceRefresh bypasses the cache.
func (s *Scheduler) Run(ctx context.Context, kind, scope string, forceRefresh bool) (*cache.Entry, error) {
	if !knownKind(kind) {
		return nil, kgerrors.Validation("unknown analysis kind: %s", kind)
	}

	if !forceRefresh {
		if entry, found, err := s.results.Get(ctx, kind, scopeKey(scope)); err == nil && found {
			return entry, nil
		}
	}

	return s.execute(ctx, kind, scope, "manual")
}

// OnIngestion fires the post-ingest trigger for rootPath.
func (s *Scheduler) OnIngestion(rootPath string) {
	if !s.cfg.OnIngestion.Enabled {
		return
	}
	for _, kind := range s.cfg.OnIngestion.Analyses {
		s.trigger(kind, rootPath, "ingestion", true)
	}
}

// OnFileChange fires the debounced file-change trigger, scoped to the
// changed file. Rapid events for the same path collapse to the last.
func (s *Scheduler) OnFileChange(path string) {
	if !s.cfg.OnFileChange.Enabled {
		return
	}
	debounce := time.Duration(s.cfg.OnFileChange.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 5 * time.Second
	}

	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if timer, ok := s.timers[path]; ok {
		timer.Stop()
	}
	s.timers[path] = time.AfterFunc(debounce, func() {
		s.timersMu.Lock()
		delete(s.timers, path)
		s.timersMu.Unlock()
		for _, kind := range s.cfg.OnFileChange.Analyses {
			s.trigger(kind, path, "file-change", true)
		}
	})
}

// trigger asynchronously runs one analysis, coalescing into the
// in-flight job's re-run flag when one is already running for the same
// (kind, scope).
func (s *Scheduler) trigger(kind, scope, source string, forceRefresh bool) {
	if !knownKind(kind) {
		s.log.WithField("kind", kind).Warn("ignoring trigger for unknown analysis kind")
		return
	}

	key := cache.Key(kind, scopeKey(scope))
	s.mu.Lock()
	slot, ok := s.slots[key]
	if !ok {
		slot = &jobSlot{}
		s.slots[key] = slot
	}
	if slot.running {
		slot.rerun = true
		s.mu.Unlock()
		return
	}
	slot.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			ctx := s.triggerContext()
			if err := s.limiter.Wait(ctx); err != nil {
				s.finishSlot(key)
				return
			}
			if _, err := s.executeLocked(ctx, kind, scope, source, forceRefresh); err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"kind": kind, "scope": scope, "trigger": source,
				}).Warn("analysis run failed")
			}

			s.mu.Lock()
			if slot.rerun {
				slot.rerun = false
				s.mu.Unlock()
				continue
			}
			slot.running = false
			s.mu.Unlock()
			return
		}
	}()
}

func (s *Scheduler) finishSlot(key string) {
	s.mu.Lock()
	if slot, ok := s.slots[key]; ok {
		slot.running = false
		slot.rerun = false
	}
	s.mu.Unlock()
}

func (s *Scheduler) triggerContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// executeLocked is the async-trigger body: cache check then execute.
func (s *Scheduler) executeLocked(ctx context.Context, kind, scope, source string, forceRefresh bool) (*cache.Entry, error) {
	if !forceRefresh {
		if entry, found, err := s.results.Get(ctx, kind, scopeKey(scope)); err == nil && found {
			return entry, nil
		}
	}
	return s.execute(ctx, kind, scope, source)
}

// execute runs the engine, caches the payload, and records the job.
func (s *Scheduler) execute(ctx context.Context, kind, scope, source string) (*cache.Entry, error) {
	job := Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Scope:      scopeKey(scope),
		Trigger:    source,
		State:      JobRunning,
		EnqueuedAt: time.Now(),
		StartedAt:  time.Now(),
	}

	payload, err := s.engine.Run(ctx, kind, scope)
	job.FinishedAt = time.Now()
	if err != nil {
		job.State = JobFailed
		job.Error = err.Error()
		s.recordJob(job)
		return nil, err
	}
	job.State = JobCompleted
	s.recordJob(job)

	return s.results.Set(ctx, kind, scopeKey(scope), payload), nil
}

// recordJob appends to the bounded in-memory history and persists to
// the bolt bucket, trimming both to the configured limit.
func (s *Scheduler) recordJob(job Job) {
	s.mu.Lock()
	s.history = append(s.history, job)
	if len(s.history) > s.cfg.HistoryLimit {
		s.history = s.history[len(s.history)-s.cfg.HistoryLimit:]
	}
	db := s.db
	s.mu.Unlock()

	if db == nil {
		return
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		// Trim oldest entries beyond the history limit.
		c := b.Cursor()
		for excess := b.Stats().KeyN + 1 - s.cfg.HistoryLimit; excess > 0; excess-- {
			k, _ := c.First()
			if k == nil {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("persisting job history")
	}
}

// Jobs returns the recent-job history, newest last.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.history...)
}

// Schedule returns the active trigger configuration.
func (s *Scheduler) Schedule() config.AnalyticsConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateSchedule replaces the trigger configuration. Unknown analysis
// kinds are rejected. Periodic loops pick the new schedule up on the
// next Start (callers restart the scheduler to apply interval changes).
func (s *Scheduler) UpdateSchedule(cfg config.AnalyticsConfig) error {
	for _, analyses := range [][]string{cfg.OnIngestion.Analyses, cfg.OnFileChange.Analyses, cfg.OnGitCommit.Analyses} {
		for _, kind := range analyses {
			if !knownKind(kind) {
				return kgerrors.Validation("unknown analysis kind: %s", kind)
			}
		}
	}
	for _, p := range cfg.Periodic {
		for _, kind := range p.Analyses {
			if !knownKind(kind) {
				return kgerrors.Validation("unknown analysis kind: %s", kind)
			}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = s.cfg.HistoryLimit
	}
	s.cfg = cfg
	return nil
}

// CacheKeys lists the result cache's current keys.
func (s *Scheduler) CacheKeys() []string {
	return s.results.Keys()
}

// ClearCache empties the result cache.
func (s *Scheduler) ClearCache(ctx context.Context) {
	s.results.Clear(ctx)
}

// scopeKey normalizes the empty (whole-graph) scope.
func scopeKey(scope string) string {
	if scope == "" {
		return "global"
	}
	return scope
}

func knownKind(kind string) bool {
	for _, k := range config.KnownAnalysisKinds {
		if k == kind {
			return true
		}
	}
	return false
}
