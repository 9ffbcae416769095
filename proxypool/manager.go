package manager

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/internal/shared/types"
	"proxyrotor/proxypool/analytics"
	"proxyrotor/proxypool/ledger"
	"proxyrotor/proxypool/model"
	"proxyrotor/proxypool/quality"
	"proxyrotor/proxypool/strategy"
)

const component = "ProxyPool/Manager"

// Options 控制管理器的自适应与账本行为。
type Options struct {
	Controller       strategy.ControllerConfig
	Retention        time.Duration // ledger retention window
	WriteTimeout     time.Duration // bound on each ledger write
	ReadTimeout      time.Duration // bound on warm-start and history queries
	PurgeInterval    time.Duration
	SnapshotInterval time.Duration
	EvaluateInterval time.Duration // how often the trailing window is re-checked without new outcomes
	TopN             int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Controller:       strategy.DefaultControllerConfig(),
		Retention:        30 * 24 * time.Hour,
		WriteTimeout:     2 * time.Second,
		ReadTimeout:      10 * time.Second,
		PurgeInterval:    6 * time.Hour,
		SnapshotInterval: time.Hour,
		EvaluateInterval: time.Minute,
		TopN:             5,
	}
}

// withDefaults fills every zero or negative field from DefaultOptions, so a bare Options{} is usable.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	durations := []struct{ v, def *time.Duration }{
		{&o.Retention, &d.Retention},
		{&o.WriteTimeout, &d.WriteTimeout},
		{&o.ReadTimeout, &d.ReadTimeout},
		{&o.PurgeInterval, &d.PurgeInterval},
		{&o.SnapshotInterval, &d.SnapshotInterval},
		{&o.EvaluateInterval, &d.EvaluateInterval},
		{&o.Controller.Window, &d.Controller.Window},
	}
	for _, f := range durations {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	if o.TopN <= 0 {
		o.TopN = d.TopN
	}
	if o.Controller.Ceiling <= 0 {
		o.Controller.Ceiling = d.Controller.Ceiling
	}
	if o.Controller.Floor <= 0 {
		o.Controller.Floor = d.Controller.Floor
	}
	if o.Controller.MinSamples <= 0 {
		o.Controller.MinSamples = d.Controller.MinSamples
	}
	return o
}

// OptionsFromConfig converts the ini configuration into manager options.
func OptionsFromConfig(cfg *types.Config) (Options, error) {
	opts := DefaultOptions()
	rc, lc := cfg.RotationConf, cfg.LedgerConf

	if rc.BaseStrategy != "" {
		kind, err := strategy.ParseKind(rc.BaseStrategy)
		if err != nil {
			return opts, err
		}
		opts.Controller.Base = kind
	}
	if rc.TargetCaptchaRate > 0 {
		opts.Controller.Ceiling = rc.TargetCaptchaRate
	}
	if rc.RecoveryCaptchaRate > 0 {
		opts.Controller.Floor = rc.RecoveryCaptchaRate
	}
	if opts.Controller.Floor > opts.Controller.Ceiling {
		return opts, fmt.Errorf("recovery_captcha_rate %.2f is above target_captcha_rate %.2f", opts.Controller.Floor, opts.Controller.Ceiling)
	}
	if rc.TrailingWindowMin > 0 {
		opts.Controller.Window = time.Duration(rc.TrailingWindowMin) * time.Minute
	}
	if rc.MinWindowSamples > 0 {
		opts.Controller.MinSamples = rc.MinWindowSamples
	}
	if rc.TopN > 0 {
		opts.TopN = rc.TopN
	}
	if lc.RetentionDays > 0 {
		opts.Retention = time.Duration(lc.RetentionDays) * 24 * time.Hour
	}
	if lc.WriteTimeoutMs > 0 {
		opts.WriteTimeout = time.Duration(lc.WriteTimeoutMs) * time.Millisecond
	}
	if lc.PurgeIntervalMin > 0 {
		opts.PurgeInterval = time.Duration(lc.PurgeIntervalMin) * time.Minute
	}
	if lc.SnapshotIntervalMin > 0 {
		opts.SnapshotInterval = time.Duration(lc.SnapshotIntervalMin) * time.Minute
	}
	return opts, nil
}

// poolState 是一次发布的不可变快照。Select 只读它，从不加锁。
type poolState struct {
	records  map[string]*model.ProxyRecord
	ordered  []*model.ProxyRecord // sorted by key
	strategy strategy.State
}

func newPoolState(records map[string]*model.ProxyRecord, st strategy.State) *poolState {
	ordered := make([]*model.ProxyRecord, 0, len(records))
	for _, r := range records {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key() < ordered[j].Key() })
	return &poolState{records: records, ordered: ordered, strategy: st}
}

// withRecord returns a copy of ps with rec replacing the record of the same key.
func (ps *poolState) withRecord(rec *model.ProxyRecord, st strategy.State) *poolState {
	key := rec.Key()
	records := make(map[string]*model.ProxyRecord, len(ps.records))
	for k, v := range ps.records {
		records[k] = v
	}
	records[key] = rec

	ordered := append([]*model.ProxyRecord(nil), ps.ordered...)
	i := sort.Search(len(ordered), func(i int) bool { return ordered[i].Key() >= key })
	if i < len(ordered) && ordered[i].Key() == key {
		ordered[i] = rec
	}
	return &poolState{records: records, ordered: ordered, strategy: st}
}

// Manager 是轮换引擎的总控制器，也是唯一的公共入口。
//
// Select reads an atomically published snapshot and never blocks. LoadPool, RecordOutcome
// and WarmStart serialize on mu; each is a complete read-modify-write of the snapshot.
type Manager struct {
	store ledger.Store
	opts  Options
	clock Clock
	rng   *rand.Rand

	state      atomic.Pointer[poolState]
	mu         sync.Mutex
	controller *strategy.Controller
	warmed     bool

	// 调度器与生命周期管理
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool
}

// New 创建管理器。nil 的 clock/rng/store 分别使用系统时钟、按时间播种的随机数和内存账本，
// opts 中的零值字段取 DefaultOptions 的值。
// A caller-supplied rng must tolerate concurrent use if Select is called concurrently; NewRand does.
func New(store ledger.Store, opts Options, clock Clock, rng *rand.Rand) *Manager {
	l := logger.WithComponent(component)
	if clock == nil {
		clock = SystemClock()
	}
	if rng == nil {
		rng = NewRand(time.Now().UnixNano())
	}
	if store == nil {
		l.Warn().Msg("No ledger store supplied, history will not survive restarts.")
		store = ledger.NewMemoryStore()
	}

	opts = opts.withDefaults()
	m := &Manager{
		store:      store,
		opts:       opts,
		clock:      clock,
		rng:        rng,
		controller: strategy.NewController(opts.Controller),
	}
	m.state.Store(newPoolState(map[string]*model.ProxyRecord{}, m.controller.State()))
	return m
}

// LoadPool replaces the active candidate set. Known host:port identities keep their
// counters, new ones start at the neutral prior, absent ones leave the pool.
func (m *Manager) LoadPool(candidates []model.Candidate) {
	l := logger.WithComponent(component)

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state.Load()
	next := make(map[string]*model.ProxyRecord, len(candidates))
	var kept, added, skipped int

	for _, c := range candidates {
		c.Host = strings.TrimSpace(c.Host)
		if c.Host == "" || c.Port < 1 || c.Port > 65535 {
			l.Warn().Str("host", c.Host).Int("port", c.Port).Msg("Invalid candidate, skipping.")
			skipped++
			continue
		}
		key := c.Key()
		if _, dup := next[key]; dup {
			l.Debug().Str("proxy", key).Msg("Duplicate candidate in pool list, keeping the first.")
			continue
		}

		if existing, ok := cur.records[key]; ok {
			rec := existing.Clone()
			rec.CredentialRef = c.Credentials
			rec.Country = c.Country
			rec.Source = c.Source
			rec.CostPerUse = c.CostPerUse
			quality.Recalc(rec)
			next[key] = rec
			kept++
			continue
		}
		next[key] = quality.NewRecord(c)
		added++
	}

	dropped := 0
	for key := range cur.records {
		if _, ok := next[key]; !ok {
			dropped++
		}
	}

	m.state.Store(newPoolState(next, m.controller.State()))
	l.Info().
		Int("kept", kept).
		Int("added", added).
		Int("dropped", dropped).
		Int("skipped", skipped).
		Msg("Pool loaded.")
}

// Select returns a copy of the chosen record, or nil when the pool is empty.
// When every record is BANNED the best of them is returned.
func (m *Manager) Select(ctx model.RotationContext) *model.ProxyRecord {
	st := m.state.Load()
	if len(st.ordered) == 0 {
		return nil
	}

	usable := make([]*model.ProxyRecord, 0, len(st.ordered))
	for _, r := range st.ordered {
		if r.QualityLevel.Usable() {
			usable = append(usable, r)
		}
	}

	if len(usable) == 0 {
		best := quality.BestOf(st.ordered)
		l := logger.WithComponent(component)
		l.Warn().
			Int("pool_size", len(st.ordered)).
			Str("proxy", best.Key()).
			Float64("score", best.QualityScore).
			Msg("Every proxy is BANNED, falling back to the best banned one.")
		return best.Clone()
	}

	return strategy.Pick(st.strategy.Active, usable, ctx, m.clock.Now(), m.rng).Clone()
}

// RecordOutcome folds one session attempt into the record identified by rec's host:port,
// re-evaluates the active strategy and appends the outcome to the ledger.
// Unknown records are ignored. It returns the updated record, or nil when ignored.
// Ledger failures are logged and never returned.
func (m *Manager) RecordOutcome(ctx context.Context, rec *model.ProxyRecord, a model.Attempt) *model.ProxyRecord {
	l := logger.WithComponent(component)
	if rec == nil {
		l.Warn().Msg("RecordOutcome called without a record, ignoring.")
		return nil
	}
	key := rec.Key()

	m.mu.Lock()
	cur := m.state.Load()
	existing, ok := cur.records[key]
	if !ok {
		m.mu.Unlock()
		l.Warn().Str("proxy", key).Msg("Outcome for a proxy outside the active pool, ignoring.")
		return nil
	}

	now := m.clock.Now()
	severity := a.CaptchaSeverity
	if severity == "" {
		severity = model.SeverityNone
	}
	outcome := model.SessionOutcome{
		ID:              uuid.NewString(),
		ProxyKey:        key,
		Timestamp:       now,
		Success:         a.Success,
		CaptchaSeverity: severity,
		ResponseTime:    a.ResponseTime,
		Context:         a.Context,
	}

	updated := existing.Clone()
	quality.Update(updated, outcome)
	quality.Recalc(updated)

	prevKind := m.controller.State().Active
	changed := m.controller.Observe(now, severity.IsChallenge(), now)
	st := m.controller.State()
	m.state.Store(cur.withRecord(updated, st))
	m.mu.Unlock()

	if existing.QualityLevel != updated.QualityLevel {
		l.Info().
			Str("proxy", key).
			Str("from", string(existing.QualityLevel)).
			Str("to", string(updated.QualityLevel)).
			Float64("captcha_rate", updated.CaptchaRate).
			Msg("Proxy quality level changed.")
	}
	if changed {
		l.Warn().
			Str("from", prevKind.String()).
			Str("to", st.Active.String()).
			Float64("trailing_rate", st.TrailingRate).
			Int("window_samples", st.WindowSamples).
			Msg("Rotation strategy switched.")
	}

	m.appendOutcome(ctx, outcome)
	return updated.Clone()
}

// appendOutcome is the best-effort durable write; the caller's cancellation does not reach it.
func (m *Manager) appendOutcome(ctx context.Context, o model.SessionOutcome) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.WriteTimeout)
	defer cancel()
	if err := m.store.Append(wctx, o); err != nil {
		l := logger.WithComponent(component)
		l.Error().Err(err).
			Str("proxy", o.ProxyKey).
			Str("outcome_id", o.ID).
			Msg("Failed to append outcome to ledger, keeping in-memory state.")
	}
}

// Report summarizes the live state.
func (m *Manager) Report() analytics.Report {
	st := m.state.Load()
	return analytics.Build(st.ordered, st.strategy, m.opts.Controller.Ceiling, m.opts.TopN)
}

// Records returns copies of the active records ordered by key.
func (m *Manager) Records() []*model.ProxyRecord {
	st := m.state.Load()
	out := make([]*model.ProxyRecord, 0, len(st.ordered))
	for _, r := range st.ordered {
		out = append(out, r.Clone())
	}
	return out
}

// Strategy returns the published strategy state.
func (m *Manager) Strategy() strategy.State {
	return m.state.Load().strategy
}

// WarmStart replays ledger history inside the retention window. Records of the current pool
// that have no in-memory history get their counters rebuilt; every outcome feeds the trailing
// window. It returns the number of outcomes replayed onto records.
func (m *Manager) WarmStart(ctx context.Context) int {
	l := logger.WithComponent(component)

	rctx, cancel := context.WithTimeout(ctx, m.opts.ReadTimeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warmed {
		l.Warn().Msg("Warm start already ran, skipping.")
		return 0
	}

	now := m.clock.Now()
	history, err := m.store.Query(rctx, now.Add(-m.opts.Retention))
	if err != nil {
		l.Error().Err(err).Msg("Failed to read ledger for warm start, starting cold.")
		return 0
	}
	m.warmed = true

	cur := m.state.Load()
	touched := make(map[string]*model.ProxyRecord)
	replayed := 0
	for _, o := range history {
		m.controller.Observe(o.Timestamp, o.CaptchaSeverity.IsChallenge(), now)

		existing, ok := cur.records[o.ProxyKey]
		if !ok {
			continue
		}
		rec, ok := touched[o.ProxyKey]
		if !ok {
			if existing.TotalUses > 0 {
				continue
			}
			rec = existing.Clone()
			touched[o.ProxyKey] = rec
		}
		quality.Update(rec, o)
		replayed++
	}

	next := make(map[string]*model.ProxyRecord, len(cur.records))
	for k, v := range cur.records {
		if rec, ok := touched[k]; ok {
			quality.Recalc(rec)
			v = rec
		}
		next[k] = v
	}
	st := m.controller.State()
	m.state.Store(newPoolState(next, st))

	l.Info().
		Int("history", len(history)).
		Int("replayed", replayed).
		Int("proxies", len(touched)).
		Str("strategy", st.Active.String()).
		Float64("trailing_rate", st.TrailingRate).
		Msg("Warm start finished.")
	return replayed
}

// History returns ledger entries for key since the given time, whether or not key is still pooled.
func (m *Manager) History(ctx context.Context, key string, since time.Time) ([]model.SessionOutcome, error) {
	rctx, cancel := context.WithTimeout(ctx, m.opts.ReadTimeout)
	defer cancel()
	return m.store.QueryProxy(rctx, key, since)
}

// Trend returns quality snapshots for key since the given time.
func (m *Manager) Trend(ctx context.Context, key string, since time.Time) ([]model.QualitySnapshot, error) {
	rctx, cancel := context.WithTimeout(ctx, m.opts.ReadTimeout)
	defer cancel()
	return m.store.QuerySnapshots(rctx, key, since)
}

// Snapshot writes one quality snapshot per active record. Failures are logged.
func (m *Manager) Snapshot(ctx context.Context) int {
	st := m.state.Load()
	if len(st.ordered) == 0 {
		return 0
	}
	now := m.clock.Now()
	snaps := make([]model.QualitySnapshot, 0, len(st.ordered))
	for _, r := range st.ordered {
		snaps = append(snaps, model.SnapshotOf(r, now))
	}

	wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()
	if err := m.store.AppendSnapshots(wctx, snaps); err != nil {
		l := logger.WithComponent(component)
		l.Error().Err(err).Msg("Failed to write quality snapshots.")
		return 0
	}
	return len(snaps)
}

// Purge deletes ledger entries older than the retention window. Failures are logged.
func (m *Manager) Purge(ctx context.Context) int64 {
	l := logger.WithComponent(component)
	cutoff := m.clock.Now().Add(-m.opts.Retention)

	wctx, cancel := context.WithTimeout(ctx, m.opts.ReadTimeout)
	defer cancel()
	removed, err := m.store.Purge(wctx, cutoff)
	if err != nil {
		l.Error().Err(err).Time("cutoff", cutoff).Msg("Ledger purge failed.")
		return 0
	}
	l.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Ledger purge finished.")
	return removed
}

// reevaluate lets the trailing window expire when no outcomes arrive.
func (m *Manager) reevaluate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.controller.State().Active
	if !m.controller.Evaluate(m.clock.Now()) {
		return
	}
	st := m.controller.State()
	cur := m.state.Load()
	m.state.Store(&poolState{records: cur.records, ordered: cur.ordered, strategy: st})
	l := logger.WithComponent(component)
	l.Info().
		Str("from", prev.String()).
		Str("to", st.Active.String()).
		Float64("trailing_rate", st.TrailingRate).
		Msg("Rotation strategy switched after window expiry.")
}

// Start 启动后台调度循环 (账本清理、质量快照、窗口重估)。
func (m *Manager) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	l := logger.WithComponent(component)
	m.stopChan = make(chan struct{})

	l.Info().
		Dur("purge_interval", m.opts.PurgeInterval).
		Dur("snapshot_interval", m.opts.SnapshotInterval).
		Msg("Schedulers initialized.")

	m.wg.Add(1)
	go m.schedulerLoop()
}

// schedulerLoop 是核心的调度循环，监听 Ticker 和停止信号。
func (m *Manager) schedulerLoop() {
	defer m.wg.Done()
	l := logger.WithComponent(component)

	purgeTicker := time.NewTicker(m.opts.PurgeInterval)
	snapshotTicker := time.NewTicker(m.opts.SnapshotInterval)
	evaluateTicker := time.NewTicker(m.opts.EvaluateInterval)
	defer purgeTicker.Stop()
	defer snapshotTicker.Stop()
	defer evaluateTicker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-purgeTicker.C:
			m.Purge(ctx)
		case <-snapshotTicker.C:
			n := m.Snapshot(ctx)
			l.Debug().Int("count", n).Msg("Quality snapshot written.")
		case <-evaluateTicker.C:
			m.reevaluate()
		case <-m.stopChan:
			l.Info().Msg("Stop signal received. Shutting down schedulers.")
			return
		}
	}
}

// Stop 优雅地停止后台任务，并写入最后一次质量快照。
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stopChan)
	m.wg.Wait()
	m.Snapshot(context.Background())
	logger.Info().Msg("Rotation manager gracefully stopped.")
}
