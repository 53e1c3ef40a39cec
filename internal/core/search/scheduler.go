package search

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-chanaccess/internal/core/metrics"
	"github.com/dep2p/go-chanaccess/pkg/lib/log"
	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

var logger = log.Logger("core/search")

// SendFunc 发送一个搜索数据报到所有搜索目标
type SendFunc func(datagram []byte) error

// tier 重试层
type tier struct {
	mu      sync.Mutex
	list    *list.List
	period  time.Duration
	nextDue time.Time
}

// Scheduler 搜索调度器
type Scheduler struct {
	cfg     Config
	clock   clock.Clock
	send    SendFunc
	limiter *rate.Limiter
	metrics *metrics.Collector

	tiers []*tier

	seq      atomic.Uint32
	lastSent atomic.Uint32
	sweepGen atomic.Uint64

	tickMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	done      chan struct{}
	started   atomic.Bool
}

// New 创建调度器
func New(cfg Config, clk clock.Clock, send SendFunc, m *metrics.Collector) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		clock:   clk,
		send:    send,
		metrics: m,
		tiers:   make([]*tier, cfg.TierCount),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if cfg.DatagramRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.DatagramRate), cfg.DatagramBurst)
	}
	now := clk.Now()
	for i := range s.tiers {
		s.tiers[i] = &tier{
			list:    list.New(),
			period:  cfg.TierPeriod(i),
			nextDue: now,
		}
	}
	return s, nil
}

// Start 启动节拍协程
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.loop()
	})
}

// Close 停止节拍协程
func (s *Scheduler) Close() error {
	s.cancel()
	s.startOnce.Do(func() {})
	if s.started.Load() {
		<-s.done
	}
	return nil
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ticker := s.clock.Ticker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// ============================================================================
//                              注册
// ============================================================================

// Register 把通道加入最快层；已在调度中时不做任何事
func (s *Scheduler) Register(ch Searcher) {
	e := ch.SearchEntry()
	t := s.tiers[0]
	t.mu.Lock()
	defer t.mu.Unlock()
	if !e.tier.CompareAndSwap(noTier, 0) {
		return
	}
	e.tierAttempts = 0
	e.attempts = 0
	e.sweepGen = s.sweepGen.Load()
	e.elem = t.list.PushBack(ch)
}

// Unregister 把通道移出调度，O(1)
func (s *Scheduler) Unregister(ch Searcher) {
	e := ch.SearchEntry()
	for {
		i := e.tier.Load()
		if i == noTier {
			return
		}
		t := s.tiers[i]
		t.mu.Lock()
		if e.tier.Load() != i {
			t.mu.Unlock()
			continue
		}
		if e.elem != nil {
			t.list.Remove(e.elem)
			e.elem = nil
		}
		e.tier.Store(noTier)
		t.mu.Unlock()
		return
	}
}

// Attempts 通道累计搜索次数
func (s *Scheduler) Attempts(ch Searcher) int {
	e := ch.SearchEntry()
	i := e.tier.Load()
	if i == noTier {
		return 0
	}
	t := s.tiers[i]
	t.mu.Lock()
	defer t.mu.Unlock()
	return e.attempts
}

// ============================================================================
//                              节拍
// ============================================================================

// Tick 处理所有到期的层
//
// 先从所有到期层取出批次，再统一发送与回队，条目在一个节拍内至多发送一次。
func (s *Scheduler) Tick(now time.Time) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	type batch struct {
		tier  int
		items []Searcher
	}
	var due []batch
	for i, t := range s.tiers {
		t.mu.Lock()
		n := t.list.Len()
		if n == 0 {
			t.nextDue = now
			t.mu.Unlock()
			continue
		}
		if now.Before(t.nextDue) {
			t.mu.Unlock()
			continue
		}
		t.nextDue = now.Add(t.period)
		items := make([]Searcher, 0, min(n, s.cfg.BatchSize))
		for len(items) < s.cfg.BatchSize {
			front := t.list.Front()
			if front == nil {
				break
			}
			ch := front.Value.(Searcher)
			t.list.Remove(front)
			ch.SearchEntry().elem = nil
			items = append(items, ch)
		}
		t.mu.Unlock()
		due = append(due, batch{tier: i, items: items})
	}

	for _, b := range due {
		s.sendBatch(b.items)
	}
	for _, b := range due {
		for _, ch := range b.items {
			s.requeue(ch, b.tier, now)
		}
	}
	s.metrics.SetSearchPending(s.Len())
}

// requeue 按预算把发送过的条目放回同层、下一层或最慢层
func (s *Scheduler) requeue(ch Searcher, from int, now time.Time) {
	e := ch.SearchEntry()
	last := len(s.tiers) - 1

	src := s.tiers[from]
	src.mu.Lock()
	if e.tier.Load() != int32(from) || e.elem != nil {
		src.mu.Unlock()
		return
	}
	e.attempts++
	e.tierAttempts++
	dest := from
	switch {
	case e.sweepGen != s.sweepGen.Load():
		dest = 0
		e.tierAttempts = 0
		e.attempts = 0
		e.sweepGen = s.sweepGen.Load()
	case e.attempts >= s.cfg.MaxAttempts:
		dest = last
	case e.tierAttempts >= s.cfg.AttemptsPerTier && from < last:
		dest = from + 1
		e.tierAttempts = 0
	}
	if dest == from {
		e.elem = src.list.PushBack(ch)
		src.mu.Unlock()
		return
	}
	src.mu.Unlock()

	unlock := s.lockPair(from, dest)
	defer unlock()
	if e.tier.Load() != int32(from) || e.elem != nil {
		return
	}
	d := s.tiers[dest]
	if d.list.Len() == 0 && dest != 0 {
		d.nextDue = now.Add(d.period)
	}
	e.elem = d.list.PushBack(ch)
	e.tier.Store(int32(dest))
}

// lockPair 按层号顺序锁定两层
func (s *Scheduler) lockPair(a, b int) func() {
	if a > b {
		a, b = b, a
	}
	s.tiers[a].mu.Lock()
	if a != b {
		s.tiers[b].mu.Lock()
	}
	return func() {
		if a != b {
			s.tiers[b].mu.Unlock()
		}
		s.tiers[a].mu.Unlock()
	}
}

// ============================================================================
//                              打包发送
// ============================================================================

// sendBatch 把名称打包进数据报发送，每个数据报以携带新序列号的 Version 帧开头
func (s *Scheduler) sendBatch(batch []Searcher) {
	if len(batch) == 0 || s.send == nil {
		return
	}
	var (
		dg    []byte
		seq   uint32
		count int
	)
	flush := func() {
		if count > 0 {
			s.sendDatagram(dg, seq)
		}
		dg, count = nil, 0
	}
	for _, ch := range batch {
		name := ch.SearchName()
		n := protocol.SearchLen(name)
		if protocol.HeaderSize+n > s.cfg.MaxDatagram {
			logger.Warn("通道名过长，无法搜索", "name", name, "err", ErrNameTooLong)
			continue
		}
		if count > 0 && len(dg)+n > s.cfg.MaxDatagram {
			flush()
		}
		if count == 0 {
			seq = s.seq.Add(1)
			dg = protocol.AppendVersionSequence(nil, s.cfg.Minor, seq)
		}
		dg = protocol.AppendSearch(dg, name, ch.SearchCID(), protocol.SearchDontReply, s.cfg.Minor)
		count++
	}
	flush()
}

func (s *Scheduler) sendDatagram(dg []byte, seq uint32) {
	if s.limiter != nil {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
	}
	// 序列号在发送前记录，响应可能先于 send 返回到达
	s.lastSent.Store(seq)
	if err := s.send(dg); err != nil {
		logger.Debug("发送搜索数据报失败", "err", err)
	}
	s.metrics.SearchDatagramSent()
}

// ============================================================================
//                              响应与清扫
// ============================================================================

// Accept 校验搜索响应的序列号
//
// seqValid 为 false 表示响应没有携带序列号，总是接受。序列号不大于该通道上次
// 接受的序列号，或大于最近一次发送的序列号时，响应被视为过期并丢弃。
func (s *Scheduler) Accept(ch Searcher, seq uint32, seqValid bool) bool {
	if !seqValid {
		return true
	}
	if seq > s.lastSent.Load() {
		return false
	}
	e := ch.SearchEntry()
	for {
		prev := e.lastAccepted.Load()
		if seq <= prev {
			return false
		}
		if e.lastAccepted.CompareAndSwap(prev, seq) {
			return true
		}
	}
}

// LastSent 最近一次发送的序列号
func (s *Scheduler) LastSent() uint32 { return s.lastSent.Load() }

// Sweep 把所有条目移回最快层并重置预算
func (s *Scheduler) Sweep() {
	s.sweepGen.Add(1)
	gen := s.sweepGen.Load()
	moved := 0
	for i := range s.tiers {
		unlock := s.lockPair(0, i)
		t := s.tiers[i]
		for el := t.list.Front(); el != nil; {
			next := el.Next()
			ch := el.Value.(Searcher)
			e := ch.SearchEntry()
			e.tierAttempts = 0
			e.attempts = 0
			e.sweepGen = gen
			if i != 0 {
				t.list.Remove(el)
				e.elem = s.tiers[0].list.PushBack(ch)
				e.tier.Store(0)
				moved++
			}
			el = next
		}
		if i == 0 {
			t.nextDue = s.clock.Now()
		}
		unlock()
	}
	logger.Debug("搜索清扫", "moved", moved)
}

// ============================================================================
//                              查询
// ============================================================================

// Len 所有层中的条目数（不含正在发送的条目）
func (s *Scheduler) Len() int {
	n := 0
	for _, t := range s.tiers {
		t.mu.Lock()
		n += t.list.Len()
		t.mu.Unlock()
	}
	return n
}

// TierLen 第 i 层的条目数
func (s *Scheduler) TierLen(i int) int {
	t := s.tiers[i]
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list.Len()
}

// TierCount 层数
func (s *Scheduler) TierCount() int { return len(s.tiers) }

// Scan 遍历所有层的所有条目
func (s *Scheduler) Scan(fn func(tier int, ch Searcher)) {
	for i, t := range s.tiers {
		t.mu.Lock()
		var items []Searcher
		for el := t.list.Front(); el != nil; el = el.Next() {
			items = append(items, el.Value.(Searcher))
		}
		t.mu.Unlock()
		for _, ch := range items {
			fn(i, ch)
		}
	}
}
