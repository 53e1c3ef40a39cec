package client

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanaccess/pkg/protocol"
)

// pendIO 未完成的创建与读取计数
type pendIO struct {
	mu        sync.Mutex
	cond      *sync.Cond
	n         int
	destroyed bool
}

func newPendIO() *pendIO {
	p := &pendIO{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pendIO) add() {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

func (p *pendIO) done() {
	p.mu.Lock()
	if p.n > 0 {
		p.n--
	}
	if p.n == 0 {
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

func (p *pendIO) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *pendIO) destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// wait 等待计数归零、上下文销毁、ctx 取消或超时
//
// timeout <= 0 表示不设超时。超时返回 TIMEOUT，已完成的操作不受影响。
func (p *pendIO) wait(ctx context.Context, timeout time.Duration, clk clock.Clock) error {
	expired := false
	wake := func(set *bool) func() {
		return func() {
			p.mu.Lock()
			if set != nil {
				*set = true
			}
			p.cond.Broadcast()
			p.mu.Unlock()
		}
	}
	if timeout > 0 {
		t := clk.AfterFunc(timeout, wake(&expired))
		defer t.Stop()
	}
	stop := context.AfterFunc(ctx, wake(nil))
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		switch {
		case p.n == 0:
			return nil
		case p.destroyed:
			return ErrContextDestroyed
		case ctx.Err() != nil:
			return ctx.Err()
		case expired:
			return protocol.StatusTimeout
		}
		p.cond.Wait()
	}
}
