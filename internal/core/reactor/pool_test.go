package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPool_Execute 测试任务执行
func TestPool_Execute(t *testing.T) {
	p, err := NewPool(4, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Execute(func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(100), count.Load())

	require.NoError(t, p.Close())
	assert.Equal(t, uint64(100), p.Executed())

	t.Log("✅ 工作池执行任务正确")
}

// TestPool_Closed 测试关闭后提交
func TestPool_Closed(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Execute(func() {}), ErrPoolClosed)
}

// TestPool_QueueFullDoesNotBlock 测试队列满时提交不阻塞
func TestPool_QueueFullDoesNotBlock(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Execute(func() {
		close(started)
		<-release
	}))
	<-started
	// 唯一的工作协程被占用，队列再放入一个任务后即满
	require.NoError(t, p.Execute(func() {}))

	var ran atomic.Int32
	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 4; i++ {
			_ = p.Execute(func() { ran.Add(1) })
		}
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("队列满时 Execute 阻塞了调用方")
	}
	assert.Equal(t, uint64(4), p.Overflowed())
	require.Eventually(t, func() bool { return ran.Load() == 4 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, p.Close())
	assert.Equal(t, uint64(6), p.Executed())
	t.Log("✅ 队列满时任务由临时协程执行")
}

// TestPool_PanicRecovered 测试任务 panic 不影响工作协程
func TestPool_PanicRecovered(t *testing.T) {
	p, err := NewPool(1, 4)
	require.NoError(t, err)
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Execute(func() { panic("boom") }))
	require.NoError(t, p.Execute(func() { close(done) }))
	<-done
}

// TestNewPool_InvalidWorkers 测试无效参数
func TestNewPool_InvalidWorkers(t *testing.T) {
	_, err := NewPool(0, 0)
	assert.ErrorIs(t, err, ErrInvalidWorkers)
}

// TestInline 测试同步执行器
func TestInline(t *testing.T) {
	ran := false
	var e Executor = Inline{}
	require.NoError(t, e.Execute(func() { ran = true }))
	assert.True(t, ran)

	assert.NotPanics(t, func() { _ = e.Execute(func() { panic("x") }) })
}
