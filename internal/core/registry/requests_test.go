package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequest struct {
	circuit int
}

// TestIDGenerator_SkipsZeroAndInUse 测试回绕与跳过占用
func TestIDGenerator_SkipsZeroAndInUse(t *testing.T) {
	g := IDGenerator{next: 0xFFFFFFFE}
	inUse := map[uint32]bool{1: true}

	id, err := g.Next(func(id uint32) bool { return inUse[id] })
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), id)

	id, err = g.Next(func(id uint32) bool { return inUse[id] })
	require.NoError(t, err)
	assert.Equal(t, uint32(2), id)
}

// TestTable_ReleaseOnCircuitClose 测试电路关闭后请求 ID 全部释放且只失败一次
func TestTable_ReleaseOnCircuitClose(t *testing.T) {
	tbl := NewTable[*fakeRequest]()

	const n = 100
	var closed []uint32
	for i := 0; i < n; i++ {
		id, err := tbl.Reserve(&fakeRequest{circuit: 1})
		require.NoError(t, err)
		closed = append(closed, id)
	}
	pending, err := tbl.Reserve(&fakeRequest{circuit: 2})
	require.NoError(t, err)

	// 电路 1 关闭：每个请求恰好失败一次
	var failures atomic.Int32
	var wg sync.WaitGroup
	for _, id := range closed {
		for k := 0; k < 2; k++ { // 回复与取消同时竞争
			wg.Add(1)
			go func(id uint32) {
				defer wg.Done()
				if _, ok := tbl.Release(id); ok {
					failures.Add(1)
				}
			}(id)
		}
	}
	wg.Wait()
	assert.Equal(t, int32(n), failures.Load())
	assert.Equal(t, 1, tbl.Len())

	// 新分配不与仍在等待的电路 2 请求冲突
	for i := 0; i < 2*n; i++ {
		id, err := tbl.Reserve(&fakeRequest{circuit: 3})
		require.NoError(t, err)
		assert.NotEqual(t, pending, id)
	}
	r, ok := tbl.Get(pending)
	require.True(t, ok)
	assert.Equal(t, 2, r.circuit)

	t.Log("✅ 请求 ID 恰好释放一次且不冲突")
}

// TestTable_ReserveWith 测试锁内构造
func TestTable_ReserveWith(t *testing.T) {
	tbl := NewTable[uint32]()
	id, err := tbl.ReserveWith(func(id uint32) uint32 { return id * 10 })
	require.NoError(t, err)
	v, ok := tbl.Get(id)
	require.True(t, ok)
	assert.Equal(t, id*10, v)
	assert.Len(t, tbl.Snapshot(), 1)
}
