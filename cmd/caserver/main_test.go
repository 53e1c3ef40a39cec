package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanaccess/pkg/dbr"
	"github.com/dep2p/go-chanaccess/pkg/interfaces"
	"github.com/dep2p/go-chanaccess/pkg/types"
)

// TestParsePV 测试 -pv 定义解析
func TestParsePV(t *testing.T) {
	pv, err := parsePV("demo:ai=1.5", types.AccessReadWrite)
	require.NoError(t, err)
	assert.Equal(t, "demo:ai", pv.Name())
	assert.Equal(t, uint16(dbr.Double), pv.NativeType())

	pv, err = parsePV("demo:wf=LONG:1,2,3", types.AccessRead)
	require.NoError(t, err)
	assert.Equal(t, uint16(dbr.Long), pv.NativeType())
	assert.Equal(t, uint32(3), pv.NativeCount())
	assert.Equal(t, types.AccessRead, pv.AccessRights(interfaces.ClientInfo{}))

	pv, err = parsePV("demo:msg=STRING:hello world", types.AccessReadWrite)
	require.NoError(t, err)
	strs, err := dbr.Strings(pv.Value())
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, strs)

	_, err = parsePV("novalue", types.AccessRead)
	assert.Error(t, err)
	_, err = parsePV("x=BOGUS:1", types.AccessRead)
	assert.Error(t, err)
	_, err = parsePV("x=abc", types.AccessRead)
	assert.Error(t, err)
	t.Log("✅ 过程变量定义解析正确")
}
