package objectmodel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/idregistry"
)

func TestSetAdvancesLastModifiedAndEmits(t *testing.T) {
	o := New("a", "int")
	assert.Equal(t, uint64(0), o.LastModified())

	var gotID string
	o.Modified().Connect(func(args ...interface{}) {
		gotID = args[0].(string)
	}, nil)

	o.Set("value", 7)
	assert.Equal(t, uint64(1), o.LastModified())
	assert.Equal(t, "a", gotID)

	v, ok := o.Get("value")
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestSetAllBumpsCounterOnce(t *testing.T) {
	o := New("b", "point")
	calls := 0
	o.Modified().Connect(func(args ...interface{}) { calls++ }, nil)

	o.SetAll(map[string]interface{}{"x": 1, "y": 2})
	assert.Equal(t, uint64(1), o.LastModified())
	assert.Equal(t, 1, calls)

	x, _ := o.Get("x")
	y, _ := o.Get("y")
	assert.Equal(t, 1, x)
	assert.Equal(t, 2, y)
}

func TestConcurrentReadersDoNotBlockEachOther(t *testing.T) {
	o := New("c", "int")
	o.Set("value", 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := o.Get("value")
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}

func TestRegistryPutAddRefRelease(t *testing.T) {
	ids := idregistry.New()
	reg := NewRegistry(ids)

	o := New("obj-1", "int")
	require.NoError(t, reg.Put(o))
	assert.Equal(t, 1, reg.RefCount("obj-1"))

	require.NoError(t, reg.AddRef("obj-1"))
	assert.Equal(t, 2, reg.RefCount("obj-1"))

	got, ok := reg.Lookup("obj-1")
	require.True(t, ok)
	assert.Same(t, o, got)

	reg.Release("obj-1")
	assert.Equal(t, 1, reg.RefCount("obj-1"))
	_, ok = reg.Lookup("obj-1")
	assert.True(t, ok, "still bound: one reference remains")

	reg.Release("obj-1")
	assert.Equal(t, 0, reg.RefCount("obj-1"))
	_, ok = reg.Lookup("obj-1")
	assert.False(t, ok, "unbound once refcount reaches zero")
}

func TestAddRefOnUnboundFails(t *testing.T) {
	reg := NewRegistry(idregistry.New())
	err := reg.AddRef("nope")
	assert.Error(t, err)
}

func TestPutFailsOnDuplicateID(t *testing.T) {
	ids := idregistry.New()
	reg := NewRegistry(ids)
	require.NoError(t, reg.Put(New("dup", "int")))
	err := reg.Put(New("dup", "int"))
	assert.Error(t, err)
}
