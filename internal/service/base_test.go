package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/idregistry"
	"muster/internal/objectmodel"
	"muster/internal/worker"
)

// adderBody reads input "a" and writes b = a + 1 on its inout port,
// guarding against self-reentry with a blocker on its own
// modified->update auto-connection.
type adderBody struct {
	base    *Base
	updates int
	mu      sync.Mutex
}

func newAdder(base *Base) *adderBody {
	a := &adderBody{base: base}
	base.RegisterSlot("update", func(args ...interface{}) {
		a.mu.Lock()
		a.updates++
		a.mu.Unlock()
		a.recompute()
	})
	return a
}

func (a *adderBody) OnConfigure(cfg ConfigNode) error { return nil }
func (a *adderBody) OnStart() error                   { return nil }
func (a *adderBody) OnUpdate()                        { a.recompute() }
func (a *adderBody) OnStop()                          {}

func (a *adderBody) recompute() {
	in, err := a.base.Input("a")
	if err != nil || in == nil {
		return
	}
	if !a.base.ShouldRecompute("a", in) {
		return
	}
	v, _ := in.Get("value")
	av, _ := v.(int)

	b, err := a.base.Input("b")
	if err != nil || b == nil {
		return
	}
	if blk := a.base.BlockAutoConnection("b"); blk != nil {
		defer blk.Close()
	}
	b.Set("value", av+1)
}

func newTypeRegistryWithIntType() *idregistry.TypeRegistry {
	tr := idregistry.NewTypeRegistry()
	tr.Register("int", func() interface{} { return objectmodel.New("", "int") }, "", nil)
	return tr
}

func TestMinimalWiring(t *testing.T) {
	w := worker.New("adder-worker")
	defer w.Stop()

	ids := idregistry.New()
	objects := objectmodel.NewRegistry(ids)
	types := newTypeRegistryWithIntType()

	a := objectmodel.New("a", "int")
	a.Set("value", 0)
	b := objectmodel.New("b", "int")
	b.Set("value", 0)
	require.NoError(t, objects.Put(a))
	require.NoError(t, objects.Put(b))

	ports := []PortDecl{
		{Key: "a", TypeTag: "int", Access: AccessIn},
		{Key: "b", TypeTag: "int", Access: AccessInout},
	}
	autoConns := []AutoConnDecl{
		{PortKey: "a", SignalName: "modified", SlotName: "update"},
	}
	base := NewBase("adder-1", "Adder", w, objects, types, ports, autoConns)
	body := newAdder(base)

	require.NoError(t, base.Bind("a", "a"))
	require.NoError(t, base.Bind("b", "b"))

	require.NoError(t, base.Configure(body, nil))
	require.NoError(t, base.Start(body).Wait())
	assert.Equal(t, StateStarted, base.State())

	a.Set("value", 7)

	require.Eventually(t, func() bool {
		v, _ := b.Get("value")
		return v == 8
	}, time.Second, 5*time.Millisecond)

	body.mu.Lock()
	assert.Equal(t, 1, body.updates)
	body.mu.Unlock()

	require.NoError(t, base.Stop(body).Wait())
	assert.Equal(t, StateStopped, base.State())
}

// TestBlockerPreventsSelfReentry adds a second auto-connection
// b.modified -> update on top of the S1 setup. Writing b from inside the
// update would re-enter the slot through that connection; the blocker
// opened around the write suppresses it, so a single external emission
// still produces exactly one update.
func TestBlockerPreventsSelfReentry(t *testing.T) {
	w := worker.New("s2-worker")
	defer w.Stop()

	ids := idregistry.New()
	objects := objectmodel.NewRegistry(ids)
	types := newTypeRegistryWithIntType()

	a := objectmodel.New("a", "int")
	a.Set("value", 0)
	b := objectmodel.New("b", "int")
	b.Set("value", 0)
	require.NoError(t, objects.Put(a))
	require.NoError(t, objects.Put(b))

	ports := []PortDecl{
		{Key: "a", TypeTag: "int", Access: AccessIn},
		{Key: "b", TypeTag: "int", Access: AccessInout},
	}
	autoConns := []AutoConnDecl{
		{PortKey: "a", SignalName: "modified", SlotName: "update"},
		{PortKey: "b", SignalName: "modified", SlotName: "update"},
	}
	base := NewBase("adder-2", "Adder", w, objects, types, ports, autoConns)
	body := newAdder(base)

	require.NoError(t, base.Bind("a", "a"))
	require.NoError(t, base.Bind("b", "b"))
	require.NoError(t, base.Start(body).Wait())

	a.Set("value", 7)

	require.Eventually(t, func() bool {
		v, _ := b.Get("value")
		return v == 8
	}, time.Second, 5*time.Millisecond)

	body.mu.Lock()
	assert.Equal(t, 1, body.updates, "the write to b must not re-enter the update slot")
	body.mu.Unlock()

	require.NoError(t, base.Stop(body).Wait())
}

func TestTypeMismatchRejectsBind(t *testing.T) {
	w := worker.New("mismatch-worker")
	defer w.Stop()

	ids := idregistry.New()
	objects := objectmodel.NewRegistry(ids)
	types := newTypeRegistryWithIntType()
	types.Register("string", func() interface{} { return objectmodel.New("", "string") }, "", nil)

	s := objectmodel.New("s", "string")
	require.NoError(t, objects.Put(s))

	ports := []PortDecl{{Key: "a", TypeTag: "int", Access: AccessIn}}
	base := NewBase("svc", "Adder", w, objects, types, ports, nil)

	err := base.Bind("a", "s")
	assert.Error(t, err)
	assert.ErrorContains(t, err, "type_mismatch")
}

func TestMandatoryPortMustBeBoundBeforeStart(t *testing.T) {
	w := worker.New("mandatory-worker")
	defer w.Stop()

	ids := idregistry.New()
	objects := objectmodel.NewRegistry(ids)
	types := newTypeRegistryWithIntType()

	ports := []PortDecl{{Key: "a", TypeTag: "int", Access: AccessIn}}
	base := NewBase("svc2", "Adder", w, objects, types, ports, nil)
	body := newAdder(base)

	err := base.Start(body).Wait()
	assert.ErrorContains(t, err, "configuration_invalid")
	assert.Equal(t, StateStopped, base.State(), "start must not succeed with a mandatory port unbound")
}

func TestGroupPortHoldsIndexedBindings(t *testing.T) {
	w := worker.New("group-worker")
	defer w.Stop()

	ids := idregistry.New()
	objects := objectmodel.NewRegistry(ids)
	types := newTypeRegistryWithIntType()

	for _, id := range []string{"g1", "g2", "g3"} {
		require.NoError(t, objects.Put(objectmodel.New(id, "int")))
	}

	ports := []PortDecl{{Key: "series", TypeTag: "int", Access: AccessIn, Group: true}}
	base := NewBase("grouped", "Collector", w, objects, types, ports, nil)

	require.NoError(t, base.Bind("series", "g1"))
	require.NoError(t, base.Bind("series", "g2"))
	require.NoError(t, base.Bind("series", "g3"))

	bound, err := base.Inputs("series")
	require.NoError(t, err)
	require.Len(t, bound, 3)
	assert.Equal(t, "g1", bound[0].ID())
	assert.Equal(t, "g3", bound[2].ID())
}

func TestLifecycleMonotonicity(t *testing.T) {
	w := worker.New("lifecycle-worker")
	defer w.Stop()

	ids := idregistry.New()
	objects := objectmodel.NewRegistry(ids)
	types := newTypeRegistryWithIntType()

	base := NewBase("svc3", "Adder", w, objects, types, nil, nil)
	body := newAdder(base)

	require.NoError(t, base.Start(body).Wait())
	assert.Equal(t, StateStarted, base.State())

	// A second start while already STARTED is a lifecycle violation and
	// must not re-run OnStart or change state.
	err := base.Start(body).Wait()
	assert.ErrorContains(t, err, "lifecycle_violation")
	assert.Equal(t, StateStarted, base.State())

	require.NoError(t, base.Stop(body).Wait())
	assert.Equal(t, StateStopped, base.State())

	err = base.Stop(body).Wait()
	assert.ErrorContains(t, err, "lifecycle_violation")
	assert.Equal(t, StateStopped, base.State())
}

func TestUpdateRejectedWhenNotStarted(t *testing.T) {
	w := worker.New("update-worker")
	defer w.Stop()

	ids := idregistry.New()
	objects := objectmodel.NewRegistry(ids)
	types := newTypeRegistryWithIntType()

	base := NewBase("svc4", "Adder", w, objects, types, nil, nil)
	body := newAdder(base)

	err := base.Update(body).Wait()
	assert.ErrorContains(t, err, "lifecycle_violation")
	body.mu.Lock()
	assert.Equal(t, 0, body.updates)
	body.mu.Unlock()
}

func TestFailedSignalEmittedOnPanic(t *testing.T) {
	w := worker.New("panic-worker")
	defer w.Stop()

	ids := idregistry.New()
	objects := objectmodel.NewRegistry(ids)
	types := newTypeRegistryWithIntType()

	base := NewBase("svc5", "Panicky", w, objects, types, nil, nil)
	var gotErr error
	base.Failed().Connect(func(args ...interface{}) {
		gotErr, _ = args[0].(error)
	}, nil)

	body := &panickyBody{}
	require.NoError(t, base.Start(body).Wait())
	require.NoError(t, base.Update(body).Wait())

	require.Eventually(t, func() bool { return gotErr != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateStarted, base.State())
}

type panickyBody struct{}

func (p *panickyBody) OnConfigure(cfg ConfigNode) error { return nil }
func (p *panickyBody) OnStart() error                   { return nil }
func (p *panickyBody) OnUpdate()                        { panic("boom") }
func (p *panickyBody) OnStop()                          {}
