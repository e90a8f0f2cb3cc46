package configengine

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/factory"
	"muster/internal/idregistry"
	"muster/internal/objectmodel"
	"muster/internal/service"
	"muster/internal/worker"
)

type adderBody struct {
	base *service.Base
}

func newAdderBody(base *service.Base) *adderBody {
	a := &adderBody{base: base}
	base.RegisterSlot("update", func(args ...interface{}) { a.recompute() })
	return a
}

func (a *adderBody) OnConfigure(cfg service.ConfigNode) error { return nil }
func (a *adderBody) OnStart() error                           { return nil }
func (a *adderBody) OnUpdate()                                { a.recompute() }
func (a *adderBody) OnStop()                                  {}

func (a *adderBody) recompute() {
	in, err := a.base.Input("a")
	if err != nil || in == nil || !a.base.ShouldRecompute("a", in) {
		return
	}
	v, _ := in.Get("value")
	av, _ := v.(string)
	n, _ := strconv.Atoi(av)
	b, err := a.base.Input("b")
	if err != nil || b == nil {
		return
	}
	b.Set("value", n+1)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ids := idregistry.New()
	types := idregistry.NewTypeRegistry()
	types.Register("int", func() interface{} { return objectmodel.New("", "int") }, "", nil)
	objects := objectmodel.NewRegistry(ids)
	f := factory.New(types)
	e := New(ids, types, objects, f)

	f.Register("Adder", func(id string, w *worker.Worker) (service.Body, *service.Base) {
		base := service.NewBase(id, "Adder", w, e.Objects, types,
			[]service.PortDecl{
				{Key: "a", TypeTag: "int", Access: service.AccessIn},
				{Key: "b", TypeTag: "int", Access: service.AccessInout},
			},
			[]service.AutoConnDecl{{PortKey: "a", SignalName: "modified", SlotName: "update"}},
		)
		return newAdderBody(base), base
	}, factory.TypeConstraints{InputTypes: map[string]string{"a": "int"}})
	return e
}

const adderDoc = `<config id="adder-demo">
  <object uid="a" type="int"><field name="value" value="0"/></object>
  <object uid="b" type="int"><field name="value" value="0"/></object>
  <service uid="adder-1" type="Adder" auto_start="true">
    <in key="a" uid="a"/>
    <inout key="b" uid="b"/>
  </service>
</config>`

func TestLoadInstantiatesAndStartsServices(t *testing.T) {
	e := newTestEngine(t)
	configID, err := e.Load([]byte(adderDoc), nil)
	require.NoError(t, err)
	assert.Equal(t, "adder-demo", configID)

	a, ok := e.Objects.Lookup("a")
	require.True(t, ok)
	b, ok := e.Objects.Lookup("b")
	require.True(t, ok)

	a.Set("value", "7")

	require.Eventually(t, func() bool {
		v, _ := b.Get("value")
		return v == 8
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop("adder-demo"))
	_, ok = e.Objects.Lookup("a")
	assert.False(t, ok, "objects are released on teardown")
}

const paramDoc = `<config id="${configID}">
  <object uid="a" type="int"><field name="value" value="${initial}"/></object>
</config>`

func TestLoadSubstitutesParameters(t *testing.T) {
	e := newTestEngine(t)
	configID, err := e.Load([]byte(paramDoc), map[string]string{"configID": "p1", "initial": "42"})
	require.NoError(t, err)
	assert.Equal(t, "p1", configID)

	a, ok := e.Objects.Lookup("a")
	require.True(t, ok)
	v, _ := a.Get("value")
	assert.Equal(t, "42", v)
	require.NoError(t, e.Stop("p1"))
}

const unknownTypeDoc = `<config id="bad">
  <object uid="x" type="nonexistent"/>
</config>`

func TestLoadRejectsUnknownObjectType(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Load([]byte(unknownTypeDoc), nil)
	assert.ErrorContains(t, err, "configuration_invalid")
}

func TestTypeMismatchRejectsLoad(t *testing.T) {
	e := newTestEngine(t)
	e.Types.Register("string", func() interface{} { return objectmodel.New("", "string") }, "", nil)

	doc := `<config id="mismatch2">
  <object uid="s" type="string"/>
  <service uid="adder-1" type="Adder">
    <in key="a" uid="s"/>
  </service>
</config>`
	_, err := e.Load([]byte(doc), nil)
	assert.ErrorContains(t, err, "type_mismatch")
}

const hookDoc = `<config id="hooked">
  <object uid="a" type="int"><field name="value" value="0"/></object>
  <object uid="b" type="int"><field name="value" value="0"/></object>
  <service uid="adder-1" type="Adder">
    <in key="a" uid="a"/>
    <inout key="b" uid="b"/>
  </service>
  <start uid="adder-1"/>
</config>`

func TestImperativeStartHookStartsService(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Load([]byte(hookDoc), nil)
	require.NoError(t, err)

	a, ok := e.Objects.Lookup("a")
	require.True(t, ok)
	b, ok := e.Objects.Lookup("b")
	require.True(t, ok)

	// The service carries no auto_start; only the <start> hook started it.
	a.Set("value", "3")
	require.Eventually(t, func() bool {
		v, _ := b.Get("value")
		return v == 4
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.StopService("hooked", "adder-1"))
	require.NoError(t, e.StartService("hooked", "adder-1"))
	assert.Error(t, e.StartService("hooked", "no-such-service"))

	require.NoError(t, e.Stop("hooked"))
}

func TestFailedLoadReleasesObjects(t *testing.T) {
	e := newTestEngine(t)
	doc := `<config id="partial">
  <object uid="orphan" type="int"/>
  <service uid="bad" type="NoSuchImpl"/>
</config>`
	_, err := e.Load([]byte(doc), nil)
	require.Error(t, err)

	_, ok := e.Objects.Lookup("orphan")
	assert.False(t, ok, "a failed load must not leak its objects")
}

func TestStopUnknownConfigFails(t *testing.T) {
	e := newTestEngine(t)
	err := e.Stop("nope")
	assert.Error(t, err)
}
