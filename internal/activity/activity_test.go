package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muster/internal/configengine"
	"muster/internal/factory"
	"muster/internal/idregistry"
	"muster/internal/objectmodel"
)

type fixedResolver struct {
	byType map[string][]*objectmodel.Object
}

func (r fixedResolver) Find(typeTag string) []*objectmodel.Object {
	return r.byType[typeTag]
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *Registry) {
	t.Helper()
	ids := idregistry.New()
	types := idregistry.NewTypeRegistry()
	types.Register("image", func() interface{} { return objectmodel.New("", "image") }, "", nil)
	objects := objectmodel.NewRegistry(ids)
	f := factory.New(types)
	engine := configengine.New(ids, types, objects, f)
	validators := NewRegistry()
	return New(validators, objects, engine), validators
}

func TestActivityValidationRejectsMismatch(t *testing.T) {
	o, validators := newTestOrchestrator(t)
	validators.Register("equal-size", CompositeValidator("size"))

	img1 := objectmodel.New("img1", "image")
	img1.Set("size", 512)
	img2 := objectmodel.New("img2", "image")
	img2.Set("size", 256)

	d := &Descriptor{
		ID:          "compare",
		SubConfigID: "compare-sub",
		Required: []RequiredInput{
			{Key: "fixed", TypeTag: "image", MinOccurs: 1, MaxOccurs: 1},
			{Key: "moving", TypeTag: "image", MinOccurs: 1, MaxOccurs: 1},
		},
		Validators: []string{"equal-size"},
	}
	resolver := fixedResolver{byType: map[string][]*objectmodel.Object{
		"image": {img1, img2},
	}}

	_, err := o.Launch(d, resolver, []byte(`<config id="compare-sub"></config>`))
	assert.ErrorContains(t, err, "cancelled")
}

func TestLaunchSucceedsAndBuildsParams(t *testing.T) {
	o, validators := newTestOrchestrator(t)
	validators.Register("always-ok", func(b Binding) (bool, string) { return true, "" })

	img := objectmodel.New("img1", "image")
	d := &Descriptor{
		ID:          "single",
		SubConfigID: "single-sub",
		Required:    []RequiredInput{{Key: "in", TypeTag: "image", MinOccurs: 1, MaxOccurs: 1}},
		Validators:  []string{"always-ok"},
	}
	resolver := fixedResolver{byType: map[string][]*objectmodel.Object{"image": {img}}}

	configID, err := o.Launch(d, resolver, []byte(`<config id="${in}-launched"></config>`))
	require.NoError(t, err)
	assert.Equal(t, "img1-launched", configID)
}

func TestMissingRequiredInputCancelsLaunch(t *testing.T) {
	o, validators := newTestOrchestrator(t)
	validators.Register("always-ok", func(b Binding) (bool, string) { return true, "" })

	d := &Descriptor{
		ID:         "needs-input",
		Required:   []RequiredInput{{Key: "in", TypeTag: "image", MinOccurs: 1, MaxOccurs: 1}},
		Validators: []string{"always-ok"},
	}
	resolver := fixedResolver{}

	_, err := o.Launch(d, resolver, nil)
	assert.ErrorContains(t, err, "cancelled")
}

func TestUnregisteredValidatorFails(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	d := &Descriptor{ID: "x", Validators: []string{"nope"}}
	_, err := o.Launch(d, fixedResolver{}, nil)
	assert.Error(t, err)
}

func TestParseDescriptorFromYAML(t *testing.T) {
	data := []byte(`
id: reg
subConfig: reg-sub
required:
  - key: fixed
    type: image
    minOccurs: 1
    maxOccurs: 1
validators:
  - equal-size
`)
	d, err := ParseDescriptor(data)
	require.NoError(t, err)
	assert.Equal(t, "reg", d.ID)
	assert.Equal(t, "reg-sub", d.SubConfigID)
	require.Len(t, d.Required, 1)
	assert.Equal(t, "fixed", d.Required[0].Key)
}
