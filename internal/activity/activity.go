// Package activity implements activity orchestration: a named, reusable
// sub-configuration with declared required inputs and validators.
// Launching an activity resolves its required objects in the current
// context, validates them, and instantiates the sub-configuration with
// parameters bound to those objects.
package activity

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"muster/internal/configengine"
	"muster/internal/objectmodel"
	"muster/internal/runtimeerrors"
)

// RequiredInput declares one of an activity's required object tuples:
// a key name, a type constraint, an occurrence range, and whether a
// default-initialized object may be constructed when no candidate is
// found.
type RequiredInput struct {
	Key             string `yaml:"key"`
	TypeTag         string `yaml:"type"`
	MinOccurs       int    `yaml:"minOccurs"`
	MaxOccurs       int    `yaml:"maxOccurs"`
	CreateIfMissing bool   `yaml:"createIfMissing"`
}

// Descriptor is an activity's declarative definition, typically loaded
// from a per-module YAML resource file.
type Descriptor struct {
	ID             string            `yaml:"id"`
	Required       []RequiredInput   `yaml:"required"`
	Validators     []string          `yaml:"validators"`
	SubConfigID    string            `yaml:"subConfig"`
	ParamTranslate map[string]string `yaml:"paramTranslate"`
}

// ParseDescriptor decodes a single activity descriptor from YAML.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: parsing activity descriptor: %v", runtimeerrors.ErrConfigurationInvalid, err)
	}
	return &d, nil
}

// Binding is the complete gathered state passed to a validator: the
// descriptor being launched and the objects resolved for each required
// key.
type Binding struct {
	Descriptor *Descriptor
	Objects    map[string]*objectmodel.Object
}

// Validator checks either a single composite of candidate objects (an
// "object validator") or the complete activity binding (an "activity
// validator"); both shapes share this signature and both return an
// ok/fail verdict with a message. Object validators simply ignore
// b.Descriptor.
type Validator func(b Binding) (ok bool, message string)

// Registry maps a validator tag to its implementation.
type Registry struct {
	validators map[string]Validator
}

// NewRegistry creates an empty validator registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// Register records tag's validator, overwriting any prior registration.
func (r *Registry) Register(tag string, v Validator) {
	r.validators[tag] = v
}

// Resolver looks up candidate objects of a given type tag in the
// surrounding context (the currently loaded configuration's universe).
// Implemented by the caller launching the activity, so this package
// does not need to reach into configengine's private object-ID tracking.
type Resolver interface {
	Find(typeTag string) []*objectmodel.Object
}

// Orchestrator launches activities against a configuration engine.
type Orchestrator struct {
	validators *Registry
	objects    *objectmodel.Registry
	engine     *configengine.Engine
}

// New creates an Orchestrator backed by the given validator registry,
// object registry, and configuration engine.
func New(validators *Registry, objects *objectmodel.Registry, engine *configengine.Engine) *Orchestrator {
	return &Orchestrator{validators: validators, objects: objects, engine: engine}
}

// Launch resolves d's required inputs via resolver, validates the
// gathered binding, and — on success — launches d's sub-configuration
// with a parameter map built from the resolved inputs plus d's declared
// translations.
func (o *Orchestrator) Launch(d *Descriptor, resolver Resolver, subConfigDoc []byte) (configID string, err error) {
	binding := Binding{Descriptor: d, Objects: make(map[string]*objectmodel.Object)}

	for _, req := range d.Required {
		candidates := resolver.Find(req.TypeTag)
		if len(candidates) < req.MinOccurs && req.CreateIfMissing {
			created := objectmodel.New(fmt.Sprintf("%s-%s-default", d.ID, req.Key), req.TypeTag)
			if err := o.objects.Put(created); err != nil {
				return "", fmt.Errorf("%w: creating default input %q: %v", runtimeerrors.ErrCancelled, req.Key, err)
			}
			candidates = append(candidates, created)
		}
		if len(candidates) < req.MinOccurs || (req.MaxOccurs > 0 && len(candidates) > req.MaxOccurs) {
			return "", fmt.Errorf("%w: required input %q: found %d candidates, need [%d,%d]",
				runtimeerrors.ErrCancelled, req.Key, len(candidates), req.MinOccurs, req.MaxOccurs)
		}
		if len(candidates) > 0 {
			binding.Objects[req.Key] = candidates[0]
		}
	}

	for _, tag := range d.Validators {
		v, ok := o.validators.validators[tag]
		if !ok {
			return "", fmt.Errorf("%w: validator %q is not registered", runtimeerrors.ErrConfigurationInvalid, tag)
		}
		if ok, msg := v(binding); !ok {
			return "", fmt.Errorf("%w: validator %q failed: %s", runtimeerrors.ErrCancelled, tag, msg)
		}
	}

	params := make(map[string]string, len(binding.Objects)+len(d.ParamTranslate))
	for key, obj := range binding.Objects {
		params[key] = obj.ID()
	}
	for key, value := range d.ParamTranslate {
		params[key] = value
	}

	return o.engine.Load(subConfigDoc, params)
}

// CompositeValidator builds an object validator that checks a single
// named attribute is equal across every object in b.Objects, returning
// a failure message enumerating the mismatched attribute per object.
func CompositeValidator(attr string) Validator {
	return func(b Binding) (bool, string) {
		var first interface{}
		var haveFirst bool
		var mismatches []string
		for key, obj := range b.Objects {
			v, _ := obj.Get(attr)
			if !haveFirst {
				first = v
				haveFirst = true
				continue
			}
			if v != first {
				mismatches = append(mismatches, fmt.Sprintf("%s=%v", key, v))
			}
		}
		if len(mismatches) > 0 {
			return false, fmt.Sprintf("attribute %q mismatched: %s", attr, strings.Join(mismatches, ", "))
		}
		return true, ""
	}
}
