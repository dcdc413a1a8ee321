package secretstack

import (
	"sort"

	"github.com/perlin-network/secretstack/handshake"
	"github.com/pkg/errors"
)

const manifestMethod = "manifest"

// Plugin contributes methods, and the rules governing who may call them, to a node.
type Plugin struct {
	Name string

	Manifest    Manifest
	Permissions Permissions

	// Init returns the implementation of every method in Manifest. It is called once per node, in registration
	// order, with the composed API of the node. Init may be nil if Manifest is empty.
	Init func(api *API) (Methods, error)
}

// BuilderOption configures a Builder.
type BuilderOption func(b *Builder)

// ConcealMethods has calls to methods that do not exist fail the same way calls to methods the caller may not call
// do, so that unauthorized peers cannot probe for which methods exist.
func ConcealMethods() BuilderOption {
	return func(b *Builder) {
		b.conceal = true
	}
}

// Builder collects plugins into the API nodes expose.
type Builder struct {
	appKey  handshake.AppKey
	conceal bool

	plugins  []Plugin
	manifest Manifest
	owners   map[string]string
	rules    Permissions
}

// NewBuilder lets you compose the plugins of nodes that authenticate each other with appKey. A built-in plugin
// exposing the sync method "manifest" to every peer is always registered first; it reports the methods the caller
// is allowed to call.
func NewBuilder(appKey handshake.AppKey, opts ...BuilderOption) *Builder {
	b := &Builder{
		appKey:   appKey,
		manifest: make(Manifest),
		owners:   make(map[string]string),
		rules:    make(Permissions),
	}

	for _, opt := range opts {
		opt(b)
	}

	if err := b.Use(manifestPlugin()); err != nil {
		panic(err)
	}

	return b
}

// Use registers a plugin. It returns an error should the plugin be malformed, or should it declare a method that
// an earlier plugin already declared.
func (b *Builder) Use(p Plugin) error {
	if p.Name == "" {
		return errors.New("plugin must have a name")
	}

	for _, existing := range b.plugins {
		if existing.Name == p.Name {
			return errors.Errorf("plugin %s is already registered", p.Name)
		}
	}

	if len(p.Manifest) > 0 && p.Init == nil {
		return errors.Errorf("plugin %s declares methods but has no init", p.Name)
	}

	methods := make([]string, 0, len(p.Manifest))
	for method := range p.Manifest {
		methods = append(methods, method)
	}
	sort.Strings(methods)

	for _, method := range methods {
		kind := p.Manifest[method]

		if method == "" {
			return errors.Errorf("plugin %s declares a method with no name", p.Name)
		}

		if !kind.Valid() {
			return errors.Errorf("plugin %s declares method %s with unknown kind %q", p.Name, method, kind)
		}

		if owner, taken := b.owners[method]; taken {
			return errors.Errorf("plugin %s declares method %s, which plugin %s already declared", p.Name, method, owner)
		}
	}

	rules := make(Permissions, len(p.Permissions))

	for class, rule := range p.Permissions {
		normalized, err := normalizeClass(class)
		if err != nil {
			return errors.Wrapf(err, "plugin %s has malformed permissions", p.Name)
		}

		if err := rule.validate(); err != nil {
			return errors.Wrapf(err, "plugin %s has a malformed permission rule for %s", p.Name, class)
		}

		rule = rule.own(methods)

		if existing, ok := rules[normalized]; ok {
			rule = existing.merge(rule)
		}

		rules[normalized] = rule
	}

	for _, method := range methods {
		b.owners[method] = p.Name
		b.manifest[method] = p.Manifest[method]
	}

	for class, rule := range rules {
		if existing, ok := b.rules[class]; ok {
			rule = existing.merge(rule)
		}
		b.rules[class] = rule
	}

	b.plugins = append(b.plugins, p)

	return nil
}

// Build freezes every plugin registered so far into a factory of nodes. Plugins registered afterwards do not affect
// the returned factory.
func (b *Builder) Build() (Factory, error) {
	if b.appKey == (handshake.AppKey{}) {
		return nil, handshake.ErrNoAppKey
	}

	rules := make(Permissions, len(b.rules))

	for class, rule := range b.rules {
		// Every identity may read the manifest of what it can call.
		if !contains(rule.Allow, manifestMethod) {
			rule.Allow = union(rule.Allow, []string{manifestMethod})
		}

		rules[class] = Rule{Allow: cloneList(rule.Allow), Deny: cloneList(rule.Deny)}
	}

	c := &composed{
		appKey:   b.appKey,
		conceal:  b.conceal,
		plugins:  append([]Plugin(nil), b.plugins...),
		manifest: b.manifest.clone(),
		gate:     &gate{rules: rules},
	}

	return c.newNode, nil
}

// Factory starts a node with the plugins of the builder it came from.
type Factory func(opts ...Option) (*Node, error)

// composed is the immutable result of building: the merged manifest and permissions of every plugin.
type composed struct {
	appKey  handshake.AppKey
	conceal bool

	plugins  []Plugin
	manifest Manifest
	gate     *gate
}

func manifestPlugin() Plugin {
	return Plugin{
		Name:     "manifest",
		Manifest: Manifest{manifestMethod: KindSync},
		Permissions: Permissions{
			Anonymous: {Allow: []string{manifestMethod}},
		},
		Init: func(api *API) (Methods, error) {
			return Methods{
				manifestMethod: SyncFunc(func(call *Call) (interface{}, error) {
					return api.node.composed.gate.visible(call.Remote(), api.node.composed.manifest), nil
				}),
			}, nil
		},
	}
}
