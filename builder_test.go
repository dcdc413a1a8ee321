package secretstack

import (
	"context"
	"testing"

	"github.com/perlin-network/secretstack/handshake"
	"github.com/perlin-network/secretstack/identity"
	"github.com/perlin-network/secretstack/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func plugin(name string, manifest Manifest, methods Methods) Plugin {
	return Plugin{
		Name:     name,
		Manifest: manifest,
		Init: func(api *API) (Methods, error) {
			return methods, nil
		},
	}
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	b := NewBuilder(testAppKey(1))
	require.NoError(t, b.Use(greeter()))

	err := b.Use(greeter())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = b.Use(plugin("impostor", Manifest{"hello": KindSync}, nil))
	require.Error(t, err)
	assert.Equal(t, "plugin impostor declares method hello, which plugin greeter already declared", err.Error())

	err = b.Use(plugin("override", Manifest{"manifest": KindSync}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin manifest already declared")
}

func TestBuilderRejectsMalformedPlugins(t *testing.T) {
	b := NewBuilder(testAppKey(1))

	assert.Error(t, b.Use(Plugin{}))
	assert.Error(t, b.Use(plugin("kinds", Manifest{"weird": Kind("stream")}, nil)))
	assert.Error(t, b.Use(plugin("blank", Manifest{"": KindSync}, nil)))
	assert.Error(t, b.Use(Plugin{Name: "uninit", Manifest: Manifest{"x": KindSync}}))

	assert.Error(t, b.Use(Plugin{
		Name:        "class",
		Permissions: Permissions{"everyone": {}},
	}))

	assert.Error(t, b.Use(Plugin{
		Name:        "empty",
		Permissions: Permissions{Anonymous: {Allow: []string{""}}},
	}))

	// A rejected plugin leaves nothing behind.
	require.NoError(t, b.Use(plugin("kinds", Manifest{"weird": KindSync}, Methods{
		"weird": SyncFunc(func(*Call) (interface{}, error) { return nil, nil }),
	})))
}

func TestBuildRequiresAppKey(t *testing.T) {
	_, err := NewBuilder(handshake.AppKey{}).Build()
	assert.Equal(t, handshake.ErrNoAppKey, err)
}

func TestBuildIsFrozen(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewBuilder(testAppKey(1))
	require.NoError(t, b.Use(greeter()))

	factory, err := b.Build()
	require.NoError(t, err)

	require.NoError(t, b.Use(plugin("late", Manifest{"late": KindSync}, Methods{
		"late": SyncFunc(func(*Call) (interface{}, error) { return nil, nil }),
	})))

	node := spawn(t, factory, transport.NewMemory(), "alice")

	_, ok := node.API().Kind("late")
	assert.False(t, ok)

	assert.Equal(t, Manifest{"manifest": KindSync, "hello": KindSync, "count": KindSource, "echo": KindDuplex}, node.API().Manifest())

	assert.NoError(t, node.Close(true))
}

func TestFactoryRequiresIdentity(t *testing.T) {
	factory := testFactory(t, testAppKey(1))

	_, err := factory(WithTransports(transport.NewMemory()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, identity.ErrNoKeys))
	assert.Contains(t, err.Error(), "should contain shs keys")
	assert.Contains(t, err.Error(), "seed or keys")
}

func TestFactoryWithKeys(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	keys, err := identity.Generate(nil)
	require.NoError(t, err)

	node, err := testFactory(t, testAppKey(1))(WithKeys(keys), WithTransports(transport.NewMemory()))
	require.NoError(t, err)

	assert.Equal(t, keys.Public, node.PublicKey())
	assert.Contains(t, node.Address(), keys.Public.Base64())

	assert.NoError(t, node.Close(true))
}

func TestFactoryValidatesImplementations(t *testing.T) {
	noop := SyncFunc(func(*Call) (interface{}, error) { return nil, nil })

	tests := []struct {
		name   string
		plugin Plugin
		err    string
	}{
		{
			name:   "missing",
			plugin: plugin("p", Manifest{"a": KindSync, "b": KindSync}, Methods{"a": noop}),
			err:    "does not implement it",
		},
		{
			name:   "extra",
			plugin: plugin("p", Manifest{"a": KindSync}, Methods{"a": noop, "b": noop}),
			err:    "missing from its manifest",
		},
		{
			name:   "wrong kind",
			plugin: plugin("p", Manifest{"a": KindSource}, Methods{"a": noop}),
			err:    "declared as source but implemented as sync",
		},
		{
			name:   "not a function",
			plugin: plugin("p", Manifest{"a": KindSync}, Methods{"a": 42}),
			err:    "not a method implementation",
		},
		{
			name: "init failure",
			plugin: Plugin{
				Name:     "p",
				Manifest: Manifest{"a": KindSync},
				Init: func(*API) (Methods, error) {
					return nil, errors.New("database unreachable")
				},
			},
			err: "database unreachable",
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

			_, err := testFactory(t, testAppKey(1), test.plugin)(WithSeed([]byte("alice")), WithTransports(transport.NewMemory()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.err)
		})
	}
}

func TestInvoke(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var api *API

	calc := Plugin{
		Name:     "calc",
		Manifest: Manifest{"double": KindSync},
		Permissions: Permissions{
			Anonymous: {Allow: []string{"double"}},
		},
		Init: func(a *API) (Methods, error) {
			api = a

			return Methods{
				// add belongs to a plugin initialized after this one.
				"double": SyncFunc(func(call *Call) (interface{}, error) {
					var x int
					if err := call.Arg(0, &x); err != nil {
						return nil, err
					}

					var sum int
					if err := a.Invoke(call.Context(), "add", &sum, x, x); err != nil {
						return nil, err
					}

					return sum, nil
				}),
			}, nil
		},
	}

	math := Plugin{
		Name:     "math",
		Manifest: Manifest{"add": KindAsync},
		Init: func(a *API) (Methods, error) {
			return Methods{
				"add": AsyncFunc(func(call *Call, reply *Reply) {
					assert.Equal(t, a.PublicKey(), call.Remote())
					assert.Nil(t, call.RPC())

					var x, y int
					if err := call.Args(&x, &y); err != nil {
						reply.Reject(err)
						return
					}

					go reply.Resolve(x + y)
				}),
			}, nil
		},
	}

	alice, bob, rpc := pair(t, calc, math)

	var res int
	require.NoError(t, rpc.Call(testContext(t), "double", &res, 21))
	assert.Equal(t, 42, res)

	// add is not exposed to peers, only to plugins.
	err := rpc.Call(testContext(t), "add", &res, 1, 2)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	require.NotNil(t, api)
	require.NoError(t, api.Invoke(context.Background(), "add", &res, 1, 2))
	assert.Equal(t, 3, res)

	kind, ok := api.Kind("add")
	assert.True(t, ok)
	assert.Equal(t, KindAsync, kind)

	assert.True(t, errors.Is(api.Invoke(context.Background(), "count", nil, 3), ErrKindMismatch))
	assert.True(t, errors.Is(api.Invoke(context.Background(), "missing", nil), ErrMethodNotFound))

	err = api.Invoke(context.Background(), "add", nil, "one")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed argument 0")

	assert.NoError(t, alice.Close(true))
	assert.NoError(t, bob.Close(true))
}

func TestHandlerKinds(t *testing.T) {
	tests := []struct {
		kind Kind
		impl interface{}
	}{
		{KindSync, SyncFunc(func(*Call) (interface{}, error) { return nil, nil })},
		{KindSync, func(*Call) (interface{}, error) { return nil, nil }},
		{KindAsync, AsyncFunc(func(*Call, *Reply) {})},
		{KindAsync, func(*Call, *Reply) {}},
		{KindSource, SourceFunc(func(*Call, *Sink) error { return nil })},
		{KindSource, func(*Call, *Sink) error { return nil }},
		{KindDuplex, DuplexFunc(func(*Call, *DuplexStream) error { return nil })},
		{KindDuplex, func(*Call, *DuplexStream) error { return nil }},
	}

	for _, test := range tests {
		h, err := newHandler(test.kind, test.impl)
		require.NoError(t, err)
		assert.Equal(t, test.kind, h.kind)
	}

	_, err := newHandler(KindSync, SyncFunc(nil))
	assert.Error(t, err)
}

func TestKindCompatibility(t *testing.T) {
	assert.True(t, KindSync.compatible(KindAsync))
	assert.True(t, KindAsync.compatible(KindSync))
	assert.True(t, KindSource.compatible(KindSource))
	assert.False(t, KindSource.compatible(KindDuplex))
	assert.False(t, KindDuplex.compatible(KindSync))

	for _, kind := range []Kind{KindSync, KindAsync, KindSource, KindDuplex} {
		assert.True(t, kind.Valid())

		back, ok := kindFromWire(kind.wire())
		assert.True(t, ok)
		assert.Equal(t, kind, back)
	}

	assert.False(t, Kind("sink").Valid())
}
