package main

import (
	"io"
	"time"

	"github.com/perlin-network/secretstack"
	"github.com/pkg/errors"
)

// demo is the plugin every node run by this command carries.
func demo() secretstack.Plugin {
	return secretstack.Plugin{
		Name: "demo",
		Manifest: secretstack.Manifest{
			"hello":  secretstack.KindSync,
			"whoami": secretstack.KindSync,
			"count":  secretstack.KindSource,
			"echo":   secretstack.KindDuplex,
		},
		Permissions: secretstack.Permissions{
			secretstack.Anonymous: {Allow: nil},
		},
		Init: func(api *secretstack.API) (secretstack.Methods, error) {
			return secretstack.Methods{
				"hello":  secretstack.SyncFunc(hello),
				"whoami": secretstack.SyncFunc(whoami),
				"count":  secretstack.SourceFunc(count),
				"echo":   secretstack.DuplexFunc(echo),
			}, nil
		},
	}
}

func hello(call *secretstack.Call) (interface{}, error) {
	name := "stranger"

	if call.NumArgs() > 0 {
		if err := call.Arg(0, &name); err != nil {
			return nil, err
		}
	}

	return "Hello, " + name + ".", nil
}

func whoami(call *secretstack.Call) (interface{}, error) {
	return map[string]string{
		"id":      call.Remote().String(),
		"address": call.RPC().Address(),
	}, nil
}

// count sends the numbers up to its argument, one every interval given in milliseconds by the second argument.
func count(call *secretstack.Call, sink *secretstack.Sink) error {
	var (
		n        = 10
		interval = 0
	)

	if call.NumArgs() > 0 {
		if err := call.Arg(0, &n); err != nil {
			return err
		}
	}

	if call.NumArgs() > 1 {
		if err := call.Arg(1, &interval); err != nil {
			return err
		}
	}

	for i := 1; i <= n; i++ {
		if err := sink.Send(i); err != nil {
			return err
		}

		if interval > 0 {
			select {
			case <-time.After(time.Duration(interval) * time.Millisecond):
			case <-call.Context().Done():
				return secretstack.ErrCancelled
			}
		}
	}

	return nil
}

func echo(call *secretstack.Call, stream *secretstack.DuplexStream) error {
	for {
		var v interface{}

		if err := stream.Recv(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := stream.Send(v); err != nil {
			return err
		}
	}
}
