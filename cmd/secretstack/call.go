package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
)

type callCommand struct {
	opts *options

	Source  bool          `long:"source" description:"Call the method as a source, printing every value it produces."`
	Timeout time.Duration `long:"timeout" description:"Give up on the call after this long." default:"30s"`

	Args struct {
		Address string   `positional-arg-name:"address" description:"Address of the node to call."`
		Method  string   `positional-arg-name:"method" description:"Method to call."`
		Params  []string `positional-arg-name:"args" description:"Arguments, each a JSON value."`
	} `positional-args:"yes" required:"2"`
}

func (c *callCommand) Execute(args []string) error {
	params := make([]interface{}, 0, len(c.Args.Params))

	for i, raw := range c.Args.Params {
		var v json.RawMessage
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return errors.Wrapf(err, "argument %d is not valid JSON", i)
		}
		params = append(params, v)
	}

	factory, opts, err := c.opts.factory()
	if err != nil {
		return err
	}

	node, err := factory(opts...)
	if err != nil {
		return err
	}
	defer node.Close(true)

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	// Give up as soon as Ctrl+C is hit.
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		defer signal.Stop(interrupt)

		select {
		case <-interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()

	rpc, err := node.Connect(ctx, c.Args.Address)
	if err != nil {
		return err
	}

	if !c.Source {
		var res json.RawMessage
		if err := rpc.Call(ctx, c.Args.Method, &res, params...); err != nil {
			return err
		}

		fmt.Println(string(res))
		return nil
	}

	src, err := rpc.Source(ctx, c.Args.Method, params...)
	if err != nil {
		return err
	}
	defer src.Close()

	for {
		var v json.RawMessage

		if err := src.Next(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		fmt.Println(string(v))
	}
}
