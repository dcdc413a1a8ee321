package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/perlin-network/secretstack"
	"github.com/perlin-network/secretstack/log"
)

type serveCommand struct {
	opts *options

	Force bool `long:"force" description:"Close connections immediately on shutdown instead of letting calls in flight finish."`
}

func (c *serveCommand) Execute(args []string) error {
	factory, opts, err := c.opts.factory()
	if err != nil {
		return err
	}

	node, err := factory(opts...)
	if err != nil {
		return err
	}

	node.OnConnect(func(rpc *secretstack.RPC, client bool) {
		log.Info().Str("peer", rpc.RemoteKey().String()).Bool("client", client).Msg("Connected.")
	})

	node.OnDisconnect(func(rpc *secretstack.RPC, err error) {
		log.Info().Err(err).Str("peer", rpc.RemoteKey().String()).Msg("Disconnected.")
	})

	fmt.Println(node.Address())

	// Wait until Ctrl+C or a termination call is done.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	log.Info().Bool("force", c.Force).Msg("Shutting down.")

	return node.Close(c.Force)
}
