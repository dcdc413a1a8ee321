// Command secretstack runs a node carrying a demo plugin, or connects to one and calls its methods.
package main

import (
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/perlin-network/secretstack"
	"github.com/perlin-network/secretstack/handshake"
	"github.com/perlin-network/secretstack/log"
	"github.com/perlin-network/secretstack/transport"
	"github.com/pkg/errors"
)

// options are shared by every command.
type options struct {
	AppKey     string   `long:"app-key" env:"SECRETSTACK_APP_KEY" description:"Base64 app key shared by every node of the network." default:"1KHLiKZvAvjbY1ziZEHMXawbCEIM6qwjCDm3VYRan/s="`
	Seed       string   `long:"seed" env:"SECRETSTACK_SEED" description:"Seed the identity of this node is derived from." required:"true"`
	Host       string   `long:"host" env:"SECRETSTACK_HOST" description:"Host to listen on and advertise." default:"127.0.0.1"`
	Port       uint16   `long:"port" env:"SECRETSTACK_PORT" description:"Port to listen on for every transport; 0 picks a free one."`
	Transports []string `long:"transport" env:"SECRETSTACK_TRANSPORTS" env-delim:"," description:"Transport to enable (net, kcp, quic); may be repeated." default:"net"`
	NAT        bool     `long:"nat" description:"Forward the listening ports through the local gateway over UPnP or NAT-PMP."`
	LogLevel   string   `long:"log-level" env:"SECRETSTACK_LOG_LEVEL" description:"Log level (debug, info, warn, error)." default:"info"`
}

// factory builds the demo node out of opts.
func (o *options) factory() (secretstack.Factory, []secretstack.Option, error) {
	level, err := log.ParseLevel(o.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	log.SetLevel(level)

	appKey, err := handshake.ParseAppKey(o.AppKey)
	if err != nil {
		return nil, nil, err
	}

	resolver := transport.NewResolver()

	var layers []transport.Layer

	for _, name := range o.Transports {
		for _, name := range strings.Split(name, ",") {
			switch strings.TrimSpace(name) {
			case "net":
				layers = append(layers, transport.NewTCP(resolver))
			case "kcp":
				layers = append(layers, transport.NewKCP(resolver))
			case "quic":
				layers = append(layers, transport.NewQUIC(resolver))
			default:
				return nil, nil, errors.Errorf("unknown transport %q", name)
			}
		}
	}

	builder := secretstack.NewBuilder(appKey)
	if err := builder.Use(demo()); err != nil {
		return nil, nil, err
	}

	factory, err := builder.Build()
	if err != nil {
		return nil, nil, err
	}

	opts := []secretstack.Option{
		secretstack.WithSeed([]byte(o.Seed)),
		secretstack.WithHost(o.Host),
		secretstack.WithPort(o.Port),
		secretstack.WithTransports(layers...),
	}

	if o.NAT {
		opts = append(opts, secretstack.WithNAT(nil))
	}

	return factory, opts, nil
}

func main() {
	var opts options

	parser := flags.NewParser(&opts, flags.Default)

	if _, err := parser.AddCommand("serve", "Run a node", "Run a node carrying the demo plugin until interrupted.", &serveCommand{opts: &opts}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register the serve command.")
	}

	if _, err := parser.AddCommand("call", "Call a method of a node", "Connect to a node and call one of its methods, printing results as JSON.", &callCommand{opts: &opts}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register the call command.")
	}

	if _, err := parser.Parse(); err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
