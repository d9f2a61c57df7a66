// Package plugin lets a model provider run as a separate binary, spoken to
// over go-plugin's net/rpc transport.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"os/exec"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/provider"
	"github.com/hashicorp/go-plugin"
)

// HandshakeConfig is used to handshake between host and plugin.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SENTIMEMORY_PLUGIN",
	MagicCookieValue: "sentimemory-provider",
}

// ProviderPluginName is the dispense key of provider plugins.
const ProviderPluginName = "provider"

// PluginMap is the set of plugins the host can dispense.
var PluginMap = map[string]plugin.Plugin{
	ProviderPluginName: &ProviderPlugin{},
}

// ProviderPlugin is the go-plugin binding for a provider.Provider.
type ProviderPlugin struct {
	Impl provider.Provider
}

func (p *ProviderPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, errors.New("provider plugin has no implementation")
	}
	return &ProviderRPCServer{Impl: p.Impl}, nil
}

func (ProviderPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &ProviderRPCClient{client: c}, nil
}

// ChatArgs carries a chat request across the process boundary. Timeout is
// the caller's remaining deadline, zero for none. The Has flags mark which
// sampling values are set, as gob does not transmit zero values.
type ChatArgs struct {
	Messages       []provider.Message
	Timeout        time.Duration
	MaxTokens      int
	HasMaxTokens   bool
	Temperature    float64
	HasTemperature bool
}

func (a *ChatArgs) setSampling(s provider.Sampling) {
	if s.MaxTokens != nil {
		a.MaxTokens, a.HasMaxTokens = *s.MaxTokens, true
	}
	if s.Temperature != nil {
		a.Temperature, a.HasTemperature = *s.Temperature, true
	}
}

func (a ChatArgs) sampling() provider.Sampling {
	var s provider.Sampling
	if a.HasMaxTokens {
		s.MaxTokens = &a.MaxTokens
	}
	if a.HasTemperature {
		s.Temperature = &a.Temperature
	}
	return s
}

// ProviderRPCServer runs inside the plugin process.
type ProviderRPCServer struct {
	Impl provider.Provider
}

func (s *ProviderRPCServer) Chat(args ChatArgs, resp *provider.Response) error {
	ctx := context.Background()
	if args.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, args.Timeout)
		defer cancel()
	}
	out, err := s.Impl.Chat(ctx, args.Messages, provider.WithSampling(args.sampling()))
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (s *ProviderRPCServer) Name(args interface{}, resp *string) error {
	*resp = s.Impl.Name()
	return nil
}

// ProviderRPCClient is the host-side provider.Provider.
type ProviderRPCClient struct {
	client *rpc.Client
}

var _ provider.Provider = (*ProviderRPCClient)(nil)

// Chat forwards the request. Cancelling ctx returns immediately; the plugin
// stops at the forwarded deadline.
func (c *ProviderRPCClient) Chat(ctx context.Context, messages []provider.Message, opts ...provider.ChatOption) (*provider.Response, error) {
	args := ChatArgs{Messages: messages}
	args.setSampling(provider.ResolveSampling(opts...))
	if deadline, ok := ctx.Deadline(); ok {
		args.Timeout = time.Until(deadline)
		if args.Timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	var resp provider.Response
	call := c.client.Go("Plugin.Chat", args, &resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.Done:
		if call.Error != nil {
			return nil, call.Error
		}
		return &resp, nil
	}
}

func (c *ProviderRPCClient) Name() string {
	var resp string
	if err := c.client.Call("Plugin.Name", new(interface{}), &resp); err != nil {
		return "plugin"
	}
	return resp
}

// Serve runs p as a plugin. It is called from a plugin binary's main and
// does not return.
func Serve(p provider.Provider) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]plugin.Plugin{
			ProviderPluginName: &ProviderPlugin{Impl: p},
		},
	})
}

// Launch starts the plugin binary at path and returns its provider. The
// cleanup function kills the plugin process.
func Launch(path string) (provider.Provider, func(), error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path), // #nosec G204
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("start provider plugin %s: %w", path, err)
	}
	raw, err := rpcClient.Dispense(ProviderPluginName)
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("dispense provider plugin: %w", err)
	}
	p, ok := raw.(provider.Provider)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("plugin %s does not implement a provider", path)
	}
	return p, client.Kill, nil
}
