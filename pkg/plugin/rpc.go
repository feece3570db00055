package plugin

import (
	"encoding/json"
	"net/rpc"
	"time"

	"github.com/hashicorp/go-plugin"
)

// Handshake is used to verify that the plugin process and host are compatible
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CHIVE_PLUGIN",
	MagicCookieValue: "chive-plugin-runtime-v1",
}

// PluginMap is the map of plugins we can dispense
var PluginMap = map[string]plugin.Plugin{
	"plugin": &RemoteRPCPlugin{},
}

// Remote is the surface an out-of-process plugin exposes over RPC.
type Remote interface {
	// Describe returns the manifest id the process implements
	Describe() (string, error)

	// Initialize hands over configuration and returns the patterns the
	// plugin subscribes to plus any events to publish immediately
	Initialize(req InitializeRequest) (InitializeResponse, error)

	// HandleEvent delivers one subscribed event and returns follow-up emissions
	HandleEvent(evt WireEvent) ([]WireEvent, error)

	Shutdown() error
}

// WireEvent is an event as it crosses the process boundary. Payload is JSON.
type WireEvent struct {
	Topic     string
	Payload   json.RawMessage
	Timestamp time.Time
	Trace     map[string]string
}

// InitializeRequest is sent to the plugin process on load.
type InitializeRequest struct {
	PluginID string
	Config   json.RawMessage
	Hooks    []string
}

// InitializeResponse is the plugin process's answer to InitializeRequest.
type InitializeResponse struct {
	Subscriptions []string
	Emissions     []WireEvent
}

// HandleEventResponse carries emissions produced while handling an event.
type HandleEventResponse struct {
	Emissions []WireEvent
}

// RemoteRPCPlugin is the implementation of plugin.Plugin for RPC
type RemoteRPCPlugin struct {
	Impl Remote
}

func (p *RemoteRPCPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RemoteRPCServer{Impl: p.Impl}, nil
}

func (p *RemoteRPCPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RemoteRPCClient{client: c}, nil
}

// Serve runs impl as a plugin process. It is called from the main function
// of a plugin binary and blocks until the host disconnects.
func Serve(impl Remote) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			"plugin": &RemoteRPCPlugin{Impl: impl},
		},
	})
}

// RemoteRPCServer is the RPC server that RemoteRPCClient talks to
type RemoteRPCServer struct {
	Impl Remote
}

func (s *RemoteRPCServer) Describe(args interface{}, resp *string) error {
	id, err := s.Impl.Describe()
	*resp = id
	return err
}

func (s *RemoteRPCServer) Initialize(args *InitializeRequest, resp *InitializeResponse) error {
	out, err := s.Impl.Initialize(*args)
	*resp = out
	return err
}

func (s *RemoteRPCServer) HandleEvent(args *WireEvent, resp *HandleEventResponse) error {
	emissions, err := s.Impl.HandleEvent(*args)
	resp.Emissions = emissions
	return err
}

func (s *RemoteRPCServer) Shutdown(args interface{}, resp *bool) error {
	err := s.Impl.Shutdown()
	*resp = err == nil
	return err
}

// RemoteRPCClient is the RPC client that talks to RemoteRPCServer
type RemoteRPCClient struct {
	client *rpc.Client
}

func (c *RemoteRPCClient) Describe() (string, error) {
	var resp string
	if err := c.client.Call("Plugin.Describe", new(interface{}), &resp); err != nil {
		return "", err
	}
	return resp, nil
}

func (c *RemoteRPCClient) Initialize(req InitializeRequest) (InitializeResponse, error) {
	var resp InitializeResponse
	if err := c.client.Call("Plugin.Initialize", &req, &resp); err != nil {
		return InitializeResponse{}, err
	}
	return resp, nil
}

func (c *RemoteRPCClient) HandleEvent(evt WireEvent) ([]WireEvent, error) {
	var resp HandleEventResponse
	if err := c.client.Call("Plugin.HandleEvent", &evt, &resp); err != nil {
		return nil, err
	}
	return resp.Emissions, nil
}

func (c *RemoteRPCClient) Shutdown() error {
	var resp bool
	return c.client.Call("Plugin.Shutdown", new(interface{}), &resp)
}
