// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package modulesdk

import (
	"errors"
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"
)

// ModulePlugin implements go-plugin's Plugin interface over net/rpc.
// The module contract is plain Go structs on both ends, so the default
// net/rpc protocol with gob encoding carries it without generated code.
type ModulePlugin struct {
	// Impl is used by the module process; the host leaves it nil.
	Impl Module
}

// Server returns the RPC server for this plugin (called in the module process).
func (p *ModulePlugin) Server(_ *hashiplug.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, errors.New("modulesdk: module implementation is nil")
	}
	return &moduleRPCServer{impl: p.Impl}, nil
}

// Client returns the host-side Module implementation backed by RPC.
func (p *ModulePlugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &moduleRPCClient{client: c}, nil
}

// moduleRPCServer serves a Module over net/rpc in the module process.
type moduleRPCServer struct {
	impl Module
}

func (s *moduleRPCServer) Describe(_ struct{}, resp *ModuleInfo) error {
	info, err := s.impl.Describe()
	if err != nil {
		return err
	}
	*resp = info
	return nil
}

func (s *moduleRPCServer) Invoke(req InvokeRequest, resp *InvokeResult) error {
	result, err := s.impl.Invoke(req)
	if err != nil {
		return err
	}
	*resp = result
	return nil
}

// moduleRPCClient is the host-side Module backed by the RPC connection.
type moduleRPCClient struct {
	client *rpc.Client
}

var _ Module = (*moduleRPCClient)(nil)

func (c *moduleRPCClient) Describe() (ModuleInfo, error) {
	var info ModuleInfo
	if err := c.client.Call("Plugin.Describe", struct{}{}, &info); err != nil {
		return ModuleInfo{}, err
	}
	return info, nil
}

func (c *moduleRPCClient) Invoke(req InvokeRequest) (InvokeResult, error) {
	var result InvokeResult
	if err := c.client.Call("Plugin.Invoke", req, &result); err != nil {
		return InvokeResult{}, err
	}
	return result, nil
}
