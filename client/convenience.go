package client

import (
	"context"
	"strings"

	"go-ubus/value"
)

const interfacePrefix = "network.interface."

// SystemBoard returns the board description (model, kernel, release).
func (c *Client) SystemBoard(ctx context.Context) (*value.Map, error) {
	return c.Call(ctx, "system", "board", nil)
}

// SystemInfo returns uptime, memory and load figures.
func (c *Client) SystemInfo(ctx context.Context) (*value.Map, error) {
	return c.Call(ctx, "system", "info", nil)
}

// NetworkStatus returns the status of one network interface, or of every
// interface keyed by name when iface is empty. Interfaces whose status
// cannot be read are left out of the combined result.
func (c *Client) NetworkStatus(ctx context.Context, iface string) (*value.Map, error) {
	if iface != "" {
		return c.Call(ctx, interfacePrefix+iface, "status", nil)
	}

	objs, err := c.Lookup(ctx, interfacePrefix+"*")
	if err != nil {
		return nil, err
	}
	all := value.NewMap()
	for _, obj := range objs {
		name := strings.TrimPrefix(obj.Path, interfacePrefix)
		if name == "" {
			continue
		}
		status, err := c.Call(ctx, obj.Path, "status", nil)
		if err != nil {
			continue
		}
		all.Set(name, status)
	}
	return all, nil
}

// WirelessStatus returns the wireless status. When the network.wireless
// object cannot answer, it falls back to the status of every object with
// "wireless" in its path, keyed by path.
func (c *Client) WirelessStatus(ctx context.Context) (*value.Map, error) {
	status, err := c.Call(ctx, "network.wireless", "status", nil)
	if err == nil {
		return status, nil
	}

	objs, lookupErr := c.Lookup(ctx, "")
	if lookupErr != nil {
		return nil, err
	}
	all := value.NewMap()
	for _, obj := range objs {
		if !strings.Contains(strings.ToLower(obj.Path), "wireless") {
			continue
		}
		if status, err := c.Call(ctx, obj.Path, "status", nil); err == nil {
			all.Set(obj.Path, status)
		}
	}
	return all, nil
}

// ServiceList returns the init services known to procd, or only service
// name when it is not empty.
func (c *Client) ServiceList(ctx context.Context, name string) (*value.Map, error) {
	var params value.Value
	if name != "" {
		params = value.MapOf("name", name)
	}
	return c.Call(ctx, "service", "list", params)
}

// RestartService restarts an init service through the rc object.
func (c *Client) RestartService(ctx context.Context, name string) (*value.Map, error) {
	return c.Call(ctx, "rc", "init", value.MapOf("name", name, "action", "restart"))
}
