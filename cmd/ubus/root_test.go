package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ubus/codec"
	"go-ubus/registry"
	"go-ubus/ubustest"
	"go-ubus/value"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"system", "board"}, 2)
	require.NoError(t, err)
	assert.Nil(t, params)

	params, err = parseParams([]string{"service", "list", `{"name":"dnsmasq","verbose":true}`}, 2)
	require.NoError(t, err)
	m, ok := params.(*value.Map)
	require.True(t, ok)
	assert.Equal(t, []string{"name", "verbose"}, m.Keys())

	_, err = parseParams([]string{"service", "list", `{"name":`}, 2)
	assert.Error(t, err)
}

func TestObjectRows(t *testing.T) {
	rows := objectRows([]registry.ObjectDescriptor{
		{ID: 0x10, Path: "service", Methods: map[string]registry.Signature{
			"list":    {{Name: "name", Type: codec.TypeString}, {Name: "verbose", Type: codec.TypeBool}},
			"restart": nil,
		}},
		{ID: 0x11, Path: "empty"},
	})

	require.Len(t, rows, 4)
	assert.Equal(t, []string{"service", "0x00000010", "list", "name:" + codec.TypeString.String() + ", verbose:" + codec.TypeBool.String()}, rows[1])
	assert.Equal(t, []string{"", "", "restart", ""}, rows[2])
	assert.Equal(t, []string{"empty", "0x00000011", "", ""}, rows[3])
}

func TestCallCommand(t *testing.T) {
	srv := ubustest.NewServer()
	srv.Register("system", map[string]ubustest.Method{"board": {Handler: ubustest.Echo}})
	path := srv.Start(t)

	rootCmd.SetArgs([]string{"--socket", path, "--timeout", "2s", "call", "system", "board", `{"a":1}`})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, path, cfg.Socket)
	assert.Equal(t, int64(1), srv.Invocations())

	rootCmd.SetArgs([]string{"--socket", path, "call", "missing", "board"})
	assert.Error(t, rootCmd.Execute())
}
