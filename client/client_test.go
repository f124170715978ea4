package client

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"go-ubus/codec"
	"go-ubus/message"
	"go-ubus/middleware"
	"go-ubus/ubustest"
	"go-ubus/value"
)

func newBroker(t *testing.T) (*ubustest.Server, string) {
	t.Helper()
	srv := ubustest.NewServer()
	srv.Register("test", map[string]ubustest.Method{
		"echo":   {Handler: ubustest.Echo},
		"hang":   {Handler: ubustest.Block},
		"empty":  {},
		"denied": {Handler: ubustest.Fail(message.StatusPermissionDenied)},
		"multi": {
			Handler:  ubustest.Static(value.MapOf("n", 3)),
			Preamble: []*value.Map{value.MapOf("n", 1), value.MapOf("n", 2)},
		},
		"garbage": {Handler: ubustest.Echo, RawReply: []byte{0x83, 0x00, 0x00, 0x03}},
	})
	srv.Register("system", map[string]ubustest.Method{
		"board": {Handler: ubustest.Static(value.MapOf("model", "Test Router", "kernel", "6.6.0"))},
		"info":  {Handler: ubustest.Static(value.MapOf("uptime", 1234))},
	})
	return srv, srv.Start(t)
}

func connect(t *testing.T, path string, opts ...Option) *Client {
	t.Helper()
	c := New(opts...)
	require.NoError(t, c.Connect(context.Background(), path))
	t.Cleanup(c.Disconnect)
	return c
}

func TestCallEcho(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	result, err := c.Call(context.Background(), "test", "echo", value.MapOf("msg", "hi"))
	require.NoError(t, err)
	assert.True(t, value.Equal(value.MapOf("msg", "hi"), result))
}

func TestCallEchoPreservesStructure(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	params := value.NewMap()
	params.Set("z", value.Int(math.MinInt64))
	params.Set("a", value.List{value.Bool(true), value.Float(2.5), value.String("")})
	params.Set("m", value.MapOf("inner", value.MapOf("deep", "x"), "empty", value.NewMap()))

	result, err := c.Call(context.Background(), "test", "echo", params)
	require.NoError(t, err)
	assert.True(t, value.Equal(params, result))
	assert.Equal(t, []string{"z", "a", "m"}, result.Keys())
}

func TestCallNullParamsSendEmptyTable(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	for _, params := range []value.Value{nil, value.Null{}, (*value.Map)(nil)} {
		result, err := c.Call(context.Background(), "test", "echo", params)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Len())
	}
}

func TestCallDropsNullValues(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	result, err := c.Call(context.Background(), "test", "echo",
		value.MapOf("keep", 1, "drop", nil, "list", []any{1, nil, 2}))
	require.NoError(t, err)
	assert.True(t, value.Equal(value.MapOf("keep", 1, "list", []any{1, 2}), result))
}

func TestCallCompactIntegers(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path, WithCompactIntegers())

	result, err := c.Call(context.Background(), "test", "echo", value.MapOf("small", 7, "big", int64(1)<<40))
	require.NoError(t, err)
	assert.True(t, value.Equal(value.MapOf("small", 7, "big", int64(1)<<40), result))
}

func TestCallWithoutData(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	result, err := c.Call(context.Background(), "test", "empty", nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Len())
}

func TestCallLastDataWins(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	result, err := c.Call(context.Background(), "test", "multi", nil)
	require.NoError(t, err)
	n, ok := result.GetInt("n")
	require.True(t, ok)
	assert.Equal(t, int64(3), n)
}

func TestCallObjectNotFound(t *testing.T) {
	srv, path := newBroker(t)
	c := connect(t, path)

	_, err := c.Call(context.Background(), "nonexistent", "foo", nil)
	var notFound *ObjectNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nonexistent", notFound.Name)
	assert.Zero(t, srv.Invocations())
}

func TestCallMethodNotFound(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	_, err := c.Call(context.Background(), "test", "nope", nil)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, StatusMethodNotFound, callErr.Status)
	assert.Equal(t, "Method not found", callErr.Message)
}

func TestCallBrokerStatus(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	_, err := c.Call(context.Background(), "test", "denied", nil)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, StatusPermissionDenied, callErr.Status)
	assert.Equal(t, "Permission denied", callErr.Message)
	assert.Equal(t, "ubus: Permission denied (status 6)", err.Error())
}

func TestCallZeroTimeout(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)
	c.SetTimeout(0)

	start := time.Now()
	_, err := c.Call(context.Background(), "test", "hang", nil)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, StatusTimeout, callErr.Status)
	assert.Equal(t, "Timeout", callErr.Message)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCallTimeout(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path, WithTimeout(50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, c.Timeout())

	start := time.Now()
	_, err := c.Call(context.Background(), "test", "hang", nil)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, StatusTimeout, callErr.Status)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The session survives a timed-out call.
	assert.True(t, c.IsConnected())
	result, err := c.Call(context.Background(), "test", "echo", value.MapOf("after", true))
	require.NoError(t, err)
	assert.True(t, value.Equal(value.MapOf("after", true), result))
}

func TestCallCanceled(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := c.Call(ctx, "test", "hang", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallInvalidParams(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	for _, params := range []value.Value{
		value.List{value.Int(1)},
		value.String("scalar"),
		value.MapOf("bad", "a\x00b"),
	} {
		_, err := c.Call(context.Background(), "test", "echo", params)
		var encErr *ParameterEncodingError
		assert.ErrorAs(t, err, &encErr, "params %v", params)
	}
}

func TestCallMalformedReply(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	_, err := c.Call(context.Background(), "test", "garbage", nil)
	var decErr *codec.DecodingError
	require.ErrorAs(t, err, &decErr)
	assert.True(t, c.IsConnected())
}

func TestCallWhileDisconnected(t *testing.T) {
	c := New()
	_, err := c.Call(context.Background(), "test", "echo", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.Lookup(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConnected)
}

func TestConnectIsIdempotent(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)
	id := c.LocalID()
	require.NotZero(t, id)

	require.NoError(t, c.Connect(context.Background(), path))
	assert.Equal(t, id, c.LocalID())
	assert.True(t, c.Connected())
}

func TestConnectFailure(t *testing.T) {
	c := New()
	err := c.Connect(context.Background(), "/nonexistent/ubus.sock")
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "/nonexistent/ubus.sock", connErr.Path)
	assert.False(t, c.IsConnected())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.Zero(t, c.LocalID())
	c.Disconnect()
	assert.NoError(t, c.Close())

	_, err := c.Call(context.Background(), "test", "echo", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectAfterDisconnect(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)
	first := c.LocalID()

	c.Disconnect()
	require.NoError(t, c.Connect(context.Background(), path))
	assert.NotEqual(t, first, c.LocalID())
	_, err := c.Call(context.Background(), "test", "echo", nil)
	assert.NoError(t, err)
}

func TestBrokerLoss(t *testing.T) {
	srv, path := newBroker(t)
	c := connect(t, path)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "test", "hang", nil)
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	srv.DropConnections()

	select {
	case err := <-errs:
		var connErr *ConnectionError
		assert.ErrorAs(t, err, &connErr)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not fail after broker loss")
	}

	require.Eventually(t, func() bool { return !c.IsConnected() }, time.Second, 10*time.Millisecond)
	_, err := c.Call(context.Background(), "test", "echo", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestLookup(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)

	objs, err := c.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "system", objs[0].Path)
	assert.Equal(t, []string{"board", "info"}, objs[0].MethodNames())

	_, err = c.Lookup(context.Background(), "missing")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, StatusNotFound, lookupErr.Status)
}

func TestPing(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestCallsAreSerialized(t *testing.T) {
	srv := ubustest.NewServer()
	var mu sync.Mutex
	active, peak := 0, 0
	srv.Register("slow", map[string]ubustest.Method{
		"wait": {Handler: func(ctx context.Context, params *value.Map) (*value.Map, message.Status) {
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return params, message.StatusOK
		}},
	})
	c := connect(t, srv.Start(t))

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := c.Call(context.Background(), "slow", "wait", value.MapOf("i", i))
			if assert.NoError(t, err) {
				got, _ := result.GetInt("i")
				assert.Equal(t, int64(i), got)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}

func TestMiddleware(t *testing.T) {
	_, path := newBroker(t)
	core, logs := observer.New(zap.DebugLevel)
	c := connect(t, path, WithMiddleware(
		middleware.LoggingMiddleware(zap.New(core)),
		middleware.RateLimitMiddleware(0.001, 1),
	))

	_, err := c.Call(context.Background(), "test", "echo", nil)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "test", "echo", nil)
	assert.ErrorIs(t, err, middleware.ErrRateLimited)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "call", logs.All()[0].Message)
	assert.Equal(t, "call failed", logs.All()[1].Message)
}

func TestConnectionEventsLogAtDebug(t *testing.T) {
	_, path := newBroker(t)
	core, logs := observer.New(zap.DebugLevel)
	c := New(WithLogger(zap.New(core)))

	require.NoError(t, c.Connect(context.Background(), path))
	c.Disconnect()

	var messages []string
	for _, entry := range logs.All() {
		assert.Equal(t, zap.DebugLevel, entry.Level, entry.Message)
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, "connected")
	assert.Contains(t, messages, "disconnected")
}

func TestMiddlewareTimeoutBecomesCallError(t *testing.T) {
	_, path := newBroker(t)
	c := connect(t, path, WithMiddleware(middleware.TimeOutMiddleware(30*time.Millisecond)))

	_, err := c.Call(context.Background(), "test", "hang", nil)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, StatusTimeout, callErr.Status)
}

func TestConvenienceHelpers(t *testing.T) {
	srv, path := newBroker(t)
	srv.Register("network.interface.lan", map[string]ubustest.Method{
		"status": {Handler: ubustest.Static(value.MapOf("up", true))},
	})
	srv.Register("network.interface.wan", map[string]ubustest.Method{
		"status": {Handler: ubustest.Fail(message.StatusNoData)},
	})
	srv.Register("network.wireless", map[string]ubustest.Method{
		"status": {Handler: ubustest.Static(value.MapOf("radio0", value.MapOf("up", true)))},
	})
	srv.Register("service", map[string]ubustest.Method{"list": {Handler: ubustest.Echo}})
	srv.Register("rc", map[string]ubustest.Method{"init": {Handler: ubustest.Echo}})
	c := connect(t, path)
	ctx := context.Background()

	board, err := c.SystemBoard(ctx)
	require.NoError(t, err)
	model, _ := board.GetString("model")
	assert.Equal(t, "Test Router", model)

	info, err := c.SystemInfo(ctx)
	require.NoError(t, err)
	uptime, _ := info.GetInt("uptime")
	assert.Equal(t, int64(1234), uptime)

	lan, err := c.NetworkStatus(ctx, "lan")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.MapOf("up", true), lan))

	all, err := c.NetworkStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"lan"}, all.Keys())

	wireless, err := c.WirelessStatus(ctx)
	require.NoError(t, err)
	assert.True(t, wireless.Has("radio0"))

	services, err := c.ServiceList(ctx, "dnsmasq")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.MapOf("name", "dnsmasq"), services))

	restarted, err := c.RestartService(ctx, "dnsmasq")
	require.NoError(t, err)
	action, _ := restarted.GetString("action")
	assert.Equal(t, "restart", action)
}

func TestWirelessStatusFallback(t *testing.T) {
	srv, path := newBroker(t)
	srv.Register("network.wireless", map[string]ubustest.Method{
		"status": {Handler: ubustest.Fail(message.StatusUnknownError)},
	})
	srv.Register("hostapd.wireless0", map[string]ubustest.Method{
		"status": {Handler: ubustest.Static(value.MapOf("ssid", "lab"))},
	})
	c := connect(t, path)

	status, err := c.WirelessStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hostapd.wireless0"}, status.Keys())
}

func TestErrorsUnwrap(t *testing.T) {
	inner := errors.New("boom")
	assert.ErrorIs(t, &ConnectionError{Path: "/x", Err: inner}, inner)
	assert.ErrorIs(t, &ParameterEncodingError{Err: inner}, inner)
}
