package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/netsim"
)

func TestListenAcceptConnect(t *testing.T) {
	h := newHarness(t, nil)

	l := h.call(t, "op_listen", map[string]any{"hostname": "localhost", "port": 8080}, nil).(ListenInfo)
	assert.Equal(t, netsim.Addr{Proto: "tcp", Host: "localhost", Port: 8080}, l.Addr)

	accepted := h.async(t, 1, "op_accept", l.Rid, nil)
	client := h.call(t, "op_connect", map[string]any{"hostname": "127.0.0.1", "port": 8080}, nil).(ConnInfo)
	server := await(t, accepted).(ConnInfo)

	assert.Equal(t, 8080, client.RemoteAddr.Port)
	assert.Equal(t, client.LocalAddr, server.RemoteAddr)

	h.call(t, "op_write", client.Rid, "ping")
	assert.Equal(t, []byte("ping"), h.call(t, "op_read", server.Rid, nil))

	h.call(t, "op_shutdown", client.Rid, nil)
	assert.Equal(t, []byte{}, h.call(t, "op_read", server.Rid, nil))

	h.call(t, "op_write", server.Rid, "pong")
	assert.Equal(t, []byte("pong"), h.call(t, "op_read", client.Rid, nil))
}

func TestListenErrors(t *testing.T) {
	h := newHarness(t, nil)

	h.call(t, "op_listen", map[string]any{"port": 9000}, nil)
	env := h.fail(t, "op_listen", map[string]any{"port": 9000}, nil)
	assert.Equal(t, "AddrInUse", env.ClassName)

	env = h.fail(t, "op_listen", map[string]any{"hostname": "example.com", "port": 80}, nil)
	assert.Equal(t, "ConnectionRefused", env.ClassName)

	env = h.fail(t, "op_listen", map[string]any{"port": 70000}, nil)
	assert.Equal(t, "InvalidArgument", env.ClassName)

	env = h.fail(t, "op_connect", map[string]any{"port": 9999}, nil)
	assert.Equal(t, "ConnectionRefused", env.ClassName)
}

func TestEphemeralPort(t *testing.T) {
	h := newHarness(t, nil)

	l := h.call(t, "op_listen", map[string]any{"transport": "tcp"}, nil).(ListenInfo)
	assert.NotZero(t, l.Addr.Port)
}

func TestAcceptOnNonListener(t *testing.T) {
	h := newHarness(t, nil)

	ends := h.call(t, "op_pipe", nil, nil).([]int)
	env := h.fail(t, "op_accept", ends[0], nil)
	require.NotNil(t, env)
	assert.Equal(t, "BadResource", env.ClassName)
}
