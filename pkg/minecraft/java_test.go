package minecraft

import (
	"bufio"
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveStatusOnce accepts one connection, consumes the handshake and status
// request, and replies with the given status JSON.
func serveStatusOnce(t *testing.T, listener net.Listener, statusJSON string) {
	t.Helper()
	conn, err := listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	reader := bufio.NewReader(conn)
	if _, err := readPacket(reader); err != nil { // handshake
		return
	}
	if _, err := readPacket(reader); err != nil { // status request
		return
	}

	var payload bytes.Buffer
	writeVarInt(&payload, 0x00)
	writeVarInt(&payload, int32(len(statusJSON)))
	payload.WriteString(statusJSON)
	writePacket(conn, payload.Bytes())
}

func TestPingJava_Loopback(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	statusJSON := `{"version":{"name":"1.20.4"},"players":{"max":20,"online":3,"sample":[{"name":"alice","id":"a"},{"name":"bob","id":"b"}]},"description":{"text":"§aHello ","extra":[{"text":"world"}]}}`
	go serveStatusOnce(t, listener, statusJSON)

	port := listener.Addr().(*net.TCPAddr).Port
	status, err := PingJava("127.0.0.1", port, 2*time.Second)
	require.NoError(t, err)

	assert.True(t, status.Online)
	assert.Equal(t, EditionJava, status.Edition)
	assert.Equal(t, 3, status.Players)
	assert.Equal(t, 20, status.MaxPlayers)
	assert.Equal(t, []string{"alice", "bob"}, status.PlayerList)
	assert.Equal(t, "Hello world", status.MOTD)
	assert.Equal(t, "1.20.4", status.Version)
	assert.GreaterOrEqual(t, status.Latency, int64(0))
}

func TestPingJava_LatencyCoversWholeExchange(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	const delay = 60 * time.Millisecond
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(2 * time.Second))

		reader := bufio.NewReader(conn)
		if _, err := readPacket(reader); err != nil {
			return
		}
		// Stall after the handshake so the delay lands inside the
		// measured window.
		time.Sleep(delay)
		if _, err := readPacket(reader); err != nil {
			return
		}

		var payload bytes.Buffer
		writeVarInt(&payload, 0x00)
		writeVarInt(&payload, int32(len(`{"version":{"name":"1.20.4"}}`)))
		payload.WriteString(`{"version":{"name":"1.20.4"}}`)
		writePacket(conn, payload.Bytes())
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	status, err := PingJava("127.0.0.1", port, 2*time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, status.Latency, delay.Milliseconds(),
		"latency runs from the handshake send, so a stall after it counts")
}

func TestPingJava_ConnectionRefused(t *testing.T) {
	// Grab a port and close it so nothing is listening there.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	_, err = PingJava("127.0.0.1", port, 500*time.Millisecond)
	var probeErr *ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, KindConnectionRefused, probeErr.Kind)
}

func TestPingJava_MalformedResponse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		readPacket(reader)
		readPacket(reader)

		var payload bytes.Buffer
		writeVarInt(&payload, 0x00)
		writeVarInt(&payload, 8)
		payload.WriteString("not-json")
		writePacket(conn, payload.Bytes())
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	_, err = PingJava("127.0.0.1", port, 2*time.Second)
	var probeErr *ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, KindMalformedResponse, probeErr.Kind)
}
