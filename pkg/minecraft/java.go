package minecraft

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Handshake next-state value for a status query.
const handshakeStateStatus = 1

// PingJava performs a Server List Ping against a Java edition server and
// returns its reported status. The whole exchange (dial, handshake, status
// request, response) is bounded by timeout. Latency is measured from the
// handshake send to the response read.
func PingJava(address string, port int, timeout time.Duration) (*Status, error) {
	if port == 0 {
		port = DefaultJavaPort
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))

	conn, err := net.DialTimeout("tcp", target, timeout)
	if err != nil {
		return nil, newProbeError(EditionJava, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, newProbeError(EditionJava, err)
	}

	// Handshake: packet id 0x00, protocol version -1 (status-only client),
	// server address, server port, next state 1.
	var handshake bytes.Buffer
	writeVarInt(&handshake, 0x00)
	writeVarInt(&handshake, -1)
	writeVarInt(&handshake, int32(len(address)))
	handshake.WriteString(address)
	binary.Write(&handshake, binary.BigEndian, uint16(port))
	writeVarInt(&handshake, handshakeStateStatus)

	start := time.Now()
	if err := writePacket(conn, handshake.Bytes()); err != nil {
		return nil, newProbeError(EditionJava, err)
	}

	// Status request: empty packet with id 0x00.
	var request bytes.Buffer
	writeVarInt(&request, 0x00)

	if err := writePacket(conn, request.Bytes()); err != nil {
		return nil, newProbeError(EditionJava, err)
	}

	reader := bufio.NewReader(conn)
	payload, err := readPacket(reader)
	if err != nil {
		return nil, newProbeError(EditionJava, err)
	}
	latency := time.Since(start)

	body := bytes.NewReader(payload)
	packetID, err := readVarInt(body)
	if err != nil {
		return nil, malformed(EditionJava, "reading packet id: %v", err)
	}
	if packetID != 0x00 {
		return nil, malformed(EditionJava, "unexpected status packet id 0x%02x", packetID)
	}

	jsonLen, err := readVarInt(body)
	if err != nil {
		return nil, malformed(EditionJava, "reading status length: %v", err)
	}
	if jsonLen < 0 || int(jsonLen) > body.Len() {
		return nil, malformed(EditionJava, "status length %d exceeds packet", jsonLen)
	}
	raw := make([]byte, jsonLen)
	if _, err := io.ReadFull(body, raw); err != nil {
		return nil, malformed(EditionJava, "reading status payload: %v", err)
	}

	status, err := parseJavaStatus(raw)
	if err != nil {
		return nil, err
	}
	status.Latency = latency.Milliseconds()
	return status, nil
}

// javaStatusResponse mirrors the SLP status JSON document.
type javaStatusResponse struct {
	Version struct {
		Name string `json:"name"`
	} `json:"version"`
	Players *struct {
		Max    int `json:"max"`
		Online int `json:"online"`
		Sample []struct {
			Name string `json:"name"`
		} `json:"sample"`
	} `json:"players"`
	Description json.RawMessage `json:"description"`
}

func parseJavaStatus(raw []byte) (*Status, error) {
	var resp javaStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, malformed(EditionJava, "decoding status JSON: %v", err)
	}

	status := &Status{
		Edition: EditionJava,
		Online:  true,
		Version: resp.Version.Name,
		MOTD:    StripColorCodes(FlattenMOTD(resp.Description)),
	}
	if resp.Players != nil {
		status.Players = resp.Players.Online
		status.MaxPlayers = resp.Players.Max
		// A missing sample means the server disabled player reporting:
		// leave PlayerList nil to keep "unknown" distinct from "empty".
		if resp.Players.Sample != nil {
			status.PlayerList = make([]string, 0, len(resp.Players.Sample))
			for _, p := range resp.Players.Sample {
				status.PlayerList = append(status.PlayerList, p.Name)
			}
		}
	}
	return status, nil
}

// writePacket frames payload with its varint length prefix.
func writePacket(w io.Writer, payload []byte) error {
	var framed bytes.Buffer
	writeVarInt(&framed, int32(len(payload)))
	framed.Write(payload)
	_, err := w.Write(framed.Bytes())
	return err
}

// readPacket reads one varint-length-prefixed packet body.
func readPacket(r *bufio.Reader) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 || length > 1<<21 {
		return nil, fmt.Errorf("invalid packet length %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeVarInt(buf *bytes.Buffer, value int32) {
	v := uint32(value)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func readVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, fmt.Errorf("varint longer than 5 bytes")
}
