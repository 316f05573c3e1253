package minecraft

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	idUnconnectedPing = 0x01
	idUnconnectedPong = 0x1c
)

// offlineMessageMagic is the fixed 16-byte sequence RakNet embeds in every
// offline (pre-connection) datagram.
var offlineMessageMagic = []byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// PingBedrock sends a RakNet unconnected ping to a Bedrock edition server
// and parses the unconnected pong it answers with.
func PingBedrock(address string, port int, timeout time.Duration) (*Status, error) {
	if port == 0 {
		port = DefaultBedrockPort
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))

	conn, err := net.DialTimeout("udp", target, timeout)
	if err != nil {
		return nil, newProbeError(EditionBedrock, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, newProbeError(EditionBedrock, err)
	}

	// Unconnected ping: id, send timestamp, magic, client GUID.
	var ping bytes.Buffer
	ping.WriteByte(idUnconnectedPing)
	binary.Write(&ping, binary.BigEndian, time.Now().UnixMilli())
	ping.Write(offlineMessageMagic)
	binary.Write(&ping, binary.BigEndian, rand.Int63())

	start := time.Now()
	if _, err := conn.Write(ping.Bytes()); err != nil {
		return nil, newProbeError(EditionBedrock, err)
	}

	response := make([]byte, 2048)
	n, err := conn.Read(response)
	if err != nil {
		return nil, newProbeError(EditionBedrock, err)
	}
	latency := time.Since(start)

	status, err := parseUnconnectedPong(response[:n])
	if err != nil {
		return nil, err
	}
	status.Latency = latency.Milliseconds()
	return status, nil
}

// parseUnconnectedPong decodes an unconnected pong datagram: id, timestamp,
// server GUID, magic, then a uint16-length-prefixed server ID string.
func parseUnconnectedPong(datagram []byte) (*Status, error) {
	// id(1) + timestamp(8) + guid(8) + magic(16) + strlen(2)
	const headerLen = 1 + 8 + 8 + 16 + 2
	if len(datagram) < headerLen {
		return nil, malformed(EditionBedrock, "pong datagram too short: %d bytes", len(datagram))
	}
	if datagram[0] != idUnconnectedPong {
		return nil, malformed(EditionBedrock, "unexpected datagram id 0x%02x", datagram[0])
	}
	if !bytes.Equal(datagram[17:33], offlineMessageMagic) {
		return nil, malformed(EditionBedrock, "offline message magic mismatch")
	}

	strLen := int(binary.BigEndian.Uint16(datagram[33:35]))
	if strLen > len(datagram)-headerLen {
		strLen = len(datagram) - headerLen
	}
	return parseBedrockServerID(string(datagram[headerLen : headerLen+strLen]))
}

// parseBedrockServerID splits the semicolon-delimited server ID record.
// Positional fields: edition, MOTD line 1, protocol version, version name,
// current players, max players, server GUID, MOTD line 2, gamemode,
// gamemode numeric, port(s). Server software varies in how many trailing
// fields it emits, so anything missing is treated as absent.
func parseBedrockServerID(record string) (*Status, error) {
	fields := strings.Split(record, ";")
	if len(fields) < 2 {
		return nil, malformed(EditionBedrock, "server ID record has %d fields", len(fields))
	}

	status := &Status{
		Edition: EditionBedrock,
		Online:  true,
		MOTD:    StripColorCodes(bedrockField(fields, 1)),
	}
	status.Version = bedrockField(fields, 3)
	status.Players, _ = strconv.Atoi(bedrockField(fields, 4))
	status.MaxPlayers, _ = strconv.Atoi(bedrockField(fields, 5))
	if line2 := StripColorCodes(bedrockField(fields, 7)); line2 != "" {
		status.MapName = line2
	}
	status.Gamemode = bedrockField(fields, 8)
	return status, nil
}

func bedrockField(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return fields[i]
}
