package minecraft

import (
	"bytes"
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	queryTypeHandshake = 9
	queryTypeStat      = 0
)

// queryMagic prefixes every client-to-server query datagram.
var queryMagic = []byte{0xfe, 0xfd}

// QueryResult holds the extended statistics the legacy GameSpot/UT3 query
// protocol exposes when a Java server enables it.
type QueryResult struct {
	MOTD       string
	Gametype   string
	MapName    string
	Players    int
	MaxPlayers int
	Software   string
	Plugins    []string
	PlayerList []string
}

// QueryJava runs the legacy query protocol full-stat exchange: a handshake
// to obtain a challenge token, then a full-stat request. Most servers ship
// with the protocol disabled, so callers treat any error here as "query not
// available" rather than a probe failure.
func QueryJava(address string, port int, timeout time.Duration) (*QueryResult, error) {
	if port == 0 {
		port = DefaultJavaPort
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))

	conn, err := net.DialTimeout("udp", target, timeout)
	if err != nil {
		return nil, newProbeError(EditionJava, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, newProbeError(EditionJava, err)
	}

	sessionID := int32(time.Now().UnixNano()) & 0x0f0f0f0f

	token, err := queryHandshake(conn, sessionID)
	if err != nil {
		return nil, err
	}

	// Full stat: handshake request plus the token and four bytes of padding.
	var request bytes.Buffer
	request.Write(queryMagic)
	request.WriteByte(queryTypeStat)
	binary.Write(&request, binary.BigEndian, sessionID)
	binary.Write(&request, binary.BigEndian, token)
	request.Write([]byte{0x00, 0x00, 0x00, 0x00})

	if _, err := conn.Write(request.Bytes()); err != nil {
		return nil, newProbeError(EditionJava, err)
	}

	response := make([]byte, 8192)
	n, err := conn.Read(response)
	if err != nil {
		return nil, newProbeError(EditionJava, err)
	}
	return parseFullStat(response[:n])
}

func queryHandshake(conn net.Conn, sessionID int32) (int32, error) {
	var handshake bytes.Buffer
	handshake.Write(queryMagic)
	handshake.WriteByte(queryTypeHandshake)
	binary.Write(&handshake, binary.BigEndian, sessionID)

	if _, err := conn.Write(handshake.Bytes()); err != nil {
		return 0, newProbeError(EditionJava, err)
	}

	response := make([]byte, 64)
	n, err := conn.Read(response)
	if err != nil {
		return 0, newProbeError(EditionJava, err)
	}
	// type(1) + session(4) + null-terminated token string
	if n < 6 || response[0] != queryTypeHandshake {
		return 0, malformed(EditionJava, "bad query handshake response")
	}
	tokenStr := string(bytes.TrimRight(response[5:n], "\x00"))
	token, err := strconv.ParseInt(tokenStr, 10, 32)
	if err != nil {
		return 0, malformed(EditionJava, "challenge token %q: %v", tokenStr, err)
	}
	return int32(token), nil
}

// parseFullStat decodes a full-stat response: an 11-byte padded header, a
// null-separated key/value section terminated by an empty key, a second
// padding block, then null-separated player names.
func parseFullStat(response []byte) (*QueryResult, error) {
	// type(1) + session(4) + padding(11)
	const headerLen = 16
	if len(response) < headerLen || response[0] != queryTypeStat {
		return nil, malformed(EditionJava, "bad full stat response")
	}

	body := response[headerLen:]
	kvEnd := bytes.Index(body, []byte{0x00, 0x00})
	if kvEnd < 0 {
		return nil, malformed(EditionJava, "unterminated key/value section")
	}

	result := &QueryResult{}
	pairs := strings.Split(string(body[:kvEnd]), "\x00")
	for i := 0; i+1 < len(pairs); i += 2 {
		key, value := pairs[i], pairs[i+1]
		switch key {
		case "hostname":
			result.MOTD = StripColorCodes(value)
		case "gametype":
			result.Gametype = value
		case "map":
			result.MapName = value
		case "numplayers":
			result.Players, _ = strconv.Atoi(value)
		case "maxplayers":
			result.MaxPlayers, _ = strconv.Atoi(value)
		case "plugins":
			result.Software, result.Plugins = parsePluginList(value)
		}
	}

	// Player section: 10 bytes of padding, then null-separated names.
	playerSection := body[kvEnd+2:]
	if len(playerSection) > 10 {
		names := strings.Split(string(playerSection[10:]), "\x00")
		for _, name := range names {
			if name != "" {
				result.PlayerList = append(result.PlayerList, name)
			}
		}
	}
	return result, nil
}

// parsePluginList splits the query "plugins" value, which vanilla leaves
// empty and modded servers format as "Software: PluginA x.y; PluginB z".
func parsePluginList(value string) (software string, plugins []string) {
	if value == "" {
		return "", nil
	}
	software = value
	if idx := strings.Index(value, ":"); idx >= 0 {
		software = strings.TrimSpace(value[:idx])
		for _, plugin := range strings.Split(value[idx+1:], ";") {
			if plugin = strings.TrimSpace(plugin); plugin != "" {
				plugins = append(plugins, plugin)
			}
		}
	}
	return software, plugins
}
