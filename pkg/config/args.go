package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	PortFlag    = "--port"
	DefaultPort = 8554
)

type ServerConfig struct {
	Port int
}

// StreamPair is one mount point with its pipeline description, in argument order.
type StreamPair struct {
	MountPoint string
	Pipeline   string
}

type Arguments struct {
	Server  ServerConfig
	Streams []StreamPair
}

type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// Parse reads [--port <port>] followed by mount point / pipeline pairs.
// Only the arity and the port value are checked.
func Parse(args []string) (*Arguments, error) {
	parsed := &Arguments{Server: ServerConfig{Port: DefaultPort}}

	rest := args
	if len(rest) > 0 && rest[0] == PortFlag {
		if len(rest) < 2 {
			return nil, ConfigurationError{Reason: "missing value for " + PortFlag}
		}
		port, err := strconv.Atoi(rest[1])
		if err != nil || port < 1 || port > 65535 {
			return nil, ConfigurationError{Reason: fmt.Sprintf("invalid port %q", rest[1])}
		}
		parsed.Server.Port = port
		rest = rest[2:]
	}

	if len(rest) == 0 {
		return nil, ConfigurationError{Reason: "no streams given"}
	}
	if len(rest)%2 != 0 {
		return nil, ConfigurationError{Reason: fmt.Sprintf("mount point %q has no pipeline description", rest[len(rest)-1])}
	}

	parsed.Streams = make([]StreamPair, 0, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		parsed.Streams = append(parsed.Streams, StreamPair{MountPoint: rest[i], Pipeline: rest[i+1]})
	}
	return parsed, nil
}

func Usage(program string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s [--port <port>] <mount_point> <pipeline_description> [<mount_point> <pipeline_description>]...\n", program)
	fmt.Fprintf(&b, "Example: %s /cam1 \"( v4l2src device=/dev/video0 ! ... )\"\n", program)
	fmt.Fprintf(&b, "Example: %s --port 8555 /cam1 \"( v4l2src device=/dev/video0 ! ... )\"\n", program)
	return b.String()
}
