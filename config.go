package ipcpipe

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// fileConfig is the on-disk YAML shape for ServiceConfig, matching the
// recognized configuration surface in spec §6. Field names are the spec's
// own vocabulary so a config file reads like the spec itself.
type fileConfig struct {
	PipeName            string `yaml:"pipe_name"`
	Role                string `yaml:"role"`
	DefaultReadChunk    int    `yaml:"default_read_chunk"`
	MaxMessageSize      uint32 `yaml:"max_message_size"`
	BusyWaitTimeoutMs   uint32 `yaml:"busy_wait_timeout_ms"`
	ServerInstanceLimit uint32 `yaml:"server_instance_limit"`
	MessageMode         bool   `yaml:"message_mode"`
	SecurityDescriptor  string `yaml:"security_descriptor"`
}

// LoadServiceConfig reads a YAML file at path into a ServiceConfig using
// gopkg.in/yaml.v2 (present in the teacher's dependency graph only
// indirectly; the teacher itself does no YAML config loading).
func LoadServiceConfig(path string) (ServiceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ServiceConfig{}, wrapf(err, "ipcpipe: read config %q", path)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return ServiceConfig{}, wrapf(err, "ipcpipe: parse config %q", path)
	}

	cfg := ServiceConfig{
		PipeName: fc.PipeName,
		Pipe: PipeConfig{
			SecurityDescriptor:  fc.SecurityDescriptor,
			MessageMode:         fc.MessageMode,
			InputBufferSize:     int32(fc.DefaultReadChunk),
			OutputBufferSize:    int32(fc.DefaultReadChunk),
			ServerInstanceLimit: fc.ServerInstanceLimit,
			MaxMessageSize:      fc.MaxMessageSize,
			BusyWaitTimeout:     time.Duration(fc.BusyWaitTimeoutMs) * time.Millisecond,
		},
	}
	switch fc.Role {
	case "client":
		cfg.Role = RoleClient
	case "server", "":
		cfg.Role = RoleServer
	default:
		return ServiceConfig{}, wrapf(ErrInvalidConfig, "unrecognized role %q in %q", fc.Role, path)
	}
	return cfg, nil
}
