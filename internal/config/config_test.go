package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arloliu/go-labrpc/logger"
	"github.com/arloliu/go-labrpc/rpc"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
logging:
  level: debug
server:
  host: 127.0.0.1
  port: 5025
  mode: multi
  accept_timeout: 20ms
metrics:
  enabled: true
  address: 127.0.0.1:9100
devices:
  - name: psu
    type: socket
    socket:
      host: 10.0.0.5
      port: 5025
      timeout: 2s
    policy:
      reconnect_tries: 0
      max_attempts: 3
      attempt_delay: 50ms
      queue: false
  - name: stage
    type: serial
    serial:
      port: /dev/ttyUSB0
      baud_rate: 115200
      parity: even
    poll:
      interval: 1s
      commands: ["POS?"]
  - name: bridge
    type: mqtt
    mqtt:
      broker: tcp://localhost:1883
      command_topic: lab/cmd
      reply_topic: lab/reply
      qos: 1
  - name: dummy
    type: empty
    empty:
      reply: ["1", "2"]
`

func TestParse(t *testing.T) {
	require := require.New(t)

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(err)

	require.Equal(logger.DebugLevel, cfg.LogLevel())
	require.Equal("127.0.0.1", cfg.Server.Host)
	require.Equal(5025, cfg.Server.Port)
	require.Equal(rpc.Multi, cfg.RPCMode())
	require.Equal(20*time.Millisecond, cfg.Server.AcceptTimeout)
	// untouched keys keep their defaults
	require.Equal(100, cfg.Server.MaxClients)
	require.Equal("\n", cfg.Server.ReadTermination)
	require.Equal("/metrics", cfg.Metrics.Path)

	require.Len(cfg.Devices, 4)

	psu := cfg.Devices[0]
	require.Equal(TypeSocket, psu.Type)
	require.Equal(2*time.Second, psu.Socket.Timeout)
	require.NotNil(psu.Policy.ReconnectTries)
	require.Equal(0, *psu.Policy.ReconnectTries)
	require.Equal(3, psu.Policy.MaxAttempts)
	require.NotNil(psu.Policy.Queue)
	require.False(*psu.Policy.Queue)

	stage := cfg.Devices[1]
	require.Equal(115200, stage.Serial.BaudRate)
	require.Equal([]string{"POS?"}, stage.Poll.Commands)
	require.Nil(stage.Policy.ReconnectTries)

	require.Equal(1, cfg.Devices[2].MQTT.QoS)
	require.Equal([]string{"1", "2"}, cfg.Devices[3].Empty.Reply)
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "labrpcd.yaml")
	require.NoError(os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(err)
	require.Len(cfg.Devices, 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(err, "reading config file")
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	require.ErrorContains(t, err, "parsing config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Run("values", func(t *testing.T) {
		require := require.New(t)

		t.Setenv("LABRPC_LOG_LEVEL", "warn")
		t.Setenv("LABRPC_SERVER_HOST", "0.0.0.0")
		t.Setenv("LABRPC_SERVER_PORT", "6000")
		t.Setenv("LABRPC_SERVER_MODE", "single")
		t.Setenv("LABRPC_METRICS_ENABLED", "false")
		t.Setenv("LABRPC_METRICS_ADDRESS", ":9200")

		cfg, err := Parse([]byte(sampleConfig))
		require.NoError(err)
		require.Equal(logger.WarnLevel, cfg.LogLevel())
		require.Equal("0.0.0.0", cfg.Server.Host)
		require.Equal(6000, cfg.Server.Port)
		require.Equal(rpc.Single, cfg.RPCMode())
		require.False(cfg.Metrics.Enabled)
		require.Equal(":9200", cfg.Metrics.Address)
	})

	t.Run("bad port", func(t *testing.T) {
		t.Setenv("LABRPC_SERVER_PORT", "http")

		_, err := Parse([]byte(sampleConfig))
		require.ErrorContains(t, err, "LABRPC_SERVER_PORT")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			name: "defaults",
			doc:  "{}",
		},
		{
			name: "server",
			doc:  "server: {port: 70000, mode: forked, max_clients: 0}",
			want: []string{
				"server.port must be between 0 and 65535",
				`server.mode "forked"`,
				"server.max_clients must be at least 1",
			},
		},
		{
			name: "logging",
			doc:  "logging: {level: loud}",
			want: []string{`logging.level: unknown log level "loud"`},
		},
		{
			name: "metrics",
			doc:  "metrics: {enabled: true, address: '', path: metrics}",
			want: []string{"metrics.address is required", "metrics.path must start with /"},
		},
		{
			name: "device names",
			doc: `
devices:
  - {name: "", type: empty}
  - {name: "a:b", type: empty}
  - {name: Psu, type: empty}
  - {name: p su, type: empty}`,
			want: []string{
				"devices[0].name is required",
				`devices[1].name "a:b" must not contain`,
				`devices[3].name "p su" is used more than once`,
			},
		},
		{
			name: "device types",
			doc: `
devices:
  - {name: a, type: socket}
  - {name: b, type: socket, socket: {host: h, port: 0}}
  - {name: c, type: serial}
  - {name: d, type: mqtt, mqtt: {broker: tcp://x:1883}}
  - {name: e, type: mqtt, mqtt: {broker: tcp://x:1883, command_topic: c, reply_topic: r, qos: 3}}
  - {name: f, type: gpib}`,
			want: []string{
				"devices[0].socket is required",
				"devices[1].socket.port must be between 1 and 65535",
				"devices[2].serial.port is required",
				"devices[3].mqtt requires broker",
				"devices[4].mqtt.qos must be 0, 1, or 2",
				`devices[5].type "gpib"`,
			},
		},
		{
			name: "policy",
			doc: `
devices:
  - name: a
    type: empty
    policy: {reconnect_tries: -1, max_attempts: -2, queue_size: -3, attempt_delay: -1s}
    poll: {commands: ["X?"]}`,
			want: []string{
				"devices[0].policy.reconnect_tries",
				"devices[0].policy.max_attempts",
				"devices[0].policy.queue_size",
				"devices[0].policy delays",
				"devices[0].poll.interval must be positive",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			cfg, err := Parse([]byte(tt.doc))
			if len(tt.want) == 0 {
				require.NoError(err)
				require.NotNil(cfg)

				return
			}

			require.Error(err)
			require.Contains(err.Error(), "validating config: configuration errors:")
			for _, want := range tt.want {
				require.Contains(err.Error(), want)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	require := require.New(t)

	cfg := Default()
	require.NoError(cfg.Validate())
	require.Equal(rpc.Threaded, cfg.RPCMode())
	require.Equal(logger.InfoLevel, cfg.LogLevel())
	require.Empty(cfg.Devices)
}
