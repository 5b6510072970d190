package tele

const (
	DefaultTopic    = "DalySmartBMS"
	DefaultBroker   = "tcp://localhost:1883"
	DefaultClientId = "dalybms"
)

type Config struct { //nolint:maligned
	Enabled           bool   `hcl:"enable"`
	LogDebug          bool   `hcl:"log_debug"`
	MqttBroker        string `hcl:"mqtt_broker"`
	MqttClientId      string `hcl:"mqtt_client_id"`
	MqttUser          string `hcl:"mqtt_user"`
	MqttPassword      string `hcl:"mqtt_password"` // secret
	MqttLogDebug      bool   `hcl:"mqtt_log_debug"`
	Topic             string `hcl:"topic"`
	Retain            bool   `hcl:"retain"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	// Empty means synchronous delivery without durable queue.
	PersistPath string `hcl:"persist_path"`
}
