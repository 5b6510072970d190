package state

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/dalybms/hardware/ble"
	"github.com/temoto/dalybms/hardware/uart"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/protocol"
	"github.com/temoto/dalybms/tele"
)

const (
	TransportSerial = "serial"
	TransportBLE    = "ble"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	BMS struct { //nolint:maligned
		// serial or ble, empty means ble when mac is set
		Transport      string `hcl:"transport"`
		Address        int    `hcl:"address"`
		// attempts per request, 0 means default, negative means single attempt
		RequestRetries int    `hcl:"request_retries"`
		RetryDelayMs   int    `hcl:"retry_delay_ms"`
		LogDebug       bool   `hcl:"log_debug"`
	} `hcl:"bms"`
	Serial struct {
		Device string `hcl:"device"`
	} `hcl:"serial"`
	BLE struct {
		MAC               string `hcl:"mac"`
		Adapter           string `hcl:"adapter"`
		TimeoutMs         int    `hcl:"timeout_ms"`
		ConnectTimeoutSec int    `hcl:"connect_timeout_sec"`
		ServiceUUID       string `hcl:"service_uuid"`
		NotifyUUID        string `hcl:"notify_uuid"`
		WriteUUID         string `hcl:"write_uuid"`
		KickUUID          string `hcl:"kick_uuid"`
	} `hcl:"ble"`
	Tele tele.Config `hcl:"tele"`

	// 0 means oneshot
	LoopSec  int    `hcl:"loop_sec"`
	LogLevel string `hcl:"log_level"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) TransportName() string {
	t := strings.ToLower(c.BMS.Transport)
	if t == "" {
		if c.BLE.MAC != "" {
			return TransportBLE
		}
		return TransportSerial
	}
	return t
}

// SourceAddress is request address nibble, default depends on transport.
func (c *Config) SourceAddress() byte {
	if c.BMS.Address != 0 {
		return byte(c.BMS.Address)
	}
	if c.TransportName() == TransportBLE {
		return protocol.AddressBLE
	}
	return protocol.AddressSerial
}

func (c *Config) SerialDevice() string {
	if c.Serial.Device == "" {
		return uart.DefaultDevice
	}
	return c.Serial.Device
}

func (c *Config) BLEConfig() ble.Config {
	return ble.Config{
		MAC:            c.BLE.MAC,
		Adapter:        c.BLE.Adapter,
		Timeout:        helpers.IntMillisecondDefault(c.BLE.TimeoutMs, ble.DefaultTimeout),
		ConnectTimeout: helpers.IntSecondDefault(c.BLE.ConnectTimeoutSec, ble.DefaultConnectTimeout),
		ServiceUUID:    c.BLE.ServiceUUID,
		NotifyUUID:     c.BLE.NotifyUUID,
		WriteUUID:      c.BLE.WriteUUID,
		KickUUID:       c.BLE.KickUUID,
	}
}

func (c *Config) RetryDelay() time.Duration {
	return helpers.IntMillisecondDefault(c.BMS.RetryDelayMs, 0)
}

// Device identifies BMS in published records.
func (c *Config) Device() string {
	if c.TransportName() == TransportBLE {
		return c.BLE.MAC
	}
	return c.SerialDevice()
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	switch c.TransportName() {
	case TransportSerial:
	case TransportBLE:
		if c.BLE.MAC == "" {
			errs = append(errs, errors.NotValidf("config: ble.mac=empty with transport=ble"))
		}
		if c.BLE.Adapter != "" && c.BLE.Adapter != ble.DefaultAdapter {
			errs = append(errs, errors.NotSupportedf("config: ble.adapter=%s only %s", c.BLE.Adapter, ble.DefaultAdapter))
		}
	default:
		errs = append(errs, errors.NotValidf("config: bms.transport=%s expected serial|ble", c.BMS.Transport))
	}
	switch c.BMS.Address {
	case 0, int(protocol.AddressSerial), int(protocol.AddressBLE):
	default:
		errs = append(errs, errors.NotValidf("config: bms.address=%d expected 4|8", c.BMS.Address))
	}
	if c.LoopSec < 0 {
		errs = append(errs, errors.NotValidf("config: loop_sec=%d", c.LoopSec))
	}
	if _, err := log2.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, errors.Annotate(err, "config: log_level"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
			return
		}
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
