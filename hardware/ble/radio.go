package ble

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/log2"
	"tinygo.org/x/bluetooth"
)

const (
	DefaultServiceUUID = "fff0"
	DefaultNotifyUUID  = "fff1"
	DefaultWriteUUID   = "fff2"
	DefaultKickUUID    = "fff3"
)

// ParseUUID accepts 16 bit short form "fff0" or full "0000fff0-0000-1000-8000-00805f9b34fb".
func ParseUUID(s string) (bluetooth.UUID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(s) == 4 {
		x, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, errors.NotValidf("uuid=%s", s)
		}
		return bluetooth.New16BitUUID(uint16(x)), nil
	}
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		return bluetooth.UUID{}, errors.NotValidf("uuid=%s", s)
	}
	return u, nil
}

func uuidDefault(s, def string) (bluetooth.UUID, error) {
	if s == "" {
		s = def
	}
	return ParseUUID(s)
}

// radioLink is Link over tinygo bluetooth, BlueZ on linux.
type radioLink struct {
	config    Config
	log       *log2.Log
	mac       bluetooth.MAC
	adapter   *bluetooth.Adapter
	enabled   bool
	uuids     [4]bluetooth.UUID // service, notify, write, kick
	mu        sync.Mutex
	device    bluetooth.Device
	write     bluetooth.DeviceCharacteristic
	connected uint32
}

var _ Link = &radioLink{}

func NewRadioLink(config Config, log *log2.Log) (Link, error) {
	mac, err := bluetooth.ParseMAC(config.MAC)
	if err != nil {
		return nil, errors.NotValidf("bluetooth mac=%s", config.MAC)
	}
	if config.Adapter, err = checkAdapter(config.Adapter); err != nil {
		return nil, err
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	self := &radioLink{
		config:  config,
		log:     log,
		mac:     mac,
		adapter: bluetooth.DefaultAdapter,
	}
	var errs []error
	for i, pair := range [][2]string{
		{config.ServiceUUID, DefaultServiceUUID},
		{config.NotifyUUID, DefaultNotifyUUID},
		{config.WriteUUID, DefaultWriteUUID},
		{config.KickUUID, DefaultKickUUID},
	} {
		u, err := uuidDefault(pair[0], pair[1])
		errs = append(errs, err)
		self.uuids[i] = u
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, errors.Annotate(err, "bluetooth config")
	}
	return self, nil
}

func (self *radioLink) Connected() bool { return atomic.LoadUint32(&self.connected) == 1 }

func (self *radioLink) Connect(onNotify func([]byte)) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	// A crashed previous run may leave BlueZ thinking device is still connected,
	// then every connect fails until explicit disconnect.
	if err := ClearStaleLink(self.config.Adapter, self.config.MAC); err != nil {
		self.log.Debugf("bluetooth stale link clear: %v", err)
	}

	if !self.enabled {
		if err := self.adapter.Enable(); err != nil {
			return errors.Annotatef(err, "adapter=%s enable", self.config.Adapter)
		}
		self.enabled = true
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: self.mac}}
	device, err := self.adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(self.config.ConnectTimeout),
	})
	if err != nil {
		return errors.Annotatef(err, "mac=%s", self.config.MAC)
	}
	serviceUUID, notifyUUID, writeUUID, kickUUID := self.uuids[0], self.uuids[1], self.uuids[2], self.uuids[3]
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return errors.Annotatef(err, "discover service=%s", serviceUUID.String())
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{notifyUUID, writeUUID, kickUUID})
	if err != nil {
		_ = device.Disconnect()
		return errors.Annotate(err, "discover characteristics")
	}
	var notifyChar, writeChar, kickChar *bluetooth.DeviceCharacteristic
	for i := range chars {
		switch chars[i].UUID() {
		case notifyUUID:
			notifyChar = &chars[i]
		case writeUUID:
			writeChar = &chars[i]
		case kickUUID:
			kickChar = &chars[i]
		}
	}
	if notifyChar == nil || writeChar == nil {
		_ = device.Disconnect()
		return errors.NotFoundf("notify=%s or write=%s characteristic", notifyUUID.String(), writeUUID.String())
	}
	if err = notifyChar.EnableNotifications(onNotify); err != nil {
		_ = device.Disconnect()
		return errors.Annotate(err, "enable notifications")
	}
	if kickChar != nil {
		if _, err = kickChar.WriteWithoutResponse([]byte{}); err != nil {
			self.log.Infof("bluetooth kick write: %v", err)
		}
	} else {
		self.log.Debugf("bluetooth kick characteristic=%s not found", kickUUID.String())
	}

	self.device = device
	self.write = *writeChar
	atomic.StoreUint32(&self.connected, 1)
	return nil
}

func (self *radioLink) Write(b []byte) error {
	if !self.Connected() {
		return errors.Trace(errNotConnected)
	}
	if _, err := self.write.WriteWithoutResponse(b); err != nil {
		atomic.StoreUint32(&self.connected, 0)
		return errors.Annotate(err, "write characteristic")
	}
	return nil
}

func (self *radioLink) Disconnect() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if atomic.SwapUint32(&self.connected, 0) == 0 {
		return nil
	}
	return errors.Trace(self.device.Disconnect())
}

// checkAdapter: bluetooth stack on linux drives only default adapter,
// other names would silently use hci0 while stale link clear targets another device path.
func checkAdapter(name string) (string, error) {
	if name == "" {
		return DefaultAdapter, nil
	}
	if name != DefaultAdapter {
		return "", errors.NotSupportedf("bluetooth adapter=%s, only %s", name, DefaultAdapter)
	}
	return name, nil
}
