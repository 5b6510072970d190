// Package bms is the command layer of Daly BMS client: one method per
// measurement over any Exchanger transport, retries and payload decoding.
package bms

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/protocol"
)

const (
	DefaultRetries    = 3
	DefaultRetryDelay = 200 * time.Millisecond
)

// Exchanger performs one request/response cycle: write request, collect req.Frames payloads.
// Implemented by hardware/uart (polling) and hardware/ble (notifications).
type Exchanger interface {
	Exchange(req protocol.Request) ([][]byte, error)
}

type Options struct {
	// 0 means default, negative means single attempt
	Retries    int
	RetryDelay time.Duration
	Log        *log2.Log
}

type Client struct {
	ex         Exchanger
	log        *log2.Log
	retries    int
	retryDelay time.Duration
	sleep      func(time.Duration)

	mu     sync.RWMutex
	status *Status
}

func NewClient(ex Exchanger, opt Options) *Client {
	self := &Client{
		ex:         ex,
		log:        opt.Log,
		retries:    opt.Retries,
		retryDelay: opt.RetryDelay,
		sleep:      time.Sleep,
	}
	if self.retries == 0 {
		self.retries = DefaultRetries
	} else if self.retries < 0 {
		self.retries = 1
	}
	if self.retryDelay == 0 {
		self.retryDelay = DefaultRetryDelay
	}
	return self
}

// LastStatus returns result of last successful status read.
func (self *Client) LastStatus() (Status, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	if self.status == nil {
		return Status{}, false
	}
	return *self.status, true
}

func (self *Client) setStatus(f Fields) {
	st := statusFromFields(f)
	self.mu.Lock()
	self.status = &st
	self.mu.Unlock()
	self.log.Debugf("status cells=%d temperature_sensors=%d", st.Cells, st.TemperatureSensors)
}

// Read performs request and decode for any command in registry.
func (self *Client) Read(cmd protocol.Command) (interface{}, error) {
	sp, ok := registry[cmd]
	if !ok {
		return nil, errors.NotSupportedf("command=%s", cmd)
	}
	return self.read(sp, nil)
}

func (self *Client) read(sp *entry, extra []byte) (interface{}, error) {
	st, stOk := self.LastStatus()
	if sp.needsStatus && !stOk {
		return nil, errors.Annotatef(protocol.ErrStatusMissing, "command=%s", sp.cmd)
	}
	req := protocol.Request{
		Command:   sp.cmd,
		Extra:     extra,
		Frames:    sp.frames(st),
		Sequenced: sp.sequenced,
	}
	var payloads [][]byte
	if req.Frames > 0 {
		var err error
		if payloads, err = self.exchange(req); err != nil {
			return nil, err
		}
	}
	d := &decoder{cmd: sp.cmd, status: st, log: self.log}
	v, err := sp.decode(d, payloads)
	if err != nil {
		return nil, errors.Annotatef(err, "decode")
	}
	if sp.cmd == protocol.CommandStatus {
		self.setStatus(v.(Fields))
	}
	return v, nil
}

func (self *Client) fields(cmd protocol.Command) (Fields, error) {
	v, err := self.read(registry[cmd], nil)
	if err != nil {
		return nil, err
	}
	return v.(Fields), nil
}

func (self *Client) indexed(cmd protocol.Command) (Indexed, error) {
	v, err := self.read(registry[cmd], nil)
	if err != nil {
		return nil, err
	}
	return v.(Indexed), nil
}

// Status reads cell and sensor count, required before CellVoltages, Temperatures, BalancingStatus.
func (self *Client) Status() (Fields, error) { return self.fields(protocol.CommandStatus) }

func (self *Client) SOC() (Fields, error) { return self.fields(protocol.CommandSOC) }
func (self *Client) CellVoltageRange() (Fields, error) {
	return self.fields(protocol.CommandCellVoltageRange)
}
func (self *Client) TemperatureRange() (Fields, error) {
	return self.fields(protocol.CommandTemperatureRange)
}
func (self *Client) MosfetStatus() (Fields, error) { return self.fields(protocol.CommandMosfetStatus) }
func (self *Client) CellVoltages() (Indexed, error) { return self.indexed(protocol.CommandCellVoltages) }
func (self *Client) Temperatures() (Indexed, error) { return self.indexed(protocol.CommandTemperatures) }
func (self *Client) BalancingStatus() (Indexed, error) {
	return self.indexed(protocol.CommandBalancingStatus)
}

func (self *Client) Errors() (Faults, error) {
	v, err := self.read(registry[protocol.CommandErrors], nil)
	if err != nil {
		return nil, err
	}
	return v.(Faults), nil
}

func (self *Client) SoftwareVersion() (Fields, error) {
	return self.fields(protocol.CommandSoftwareVersion)
}
func (self *Client) HardwareVersion() (Fields, error) {
	return self.fields(protocol.CommandHardwareVersion)
}
func (self *Client) CellAlarmVoltages() (Fields, error) {
	return self.fields(protocol.CommandCellAlarmVoltages)
}
func (self *Client) PackAlarmVoltages() (Fields, error) {
	return self.fields(protocol.CommandPackAlarmVoltages)
}
func (self *Client) DiffAlarms() (Fields, error) { return self.fields(protocol.CommandDiffAlarms) }
func (self *Client) LoadChargeAlarms() (Fields, error) {
	return self.fields(protocol.CommandLoadChargeAlarms)
}
func (self *Client) RatedNominals() (Fields, error) { return self.fields(protocol.CommandRatedNominals) }
func (self *Client) BalanceSettings() (Fields, error) {
	return self.fields(protocol.CommandBalanceSettings)
}
func (self *Client) ShutdownThresholds() (Fields, error) {
	return self.fields(protocol.CommandShutdownThresholds)
}

// SetDischargeMosfet switches load output. BMS echoes new state in response.
func (self *Client) SetDischargeMosfet(on bool) (Fields, error) {
	extra := []byte{0}
	if on {
		extra[0] = 1
	}
	v, err := self.read(registry[protocol.CommandSetDischargeMosfet], extra)
	if err != nil {
		return nil, err
	}
	f := v.(Fields)
	if got, _ := f.Bool("discharging_mosfet"); got != on {
		self.log.Warningf("discharge mosfet requested=%t response=%t", on, got)
	}
	return f, nil
}

// All reads canonical measurement subset keyed by Name().
// Failed measurements are absent from result and folded into error.
func (self *Client) All() (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(allOrder))
	var errs []error
	for _, cmd := range allOrder {
		v, err := self.Read(cmd)
		if err != nil {
			errs = append(errs, errors.Annotatef(err, "%s", Name(cmd)))
			continue
		}
		result[Name(cmd)] = v
	}
	return result, helpers.FoldErrors(errs)
}

// Raw sends any command and returns collected payloads without decoding.
func (self *Client) Raw(cmd protocol.Command, extra []byte, frames int) ([][]byte, error) {
	if frames <= 0 {
		frames = 1
	}
	return self.exchange(protocol.Request{Command: cmd, Extra: extra, Frames: frames})
}
