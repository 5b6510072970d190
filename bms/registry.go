package bms

import (
	"strings"

	"github.com/temoto/dalybms/protocol"
)

const (
	cellsPerFrame   = 3
	sensorsPerFrame = 7
)

type decodeFunc func(d *decoder, payloads [][]byte) (interface{}, error)

// framesFunc returns number of response frames, may depend on last status.
type framesFunc func(st Status) int

type entry struct {
	cmd         protocol.Command
	name        string
	title       string
	frames      framesFunc
	needsStatus bool
	sequenced   bool
	decode      decodeFunc
}

func constFrames(n int) framesFunc { return func(Status) int { return n } }

func statusFrames(count func(Status) int, perFrame int) framesFunc {
	return func(st Status) int { return ceilDiv(count(st), perFrame) }
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

var mosfetModes = map[int64]string{0: "stationary", 1: "charging"}

var registry = map[protocol.Command]*entry{}

// PollOrder is the measurement sequence of one session pass.
var PollOrder []protocol.Command

// allOrder is the canonical subset returned by Client.All.
var allOrder = []protocol.Command{
	protocol.CommandSOC,
	protocol.CommandCellVoltageRange,
	protocol.CommandTemperatureRange,
	protocol.CommandMosfetStatus,
	protocol.CommandStatus,
	protocol.CommandCellVoltages,
	protocol.CommandTemperatures,
	protocol.CommandBalancingStatus,
	protocol.CommandErrors,
}

func init() {
	entries := []*entry{
		{cmd: protocol.CommandStatus, name: "status", title: "Status", decode: decodeLayout(layout{
			u8("cells"),
			u8("temperature_sensors"),
			flag("charger_running"),
			flag("load_running"),
			bitset("DI1", "DI2", "DI3", "DI4", "DO1", "DO2", "DO3", "DO4"),
			u16("cycles"),
			pad(1),
		})},
		{cmd: protocol.CommandSOC, name: "soc", title: "SOC", decode: decodeLayout(layout{
			u16("total_voltage").div(10),
			pad(2),
			// negative=charging, positive=discharging
			u16("current").offset(30000).div(10),
			u16("soc_percent").div(10),
		})},
		{cmd: protocol.CommandCellVoltages, name: "cell_voltages", title: "CellVoltages",
			frames: statusFrames(func(st Status) int { return st.Cells }, cellsPerFrame),
			needsStatus: true, sequenced: true, decode: decodeCellVoltages},
		{cmd: protocol.CommandMosfetStatus, name: "mosfet_status", title: "MOSFetStatus", decode: decodeLayout(layout{
			u8("mode").names(mosfetModes, "discharging"),
			flag("charging_mosfet"),
			flag("discharging_mosfet"),
			u8("bms_cycles"),
			i32("capacity_ah").div(1000),
		})},
		{cmd: protocol.CommandTemperatures, name: "temperatures", title: "Temperatures",
			frames: statusFrames(func(st Status) int { return st.TemperatureSensors }, sensorsPerFrame),
			needsStatus: true, sequenced: true, decode: decodeTemperatures},
		{cmd: protocol.CommandTemperatureRange, name: "temperature_range", title: "TemperatureRange", decode: decodeLayout(layout{
			temperature("highest_temperature"),
			u8("highest_sensor"),
			temperature("lowest_temperature"),
			u8("lowest_sensor"),
			pad(4),
		})},
		{cmd: protocol.CommandCellVoltageRange, name: "cell_voltage_range", title: "CellVoltageRange", decode: decodeLayout(layout{
			u16("highest_voltage").div(1000),
			u8("highest_cell"),
			u16("lowest_voltage").div(1000),
			u8("lowest_cell"),
			pad(2),
		})},
		{cmd: protocol.CommandBalancingStatus, name: "balancing_status", title: "CellBalancingStatus",
			needsStatus: true, decode: decodeBalancing},
		{cmd: protocol.CommandErrors, name: "errors", title: "ErrorStatus", decode: decodeFaults},
		{cmd: protocol.CommandSoftwareVersion, name: "software_version", title: "SoftwareVersion",
			frames: constFrames(2), sequenced: true, decode: decodeVersion},
		{cmd: protocol.CommandHardwareVersion, name: "hardware_version", title: "HardwareVersion",
			frames: constFrames(2), sequenced: true, decode: decodeVersion},
		{cmd: protocol.CommandCellAlarmVoltages, name: "cell_alarm_voltages", title: "CellAlarmVoltages", decode: decodeLayout(layout{
			u16("alarm1_max_voltage").div(1000),
			u16("alarm2_max_voltage").div(1000),
			u16("alarm1_min_voltage").div(1000),
			u16("alarm2_min_voltage").div(1000),
		})},
		{cmd: protocol.CommandPackAlarmVoltages, name: "pack_alarm_voltages", title: "PackAlarmVoltages", decode: decodeLayout(layout{
			u16("alarm1_max_voltage").div(10),
			u16("alarm2_max_voltage").div(10),
			u16("alarm1_min_voltage").div(10),
			u16("alarm2_min_voltage").div(10),
		})},
		{cmd: protocol.CommandDiffAlarms, name: "diff_alarms", title: "DiffAlarmsTempVolt", decode: decodeLayout(layout{
			u16("alarm1_cell_volt_diff").div(1000),
			u16("alarm2_cell_volt_diff").div(1000),
			u8("alarm1_temp_diff"),
			u8("alarm2_temp_diff"),
			pad(2),
		})},
		{cmd: protocol.CommandLoadChargeAlarms, name: "load_charge_alarms", title: "LoadChargeAlarms", decode: decodeLayout(layout{
			u16("alarm1_charge_amperage").offset(30000).reverse().div(10),
			u16("alarm2_charge_amperage").offset(30000).reverse().div(10),
			u16("alarm1_load_amperage").offset(30000).div(10),
			u16("alarm2_load_amperage").offset(30000).div(10),
		})},
		{cmd: protocol.CommandRatedNominals, name: "rated_nominals", title: "RatedNominals", decode: decodeLayout(layout{
			u32("rated_capacity_ah").div(1000),
			pad(2),
			u16("nominal_cell_voltage").div(1000),
		})},
		{cmd: protocol.CommandBalanceSettings, name: "balance_settings", title: "BalanceSettings", decode: decodeLayout(layout{
			u16("balance_start_voltage").div(1000),
			u16("balance_acceptable_diff").div(1000),
			pad(4),
		})},
		{cmd: protocol.CommandShutdownThresholds, name: "shutdown_thresholds", title: "ShortShutdownAmpsInternalOhms", decode: decodeLayout(layout{
			u16("short_shutdown_amps"),
			u16("sampling_resistance_ohm").div(1000),
			pad(4),
		})},
		{cmd: protocol.CommandSetDischargeMosfet, name: "set_discharge_mosfet", title: "SetDischargeMosfet", decode: decodeLayout(layout{
			flag("discharging_mosfet"),
			pad(7),
		})},
	}
	for _, s := range entries {
		if s.frames == nil {
			s.frames = constFrames(1)
		}
		registry[s.cmd] = s
		if s.cmd != protocol.CommandSetDischargeMosfet {
			PollOrder = append(PollOrder, s.cmd)
		}
	}
}

// Title is measurement name used in published records, "CellVoltages".
func Title(cmd protocol.Command) string {
	if s, ok := registry[cmd]; ok {
		return s.title
	}
	return cmd.String()
}

// Name is key in All() result, "cell_voltages".
func Name(cmd protocol.Command) string {
	if s, ok := registry[cmd]; ok {
		return s.name
	}
	return cmd.String()
}

// Lookup finds readable command by name, title or protocol.ParseCommand syntax.
func Lookup(s string) (protocol.Command, bool) {
	for _, sp := range registry {
		if strings.EqualFold(s, sp.name) || strings.EqualFold(s, sp.title) {
			return sp.cmd, true
		}
	}
	if cmd, err := protocol.ParseCommand(s); err == nil {
		if _, ok := registry[cmd]; ok {
			return cmd, true
		}
	}
	return 0, false
}
