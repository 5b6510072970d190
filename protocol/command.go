package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

type Command byte

const (
	CommandRatedNominals      Command = 0x50
	CommandCellAlarmVoltages  Command = 0x59
	CommandPackAlarmVoltages  Command = 0x5a
	CommandLoadChargeAlarms   Command = 0x5b
	CommandDiffAlarms         Command = 0x5e
	CommandBalanceSettings    Command = 0x5f
	CommandShutdownThresholds Command = 0x60
	CommandSoftwareVersion    Command = 0x62
	CommandHardwareVersion    Command = 0x63
	CommandSOC                Command = 0x90
	CommandCellVoltageRange   Command = 0x91
	CommandTemperatureRange   Command = 0x92
	CommandMosfetStatus       Command = 0x93
	CommandStatus             Command = 0x94
	CommandCellVoltages       Command = 0x95
	CommandTemperatures       Command = 0x96
	CommandBalancingStatus    Command = 0x97
	CommandErrors             Command = 0x98
	CommandSetDischargeMosfet Command = 0xd9
)

var commandNames = map[Command]string{
	CommandRatedNominals:      "rated-nominals",
	CommandCellAlarmVoltages:  "cell-alarm-voltages",
	CommandPackAlarmVoltages:  "pack-alarm-voltages",
	CommandLoadChargeAlarms:   "load-charge-alarms",
	CommandDiffAlarms:         "diff-alarms",
	CommandBalanceSettings:    "balance-settings",
	CommandShutdownThresholds: "shutdown-thresholds",
	CommandSoftwareVersion:    "software-version",
	CommandHardwareVersion:    "hardware-version",
	CommandSOC:                "soc",
	CommandCellVoltageRange:   "cell-voltage-range",
	CommandTemperatureRange:   "temperature-range",
	CommandMosfetStatus:       "mosfet-status",
	CommandStatus:             "status",
	CommandCellVoltages:       "cell-voltages",
	CommandTemperatures:       "temperatures",
	CommandBalancingStatus:    "balancing-status",
	CommandErrors:             "errors",
	CommandSetDischargeMosfet: "set-discharge-mosfet",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return fmt.Sprintf("%02x(%s)", byte(c), name)
	}
	return fmt.Sprintf("%02x", byte(c))
}

// ParseCommand accepts hex code "90", "0x90" or name "soc".
// Unknown hex codes are allowed, raw access to undocumented firmware commands.
func ParseCommand(s string) (Command, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range commandNames {
		if name == s {
			return c, nil
		}
	}
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 2 {
		return 0, errors.NotValidf("command=%s", s)
	}
	x, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, errors.NotValidf("command=%s", s)
	}
	return Command(x), nil
}
