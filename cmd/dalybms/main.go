package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/dalybms/cmd/dalybms/poll"
	"github.com/temoto/dalybms/cmd/dalybms/repl"
	"github.com/temoto/dalybms/cmd/dalybms/subcmd"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/state"
)

const defaultConfig = "dalybms.hcl"

var modules = []subcmd.Mod{
	poll.Mod,
	repl.Mod,
}

var log = log2.NewStderr(log2.LInfo)

func main() {
	flags := flag.NewFlagSet("dalybms", flag.ContinueOnError)
	flagConfig := flags.String("config", defaultConfig, "config file, optional when default is absent")
	flagBT := flags.String("bt", "", "BLE MAC address, selects ble transport")
	flagSerial := flags.String("serial", "", "serial device, selects serial transport")
	flagLoop := flags.Int("loop", 0, "poll interval seconds, 0 means oneshot")
	flagMqtt := flags.Bool("mqtt", false, "publish to MQTT broker instead of console")
	flagBroker := flags.String("mqtt-broker", "", "MQTT broker URL, tcp://host:1883")
	flagTopic := flags.String("mqtt-topic", "", "MQTT topic prefix")
	flagUser := flags.String("mqtt-user", "", "")
	flagPassword := flags.String("mqtt-password", "", "")
	flagRetain := flags.Bool("mqtt-retain", false, "publish with retain flag")
	flagLogLevel := flags.String("log-level", "", "error|warning|info|debug")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: %s [options] [command]\n\nCommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(flags.Output(), "  %-6s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(flags.Output(), "\nOptions:\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	command := flags.Arg(0)
	if command == "" {
		command = poll.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Fatal(err)
	}

	set := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })

	config, err := readConfig(*flagConfig, set["config"])
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if set["bt"] {
		config.BMS.Transport = state.TransportBLE
		config.BLE.MAC = strings.ToUpper(*flagBT)
	}
	if set["serial"] {
		config.BMS.Transport = state.TransportSerial
		config.Serial.Device = *flagSerial
	}
	if set["loop"] {
		config.LoopSec = *flagLoop
	}
	if set["mqtt"] {
		config.Tele.Enabled = *flagMqtt
	}
	if set["mqtt-broker"] {
		config.Tele.MqttBroker = *flagBroker
	}
	if set["mqtt-topic"] {
		config.Tele.Topic = *flagTopic
	}
	if set["mqtt-user"] {
		config.Tele.MqttUser = *flagUser
	}
	if set["mqtt-password"] {
		config.Tele.MqttPassword = *flagPassword
	}
	if set["mqtt-retain"] {
		config.Tele.Retain = *flagRetain
	}
	if set["log-level"] {
		config.LogLevel = *flagLogLevel
	}

	log.Debugf("dalybms command=%s", mod.Name)
	ctx, _ := state.NewContext(log)
	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

// readConfig allows missing default config file, explicit -config must exist.
func readConfig(path string, explicit bool) (*state.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Debugf("config=%s not found, using defaults", path)
			return state.ReadConfig(log, state.NewMockFullReader(map[string]string{"defaults": ""}), "defaults")
		}
	}
	return state.ReadConfig(log, state.NewOsFullReader(), path)
}
