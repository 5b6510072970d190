// Interactive mode: type measurement names, raw commands, see decoded responses.
package repl

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/dalybms/bms"
	"github.com/temoto/dalybms/cmd/dalybms/subcmd"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/helpers/cli"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/dalybms/protocol"
	"github.com/temoto/dalybms/state"
)

const usage = `syntax: commands separated by whitespace
(main)
- status, soc, cell_voltages, ...  read and decode measurement (name, title or hex code)
- all          read canonical measurement set
- mosfet=on    switch discharge MOSFET, also mosfet=off
- @XX[YY..]    send raw command XX with optional extra payload, show response frames
- @XX[YY..]*N  same, collect N response frames
- sN           pause N milliseconds

(meta)
- log=yes  enable debug logging
- log=no   disable debug logging
- loop=N   repeat N times all commands on this line
`

var Mod = subcmd.Mod{Name: "cli", Usage: "interactive console", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Tele.Close()
	if _, err := g.BMS(); err != nil {
		return errors.Annotate(err, "connect")
	}
	defer func() {
		if err := g.Disconnect(); err != nil {
			g.Log.Error(err)
		}
	}()

	cli.MainLoop("dalybms-cli", newExecutor(ctx), newCompleter())
	return nil
}

// action is one parsed word of input line.
type action struct {
	name string
	f    func(ctx context.Context) error
}

func (self action) Do(ctx context.Context) error { return self.f(ctx) }

func seq(name string, as []action, repeat uint) action {
	return action{name: name, f: func(ctx context.Context) error {
		for i := uint(0); i < repeat; i++ {
			for _, a := range as {
				if err := a.Do(ctx); err != nil {
					return errors.Annotate(err, a.name)
				}
			}
		}
		return nil
	}}
}

var doUsage = action{name: "help", f: func(ctx context.Context) error {
	state.GetGlobal(ctx).Log.Infof(usage)
	return nil
}}
var doLogYes = action{name: "log=yes", f: func(ctx context.Context) error {
	state.GetGlobal(ctx).Log.SetLevel(log2.LDebug)
	return nil
}}
var doLogNo = action{name: "log=no", f: func(ctx context.Context) error {
	state.GetGlobal(ctx).Log.SetLevel(log2.LInfo)
	return nil
}}
var doAll = action{name: "all", f: func(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	client, err := g.BMS()
	if err != nil {
		return err
	}
	m, err := client.All()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g.Log.Infof("%s %s", k, format(m[k]))
	}
	return err
}}

func newRead(cmd protocol.Command) action {
	return action{name: bms.Name(cmd), f: func(ctx context.Context) error {
		g := state.GetGlobal(ctx)
		client, err := g.BMS()
		if err != nil {
			return err
		}
		v, err := client.Read(cmd)
		if err != nil {
			return err
		}
		g.Log.Infof("%s %s", bms.Title(cmd), format(v))
		return nil
	}}
}

func newMosfet(on bool) action {
	return action{name: fmt.Sprintf("mosfet=%t", on), f: func(ctx context.Context) error {
		g := state.GetGlobal(ctx)
		client, err := g.BMS()
		if err != nil {
			return err
		}
		f, err := client.SetDischargeMosfet(on)
		if err != nil {
			return err
		}
		g.Log.Infof("discharge mosfet %s", format(f))
		return nil
	}}
}

func newRaw(cmd protocol.Command, extra []byte, frames int) action {
	return action{name: fmt.Sprintf("@%02x", byte(cmd)), f: func(ctx context.Context) error {
		g := state.GetGlobal(ctx)
		client, err := g.BMS()
		if err != nil {
			return err
		}
		payloads, err := client.Raw(cmd, extra, frames)
		if err != nil {
			return err
		}
		for _, p := range payloads {
			f := protocol.BuildResponse(cmd, p)
			g.Log.Infof("< %s", f.Format())
		}
		return nil
	}}
}

func sleep(d time.Duration) action {
	return action{name: "sleep", f: func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
}

// format prints map values with sorted keys.
func format(v interface{}) string {
	switch x := v.(type) {
	case bms.Indexed:
		parts := make([]string, 0, len(x))
		for _, k := range x.Keys() {
			parts = append(parts, fmt.Sprintf("%d=%v", k, x[k]))
		}
		return strings.Join(parts, " ")
	case bms.Fields:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(x))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, x[k]))
		}
		return strings.Join(parts, " ")
	case bms.Faults:
		return strings.Join(x, "; ")
	}
	return fmt.Sprint(v)
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "all", Description: "read canonical measurement set"},
		{Text: "mosfet=on", Description: "enable discharge MOSFET"},
		{Text: "mosfet=off", Description: "disable discharge MOSFET"},
		{Text: "@XX", Description: "send raw command, show response frames"},
		{Text: "sN", Description: "pause for N ms"},
		{Text: "loop=N", Description: "repeat line N times"},
		{Text: "log=yes", Description: "debug logging"},
		{Text: "help", Description: "show usage"},
	}
	for _, cmd := range bms.PollOrder {
		suggests = append(suggests, prompt.Suggest{Text: bms.Name(cmd), Description: bms.Title(cmd)})
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context) func(string) {
	g := state.GetGlobal(ctx)
	return func(line string) {
		d, err := parseLine(line)
		if err != nil {
			g.Log.Errorf(errors.ErrorStack(err))
			return
		}
		if err = d.Do(ctx); err != nil {
			g.Log.Errorf(errors.ErrorStack(err))
		}
	}
}

func parseLine(line string) (action, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return seq("empty", nil, 0), nil
	}

	// pre-parse special commands
	loopn := uint(0)
	wordsRest := make([]string, 0, len(words))
	for _, word := range words {
		switch {
		case word == "help":
			return doUsage, nil
		case strings.HasPrefix(word, "loop="):
			if loopn != 0 {
				return action{}, errors.Errorf("multiple loop commands, expected at most one")
			}
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil {
				return action{}, errors.Annotatef(err, "word=%s", word)
			}
			loopn = uint(i)
		default:
			wordsRest = append(wordsRest, word)
		}
	}

	as := make([]action, 0, len(wordsRest))
	for _, word := range wordsRest {
		a, err := parseCommand(word)
		if err != nil {
			return action{}, err
		}
		as = append(as, a)
	}
	if loopn == 0 {
		loopn = 1
	}
	return seq("input:"+line, as, loopn), nil
}

func parseCommand(word string) (action, error) {
	switch {
	case word == "log=yes":
		return doLogYes, nil
	case word == "log=no":
		return doLogNo, nil
	case word == "all":
		return doAll, nil
	case word == "mosfet=on":
		return newMosfet(true), nil
	case word == "mosfet=off":
		return newMosfet(false), nil
	case word[0] == '@':
		return parseRaw(word[1:])
	case word[0] == 's' && len(word) > 1 && word[1] >= '0' && word[1] <= '9':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return action{}, errors.Annotatef(err, "word=%s", word)
		}
		return sleep(time.Duration(i) * time.Millisecond), nil
	}
	if cmd, ok := bms.Lookup(word); ok {
		return newRead(cmd), nil
	}
	return action{}, errors.Errorf("error: invalid command: '%s'", word)
}

// parseRaw accepts "90", "d901", "95*6".
func parseRaw(s string) (action, error) {
	frames := 1
	if i := strings.IndexByte(s, '*'); i >= 0 {
		n, err := strconv.Atoi(s[i+1:])
		if err != nil || n <= 0 {
			return action{}, errors.NotValidf("frames=%s", s[i+1:])
		}
		frames = n
		s = s[:i]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return action{}, errors.Annotatef(err, "raw=%s", s)
	}
	if len(b) == 0 {
		return action{}, errors.NotValidf("raw command empty")
	}
	if len(b)-1 > protocol.PayloadLength {
		return action{}, errors.NotValidf("raw extra=%s length > %d", helpers.HexGroups(b[1:], protocol.PayloadLength), protocol.PayloadLength)
	}
	return newRaw(protocol.Command(b[0]), b[1:], frames), nil
}
