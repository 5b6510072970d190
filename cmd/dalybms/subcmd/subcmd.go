// Package subcmd selects dalybms run mode by first command line argument.
package subcmd

import (
	"context"
	"log"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/dalybms/state"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(context.Context, *state.Config) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, errors.NotValidf("empty command")
	}
	for i := range modules {
		if modules[i].Name == "" || modules[i].Main == nil {
			panic("code error subcmd.Mod without Name or Main")
		}
		if modules[i].Name == command {
			return &modules[i], nil
		}
	}
	return nil, errors.NotFoundf("command=%s", command)
}

// SdNotify returns true when running under systemd with notify socket.
func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
