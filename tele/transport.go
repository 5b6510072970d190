package tele

import (
	"context"
	"io"
	"os"

	"github.com/golang/protobuf/jsonpb"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/juju/errors"
	"github.com/temoto/dalybms/log2"
)

type Transporter interface {
	Init(ctx context.Context, log *log2.Log, teleConfig Config) error
	// Send returns false when delivery should be retried later.
	Send(record *structpb.Struct) bool
	Close()
}

// transportConsole prints records as indented JSON list, used when MQTT is disabled.
type transportConsole struct {
	log *log2.Log
	w   io.Writer
	m   jsonpb.Marshaler
}

func (self *transportConsole) Init(ctx context.Context, log *log2.Log, teleConfig Config) error {
	self.log = log
	if self.w == nil {
		self.w = os.Stdout
	}
	self.m = jsonpb.Marshaler{Indent: "  "}
	return nil
}

func (self *transportConsole) Send(record *structpb.Struct) bool {
	e, err := openEnvelope(record)
	if err != nil {
		self.log.Errorf("tele console %v", err)
		return true // retry will not help
	}
	if err = self.m.Marshal(self.w, e.list()); err == nil {
		_, err = io.WriteString(self.w, "\n")
	}
	if err != nil {
		self.log.Error(errors.Annotate(err, "tele console write"))
		return false
	}
	return true
}

func (self *transportConsole) Close() {}
