package tele

import (
	"context"
	"testing"
	"time"

	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/temoto/dalybms/log2"
)

type transportMock struct {
	t              testing.TB
	networkTimeout time.Duration
	outBuffer      int
	out            chan *structpb.Struct
	closed         bool
}

func (self *transportMock) Init(ctx context.Context, log *log2.Log, teleConfig Config) error {
	if self.networkTimeout == 0 {
		self.networkTimeout = DefaultNetworkTimeout
	}
	self.out = make(chan *structpb.Struct, self.outBuffer)
	return nil
}

func (self *transportMock) Send(record *structpb.Struct) bool {
	select {
	case self.out <- record:
		self.t.Logf("mock delivered record=%v", record)
	case <-time.After(self.networkTimeout):
		self.t.Logf("mock network timeout")
		return false
	}
	return true
}

func (self *transportMock) Close() { self.closed = true }
