// Package tele publishes measurement records to MQTT or console.
package tele

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/juju/errors"
	"github.com/temoto/dalybms/log2"
	"github.com/temoto/spq"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	retryInterval         = 5 * time.Second
)

type Stat struct {
	Published uint32
	Failed    uint32
	Dropped   uint32
}

// Tele contract:
// - Init() fails only with invalid config, network issues ignored
// - with persist path Publish blocks at most for disk write,
//   records are delivered at least once by background worker
// - without persist path Publish delivers synchronously
// - Close() stops worker, queued records stay on disk for next run
type Tele struct {
	log       *log2.Log
	config    Config
	transport Transporter
	q         *spq.Queue
	stopCh    chan struct{}
	wg        sync.WaitGroup
	stat      Stat
}

func (self *Tele) Init(ctx context.Context, log *log2.Log, teleConfig Config) error {
	self.config = teleConfig
	self.log = log.Clone(log2.LInfo)
	if teleConfig.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	self.stopCh = make(chan struct{})

	// test code sets .transport
	if self.transport == nil { // production path
		if teleConfig.Enabled {
			self.transport = &transportMqtt{}
		} else {
			self.transport = &transportConsole{}
		}
	}
	if err := self.transport.Init(ctx, self.log, teleConfig); err != nil {
		return errors.Annotate(err, "tele transport")
	}

	if teleConfig.Enabled && teleConfig.PersistPath != "" {
		var err error
		self.q, err = spq.Open(teleConfig.PersistPath)
		if err != nil {
			return errors.Annotate(err, "tele queue")
		}
		self.wg.Add(1)
		go self.qworker()
	}
	return nil
}

func (self *Tele) Close() {
	close(self.stopCh)
	if self.q != nil {
		if err := self.q.Close(); err != nil {
			self.log.Errorf("tele queue close err=%v", err)
		}
	}
	self.wg.Wait()
	self.transport.Close()
}

func (self *Tele) Stat() Stat {
	return Stat{
		Published: atomic.LoadUint32(&self.stat.Published),
		Failed:    atomic.LoadUint32(&self.stat.Failed),
		Dropped:   atomic.LoadUint32(&self.stat.Dropped),
	}
}

func (self *Tele) Publish(r Record) error {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	s, err := r.Struct()
	if err != nil {
		atomic.AddUint32(&self.stat.Dropped, 1)
		return errors.Annotate(err, "tele publish")
	}
	if self.q != nil {
		b, err := proto.Marshal(s)
		if err != nil {
			return errors.Annotate(err, "tele marshal")
		}
		return errors.Annotate(self.q.Push(b), "tele queue push")
	}
	if !self.send(s) {
		return errors.Errorf("tele publish measurement=%s not delivered", r.Measurement)
	}
	return nil
}

func (self *Tele) send(s *structpb.Struct) bool {
	if self.transport.Send(s) {
		atomic.AddUint32(&self.stat.Published, 1)
		return true
	}
	atomic.AddUint32(&self.stat.Failed, 1)
	return false
}

func (self *Tele) qworker() {
	defer self.wg.Done()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			// success path
			b := box.Bytes()
			if self.qhandle(b) {
				if err = self.q.Delete(box); err != nil {
					self.log.Errorf("tele qhandle Delete b=%x err=%v", b, err)
				}
				continue
			}
			select {
			case <-time.After(retryInterval):
			case <-self.stopCh:
				return
			}

		case spq.ErrClosed:
			select {
			case <-self.stopCh: // success path
			default:
				self.log.Errorf("CRITICAL tele spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL tele spq err=%v", err)
			select {
			case <-time.After(retryInterval):
			case <-self.stopCh:
				return
			}
		}
	}
}

// qhandle returns true when item should be removed from queue.
func (self *Tele) qhandle(b []byte) bool {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		self.log.Errorf("tele spq item b=%x err=%v", b, err)
		atomic.AddUint32(&self.stat.Dropped, 1)
		return true // retry will not help
	}
	return self.send(&s)
}
