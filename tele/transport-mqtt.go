package tele

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/juju/errors"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/log2"
)

const mqttQos = 1

type transportMqtt struct {
	log    *log2.Log
	m      mqtt.Client
	mopt   *mqtt.ClientOptions
	stopCh chan struct{}
	// closed after first successful connect
	ready     chan struct{}
	readyOnce sync.Once
	topic     string
	retain    bool
}

func (self *transportMqtt) Init(ctx context.Context, log *log2.Log, teleConfig Config) error {
	self.log = log
	mqttLog := log.Clone(log2.LDebug)
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if teleConfig.MqttLogDebug {
		mqtt.DEBUG = mqttLog
	}

	if teleConfig.MqttBroker == "" {
		teleConfig.MqttBroker = DefaultBroker
	}
	if teleConfig.MqttClientId == "" {
		teleConfig.MqttClientId = DefaultClientId
	}
	self.topic = teleConfig.Topic
	if self.topic == "" {
		self.topic = DefaultTopic
	}
	self.retain = teleConfig.Retain
	self.stopCh = make(chan struct{})
	self.ready = make(chan struct{})

	networkTimeout := helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, DefaultNetworkTimeout)
	if networkTimeout < 1*time.Second {
		networkTimeout = 1 * time.Second
	}
	connectTimeout := networkTimeout * 3
	keepaliveTimeout := helpers.IntSecondDefault(teleConfig.KeepaliveSec, networkTimeout/2)

	self.mopt = mqtt.NewClientOptions().
		AddBroker(teleConfig.MqttBroker).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetClientID(teleConfig.MqttClientId).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepaliveTimeout).
		SetMaxReconnectInterval(connectTimeout).
		SetOrderMatters(false).
		SetPingTimeout(networkTimeout).
		SetWriteTimeout(networkTimeout)
	if teleConfig.MqttUser != "" {
		self.mopt.SetUsername(teleConfig.MqttUser).SetPassword(teleConfig.MqttPassword)
	}
	// test code puts mock client into context
	if m, ok := ctx.Value(mqttMockContextKey).(*MqttMock); ok {
		m.MockNew(self.mopt)
		self.m = m
	} else {
		self.m = mqtt.NewClient(self.mopt)
	}

	go self.online()
	return nil
}

func (self *transportMqtt) Close() {
	close(self.stopCh)
	if self.m.IsConnected() {
		self.m.Disconnect(uint(self.mopt.PingTimeout / time.Millisecond))
	}
}

func (self *transportMqtt) Send(record *structpb.Struct) bool {
	leaves, err := Leaves(self.topic, record)
	if err != nil {
		self.log.Errorf("tele mqtt %v", err)
		return true // retry will not help
	}
	if !self.m.IsConnected() && !self.waitReady() {
		self.log.Debugf("tele mqtt not connected")
		return false
	}
	for _, leaf := range leaves {
		self.log.Debugf("tele mqtt publish topic=%s payload=%s retain=%t", leaf.Topic, leaf.Payload, self.retain)
		t := self.m.Publish(leaf.Topic, mqttQos, self.retain, leaf.Payload)
		if self.tokenWait(t, "publish "+leaf.Topic) != nil {
			return false
		}
	}
	return true
}

func (self *transportMqtt) online() {
	for self.isRunning() {
		if self.m.IsConnected() {
			self.readyOnce.Do(func() { close(self.ready) })
			return
		}
		self.log.Debugf("tele connect before")
		t := self.m.Connect()
		if self.tokenWait(t, "connect") == nil {
			self.log.Infof("tele mqtt connected broker=%v", self.mopt.Servers)
			self.readyOnce.Do(func() { close(self.ready) })
			return // success path
		}
		time.Sleep(1 * time.Second)
	}
}

// waitReady blocks until initial connect is done, at most network timeout.
// Later disconnects are handled by paho auto reconnect, no waiting then.
func (self *transportMqtt) waitReady() bool {
	select {
	case <-self.ready:
	case <-self.stopCh:
		return false
	case <-time.After(self.mopt.WriteTimeout):
		return false
	}
	return self.m.IsConnected()
}

func (self *transportMqtt) isRunning() bool {
	select {
	case <-self.stopCh:
		return false
	default:
		return true
	}
}

func (self *transportMqtt) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(self.mopt.WriteTimeout) {
		err := errors.Timeoutf("tele MQTT %s", tag)
		self.log.Error(err)
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotatef(err, "tele MQTT %s", tag)
		self.log.Error(err)
		return err
	}
	return nil
}
