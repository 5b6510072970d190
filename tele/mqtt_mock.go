package tele

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

// MqttMock is in-memory mqtt.Client recording publishes.
type MqttMock struct {
	Opt *mqtt.ClientOptions
	Pub chan MockMsg

	mu           sync.Mutex
	connected    bool
	connectDelay time.Duration
	publishErr   error
}

var _ mqtt.Client = &MqttMock{}

func NewMqttMock() *MqttMock {
	return &MqttMock{Pub: make(chan MockMsg, 256)}
}

func (self *MqttMock) MockNew(opt *mqtt.ClientOptions) {
	self.Opt = opt
}

// FailPublish makes following publishes return err, nil restores success.
func (self *MqttMock) FailPublish(err error) {
	self.mu.Lock()
	self.publishErr = err
	self.mu.Unlock()
}

func (self *MqttMock) Disconnect(uint) {
	self.mu.Lock()
	self.connected = false
	self.mu.Unlock()
}
func (self *MqttMock) IsConnected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connected
}
func (self *MqttMock) IsConnectionOpen() bool { return self.IsConnected() }

// DelayConnect makes Connect take d, like slow broker handshake.
func (self *MqttMock) DelayConnect(d time.Duration) {
	self.mu.Lock()
	self.connectDelay = d
	self.mu.Unlock()
}

func (self *MqttMock) Connect() mqtt.Token {
	self.mu.Lock()
	d := self.connectDelay
	self.mu.Unlock()
	time.Sleep(d)
	self.mu.Lock()
	self.connected = true
	self.mu.Unlock()
	return mockToken{nil}
}

func (self *MqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	self.mu.Lock()
	err := self.publishErr
	self.mu.Unlock()
	if err != nil {
		return mockToken{err}
	}
	var p []byte
	switch x := payload.(type) {
	case string:
		p = []byte(x)
	case []byte:
		p = append([]byte(nil), x...)
	default:
		panic(fmt.Sprintf("code error mqtt payload type=%T", payload))
	}
	self.Pub <- MockMsg{T: topic, P: p, Q: qos, R: retain}
	return mockToken{nil}
}

func (self *MqttMock) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) AddRoute(string, mqtt.MessageHandler) { panic("not implemented") }
func (self *MqttMock) OptionsReader() mqtt.ClientOptionsReader {
	panic("not implemented")
}
func (self *MqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) Unsubscribe(...string) mqtt.Token { panic("not implemented") }

type mockToken struct{ error }

func (tok mockToken) Error() error                   { return tok.error }
func (tok mockToken) Wait() bool                     { return !errors.IsTimeout(tok.error) }
func (tok mockToken) WaitTimeout(time.Duration) bool { return tok.Wait() }

type MockMsg struct {
	T string
	P []byte
	Q byte
	R bool
}

func (msg MockMsg) Ack()              {}
func (msg MockMsg) Duplicate() bool   { return false }
func (msg MockMsg) MessageID() uint16 { return 0 }
func (msg MockMsg) Payload() []byte   { return msg.P }
func (msg MockMsg) Qos() byte         { return msg.Q }
func (msg MockMsg) Retained() bool    { return msg.R }
func (msg MockMsg) Topic() string     { return msg.T }

type mqttMockKey struct{}

var mqttMockContextKey = mqttMockKey{}

func ContextWithMqttMock(ctx context.Context, c *MqttMock) context.Context {
	return context.WithValue(ctx, mqttMockContextKey, c)
}
