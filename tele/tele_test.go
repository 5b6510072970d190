package tele

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/dalybms/helpers"
	"github.com/temoto/dalybms/log2"
)

var testTime = time.Unix(1600000000, 500*int64(time.Millisecond))

type testFields map[string]interface{}

func (self testFields) Map() map[string]interface{} { return self }

func TestLeaves(t *testing.T) {
	t.Parallel()

	type Case struct {
		name   string
		topic  string
		data   interface{}
		expect []Leaf
	}
	cases := []Case{
		{"flat", "DalySmartBMS", testFields{"total_voltage": 52.9, "current": -10.0, "soc_percent": 80.0}, []Leaf{
			{"DalySmartBMS/SOC/aa:bb/time", "1600000000.5"},
			{"DalySmartBMS/SOC/aa:bb/current", "-10"},
			{"DalySmartBMS/SOC/aa:bb/soc_percent", "80"},
			{"DalySmartBMS/SOC/aa:bb/total_voltage", "52.9"},
		}},
		{"nested-list", "bms/", map[string]interface{}{
			"cells":  map[string]interface{}{"1": 3.333, "2": 3.334},
			"errors": []string{"cell volt high level 1", "no error"},
			"mode":   "charging",
			"on":     true,
		}, []Leaf{
			{"bms/SOC/aa:bb/time", "1600000000.5"},
			{"bms/SOC/aa:bb/cells/1", "3.333"},
			{"bms/SOC/aa:bb/cells/2", "3.334"},
			{"bms/SOC/aa:bb/errors", `["cell volt high level 1","no error"]`},
			{"bms/SOC/aa:bb/mode", "charging"},
			{"bms/SOC/aa:bb/on", "true"},
		}},
		{"cells-numeric", "bms", map[string]interface{}{
			"cells": map[string]interface{}{"10": 3.31, "2": 3.302, "1": 3.301, "min": 3.301},
		}, []Leaf{
			{"bms/SOC/aa:bb/time", "1600000000.5"},
			{"bms/SOC/aa:bb/cells/1", "3.301"},
			{"bms/SOC/aa:bb/cells/2", "3.302"},
			{"bms/SOC/aa:bb/cells/10", "3.31"},
			{"bms/SOC/aa:bb/cells/min", "3.301"},
		}},
		{"scalar", "x", 42, []Leaf{
			{"x/SOC/aa:bb/time", "1600000000.5"},
			{"x/SOC/aa:bb/value", "42"},
		}},
	}
	helpers.RandUnix().Shuffle(len(cases), func(i int, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			r := Record{Measurement: "SOC", Device: "aa:bb", Time: testTime, Data: c.data}
			s, err := r.Struct()
			require.NoError(t, err)
			leaves, err := Leaves(c.topic, s)
			require.NoError(t, err)
			assert.Equal(t, c.expect, leaves)
		})
	}
}

func TestRecordUnsupported(t *testing.T) {
	t.Parallel()

	r := Record{Measurement: "SOC", Data: map[string]interface{}{"ch": make(chan int)}}
	_, err := r.Struct()
	assert.True(t, errors.IsNotSupported(errors.Cause(err)))
}

func TestPublishConsole(t *testing.T) {
	t.Parallel()

	buf := bytes.NewBuffer(nil)
	tele := &Tele{transport: &transportConsole{w: buf}}
	require.NoError(t, tele.Init(context.Background(), log2.NewTest(t, log2.LDebug), Config{}))
	defer tele.Close()
	require.NoError(t, tele.Publish(Record{
		Measurement: "Status",
		Device:      "/dev/ttyUSB0",
		Time:        testTime,
		Data:        testFields{"cells": 16, "charger_running": true},
	}))

	var actual []interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &actual))
	assert.Equal(t, []interface{}{
		"Status", "/dev/ttyUSB0", 1600000000.5,
		map[string]interface{}{"cells": 16.0, "charger_running": true},
	}, actual)
	assert.Equal(t, uint32(1), tele.Stat().Published)
}

func testMqtt(t testing.TB, config Config) (*Tele, *MqttMock) {
	broker := NewMqttMock()
	ctx := ContextWithMqttMock(context.Background(), broker)
	tele := new(Tele)
	require.NoError(t, tele.Init(ctx, log2.NewTest(t, log2.LDebug), config))
	for !broker.IsConnected() {
		time.Sleep(time.Millisecond)
	}
	return tele, broker
}

func TestPublishMqtt(t *testing.T) {
	// FIXME ugly `mqtt.CRITICAL/ERROR/WARN/DEBUG` global variables
	// t.Parallel()

	tele, broker := testMqtt(t, Config{
		Enabled:      true,
		MqttBroker:   "tcp://mock:1883",
		MqttUser:     "user",
		MqttPassword: "secret",
		Retain:       true,
	})
	defer tele.Close()
	assert.Equal(t, "user", broker.Opt.Username)
	require.NoError(t, tele.Publish(Record{
		Measurement: "SOC",
		Device:      "17:71:06:01:0E:B7",
		Time:        testTime,
		Data:        testFields{"soc_percent": 80.0},
	}))
	msg := <-broker.Pub
	assert.Equal(t, "DalySmartBMS/SOC/17:71:06:01:0E:B7/time", msg.Topic())
	assert.Equal(t, "1600000000.5", string(msg.Payload()))
	assert.True(t, msg.Retained())
	msg = <-broker.Pub
	assert.Equal(t, "DalySmartBMS/SOC/17:71:06:01:0E:B7/soc_percent", msg.Topic())
	assert.Equal(t, "80", string(msg.Payload()))
}

func TestPublishMqttBeforeConnect(t *testing.T) {
	// t.Parallel()

	broker := NewMqttMock()
	broker.DelayConnect(50 * time.Millisecond)
	ctx := ContextWithMqttMock(context.Background(), broker)
	tele := new(Tele)
	require.NoError(t, tele.Init(ctx, log2.NewTest(t, log2.LDebug), Config{Enabled: true, MqttBroker: "tcp://mock:1883"}))
	defer tele.Close()
	require.NoError(t, tele.Publish(Record{Measurement: "SOC", Device: "x", Time: testTime, Data: testFields{"soc_percent": 80.0}}))
	msg := <-broker.Pub
	assert.Equal(t, "DalySmartBMS/SOC/x/time", msg.Topic())
	assert.Equal(t, uint32(1), tele.Stat().Published)
	assert.Equal(t, uint32(0), tele.Stat().Failed)
}

func TestPublishMqttFail(t *testing.T) {
	// t.Parallel()

	tele, broker := testMqtt(t, Config{Enabled: true, MqttBroker: "tcp://mock:1883"})
	defer tele.Close()
	broker.FailPublish(errors.New("connection reset"))
	err := tele.Publish(Record{Measurement: "SOC", Device: "x", Data: testFields{"soc_percent": 80.0}})
	require.Error(t, err)
	assert.Equal(t, uint32(1), tele.Stat().Failed)
}

func TestQueue(t *testing.T) {
	t.Parallel()

	mock := &transportMock{t: t, outBuffer: 0}
	tele := &Tele{transport: mock}
	config := Config{Enabled: true, PersistPath: t.TempDir()}
	require.NoError(t, tele.Init(context.Background(), log2.NewTest(t, log2.LDebug), config))
	names := []string{"Status", "SOC", "CellVoltages"}
	for _, name := range names {
		require.NoError(t, tele.Publish(Record{Measurement: name, Device: "x", Data: testFields{"v": 1}}))
	}
	for _, name := range names {
		select {
		case s := <-mock.out:
			e, err := openEnvelope(s)
			require.NoError(t, err)
			assert.Equal(t, name, e.measurement)
		case <-time.After(5 * time.Second):
			t.Fatalf("record=%s not delivered", name)
		}
	}
	tele.Close()
	assert.True(t, mock.closed)
}
