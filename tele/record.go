package tele

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/protobuf/jsonpb"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/juju/errors"
)

// Mapper is implemented by decoded measurement types.
type Mapper interface {
	Map() map[string]interface{}
}

// Record is one measurement data point, published as [measurement, device, time, data].
type Record struct {
	Measurement string
	Device      string
	Time        time.Time
	Data        interface{}
}

// Envelope keys
const (
	keyMeasurement = "measurement"
	keyDevice      = "device"
	keyTime        = "time"
	keyData        = "data"
)

// Struct encodes record as protobuf envelope, also used as durable queue item.
func (self *Record) Struct() (*structpb.Struct, error) {
	data, err := ToValue(self.Data)
	if err != nil {
		return nil, errors.Annotatef(err, "measurement=%s", self.Measurement)
	}
	if data.GetStructValue() == nil {
		// scalar data is wrapped so leaf topics stay uniform
		data = structValue(&structpb.Struct{Fields: map[string]*structpb.Value{"value": data}})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyMeasurement: stringValue(self.Measurement),
		keyDevice:      stringValue(self.Device),
		keyTime:        numberValue(unixSeconds(self.Time)),
		keyData:        data,
	}}, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()/int64(time.Millisecond)) / 1000
}

type envelope struct {
	measurement string
	device      string
	time        float64
	data        *structpb.Struct
}

func openEnvelope(s *structpb.Struct) (envelope, error) {
	e := envelope{
		measurement: s.GetFields()[keyMeasurement].GetStringValue(),
		device:      s.GetFields()[keyDevice].GetStringValue(),
		time:        s.GetFields()[keyTime].GetNumberValue(),
		data:        s.GetFields()[keyData].GetStructValue(),
	}
	if e.measurement == "" || e.data == nil {
		return e, errors.NotValidf("record envelope measurement=%q data=%v", e.measurement, e.data != nil)
	}
	return e, nil
}

// list is the console form [measurement, device, time, data].
func (self envelope) list() *structpb.ListValue {
	return &structpb.ListValue{Values: []*structpb.Value{
		stringValue(self.measurement),
		stringValue(self.device),
		numberValue(self.time),
		structValue(self.data),
	}}
}

// ToValue converts decoded measurement data into protobuf dynamic value.
func ToValue(v interface{}) (*structpb.Value, error) {
	switch x := v.(type) {
	case nil:
		return &structpb.Value{Kind: &structpb.Value_NullValue{NullValue: structpb.NullValue_NULL_VALUE}}, nil
	case *structpb.Value:
		return x, nil
	case bool:
		return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: x}}, nil
	case string:
		return stringValue(x), nil
	case float64:
		return numberValue(x), nil
	case float32:
		return numberValue(float64(x)), nil
	case int:
		return numberValue(float64(x)), nil
	case int8:
		return numberValue(float64(x)), nil
	case int16:
		return numberValue(float64(x)), nil
	case int32:
		return numberValue(float64(x)), nil
	case int64:
		return numberValue(float64(x)), nil
	case uint8:
		return numberValue(float64(x)), nil
	case uint16:
		return numberValue(float64(x)), nil
	case uint32:
		return numberValue(float64(x)), nil
	case uint64:
		return numberValue(float64(x)), nil
	case []string:
		l := &structpb.ListValue{Values: make([]*structpb.Value, len(x))}
		for i, s := range x {
			l.Values[i] = stringValue(s)
		}
		return listValue(l), nil
	case []interface{}:
		l := &structpb.ListValue{Values: make([]*structpb.Value, len(x))}
		for i, item := range x {
			iv, err := ToValue(item)
			if err != nil {
				return nil, errors.Annotatef(err, "[%d]", i)
			}
			l.Values[i] = iv
		}
		return listValue(l), nil
	case Mapper:
		return ToValue(x.Map())
	case map[string]interface{}:
		s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(x))}
		for k, item := range x {
			iv, err := ToValue(item)
			if err != nil {
				return nil, errors.Annotatef(err, "key=%s", k)
			}
			s.Fields[k] = iv
		}
		return structValue(s), nil
	}
	return nil, errors.NotSupportedf("value type %T", v)
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}
func numberValue(x float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: x}}
}
func structValue(s *structpb.Struct) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: s}}
}
func listValue(l *structpb.ListValue) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_ListValue{ListValue: l}}
}

// Leaf is one MQTT message of flattened record.
type Leaf struct {
	Topic   string
	Payload string
}

// Leaves flattens envelope into time topic followed by one topic per data leaf,
// nested structs become sub-topics, lists are JSON encoded. Keys are sorted, numbers numerically.
func Leaves(topic string, s *structpb.Struct) ([]Leaf, error) {
	e, err := openEnvelope(s)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(topic, "/") + "/" + e.measurement + "/" + e.device
	leaves := []Leaf{{Topic: base + "/time", Payload: formatNumber(e.time)}}
	return appendLeaves(leaves, base, e.data)
}

func appendLeaves(leaves []Leaf, base string, s *structpb.Struct) ([]Leaf, error) {
	keys := make([]string, 0, len(s.GetFields()))
	for k := range s.GetFields() {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	for _, k := range keys {
		v := s.GetFields()[k]
		topic := base + "/" + k
		if sub := v.GetStructValue(); sub != nil {
			var err error
			if leaves, err = appendLeaves(leaves, topic, sub); err != nil {
				return nil, err
			}
			continue
		}
		payload, err := formatValue(v)
		if err != nil {
			return nil, errors.Annotatef(err, "topic=%s", topic)
		}
		leaves = append(leaves, Leaf{Topic: topic, Payload: payload})
	}
	return leaves, nil
}

// keyLess orders cell and sensor numbers numerically, before any names.
func keyLess(a, b string) bool {
	ia, errA := strconv.Atoi(a)
	ib, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return ia < ib
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

func formatNumber(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }

func formatValue(v *structpb.Value) (string, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return "", nil
	case *structpb.Value_NumberValue:
		return formatNumber(k.NumberValue), nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue), nil
	case *structpb.Value_ListValue:
		m := jsonpb.Marshaler{}
		return m.MarshalToString(k.ListValue)
	}
	return "", errors.NotSupportedf("value kind %T", v.GetKind())
}
