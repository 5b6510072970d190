package bms

import (
	"sort"
	"strconv"
)

// Fields is named measurement values: float64, int, bool, string or []string.
type Fields map[string]interface{}

func (self Fields) Map() map[string]interface{} { return self }

func (self Fields) Int(key string) (int, bool) {
	x, ok := self[key].(int)
	return x, ok
}

func (self Fields) Bool(key string) (bool, bool) {
	x, ok := self[key].(bool)
	return x, ok
}

// Indexed is per cell or per sensor values, keys start from 1.
type Indexed map[int]interface{}

func (self Indexed) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(self))
	for k, v := range self {
		m[strconv.Itoa(k)] = v
	}
	return m
}

func (self Indexed) Keys() []int {
	keys := make([]int, 0, len(self))
	for k := range self {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Faults is decoded error flags, never empty.
type Faults []string

func (self Faults) Map() map[string]interface{} {
	return map[string]interface{}{"errors": []string(self)}
}

// Status is the result of status command, it sizes cell and temperature reads.
type Status struct {
	Cells              int
	TemperatureSensors int
	Fields             Fields
}

func statusFromFields(f Fields) Status {
	s := Status{Fields: f}
	s.Cells, _ = f.Int("cells")
	s.TemperatureSensors, _ = f.Int("temperature_sensors")
	return s
}
