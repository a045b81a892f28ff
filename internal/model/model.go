package model

import "time"

type PointKind string

const (
	KindAnalogInput   PointKind = "analog_input"
	KindAnalogOutput  PointKind = "analog_output"
	KindDigitalInput  PointKind = "digital_input"
	KindDigitalOutput PointKind = "digital_output"
)

func (k PointKind) IsOutput() bool {
	return k == KindAnalogOutput || k == KindDigitalOutput
}

func (k PointKind) IsDigital() bool {
	return k == KindDigitalInput || k == KindDigitalOutput
}

type AggregationMethod string

const (
	AggInstant AggregationMethod = "instant"
	AggAverage AggregationMethod = "average"
)

type CompareType string

const (
	CompareGreater CompareType = "gt"
	CompareLess    CompareType = "lt"
	CompareEqual   CompareType = "eq"
	CompareNotEq   CompareType = "ne"
	CompareBetween CompareType = "between"
	CompareOutside CompareType = "outside"
)

type DataType string

const (
	TypeBool    DataType = "bool"
	TypeInt16   DataType = "int16"
	TypeUint16  DataType = "uint16"
	TypeInt32   DataType = "int32"
	TypeUint32  DataType = "uint32"
	TypeFloat32 DataType = "float32"
)

// Width returns the encoded size of the data type in bytes.
func (t DataType) Width() int {
	switch t {
	case TypeBool:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	default:
		return 4
	}
}

type Direction string

const (
	DirectionRead  Direction = "read"
	DirectionWrite Direction = "write"
)

type VariableType string

const (
	VarBool  VariableType = "bool"
	VarFloat VariableType = "float"
)

// MonitoringPoint is a named, addressable monitored or controlled quantity.
// Scaling fields are only honored when Scalable is set.
type MonitoringPoint struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Kind            PointKind         `json:"kind"`
	DeviceID        string            `json:"device_id"`
	Address         int               `json:"address"`
	Scalable        bool              `json:"scalable"`
	RawMin          float64           `json:"raw_min"`
	RawMax          float64           `json:"raw_max"`
	ScaleMin        float64           `json:"scale_min"`
	ScaleMax        float64           `json:"scale_max"`
	Aggregation     AggregationMethod `json:"aggregation"`
	SampleCount     int               `json:"sample_count"`
	HistoryInterval time.Duration     `json:"history_interval"`
	Expression      string            `json:"expression"`
	Enabled         bool              `json:"enabled"`
}

type Alarm struct {
	ID          string        `json:"id"`
	PointID     string        `json:"point_id"`
	Compare     CompareType   `json:"compare"`
	Value1      float64       `json:"value1"`
	Value2      float64       `json:"value2"`
	Priority    int           `json:"priority"`
	Delay       time.Duration `json:"delay"`
	Timeout     time.Duration `json:"timeout"`
	HasExternal bool          `json:"has_external"`
	LogText     string        `json:"log_text"`
	Enabled     bool          `json:"enabled"`
}

// ExternalAlarm is an extra digital condition OR-combined with its parent
// alarm's primary condition.
type ExternalAlarm struct {
	ID         string `json:"id"`
	AlarmID    string `json:"alarm_id"`
	PointID    string `json:"point_id"`
	MatchValue bool   `json:"match_value"`
	Enabled    bool   `json:"enabled"`
}

type ActiveAlarm struct {
	ID          string    `json:"id"`
	AlarmID     string    `json:"alarm_id"`
	PointID     string    `json:"point_id"`
	Priority    int       `json:"priority"`
	ActivatedAt time.Time `json:"activated_at"`
}

// AlarmEvent is one row of alarm history: a single activation or clear.
type AlarmEvent struct {
	ID      string    `json:"id"`
	AlarmID string    `json:"alarm_id"`
	PointID string    `json:"point_id"`
	At      time.Time `json:"at"`
	Active  bool      `json:"active"`
	LogText string    `json:"log_text"`
}

type PidController struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	InputPointID    string        `json:"input_point_id"`
	OutputPointID   string        `json:"output_point_id"`
	Kp              float64       `json:"kp"`
	Ki              float64       `json:"ki"`
	Kd              float64       `json:"kd"`
	OutputMin       float64       `json:"output_min"`
	OutputMax       float64       `json:"output_max"`
	Interval        time.Duration `json:"interval"`
	SetPoint        float64       `json:"set_point"`
	DerivativeAlpha float64       `json:"derivative_alpha"`
	MaxSlewRate     float64       `json:"max_slew_rate"` // units per second, 0 disables limiting
	DeadZone        float64       `json:"dead_zone"`
	FeedForward     float64       `json:"feed_forward"`
	Auto            bool          `json:"auto"`
	ManualValue     float64       `json:"manual_value"`
	Enabled         bool          `json:"enabled"`
}

// RegisterMapping binds a point to a byte/bit location on a field device.
// BitOffset is nil for whole-word numeric mappings.
type RegisterMapping struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	PointID    string    `json:"point_id"`
	ByteOffset int       `json:"byte_offset"`
	BitOffset  *int      `json:"bit_offset"`
	Direction  Direction `json:"direction"`
	DataType   DataType  `json:"data_type"`
}

type GlobalVariable struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Type    VariableType `json:"type"`
	Enabled bool         `json:"enabled"`
}

// Sample is one raw reading headed into the value pipeline.
type Sample struct {
	PointID string    `json:"point_id"`
	Value   float64   `json:"value"`
	At      time.Time `json:"at"`
}

// PointValue is a cached engineering-unit value for a point.
type PointValue struct {
	PointID string    `json:"point_id"`
	Value   float64   `json:"value"`
	At      time.Time `json:"at"`
}
