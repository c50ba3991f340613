package types

import "time"

// ConditionKind tags the variant held by a Condition.
type ConditionKind string

const (
	ConditionThreshold ConditionKind = "threshold"
	ConditionChange    ConditionKind = "change"
	ConditionAnomaly   ConditionKind = "anomaly"
	ConditionPattern   ConditionKind = "pattern"
)

// Operator is a numeric comparison.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Condition is a closed tagged variant. Exactly the field matching Kind is set.
type Condition struct {
	Kind      ConditionKind       `json:"type" yaml:"type" validate:"required,oneof=threshold change anomaly pattern"`
	Threshold *ThresholdCondition `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Change    *ChangeCondition    `json:"change,omitempty" yaml:"change,omitempty"`
	Anomaly   *AnomalyCondition   `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
	Pattern   *PatternCondition   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// ThresholdCondition fires when every sample in the trailing Duration
// satisfies Operator against Value.
type ThresholdCondition struct {
	Operator Operator      `json:"operator" yaml:"operator" validate:"required,oneof=> >= < <= == !="`
	Value    float64       `json:"value" yaml:"value"`
	Duration time.Duration `json:"duration" yaml:"duration" validate:"gte=0"`
}

// ChangeMode selects percent or absolute change.
type ChangeMode string

const (
	ChangePercent  ChangeMode = "percent"
	ChangeAbsolute ChangeMode = "absolute"
)

// Direction restricts which sign of change counts.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionAny  Direction = "any"
)

// Aggregation reduces a window segment to one number.
type Aggregation string

const (
	AggAvg  Aggregation = "avg"
	AggSum  Aggregation = "sum"
	AggMin  Aggregation = "min"
	AggMax  Aggregation = "max"
	AggLast Aggregation = "last"
)

// ChangeCondition compares the aggregate of the latest Window to the
// aggregate of the same-length window ComparisonPeriod earlier.
type ChangeCondition struct {
	Mode             ChangeMode    `json:"mode" yaml:"mode" validate:"required,oneof=percent absolute"`
	Direction        Direction     `json:"direction" yaml:"direction" validate:"omitempty,oneof=up down any"`
	Threshold        float64       `json:"threshold" yaml:"threshold" validate:"gte=0"`
	Window           time.Duration `json:"window" yaml:"window" validate:"gt=0"`
	ComparisonPeriod time.Duration `json:"comparison_period" yaml:"comparison_period" validate:"gt=0"`
	Aggregation      Aggregation   `json:"aggregation" yaml:"aggregation" validate:"omitempty,oneof=avg sum min max last"`
}

// AnomalyCondition fires when recent samples deviate from the baseline mean
// by more than Sensitivity standard deviations for MinDeviationDuration.
type AnomalyCondition struct {
	Sensitivity          float64       `json:"sensitivity" yaml:"sensitivity" validate:"gt=0"`
	BaselineWindow       time.Duration `json:"baseline_window" yaml:"baseline_window" validate:"gt=0"`
	MinDeviationDuration time.Duration `json:"min_deviation_duration" yaml:"min_deviation_duration" validate:"gte=0"`
}

// Shape names a pattern the evaluator can count.
type Shape string

const (
	ShapeIncreasing Shape = "increasing"
	ShapeDecreasing Shape = "decreasing"
	ShapeFlatline   Shape = "flatline"
	ShapeSpike      Shape = "spike"
)

// PatternCondition fires when Shape occurs at least MinOccurrences times
// inside Window.
type PatternCondition struct {
	Shape          Shape         `json:"shape" yaml:"shape" validate:"required,oneof=increasing decreasing flatline spike"`
	RunLength      int           `json:"run_length" yaml:"run_length" validate:"gte=0"`
	Magnitude      float64       `json:"magnitude" yaml:"magnitude" validate:"gte=0"`
	MinOccurrences int           `json:"min_occurrences" yaml:"min_occurrences" validate:"gte=1"`
	Window         time.Duration `json:"window" yaml:"window" validate:"gt=0"`
}
