package telemetry

import (
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
)

type ActionCategory int

const (
	CategoryFuzzing ActionCategory = iota
	CategoryAnalysis
	CategoryReplay
)

func (c ActionCategory) String() string {
	switch c {
	case CategoryFuzzing:
		return "fuzzing"
	case CategoryAnalysis:
		return "analysis"
	case CategoryReplay:
		return "replay"
	}
	return "unknown"
}

type SpanAttributes struct {
	ActionCategory string

	Fuzzer optional[string] // frb.fuzzer
	Target optional[string] // frb.target
	Trial  optional[int]    // frb.trial
	Slot   optional[int]    // frb.slot

	extraAttributes map[string]any
}

func NewSpanAttributes(category ActionCategory) *SpanAttributes {
	return &SpanAttributes{
		ActionCategory:  category.String(),
		extraAttributes: make(map[string]any),
	}
}

// EmptySpanAttributes has no category; it is filled in later through Merge.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge copies values set in other that are unset here. The category is
// always taken from other when present.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}
	if other.ActionCategory != "" {
		o.ActionCategory = other.ActionCategory
	}

	mergeOptional(&o.Fuzzer, &other.Fuzzer)
	mergeOptional(&o.Target, &other.Target)
	mergeOptional(&o.Trial, &other.Trial)
	mergeOptional(&o.Slot, &other.Slot)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithFuzzer(val string) *SpanAttributes {
	o.Fuzzer.Set(val)
	return o
}

func (o *SpanAttributes) WithTarget(val string) *SpanAttributes {
	o.Target.Set(val)
	return o
}

func (o *SpanAttributes) WithTrial(val int) *SpanAttributes {
	o.Trial.Set(val)
	return o
}

func (o *SpanAttributes) WithSlot(val int) *SpanAttributes {
	o.Slot.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	attrs = append(attrs, attribute.String("frb.action.category", o.ActionCategory))
	if o.Fuzzer.set {
		attrs = append(attrs, attribute.String("frb.fuzzer", o.Fuzzer.val))
	}
	if o.Target.set {
		attrs = append(attrs, attribute.String("frb.target", o.Target.val))
	}
	if o.Trial.set {
		attrs = append(attrs, attribute.Int("frb.trial", o.Trial.val))
	}
	if o.Slot.set {
		attrs = append(attrs, attribute.Int("frb.slot", o.Slot.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
