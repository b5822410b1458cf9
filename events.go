package ldclient

import (
	"time"
)

// An Event represents an analytics event generated by the client, which will be passed to
// the EventProcessor. The event data that the EventProcessor actually sends to LaunchDarkly
// may be slightly different.
type Event interface {
	GetBase() BaseEvent
}

// BaseEvent provides properties common to all events.
type BaseEvent struct {
	CreationDate uint64
	User         User
}

// FeatureRequestEvent is generated by evaluating a feature flag or one of a flag's prerequisites.
type FeatureRequestEvent struct {
	BaseEvent
	Key       string
	Kind      string
	Variation *int
	Value     interface{}
	Default   interface{}
	Version   *int
	PrereqOf  *string
	Reason    EvaluationReasonContainer
	// Note that this field is not exported to JSON; it determines whether the event processor
	// will send the event individually, as opposed to only including it in the summary.
	TrackEvents          bool
	Debug                bool
	DebugEventsUntilDate *uint64
}

// CustomEvent is generated by calling the client's Track method.
type CustomEvent struct {
	BaseEvent
	Key         string
	Data        interface{}
	HasMetric   bool
	MetricValue float64
}

// IdentifyEvent is generated by calling the client's Identify method.
type IdentifyEvent struct {
	BaseEvent
}

// IndexEvent is generated internally to capture user details from other events. It is an
// implementation detail of the event processor, so it is not exported.
type indexEvent struct {
	BaseEvent
}

const (
	featureRequestEventKind = "feature"
	customEventKind         = "custom"
)

// NewFeatureRequestEvent creates a feature request event. Normally, you don't need to call this;
// the event is created and queued automatically during feature flag evaluation.
func NewFeatureRequestEvent(key string, flag *FeatureFlag, user User, variation *int,
	value, defaultVal interface{}, prereqOf *string) FeatureRequestEvent {
	fre := FeatureRequestEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
		Key:       key,
		Kind:      featureRequestEventKind,
		Variation: variation,
		Value:     value,
		Default:   defaultVal,
		PrereqOf:  prereqOf,
	}
	if flag != nil {
		fre.Version = &flag.Version
		fre.TrackEvents = flag.TrackEvents
		fre.DebugEventsUntilDate = flag.DebugEventsUntilDate
	}
	return fre
}

func newSuccessfulEvalEvent(flag *FeatureFlag, user User, variation *int, value, defaultVal interface{},
	reason EvaluationReason, includeReasons bool, prereqOf *string) FeatureRequestEvent {
	fre := NewFeatureRequestEvent(flag.Key, flag, user, variation, value, defaultVal, prereqOf)
	if includeReasons || isExperiment(reason) {
		fre.Reason.Reason = reason
	}
	if isExperiment(reason) {
		// Events for experiment evaluations always carry the full event data and the reason,
		// regardless of the flag's general event settings.
		fre.TrackEvents = true
	}
	return fre
}

func newUnknownFlagEvent(key string, user User, defaultVal interface{},
	reason EvaluationReason, includeReasons bool) FeatureRequestEvent {
	fre := NewFeatureRequestEvent(key, nil, user, nil, defaultVal, defaultVal, nil)
	if includeReasons {
		fre.Reason.Reason = reason
	}
	return fre
}

func isExperiment(reason EvaluationReason) bool {
	switch r := reason.(type) {
	case EvaluationReasonFallthrough:
		return r.InExperiment
	case EvaluationReasonRuleMatch:
		return r.InExperiment
	}
	return false
}

// GetBase returns the BaseEvent
func (evt FeatureRequestEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

// NewCustomEvent creates a new custom event. Normally, you don't need to call this;
// the event is created and queued automatically by the client's Track method.
func NewCustomEvent(key string, user User, data interface{}) CustomEvent {
	return newCustomEvent(key, user, data, false, 0)
}

func newCustomEvent(key string, user User, data interface{}, hasMetric bool, metricValue float64) CustomEvent {
	return CustomEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
		Key:         key,
		Data:        data,
		HasMetric:   hasMetric,
		MetricValue: metricValue,
	}
}

// GetBase returns the BaseEvent
func (evt CustomEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

// NewIdentifyEvent creates a new identify event. Normally, you don't need to call this;
// the event is created and queued automatically by the client's Identify method.
func NewIdentifyEvent(user User) IdentifyEvent {
	return IdentifyEvent{
		BaseEvent: BaseEvent{
			CreationDate: now(),
			User:         user,
		},
	}
}

// GetBase returns the BaseEvent
func (evt IdentifyEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

func (evt indexEvent) GetBase() BaseEvent {
	return evt.BaseEvent
}

func now() uint64 {
	return toUnixMillis(time.Now())
}

func toUnixMillis(t time.Time) uint64 {
	ms := time.Duration(t.UnixNano()) / time.Millisecond
	return uint64(ms)
}
