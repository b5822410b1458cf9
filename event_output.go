package ldclient

// These types describe the format of the JSON event data that is actually sent to LaunchDarkly.
// They are slightly different from the Event types that are passed to the EventProcessor; the
// transformation is done by eventOutputFormatter at the time the events are flushed.

type eventOutput interface{}

type featureRequestEventOutput struct {
	Kind         string                     `json:"kind"`
	CreationDate uint64                     `json:"creationDate"`
	Key          string                     `json:"key"`
	User         *User                      `json:"user,omitempty"`
	UserKey      *string                    `json:"userKey,omitempty"`
	Version      *int                       `json:"version,omitempty"`
	Variation    *int                       `json:"variation,omitempty"`
	Value        interface{}                `json:"value"`
	Default      interface{}                `json:"default"`
	PrereqOf     *string                    `json:"prereqOf,omitempty"`
	Reason       *EvaluationReasonContainer `json:"reason,omitempty"`
}

type customEventOutput struct {
	Kind         string      `json:"kind"`
	CreationDate uint64      `json:"creationDate"`
	Key          string      `json:"key"`
	User         *User       `json:"user,omitempty"`
	UserKey      *string     `json:"userKey,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	MetricValue  *float64    `json:"metricValue,omitempty"`
}

type identifyEventOutput struct {
	Kind         string  `json:"kind"`
	CreationDate uint64  `json:"creationDate"`
	Key          *string `json:"key"`
	User         *User   `json:"user"`
}

type indexEventOutput struct {
	Kind         string `json:"kind"`
	CreationDate uint64 `json:"creationDate"`
	User         *User  `json:"user"`
}

type summaryEventOutput struct {
	Kind      string                     `json:"kind"`
	StartDate uint64                     `json:"startDate"`
	EndDate   uint64                     `json:"endDate"`
	Features  map[string]flagSummaryData `json:"features"`
}

type flagSummaryData struct {
	Default  interface{}       `json:"default,omitempty"`
	Counters []flagCounterData `json:"counters"`
}

type flagCounterData struct {
	Value     interface{} `json:"value"`
	Variation *int        `json:"variation,omitempty"`
	Version   *int        `json:"version,omitempty"`
	Count     int         `json:"count"`
	Unknown   *bool       `json:"unknown,omitempty"`
}

type eventOutputFormatter struct {
	userFilter  userFilter
	inlineUsers bool
}

func newEventOutputFormatter(config Config) eventOutputFormatter {
	return eventOutputFormatter{
		userFilter:  newUserFilter(config),
		inlineUsers: config.InlineUsersInEvents,
	}
}

// Transforms the internal event data into the format used for the JSON payload of a flush,
// including the summary event if there is anything to summarize.
func (ef eventOutputFormatter) makeOutputEvents(events []Event, summary eventSummary) []eventOutput {
	eventsOut := make([]eventOutput, 0, len(events)+1)
	for _, e := range events {
		oe := ef.makeOutputEvent(e)
		if oe != nil {
			eventsOut = append(eventsOut, oe)
		}
	}
	if len(summary.counters) > 0 {
		eventsOut = append(eventsOut, ef.makeSummaryEvent(summary))
	}
	return eventsOut
}

func (ef eventOutputFormatter) makeOutputEvent(evt Event) eventOutput {
	switch evt := evt.(type) {
	case FeatureRequestEvent:
		fe := featureRequestEventOutput{
			Kind:         featureRequestEventKind,
			CreationDate: evt.CreationDate,
			Key:          evt.Key,
			Version:      evt.Version,
			Variation:    evt.Variation,
			Value:        evt.Value,
			Default:      evt.Default,
			PrereqOf:     evt.PrereqOf,
		}
		if evt.Debug {
			fe.Kind = "debug"
		}
		// Debug events always contain the full user, since they are for diagnostic use.
		if ef.inlineUsers || evt.Debug {
			fe.User = ef.userFilter.scrubUser(evt.User)
		} else {
			fe.UserKey = evt.User.Key
		}
		if evt.Reason.Reason != nil {
			fe.Reason = &evt.Reason
		}
		return fe
	case CustomEvent:
		ce := customEventOutput{
			Kind:         customEventKind,
			CreationDate: evt.CreationDate,
			Key:          evt.Key,
			Data:         evt.Data,
		}
		if ef.inlineUsers {
			ce.User = ef.userFilter.scrubUser(evt.User)
		} else {
			ce.UserKey = evt.User.Key
		}
		if evt.HasMetric {
			m := evt.MetricValue
			ce.MetricValue = &m
		}
		return ce
	case IdentifyEvent:
		return identifyEventOutput{
			Kind:         "identify",
			CreationDate: evt.CreationDate,
			Key:          evt.User.Key,
			User:         ef.userFilter.scrubUser(evt.User),
		}
	case indexEvent:
		return indexEventOutput{
			Kind:         "index",
			CreationDate: evt.CreationDate,
			User:         ef.userFilter.scrubUser(evt.User),
		}
	}
	return nil
}

func (ef eventOutputFormatter) makeSummaryEvent(snapshot eventSummary) summaryEventOutput {
	features := make(map[string]flagSummaryData)
	for key, value := range snapshot.counters {
		flagData, known := features[key.key]
		if !known {
			flagData = flagSummaryData{
				Default:  value.flagDefault,
				Counters: []flagCounterData{},
			}
		}
		counter := flagCounterData{
			Value: value.flagValue,
			Count: value.count,
		}
		if key.variation >= 0 {
			v := key.variation
			counter.Variation = &v
		}
		if key.version == 0 {
			// A zero version means the flag did not exist when it was evaluated.
			unknown := true
			counter.Unknown = &unknown
		} else {
			v := key.version
			counter.Version = &v
		}
		flagData.Counters = append(flagData.Counters, counter)
		features[key.key] = flagData
	}
	return summaryEventOutput{
		Kind:      "summary",
		StartDate: snapshot.startDate,
		EndDate:   snapshot.endDate,
		Features:  features,
	}
}
