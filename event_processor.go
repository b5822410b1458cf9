package ldclient

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pborman/uuid"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldlog"
)

// EventProcessor defines the interface for dispatching analytics events.
type EventProcessor interface {
	// SendEvent records an event asynchronously.
	SendEvent(Event)
	// Flush specifies that any buffered events should be sent as soon as possible, rather than waiting
	// for the next flush interval. This method is asynchronous, so events still may not be sent until
	// a later time. However, calling Close() will synchronously deliver any events that were not yet
	// delivered prior to shutting down.
	Flush()
	// Close shuts down all event processor activity, after first ensuring that all events have been
	// delivered. Subsequent calls to SendEvent() or Flush() will be ignored.
	Close() error
}

type nullEventProcessor struct{}

type defaultEventProcessor struct {
	inboxCh       chan eventDispatcherMessage
	inboxFullOnce sync.Once
	closeOnce     sync.Once
	loggers       ldlog.Loggers
}

type eventDispatcher struct {
	sdkKey             string
	config             Config
	diagnosticsManager *diagnosticsManager
	lastKnownPastTime  uint64
	deduplicatedUsers  int
	eventsInLastBatch  int
	disabled           bool
	retainedPayload    []byte
	retainedPayloadID  string
	stateLock          sync.Mutex
}

type eventBuffer struct {
	events           []Event
	summarizer       eventSummarizer
	capacity         int
	capacityExceeded bool
	droppedEvents    int
	loggers          ldlog.Loggers
}

type flushPayload struct {
	diagnosticEvent interface{}
	events          []Event
	summary         eventSummary
	// raw is a previously-serialized batch that failed to send; it is retried as-is,
	// with the same payload ID, instead of being re-marshalled.
	raw   []byte
	rawID string
}

type sendEventsTask struct {
	client         *http.Client
	eventsURI      string
	diagnosticsURI string
	loggers        ldlog.Loggers
	sdkKey         string
	userAgent      string
	formatter      eventOutputFormatter
}

// Payload of the inboxCh channel.
type eventDispatcherMessage interface{}

type sendEventMessage struct {
	event Event
}

type flushEventsMessage struct{}

type shutdownEventsMessage struct {
	replyCh chan struct{}
}

type syncEventsMessage struct {
	replyCh chan struct{}
}

const (
	maxFlushWorkers    = 5
	eventSchemaHeader  = "X-LaunchDarkly-Event-Schema"
	payloadIDHeader    = "X-LaunchDarkly-Payload-ID"
	currentEventSchema = "3"
	defaultURIPath     = "/bulk"
	diagnosticsURIPath = "/diagnostic"
)

func newNullEventProcessor() *nullEventProcessor {
	return &nullEventProcessor{}
}

func (n *nullEventProcessor) SendEvent(e Event) {}

func (n *nullEventProcessor) Flush() {}

func (n *nullEventProcessor) Close() error {
	return nil
}

// NewDefaultEventProcessor creates an instance of the default implementation of analytics event processing.
// This is normally only used internally; it is public because the Go SDK code is reused by other LaunchDarkly
// components.
func NewDefaultEventProcessor(sdkKey string, config Config, client *http.Client) EventProcessor {
	config.initLoggers()
	if client == nil {
		client = config.newHTTPClient()
	}
	inboxCh := make(chan eventDispatcherMessage, config.Capacity)
	startEventDispatcher(sdkKey, config, client, inboxCh)
	return &defaultEventProcessor{
		inboxCh: inboxCh,
		loggers: config.Loggers,
	}
}

func (ep *defaultEventProcessor) SendEvent(e Event) {
	ep.postToInbox(sendEventMessage{event: e})
}

func (ep *defaultEventProcessor) Flush() {
	ep.postToInbox(flushEventsMessage{})
}

func (ep *defaultEventProcessor) postToInbox(message eventDispatcherMessage) {
	select {
	case ep.inboxCh <- message:
	default:
		// If the inbox is full, it means the eventDispatcher is seriously backed up with not-yet-processed
		// events. This is unlikely, but if it happens, it means the application is probably doing a ton of
		// flag evaluations across many goroutines, so that event processing can't keep up with them. We
		// log this at most once per instance.
		ep.inboxFullOnce.Do(func() {
			ep.loggers.Warn("Events are being produced faster than they can be processed; some events will be dropped")
		})
	}
}

func (ep *defaultEventProcessor) Close() error {
	ep.closeOnce.Do(func() {
		// We put the flush and shutdown messages directly into the channel instead of calling
		// postToInbox, because we *do* want to block to make sure the messages are received.
		ep.inboxCh <- flushEventsMessage{}
		m := shutdownEventsMessage{replyCh: make(chan struct{})}
		ep.inboxCh <- m
		<-m.replyCh
	})
	return nil
}

func startEventDispatcher(sdkKey string, config Config, client *http.Client,
	inboxCh <-chan eventDispatcherMessage) {
	ed := &eventDispatcher{
		sdkKey:             sdkKey,
		config:             config,
		diagnosticsManager: config.diagnosticsManager,
	}

	// Start a fixed-size pool of workers that wait on flushCh. This is the
	// maximum number of flushes we can do concurrently.
	flushCh := make(chan *flushPayload, 1)
	var workersGroup sync.WaitGroup
	for i := 0; i < maxFlushWorkers; i++ {
		startFlushTask(sdkKey, config, client, flushCh, &workersGroup,
			func(r *http.Response) { ed.handleResponse(r) },
			func(data []byte, payloadID string) { ed.retainFailedPayload(data, payloadID) })
	}
	if ed.diagnosticsManager != nil {
		event := ed.diagnosticsManager.CreateInitEvent()
		ed.sendDiagnosticsEvent(event, flushCh, &workersGroup)
	}
	go ed.runMainLoop(inboxCh, flushCh, &workersGroup)
}

func (ed *eventDispatcher) runMainLoop(inboxCh <-chan eventDispatcherMessage,
	flushCh chan<- *flushPayload, workersGroup *sync.WaitGroup) {
	buffer := eventBuffer{
		events:     make([]Event, 0, ed.config.Capacity),
		summarizer: newEventSummarizer(),
		capacity:   ed.config.Capacity,
		loggers:    ed.config.Loggers,
	}
	userKeys := newLruCache(ed.config.UserKeysCapacity)

	flushInterval := ed.config.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultConfig.FlushInterval
	}
	userKeysFlushInterval := ed.config.UserKeysFlushInterval
	if userKeysFlushInterval <= 0 {
		userKeysFlushInterval = DefaultConfig.UserKeysFlushInterval
	}
	flushTicker := time.NewTicker(flushInterval)
	usersResetTicker := time.NewTicker(userKeysFlushInterval)

	var diagnosticsTicker *time.Ticker
	var diagnosticsTickerCh <-chan time.Time
	if ed.diagnosticsManager != nil {
		interval := ed.config.DiagnosticRecordingInterval
		if interval <= 0 {
			interval = DefaultDiagnosticRecordingInterval
		}
		diagnosticsTicker = time.NewTicker(interval)
		diagnosticsTickerCh = diagnosticsTicker.C
	}

	for {
		// Drain the response channel with a higher priority than anything else
		// to ensure that the flush workers don't get blocked.
		select {
		case message := <-inboxCh:
			switch m := message.(type) {
			case sendEventMessage:
				ed.processEvent(m.event, &buffer, &userKeys)
			case flushEventsMessage:
				ed.triggerFlush(&buffer, flushCh, workersGroup)
			case syncEventsMessage:
				workersGroup.Wait()
				m.replyCh <- struct{}{}
			case shutdownEventsMessage:
				flushTicker.Stop()
				usersResetTicker.Stop()
				if diagnosticsTicker != nil {
					diagnosticsTicker.Stop()
				}
				workersGroup.Wait() // Wait for all in-progress flushes to complete
				close(flushCh)      // Causes all idle flush workers to terminate
				m.replyCh <- struct{}{}
				return
			}
		case <-flushTicker.C:
			ed.triggerFlush(&buffer, flushCh, workersGroup)
		case <-usersResetTicker.C:
			userKeys.clear()
		case <-diagnosticsTickerCh:
			if ed.diagnosticsManager == nil || !ed.diagnosticsManager.CanSendStatsEvent() {
				break
			}
			event := ed.diagnosticsManager.CreateStatsEventAndReset(
				buffer.droppedEvents,
				ed.deduplicatedUsers,
				ed.eventsInLastBatch,
			)
			buffer.droppedEvents = 0
			ed.deduplicatedUsers = 0
			ed.eventsInLastBatch = 0
			ed.sendDiagnosticsEvent(event, flushCh, workersGroup)
		}
	}
}

func (ed *eventDispatcher) processEvent(evt Event, buffer *eventBuffer, userKeys *lruCache) {
	if ed.isDisabled() {
		return
	}

	// Decide whether to sample the event
	if ed.config.SamplingInterval > 0 && rand.Int31n(ed.config.SamplingInterval) != 0 {
		return
	}

	// Always record the event in the summarizer.
	buffer.addToSummary(evt)

	// Decide whether to add the event to the payload. Feature events may be added twice, once for
	// the event (if tracked) and once for debugging.
	willAddFullEvent := false
	var debugEvent Event
	switch evt := evt.(type) {
	case FeatureRequestEvent:
		willAddFullEvent = evt.TrackEvents
		if ed.shouldDebugEvent(&evt) {
			de := evt
			de.Debug = true
			debugEvent = de
		}
	default:
		willAddFullEvent = true
	}

	// For each user we haven't seen before, we add an index event - unless this is already
	// an identify event for that user. Also, we don't generate index events in the case where
	// the full event contains an inline user.
	if !(willAddFullEvent && ed.config.InlineUsersInEvents) {
		user := evt.GetBase().User
		if noticeUser(userKeys, &user) {
			if _, ok := evt.(IdentifyEvent); !ok {
				ed.deduplicatedUsers++
			}
		} else {
			if _, ok := evt.(IdentifyEvent); !ok {
				ie := indexEvent{
					BaseEvent{CreationDate: evt.GetBase().CreationDate, User: user},
				}
				buffer.addEvent(ie)
			}
		}
	}
	if willAddFullEvent {
		buffer.addEvent(evt)
	}
	if debugEvent != nil {
		buffer.addEvent(debugEvent)
	}
}

// Add to the set of users we've noticed, and return true if the user was already known to us.
func noticeUser(userKeys *lruCache, user *User) bool {
	if user == nil || user.Key == nil {
		return true
	}
	return userKeys.add(*user.Key)
}

func (ed *eventDispatcher) isDisabled() bool {
	// Since we're using a mutex, we should avoid calling this often.
	ed.stateLock.Lock()
	defer ed.stateLock.Unlock()
	return ed.disabled
}

func (ed *eventDispatcher) shouldDebugEvent(evt *FeatureRequestEvent) bool {
	if evt.DebugEventsUntilDate == nil {
		return false
	}
	// The "last known past time" comes from the last HTTP response we got from the server.
	// In case the client's time is set wrong, at least we know that any expiration date
	// earlier than that point is definitely in the past. If there's any discrepancy, we
	// want to err on the side of cutting off event debugging sooner.
	ed.stateLock.Lock()
	defer ed.stateLock.Unlock()
	return *evt.DebugEventsUntilDate > ed.lastKnownPastTime &&
		*evt.DebugEventsUntilDate > now()
}

// Holds on to a serialized batch that could not be delivered, so the next flush can retry it.
// Only one batch is retained; if another one fails while it is waiting, the older one is dropped.
func (ed *eventDispatcher) retainFailedPayload(data []byte, payloadID string) {
	ed.stateLock.Lock()
	defer ed.stateLock.Unlock()
	if ed.retainedPayload != nil {
		ed.config.Loggers.Warn("Dropping an undelivered event payload because a newer one also failed")
	}
	ed.retainedPayload = data
	ed.retainedPayloadID = payloadID
}

func (ed *eventDispatcher) takeRetainedPayload() ([]byte, string) {
	ed.stateLock.Lock()
	defer ed.stateLock.Unlock()
	data, payloadID := ed.retainedPayload, ed.retainedPayloadID
	ed.retainedPayload = nil
	ed.retainedPayloadID = ""
	return data, payloadID
}

// Signal that we would like to do a flush as soon as possible.
func (ed *eventDispatcher) triggerFlush(buffer *eventBuffer, flushCh chan<- *flushPayload,
	workersGroup *sync.WaitGroup) {
	if ed.isDisabled() {
		return
	}
	// A batch that failed on an earlier flush gets another chance before any new events.
	if data, payloadID := ed.takeRetainedPayload(); data != nil {
		workersGroup.Add(1)
		select {
		case flushCh <- &flushPayload{raw: data, rawID: payloadID}:
		default:
			workersGroup.Done()
			ed.retainFailedPayload(data, payloadID)
		}
	}
	// Is there anything to flush?
	payload := buffer.getPayload()
	totalEventCount := len(payload.events)
	if len(payload.summary.counters) > 0 {
		totalEventCount++
	}
	if totalEventCount == 0 {
		ed.eventsInLastBatch = 0
		return
	}
	workersGroup.Add(1) // Increment the count of active flushes
	select {
	case flushCh <- &payload:
		// If the channel wasn't full, then there is a worker available who will pick up
		// this flush payload and send it. The event buffer and summary state can now be
		// cleared from the main goroutine.
		ed.eventsInLastBatch = totalEventCount
		buffer.clear()
	default:
		// We can't start a flush right now because we're waiting for one of the workers
		// to pick up the last one. Do not reset the event buffer or summary state.
		workersGroup.Done()
	}
}

func (ed *eventDispatcher) sendDiagnosticsEvent(event interface{}, flushCh chan<- *flushPayload,
	workersGroup *sync.WaitGroup) {
	payload := flushPayload{diagnosticEvent: event}
	workersGroup.Add(1)
	select {
	case flushCh <- &payload:
	default:
		// If all the workers are busy, just discard the diagnostics event rather than blocking.
		workersGroup.Done()
	}
}

func (ed *eventDispatcher) handleResponse(resp *http.Response) {
	if err := checkForHttpError(resp.StatusCode, resp.Request.URL.String()); err != nil {
		ed.config.Loggers.Error(httpErrorMessage(resp.StatusCode, "posting events", "some events were dropped"))
		if !isHTTPErrorRecoverable(resp.StatusCode) {
			ed.stateLock.Lock()
			defer ed.stateLock.Unlock()
			ed.disabled = true
		}
	} else {
		dt, err := http.ParseTime(resp.Header.Get("Date"))
		if err == nil {
			ed.stateLock.Lock()
			defer ed.stateLock.Unlock()
			ed.lastKnownPastTime = toUnixMillis(dt)
		}
	}
}

func (b *eventBuffer) addEvent(event Event) {
	if len(b.events) >= b.capacity {
		b.droppedEvents++
		if !b.capacityExceeded {
			b.capacityExceeded = true
			b.loggers.Warn("Exceeding event queue capacity. Increase capacity to avoid dropping events.")
		}
		return
	}
	b.events = append(b.events, event)
}

func (b *eventBuffer) addToSummary(event Event) {
	b.summarizer.summarizeEvent(event)
}

func (b *eventBuffer) getPayload() flushPayload {
	return flushPayload{
		events:  b.events,
		summary: b.summarizer.snapshot(),
	}
}

func (b *eventBuffer) clear() {
	b.events = make([]Event, 0, b.capacity)
	b.capacityExceeded = false
	b.summarizer.reset()
}

func startFlushTask(sdkKey string, config Config, client *http.Client, flushCh <-chan *flushPayload,
	workersGroup *sync.WaitGroup, responseFn func(*http.Response), retainFn func([]byte, string)) {
	uri := config.EventsEndpointUri
	if uri == "" {
		uri = strings.TrimRight(config.EventsUri, "/") + defaultURIPath
	}
	t := sendEventsTask{
		client:         client,
		eventsURI:      uri,
		diagnosticsURI: strings.TrimRight(config.EventsUri, "/") + diagnosticsURIPath,
		loggers:        config.Loggers,
		sdkKey:         sdkKey,
		userAgent:      config.UserAgent,
		formatter:      newEventOutputFormatter(config),
	}
	go t.run(flushCh, responseFn, retainFn, workersGroup)
}

func (t *sendEventsTask) run(flushCh <-chan *flushPayload, responseFn func(*http.Response),
	retainFn func([]byte, string), workersGroup *sync.WaitGroup) {
	for {
		payload, more := <-flushCh
		if !more {
			// Channel has been closed - we're shutting down
			break
		}
		switch {
		case payload.diagnosticEvent != nil:
			t.postDiagnosticsEvent(payload.diagnosticEvent)
		case payload.raw != nil:
			t.deliverEvents(payload.raw, payload.rawID, responseFn, retainFn)
		default:
			outputEvents := t.formatter.makeOutputEvents(payload.events, payload.summary)
			if len(outputEvents) > 0 {
				if jsonPayload, marshalErr := json.Marshal(outputEvents); marshalErr != nil {
					t.loggers.Errorf("Unexpected error marshalling event JSON: %+v", marshalErr)
				} else {
					t.deliverEvents(jsonPayload, uuid.New(), responseFn, retainFn)
				}
			}
		}
		workersGroup.Done() // Decrement the count of in-progress flushes
	}
}

// deliverEvents posts a serialized event batch, retrying once after a pause if the failure looks
// transient. A batch that still cannot be delivered is handed to retainFn so that a later flush
// can try it again, with the same payload ID.
func (t *sendEventsTask) deliverEvents(jsonPayload []byte, payloadID string,
	responseFn func(*http.Response), retainFn func([]byte, string)) {
	resp, failed := t.postJSON(jsonPayload, payloadID, t.eventsURI, true)
	if failed {
		retainFn(jsonPayload, payloadID)
	}
	if resp != nil {
		responseFn(resp)
	}
}

func (t *sendEventsTask) postDiagnosticsEvent(event interface{}) {
	jsonPayload, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		t.loggers.Errorf("Unexpected error marshalling diagnostic event JSON: %+v", marshalErr)
		return
	}
	_, _ = t.postJSON(jsonPayload, "", t.diagnosticsURI, false)
}

// postJSON makes up to two attempts to deliver a serialized payload. The second return value is
// true if both attempts failed with an error that could succeed later.
func (t *sendEventsTask) postJSON(jsonPayload []byte, payloadID string, uri string,
	includeSchemaHeader bool) (*http.Response, bool) {
	var resp *http.Response
	var respErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			t.loggers.Warn("Will retry posting events after 1 second")
			time.Sleep(1 * time.Second)
		}
		req, reqErr := http.NewRequest("POST", uri, bytes.NewReader(jsonPayload))
		if reqErr != nil {
			t.loggers.Errorf("Unexpected error while creating event request: %+v", reqErr)
			return nil, false
		}
		req.Header.Add("Authorization", t.sdkKey)
		req.Header.Add("Content-Type", "application/json")
		req.Header.Add("User-Agent", t.userAgent)
		if includeSchemaHeader {
			// The same payload ID is sent on a retry, so the service can drop a duplicate delivery.
			req.Header.Add(eventSchemaHeader, currentEventSchema)
			req.Header.Add(payloadIDHeader, payloadID)
		}

		resp, respErr = t.client.Do(req)

		if resp != nil && resp.Body != nil {
			_, _ = ioutil.ReadAll(resp.Body)
			_ = resp.Body.Close()
		}

		if respErr != nil {
			t.loggers.Warnf("Unexpected error while sending events: %+v", respErr)
			continue
		} else if resp.StatusCode >= 400 && isHTTPErrorRecoverable(resp.StatusCode) {
			t.loggers.Warnf("Received error status %d when sending events", resp.StatusCode)
			continue
		} else {
			return resp, false
		}
	}
	stillFailing := respErr != nil ||
		(resp != nil && resp.StatusCode >= 400 && isHTTPErrorRecoverable(resp.StatusCode))
	return resp, stillFailing
}
