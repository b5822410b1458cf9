package ldclient

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	es "github.com/launchdarkly/eventsource"
)

const (
	putEvent           = "put"
	patchEvent         = "patch"
	deleteEvent        = "delete"
	indirectPutEvent   = "indirect/put"
	indirectPatchEvent = "indirect/patch"
	streamingPath      = "/all"

	// The LaunchDarkly stream sends a heartbeat comment every 3 minutes, so a read that blocks
	// for longer than this means the connection has really gone stale.
	streamReadTimeout = 5 * time.Minute
)

type streamProcessor struct {
	store                      FeatureStore
	client                     *http.Client
	requestor                  *requestor
	config                     Config
	sdkKey                     string
	setInitializedOnce         sync.Once
	isInitialized              bool
	connectionAttemptStartTime uint64
	halt                       chan struct{}
	closeOnce                  sync.Once
}

type putData struct {
	Path string  `json:"path"`
	Data allData `json:"data"`
}

type patchData struct {
	Path string `json:"path"`
	// This could be a flag or a segment, depending on the path, so we defer parsing
	Data json.RawMessage `json:"data"`
}

type deleteData struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

func newStreamProcessor(sdkKey string, config Config, requestor *requestor) *streamProcessor {
	sp := &streamProcessor{
		store:     config.FeatureStore,
		config:    config,
		sdkKey:    sdkKey,
		requestor: requestor,
		halt:      make(chan struct{}),
	}

	sp.client = config.newHTTPClient()
	// Client.Timeout isn't just a connect timeout; it is the duration of the entire request, which
	// would break the stream, so it must be zeroed out here.
	sp.client.Timeout = 0

	return sp
}

func (sp *streamProcessor) Initialized() bool {
	return sp.isInitialized
}

func (sp *streamProcessor) Start(closeWhenReady chan<- struct{}) {
	sp.config.Loggers.Info("Starting LaunchDarkly streaming connection")
	go sp.subscribe(closeWhenReady)
}

// Matches a stream event path against the kinds of data in the store. Returns nil if the path
// is not recognized.
func parseStorePath(path string) (VersionedDataKind, string) {
	switch {
	case strings.HasPrefix(path, "/flags/"):
		return Features, strings.TrimPrefix(path, "/flags/")
	case strings.HasPrefix(path, "/segments/"):
		return Segments, strings.TrimPrefix(path, "/segments/")
	}
	return nil, ""
}

func (sp *streamProcessor) subscribe(closeWhenReady chan<- struct{}) {
	var readyOnce sync.Once
	notifyReady := func() {
		readyOnce.Do(func() {
			close(closeWhenReady)
		})
	}
	// Ensure we stop waiting for initialization if we exit, even if initialization fails
	defer notifyReady()

	for {
		select {
		case <-sp.halt:
			return
		default:
		}

		req, _ := http.NewRequest("GET", sp.config.StreamUri+streamingPath, nil)
		addBaseHeaders(req, sp.sdkKey, sp.config)
		sp.config.Loggers.Info("Connecting to LaunchDarkly stream")

		initialRetryDelay := sp.config.StreamInitialReconnectDelay
		if initialRetryDelay <= 0 {
			initialRetryDelay = DefaultInitialReconnectDelay
		}

		sp.logConnectionStarted()

		stream, err := es.SubscribeWithRequestAndOptions(req,
			es.StreamOptionHTTPClient(sp.client),
			es.StreamOptionReadTimeout(streamReadTimeout),
			es.StreamOptionInitialRetry(initialRetryDelay))
		if err != nil {
			sp.logConnectionResult(false)
			sp.config.Loggers.Warnf("Unable to establish streaming connection: %+v", err)

			if se, ok := err.(es.SubscriptionError); ok {
				sp.config.Loggers.Error(httpErrorMessage(se.Code, "streaming connection", "will retry"))
				if !isHTTPErrorRecoverable(se.Code) {
					notifyReady()
					return
				}
			}

			// Wait before retrying the initial connection, unless we've been closed in the meantime
			select {
			case <-sp.halt:
				return
			case <-time.After(initialRetryDelay):
			}
			continue
		}

		if !sp.consumeStream(stream, notifyReady) {
			return
		}
		// The stream has ended without a halt; reconnect
	}
}

// Processes events from the stream until it is halted or the stream ends. Returns true if the
// caller should attempt to reconnect.
func (sp *streamProcessor) consumeStream(stream *es.Stream, notifyReady func()) bool {
	defer stream.Close()

	for {
		select {
		case event, ok := <-stream.Events:
			if !ok {
				sp.config.Loggers.Info("Event stream closed")
				return true
			}
			sp.handleEvent(event, notifyReady)
		case err, ok := <-stream.Errors:
			if !ok {
				sp.config.Loggers.Info("Event error stream closed")
				return true
			}
			sp.config.Loggers.Errorf("Error encountered processing stream: %+v", err)
			if se, ok := err.(es.SubscriptionError); ok && !isHTTPErrorRecoverable(se.Code) {
				sp.config.Loggers.Error(httpErrorMessage(se.Code, "streaming connection", "will retry"))
				return false
			}
		case <-sp.halt:
			return false
		}
	}
}

func (sp *streamProcessor) handleEvent(event es.Event, notifyReady func()) {
	switch event.Event() {
	case putEvent:
		var put putData
		if err := json.Unmarshal([]byte(event.Data()), &put); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling PUT json: %+v", err)
			return
		}
		if err := sp.store.Init(makeAllVersionedDataMap(put.Data.Flags, put.Data.Segments)); err != nil {
			sp.config.Loggers.Errorf("Error initializing store: %+v", err)
			return
		}
		sp.logConnectionResult(true)
		sp.setInitializedOnce.Do(func() {
			sp.config.Loggers.Info("LaunchDarkly streaming is active")
			sp.isInitialized = true
			notifyReady()
		})

	case patchEvent:
		var patch patchData
		if err := json.Unmarshal([]byte(event.Data()), &patch); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling PATCH json: %+v", err)
			return
		}
		kind, _ := parseStorePath(patch.Path)
		if kind == nil {
			sp.config.Loggers.Warnf("Unknown data path: %s; ignoring patch", patch.Path)
			return
		}
		item := kind.GetDefaultItem().(VersionedData)
		if err := json.Unmarshal(patch.Data, item); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling %s json: %+v", kind, err)
			return
		}
		if err := sp.store.Upsert(kind, item); err != nil {
			sp.config.Loggers.Errorf("Unexpected error storing %s: %+v", kind, err)
		}

	case deleteEvent:
		var data deleteData
		if err := json.Unmarshal([]byte(event.Data()), &data); err != nil {
			sp.config.Loggers.Errorf("Unexpected error unmarshalling DELETE json: %+v", err)
			return
		}
		kind, key := parseStorePath(data.Path)
		if kind == nil {
			sp.config.Loggers.Warnf("Unknown data path: %s; ignoring delete", data.Path)
			return
		}
		if err := sp.store.Delete(kind, key, data.Version); err != nil {
			sp.config.Loggers.Errorf(`Unexpected error deleting %s "%s": %+v`, kind, key, err)
		}

	case indirectPutEvent:
		allData, _, err := sp.requestor.requestAll()
		if err != nil {
			sp.config.Loggers.Errorf("Unexpected error requesting all items: %+v", err)
			return
		}
		if err = sp.store.Init(makeAllVersionedDataMap(allData.Flags, allData.Segments)); err != nil {
			sp.config.Loggers.Errorf("Error initializing store: %+v", err)
			return
		}
		sp.setInitializedOnce.Do(func() {
			sp.isInitialized = true
			notifyReady()
		})

	case indirectPatchEvent:
		path := event.Data()
		kind, key := parseStorePath(path)
		if kind == nil {
			sp.config.Loggers.Warnf("Unknown data path: %s; ignoring indirect patch", path)
			return
		}
		item, err := sp.requestor.requestResource(kind, key)
		if err != nil {
			sp.config.Loggers.Errorf(`Unexpected error requesting %s "%s": %+v`, kind, key, err)
			return
		}
		if err = sp.store.Upsert(kind, item); err != nil {
			sp.config.Loggers.Errorf(`Unexpected error storing %s "%s": %+v`, kind, key, err)
		}

	default:
		sp.config.Loggers.Infof("Unexpected event found in stream: %s", event.Event())
	}
}

func (sp *streamProcessor) logConnectionStarted() {
	sp.connectionAttemptStartTime = toUnixMillis(time.Now())
}

func (sp *streamProcessor) logConnectionResult(success bool) {
	if sp.connectionAttemptStartTime > 0 && sp.config.diagnosticsManager != nil {
		timestampMillis := toUnixMillis(time.Now())
		sp.config.diagnosticsManager.RecordStreamInit(timestampMillis, !success,
			milliseconds(timestampMillis-sp.connectionAttemptStartTime))
	}
	sp.connectionAttemptStartTime = 0
}

// Close shuts down the stream processor
func (sp *streamProcessor) Close() error {
	sp.closeOnce.Do(func() {
		sp.config.Loggers.Info("Closing event stream")
		close(sp.halt)
	})
	return nil
}
