package ldclient

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/facebookgo/httpcontrol"
	"github.com/gregjones/httpcache"
)

const (
	latestAllPath      = "/sdk/latest-all"
	latestFlagsPath    = "/sdk/latest-flags"
	latestSegmentsPath = "/sdk/latest-segments"
)

type allData struct {
	Flags    map[string]*FeatureFlag `json:"flags"`
	Segments map[string]*Segment     `json:"segments"`
}

// requestor is responsible for the polling requests to LaunchDarkly. It uses an ETag-based
// cache so that the server can tell us when the data has not changed since the last poll.
type requestor struct {
	sdkKey     string
	httpClient *http.Client
	config     Config
}

func newRequestor(sdkKey string, config Config, httpClient *http.Client) *requestor {
	var decoratedClient http.Client
	if httpClient != nil {
		decoratedClient = *httpClient
	} else if config.HTTPClientFactory != nil {
		decoratedClient = config.HTTPClientFactory(config)
	} else {
		// The httpcontrol transport gives us a retry for transient network failures, which
		// the ordinary default transport does not.
		decoratedClient = http.Client{
			Transport: &httpcontrol.Transport{
				RequestTimeout: config.Timeout,
				DialTimeout:    config.Timeout,
				DialKeepAlive:  1 * time.Minute,
				MaxTries:       3,
			},
		}
	}
	decoratedClient.Transport = &httpcache.Transport{
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
		Transport:           decoratedClient.Transport,
	}

	return &requestor{
		sdkKey:     sdkKey,
		httpClient: &decoratedClient,
		config:     config,
	}
}

// requestAll makes a request for the complete data set. The second return value is true if the
// response was served from the cache, meaning the data has not changed since the last request.
func (r *requestor) requestAll() (allData, bool, error) {
	var data allData
	body, cached, err := r.makeRequest(latestAllPath)
	if err != nil {
		return data, false, err
	}
	if cached {
		return data, true, nil
	}
	if err = json.Unmarshal(body, &data); err != nil {
		return data, false, err
	}
	return data, cached, nil
}

// requestResource makes a request for a single flag or segment.
func (r *requestor) requestResource(kind VersionedDataKind, key string) (VersionedData, error) {
	var resource string
	switch kind {
	case Features:
		resource = latestFlagsPath + "/" + key
	case Segments:
		resource = latestSegmentsPath + "/" + key
	default:
		return nil, fmt.Errorf("unexpected item type: %s", kind)
	}
	body, _, err := r.makeRequest(resource)
	if err != nil {
		return nil, err
	}
	item := kind.GetDefaultItem().(VersionedData)
	if err = json.Unmarshal(body, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *requestor) makeRequest(resource string) ([]byte, bool, error) {
	req, reqErr := http.NewRequest("GET", r.config.BaseUri+resource, nil)
	if reqErr != nil {
		return nil, false, reqErr
	}
	url := req.URL.String()
	addBaseHeaders(req, r.sdkKey, r.config)

	res, resErr := r.httpClient.Do(req)
	if resErr != nil {
		return nil, false, resErr
	}

	defer func() {
		_, _ = ioutil.ReadAll(res.Body)
		_ = res.Body.Close()
	}()

	if err := checkForHttpError(res.StatusCode, url); err != nil {
		return nil, false, err
	}

	cached := res.Header.Get(httpcache.XFromCache) != ""

	body, ioErr := ioutil.ReadAll(res.Body)
	if ioErr != nil {
		return nil, false, ioErr
	}
	return body, cached, nil
}
