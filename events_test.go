package ldclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeatureRequestEventConstructorTakesPropertiesFromFlag(t *testing.T) {
	flag := FeatureFlag{
		Key:         "flagkey",
		Version:     100,
		TrackEvents: true,
	}
	user := NewUser("userkey")
	fe := newSuccessfulEvalEvent(&flag, user, intPtr(1), "value", "default", nil, false, nil)

	assert.Equal(t, flag.Key, fe.Key)
	assert.Equal(t, intPtr(flag.Version), fe.Version)
	assert.Equal(t, intPtr(1), fe.Variation)
	assert.Equal(t, "value", fe.Value)
	assert.Equal(t, "default", fe.Default)
	assert.True(t, fe.TrackEvents)
	assert.Nil(t, fe.DebugEventsUntilDate)
	assert.Nil(t, fe.Reason.Reason)
	assert.Equal(t, user, fe.User)
	assert.NotEqual(t, uint64(0), fe.CreationDate)
}

func TestFeatureRequestEventCanContainReason(t *testing.T) {
	flag := FeatureFlag{Key: "flagkey", Version: 100}
	fe := newSuccessfulEvalEvent(&flag, NewUser("userkey"), intPtr(1), "value", nil,
		evalReasonFallthroughInstance, true, nil)

	assert.Equal(t, evalReasonFallthroughInstance, fe.Reason.Reason)
}

func TestFeatureRequestEventForExperimentIsAlwaysTracked(t *testing.T) {
	flag := FeatureFlag{Key: "flagkey", Version: 100, TrackEvents: false}
	reason := newEvalReasonFallthroughExperiment(true)
	fe := newSuccessfulEvalEvent(&flag, NewUser("userkey"), intPtr(1), "value", nil, reason, false, nil)

	assert.True(t, fe.TrackEvents)
	assert.Equal(t, reason, fe.Reason.Reason)
}

func TestUnknownFlagEventHasNoVersionOrVariation(t *testing.T) {
	fe := newUnknownFlagEvent("badflag", NewUser("userkey"), "default", nil, false)

	assert.Equal(t, "badflag", fe.Key)
	assert.Nil(t, fe.Version)
	assert.Nil(t, fe.Variation)
	assert.Equal(t, "default", fe.Value)
	assert.Equal(t, "default", fe.Default)
}

func TestCustomEventConstructor(t *testing.T) {
	user := NewUser("userkey")
	data := map[string]interface{}{"thing": "stuff"}
	ce := NewCustomEvent("eventkey", user, data)

	assert.Equal(t, "eventkey", ce.Key)
	assert.Equal(t, data, ce.Data)
	assert.Equal(t, user, ce.User)
	assert.False(t, ce.HasMetric)
}

func TestCustomEventConstructorWithMetric(t *testing.T) {
	ce := newCustomEvent("eventkey", NewUser("userkey"), nil, true, 2.5)

	assert.True(t, ce.HasMetric)
	assert.Equal(t, 2.5, ce.MetricValue)
}

func TestIdentifyEventConstructor(t *testing.T) {
	user := NewUser("userkey")
	ie := NewIdentifyEvent(user)

	assert.Equal(t, user, ie.User)
	assert.NotEqual(t, uint64(0), ie.CreationDate)
}
