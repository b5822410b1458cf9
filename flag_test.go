package ldclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var flagUser = NewUser("x")
var emptyFeatureStore = NewInMemoryFeatureStore(nil)

func intPtr(n int) *int {
	return &n
}

func TestFlagReturnsOffVariationIfFlagIsOff(t *testing.T) {
	f := FeatureFlag{
		Key:          "feature",
		On:           false,
		OffVariation: intPtr(1),
		Fallthrough:  VariationOrRollout{Variation: intPtr(0)},
		Variations:   []interface{}{"fall", "off", "on"},
	}

	value, events := f.Evaluate(flagUser, emptyFeatureStore)
	assert.Equal(t, "off", value)
	assert.Equal(t, 0, len(events))
}

func TestFlagReturnsNilIfFlagIsOffAndOffVariationIsUnspecified(t *testing.T) {
	f := FeatureFlag{
		Key:         "feature",
		On:          false,
		Fallthrough: VariationOrRollout{Variation: intPtr(0)},
		Variations:  []interface{}{"fall", "off", "on"},
	}

	value, events := f.Evaluate(flagUser, emptyFeatureStore)
	assert.Equal(t, nil, value)
	assert.Equal(t, 0, len(events))
}

func TestFlagReturnsOffVariationIfPrerequisiteIsNotFound(t *testing.T) {
	f0 := FeatureFlag{
		Key:           "feature0",
		On:            true,
		OffVariation:  intPtr(1),
		Prerequisites: []Prerequisite{Prerequisite{"feature1", 1}},
		Fallthrough:   VariationOrRollout{Variation: intPtr(0)},
		Variations:    []interface{}{"fall", "off", "on"},
	}

	value, events := f0.Evaluate(flagUser, emptyFeatureStore)
	assert.Equal(t, "off", value)
	assert.Equal(t, 0, len(events))
}

func TestFlagReturnsOffVariationAndEventIfPrerequisiteIsNotMet(t *testing.T) {
	f0 := FeatureFlag{
		Key:           "feature0",
		On:            true,
		OffVariation:  intPtr(1),
		Prerequisites: []Prerequisite{Prerequisite{"feature1", 1}},
		Fallthrough:   VariationOrRollout{Variation: intPtr(0)},
		Variations:    []interface{}{"fall", "off", "on"},
		Version:       1,
	}
	f1 := FeatureFlag{
		Key:          "feature1",
		On:           true,
		OffVariation: intPtr(1),
		Fallthrough:  VariationOrRollout{Variation: intPtr(0)},
		Variations:   []interface{}{"nogo", "go"},
		Version:      2,
	}
	featureStore := NewInMemoryFeatureStore(nil)
	featureStore.Upsert(Features, &f1)

	value, events := f0.Evaluate(flagUser, featureStore)
	assert.Equal(t, "off", value)

	assert.Equal(t, 1, len(events))
	e := events[0]
	assert.Equal(t, f1.Key, e.Key)
	assert.Equal(t, "feature", e.Kind)
	assert.Equal(t, "nogo", e.Value)
	assert.Equal(t, intPtr(f1.Version), e.Version)
	assert.Equal(t, strPtr(f0.Key), e.PrereqOf)
}

func TestFlagReturnsFallthroughVariationAndEventIfPrerequisiteIsMetAndThereAreNoRules(t *testing.T) {
	f0 := FeatureFlag{
		Key:           "feature0",
		On:            true,
		OffVariation:  intPtr(1),
		Prerequisites: []Prerequisite{Prerequisite{"feature1", 1}},
		Fallthrough:   VariationOrRollout{Variation: intPtr(0)},
		Variations:    []interface{}{"fall", "off", "on"},
		Version:       1,
	}
	f1 := FeatureFlag{
		Key:          "feature1",
		On:           true,
		OffVariation: intPtr(1),
		Fallthrough:  VariationOrRollout{Variation: intPtr(1)}, // this 1 matches the 1 in the prerequisites array
		Variations:   []interface{}{"nogo", "go"},
		Version:      2,
	}
	featureStore := NewInMemoryFeatureStore(nil)
	featureStore.Upsert(Features, &f1)

	value, events := f0.Evaluate(flagUser, featureStore)
	assert.Equal(t, "fall", value)

	assert.Equal(t, 1, len(events))
	e := events[0]
	assert.Equal(t, f1.Key, e.Key)
	assert.Equal(t, "feature", e.Kind)
	assert.Equal(t, "go", e.Value)
	assert.Equal(t, intPtr(f1.Version), e.Version)
	assert.Equal(t, strPtr(f0.Key), e.PrereqOf)
}

func TestMultipleLevelsOfPrerequisiteProduceMultipleEvents(t *testing.T) {
	f0 := FeatureFlag{
		Key:           "feature0",
		On:            true,
		OffVariation:  intPtr(1),
		Prerequisites: []Prerequisite{Prerequisite{"feature1", 1}},
		Fallthrough:   VariationOrRollout{Variation: intPtr(0)},
		Variations:    []interface{}{"fall", "off", "on"},
		Version:       1,
	}
	f1 := FeatureFlag{
		Key:           "feature1",
		On:            true,
		OffVariation:  intPtr(1),
		Prerequisites: []Prerequisite{Prerequisite{"feature2", 1}},
		Fallthrough:   VariationOrRollout{Variation: intPtr(1)}, // this 1 matches the 1 in the prerequisites array
		Variations:    []interface{}{"nogo", "go"},
		Version:       2,
	}
	f2 := FeatureFlag{
		Key:         "feature2",
		On:          true,
		Fallthrough: VariationOrRollout{Variation: intPtr(1)},
		Variations:  []interface{}{"nogo", "go"},
		Version:     3,
	}
	featureStore := NewInMemoryFeatureStore(nil)
	featureStore.Upsert(Features, &f1)
	featureStore.Upsert(Features, &f2)

	value, events := f0.Evaluate(flagUser, featureStore)
	assert.Equal(t, "fall", value)

	assert.Equal(t, 2, len(events))
	// events are generated recursively, so the deepest level of prerequisite appears first

	e0 := events[0]
	assert.Equal(t, f2.Key, e0.Key)
	assert.Equal(t, "feature", e0.Kind)
	assert.Equal(t, "go", e0.Value)
	assert.Equal(t, intPtr(f2.Version), e0.Version)
	assert.Equal(t, strPtr(f1.Key), e0.PrereqOf)

	e1 := events[1]
	assert.Equal(t, f1.Key, e1.Key)
	assert.Equal(t, "feature", e1.Kind)
	assert.Equal(t, "go", e1.Value)
	assert.Equal(t, intPtr(f1.Version), e1.Version)
	assert.Equal(t, strPtr(f0.Key), e1.PrereqOf)
}

func TestFlagMatchesUserFromTargets(t *testing.T) {
	f := FeatureFlag{
		Key:          "feature",
		On:           true,
		OffVariation: intPtr(1),
		Targets:      []Target{Target{[]string{"whoever", "userkey"}, 2}},
		Fallthrough:  VariationOrRollout{Variation: intPtr(0)},
		Variations:   []interface{}{"fall", "off", "on"},
	}
	user := NewUser("userkey")

	value, events := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, "on", value)
	assert.Equal(t, 0, len(events))
}

func TestFlagMatchesUserFromRules(t *testing.T) {
	clause := Clause{
		Attribute: "key",
		Op:        "in",
		Values:    []interface{}{"userkey"},
	}
	f := FeatureFlag{
		Key:          "feature",
		On:           true,
		OffVariation: intPtr(1),
		Rules: []Rule{
			Rule{
				Clauses:            []Clause{clause},
				VariationOrRollout: VariationOrRollout{Variation: intPtr(2)},
			},
		},
		Fallthrough: VariationOrRollout{Variation: intPtr(0)},
		Variations:  []interface{}{"fall", "off", "on"},
	}
	user := NewUser("userkey")

	value, events := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, "on", value)
	assert.Equal(t, 0, len(events))
}

func TestClauseCanMatchBuiltInAttribute(t *testing.T) {
	clause := Clause{
		Attribute: "name",
		Op:        "in",
		Values:    []interface{}{"Bob"},
	}
	f := booleanFlagWithClause(clause)
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}

	value, _ := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, true, value)
}

func TestClauseCanMatchCustomAttribute(t *testing.T) {
	clause := Clause{
		Attribute: "legs",
		Op:        "in",
		Values:    []interface{}{4},
	}
	f := booleanFlagWithClause(clause)
	custom := map[string]interface{}{"legs": 4}
	user := User{Key: strPtr("key"), Custom: &custom}

	value, _ := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, true, value)
}

func TestClauseReturnsFalseForMissingAttribute(t *testing.T) {
	clause := Clause{
		Attribute: "legs",
		Op:        "in",
		Values:    []interface{}{4},
	}
	f := booleanFlagWithClause(clause)
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}

	value, _ := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, false, value)
}

func TestClauseCanBeNegated(t *testing.T) {
	clause := Clause{
		Attribute: "name",
		Op:        "in",
		Values:    []interface{}{"Bob"},
		Negate:    true,
	}
	f := booleanFlagWithClause(clause)
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}

	value, _ := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, false, value)
}

func TestClauseForMissingAttributeIsFalseEvenIfNegated(t *testing.T) {
	clause := Clause{
		Attribute: "legs",
		Op:        "in",
		Values:    []interface{}{4},
		Negate:    true,
	}
	f := booleanFlagWithClause(clause)
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}

	value, _ := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, false, value)
}

func TestClauseWithUnknownOperatorDoesNotMatch(t *testing.T) {
	clause := Clause{
		Attribute: "name",
		Op:        "doesSomethingUnsupported",
		Values:    []interface{}{"Bob"},
	}
	f := booleanFlagWithClause(clause)
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}

	value, _ := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, false, value)
}

func TestClauseWithUnknownOperatorDoesNotStopSubsequentRuleFromMatching(t *testing.T) {
	badClause := Clause{
		Attribute: "name",
		Op:        "doesSomethingUnsupported",
		Values:    []interface{}{"Bob"},
	}
	badRule := Rule{Clauses: []Clause{badClause}, VariationOrRollout: VariationOrRollout{Variation: intPtr(1)}}
	goodClause := Clause{
		Attribute: "name",
		Op:        "in",
		Values:    []interface{}{"Bob"},
	}
	goodRule := Rule{Clauses: []Clause{goodClause}, VariationOrRollout: VariationOrRollout{Variation: intPtr(1)}}
	f := FeatureFlag{
		Key:         "feature",
		On:          true,
		Rules:       []Rule{badRule, goodRule},
		Fallthrough: VariationOrRollout{Variation: intPtr(0)},
		Variations:  []interface{}{false, true},
	}
	user := User{Key: strPtr("key"), Name: strPtr("Bob")}

	value, _ := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, true, value)
}

func TestSegmentMatchClauseRetrievesSegmentFromStore(t *testing.T) {
	segment := Segment{
		Key:      "segkey",
		Included: []string{"foo"},
	}
	f := booleanFlagWithClause(Clause{Attribute: "", Op: "segmentMatch", Values: []interface{}{"segkey"}})
	featureStore := NewInMemoryFeatureStore(nil)
	featureStore.Upsert(Segments, &segment)
	user := NewUser("foo")

	value, _ := f.Evaluate(user, featureStore)
	assert.Equal(t, true, value)
}

func TestSegmentMatchClauseYieldsRuleMatchReason(t *testing.T) {
	segment := Segment{
		Key:      "segkey",
		Included: []string{"foo"},
	}
	f := booleanFlagWithClause(Clause{Attribute: "", Op: "segmentMatch", Values: []interface{}{"segkey"}})
	featureStore := NewInMemoryFeatureStore(nil)
	featureStore.Upsert(Segments, &segment)
	user := NewUser("foo")

	detail, _ := f.EvaluateDetail(user, featureStore, false)
	assert.Equal(t, true, detail.Value)
	assert.Equal(t, newEvalReasonRuleMatch(0, ""), detail.Reason)
}

func TestSegmentMatchClauseFallsThroughIfSegmentNotFound(t *testing.T) {
	f := booleanFlagWithClause(Clause{Attribute: "", Op: "segmentMatch", Values: []interface{}{"segkey"}})
	user := NewUser("foo")

	value, _ := f.Evaluate(user, emptyFeatureStore)
	assert.Equal(t, false, value)
}

func TestClauseWithNonScalarElementInAttributeArrayYieldsMalformedFlagError(t *testing.T) {
	clause := Clause{
		Attribute: "groups",
		Op:        "in",
		Values:    []interface{}{"admin"},
	}
	f := booleanFlagWithClause(clause)
	custom := map[string]interface{}{"groups": []interface{}{[]interface{}{"admin"}}}
	user := User{Key: strPtr("key"), Custom: &custom}

	detail, _ := f.EvaluateDetail(user, emptyFeatureStore, false)
	assert.Equal(t, newEvalReasonError(EvalErrorMalformedFlag), detail.Reason)
	assert.Nil(t, detail.Value)
}

func TestSegmentMatchClauseWithNonScalarElementInAttributeArrayYieldsMalformedFlagError(t *testing.T) {
	segment := Segment{
		Key: "segkey",
		Rules: []SegmentRule{
			SegmentRule{
				Clauses: []Clause{Clause{Attribute: "groups", Op: "in", Values: []interface{}{"admin"}}},
			},
		},
	}
	featureStore := NewInMemoryFeatureStore(nil)
	featureStore.Upsert(Segments, &segment)
	f := booleanFlagWithClause(Clause{Attribute: "", Op: "segmentMatch", Values: []interface{}{"segkey"}})
	custom := map[string]interface{}{"groups": []interface{}{map[string]interface{}{"name": "admin"}}}
	user := User{Key: strPtr("foo"), Custom: &custom}

	detail, _ := f.EvaluateDetail(user, featureStore, false)
	assert.Equal(t, newEvalReasonError(EvalErrorMalformedFlag), detail.Reason)
}

func TestPrerequisiteCycleYieldsMalformedFlagError(t *testing.T) {
	f0 := FeatureFlag{
		Key:           "feature0",
		On:            true,
		Prerequisites: []Prerequisite{Prerequisite{Key: "feature1", Variation: 1}},
		OffVariation:  intPtr(1),
		Fallthrough:   VariationOrRollout{Variation: intPtr(0)},
		Variations:    []interface{}{"fall", "off"},
	}
	f1 := FeatureFlag{
		Key:           "feature1",
		On:            true,
		Prerequisites: []Prerequisite{Prerequisite{Key: "feature0", Variation: 1}},
		Fallthrough:   VariationOrRollout{Variation: intPtr(1)},
		Variations:    []interface{}{"nogo", "go"},
	}
	featureStore := NewInMemoryFeatureStore(nil)
	featureStore.Upsert(Features, &f0)
	featureStore.Upsert(Features, &f1)
	user := NewUser("userkey")

	detail, _ := f0.EvaluateDetail(user, featureStore, false)
	assert.Equal(t, newEvalReasonError(EvalErrorMalformedFlag), detail.Reason)
	assert.Nil(t, detail.Value)
}

func TestVariationIndexForUser(t *testing.T) {
	wv1 := WeightedVariation{Variation: 0, Weight: 60000.0}
	wv2 := WeightedVariation{Variation: 1, Weight: 40000.0}
	rollout := Rollout{Variations: []WeightedVariation{wv1, wv2}}
	rule := Rule{VariationOrRollout: VariationOrRollout{Rollout: &rollout}}

	userKey := "userKeyA"
	variationIndex := rule.variationIndexForUser(User{Key: &userKey}, "hashKey", "saltyA")
	assert.NotNil(t, variationIndex)
	assert.Equal(t, 0, *variationIndex)

	userKey = "userKeyB"
	variationIndex = rule.variationIndexForUser(User{Key: &userKey}, "hashKey", "saltyA")
	assert.NotNil(t, variationIndex)
	assert.Equal(t, 1, *variationIndex)

	userKey = "userKeyC"
	variationIndex = rule.variationIndexForUser(User{Key: &userKey}, "hashKey", "saltyA")
	assert.NotNil(t, variationIndex)
	assert.Equal(t, 0, *variationIndex)
}

func TestBucketUserByKey(t *testing.T) {
	userKey := "userKeyA"
	user := User{Key: &userKey}
	bucket := bucketUser(user, "hashKey", "key", "saltyA")
	assert.InEpsilon(t, 0.42157587, bucket, 0.0000001)

	userKey = "userKeyB"
	user = User{Key: &userKey}
	bucket = bucketUser(user, "hashKey", "key", "saltyA")
	assert.InEpsilon(t, 0.6708485, bucket, 0.0000001)

	userKey = "userKeyC"
	user = User{Key: &userKey}
	bucket = bucketUser(user, "hashKey", "key", "saltyA")
	assert.InEpsilon(t, 0.10343106, bucket, 0.0000001)
}

func TestBucketUserByIntAttr(t *testing.T) {
	userKey := "userKeyD"
	custom := map[string]interface{}{
		"intAttr": 33333,
	}
	user := User{Key: &userKey, Custom: &custom}
	bucket := bucketUser(user, "hashKey", "intAttr", "saltyA")
	assert.InEpsilon(t, 0.54771423, bucket, 0.0000001)

	custom = map[string]interface{}{
		"stringAttr": "33333",
	}
	user = User{Key: &userKey, Custom: &custom}
	bucket2 := bucketUser(user, "hashKey", "stringAttr", "saltyA")
	assert.InEpsilon(t, bucket, bucket2, 0.0000001)

	// JSON decoding produces float64 even for whole numbers
	custom = map[string]interface{}{
		"wholeFloatAttr": float64(33333),
	}
	user = User{Key: &userKey, Custom: &custom}
	bucket3 := bucketUser(user, "hashKey", "wholeFloatAttr", "saltyA")
	assert.InEpsilon(t, bucket, bucket3, 0.0000001)
}

func TestBucketUserByFloatAttrNotAllowed(t *testing.T) {
	userKey := "userKeyE"
	custom := map[string]interface{}{
		"floatAttr": 999.999,
	}
	user := User{Key: &userKey, Custom: &custom}
	bucket := bucketUser(user, "hashKey", "floatAttr", "saltyA")
	assert.InDelta(t, 0.0, bucket, 0.0000001)
}

func TestBucketValueUsesSeedWhenPresent(t *testing.T) {
	userKey := "userKeyA"
	user := User{Key: &userKey}
	seed1 := 61
	seed2 := 60

	bucketNoSeed := bucketUserForRollout(user, nil, false, "hashKey", "key", "saltyA")
	bucketSeed1 := bucketUserForRollout(user, &seed1, false, "hashKey", "key", "saltyA")
	bucketSeed2 := bucketUserForRollout(user, &seed2, false, "hashKey", "key", "saltyA")

	assert.NotEqual(t, bucketNoSeed, bucketSeed1)
	assert.NotEqual(t, bucketSeed1, bucketSeed2)
}

func TestExperimentBucketingIgnoresSecondaryKey(t *testing.T) {
	userKey := "userKeyA"
	secondary := "mySecondaryKey"
	user := User{Key: &userKey}
	userWithSecondary := User{Key: &userKey, Secondary: &secondary}

	bucket1 := bucketUserForRollout(user, nil, true, "hashKey", "key", "saltyA")
	bucket2 := bucketUserForRollout(userWithSecondary, nil, true, "hashKey", "key", "saltyA")
	assert.Equal(t, bucket1, bucket2)

	// Outside of an experiment, the secondary key does affect the bucket value
	bucket3 := bucketUserForRollout(user, nil, false, "hashKey", "key", "saltyA")
	bucket4 := bucketUserForRollout(userWithSecondary, nil, false, "hashKey", "key", "saltyA")
	assert.NotEqual(t, bucket3, bucket4)
}

func TestExperimentRolloutIgnoresBucketBy(t *testing.T) {
	userKey := "userKeyA"
	custom := map[string]interface{}{"intAttr": 33333}
	user := User{Key: &userKey, Custom: &custom}
	bucketByAttr := "intAttr"
	wv1 := WeightedVariation{Variation: 0, Weight: 50000.0}
	wv2 := WeightedVariation{Variation: 1, Weight: 50000.0}

	rollout1 := Rollout{Kind: RolloutKindExperiment, Variations: []WeightedVariation{wv1, wv2}}
	rollout2 := Rollout{Kind: RolloutKindExperiment, BucketBy: &bucketByAttr, Variations: []WeightedVariation{wv1, wv2}}

	index1, _ := VariationOrRollout{Rollout: &rollout1}.variationIndexForUserWithExperiment(user, "hashKey", "saltyA")
	index2, _ := VariationOrRollout{Rollout: &rollout2}.variationIndexForUserWithExperiment(user, "hashKey", "saltyA")
	assert.NotNil(t, index1)
	assert.NotNil(t, index2)
	assert.Equal(t, *index1, *index2)
}

func TestExperimentRolloutSetsInExperiment(t *testing.T) {
	userKey := "userKeyA"
	user := User{Key: &userKey}
	rollout := Rollout{
		Kind:       RolloutKindExperiment,
		Variations: []WeightedVariation{WeightedVariation{Variation: 0, Weight: 100000.0}},
	}
	vr := VariationOrRollout{Rollout: &rollout}

	index, inExperiment := vr.variationIndexForUserWithExperiment(user, "hashKey", "saltyA")
	assert.NotNil(t, index)
	assert.True(t, inExperiment)

	rollout.Variations[0].Untracked = true
	index, inExperiment = vr.variationIndexForUserWithExperiment(user, "hashKey", "saltyA")
	assert.NotNil(t, index)
	assert.False(t, inExperiment)
}

func TestBucketPastEndOfRolloutIsAssignedToLastVariation(t *testing.T) {
	wv1 := WeightedVariation{Variation: 0, Weight: 10000.0}
	wv2 := WeightedVariation{Variation: 1, Weight: 10000.0}
	rollout := Rollout{Variations: []WeightedVariation{wv1, wv2}}
	rule := Rule{VariationOrRollout: VariationOrRollout{Rollout: &rollout}}

	userKey := "userKeyB" // bucket value 0.6708485 is past the cumulative total of 0.2
	variationIndex := rule.variationIndexForUser(User{Key: &userKey}, "hashKey", "saltyA")
	assert.NotNil(t, variationIndex)
	assert.Equal(t, 1, *variationIndex)
}

func booleanFlagWithClause(clause Clause) FeatureFlag {
	return FeatureFlag{
		Key: "feature",
		On:  true,
		Rules: []Rule{
			Rule{Clauses: []Clause{clause}, VariationOrRollout: VariationOrRollout{Variation: intPtr(1)}},
		},
		Fallthrough: VariationOrRollout{Variation: intPtr(0)},
		Variations:  []interface{}{false, true},
	}
}
