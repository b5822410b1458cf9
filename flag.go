package ldclient

import (
	"crypto/sha1" //nolint:gas // SHA1 is cryptographically weak, but we are not using it to hash any credentials
	"encoding/hex"
	"errors"
	"io"
	"reflect"
	"strconv"
)

const (
	longScale = float64(0xFFFFFFFFFFFFFFF)

	userKeyAttr = "key"
)

// errNonScalarInAttributeArray means an array-valued user attribute had an element that was
// itself an array or object. Evaluation reports this as a malformed flag error.
var errNonScalarInAttributeArray = errors.New("user attribute array contained a non-scalar element")

// FeatureFlag describes an individual feature flag.
type FeatureFlag struct {
	// Key is the unique string key of the feature flag.
	Key string `json:"key" bson:"key"`
	// Version is an integer that is incremented by LaunchDarkly every time the configuration of the flag is changed.
	Version int `json:"version" bson:"version"`
	// On is true if targeting is turned on for this flag.
	//
	// If On is false, the flag always serves its off variation (OffVariation).
	On bool `json:"on" bson:"on"`
	// TrackEvents is used internally by the SDK analytics event system.
	//
	// This field is true if the current LaunchDarkly account has data export enabled, and has turned on
	// the "send detailed event information for this flag" option for this flag. This tells the SDK to
	// send full event data for each flag evaluation, rather than only aggregate data in a summary event.
	TrackEvents bool `json:"trackEvents" bson:"trackEvents"`
	// Deleted is true if this flag has been deleted.
	Deleted bool `json:"deleted" bson:"deleted"`
	// Prerequisites is a list of feature flag conditions that are prerequisites for this flag.
	//
	// If any prerequisite is not met, the flag serves its off variation.
	Prerequisites []Prerequisite `json:"prerequisites" bson:"prerequisites"`
	// Salt is a randomized value assigned to this flag that is used in the hashing function for
	// percentage rollouts.
	Salt string `json:"salt" bson:"salt"`
	// Sel is unused; it is maintained here for backward compatibility with the LaunchDarkly data schema.
	Sel string `json:"sel" bson:"sel"`
	// Targets contains sets of individually targeted user keys.
	//
	// Targets take precedence over Rules: if a user is matched by any Target, the targeting rules are
	// ignored. Targets are ignored if the flag is off.
	Targets []Target `json:"targets" bson:"targets"`
	// Rules is a list of rules that may match a user.
	//
	// If a user is matched by a Rule, all subsequent Rules in the list are skipped. Rules are ignored
	// if the flag is off.
	Rules []Rule `json:"rules" bson:"rules"`
	// Fallthrough defines the flag's behavior if the flag is on and the user is not matched by any
	// Targets or Rules.
	Fallthrough VariationOrRollout `json:"fallthrough" bson:"fallthrough"`
	// OffVariation specifies the variation index (out of Variations) that is returned whenever the
	// flag is off or a prerequisite is not met. If it is nil in those cases, the flag has no value.
	OffVariation *int `json:"offVariation" bson:"offVariation"`
	// Variations is the list of all allowable variation values for this flag. The variation index for a
	// Target or Rule is a zero-based index into this list.
	Variations []interface{} `json:"variations" bson:"variations"`
	// DebugEventsUntilDate is used internally by the SDK analytics event system.
	//
	// This field is non-nil if debugging for this flag has been turned on temporarily on the LaunchDarkly
	// dashboard; it is the time at which the debugging mode should expire, in epoch milliseconds.
	DebugEventsUntilDate *uint64 `json:"debugEventsUntilDate,omitempty" bson:"debugEventsUntilDate,omitempty"`
	// ClientSide is true if this flag is available to client-side SDKs using the client-side endpoints.
	ClientSide bool `json:"clientSide" bson:"-"`
}

// GetKey returns the string key for the feature flag.
func (f *FeatureFlag) GetKey() string {
	return f.Key
}

// GetVersion returns the version of a flag.
func (f *FeatureFlag) GetVersion() int {
	return f.Version
}

// IsDeleted returns whether a flag has been deleted.
func (f *FeatureFlag) IsDeleted() bool {
	return f.Deleted
}

// Clone returns a copy of a flag.
func (f *FeatureFlag) Clone() VersionedData {
	f1 := *f
	return &f1
}

// Rollout describes how users will be bucketed into variations during a percentage rollout.
type Rollout struct {
	// Kind specifies whether this rollout is a simple percentage rollout or represents an experiment.
	// Experiments have different behavior for tracking and variation bucketing.
	Kind RolloutKind `json:"kind,omitempty" bson:"kind,omitempty"`
	// Variations is a list of the variations in the percentage rollout and what percentage of users
	// to include in each.
	//
	// The Weight values of all of the variations should add up to 100000. If they add up to less,
	// users whose bucket value lands past the end of the last bucket are assigned the last variation.
	Variations []WeightedVariation `json:"variations" bson:"variations"`
	// BucketBy specifies which user attribute should be used to distinguish between users in a rollout.
	// The default (when BucketBy is nil) is the user's key. This is ignored for experiments.
	BucketBy *string `json:"bucketBy,omitempty" bson:"bucketBy,omitempty"`
	// Seed, if present, specifies a seed value for the hashing that assigns users to variations. This
	// is used for experiments, to ensure that bucket assignments are decoupled from those of any
	// percentage rollout that uses the flag key and salt.
	Seed *int `json:"seed,omitempty" bson:"seed,omitempty"`
}

// RolloutKind describes whether a rollout is a simple percentage rollout or represents an experiment.
type RolloutKind string

const (
	// RolloutKindRollout represents a simple percentage rollout. This is the default kind.
	RolloutKindRollout RolloutKind = "rollout"
	// RolloutKindExperiment represents an experiment. Experiments have different behavior for tracking
	// and variation bucketing.
	RolloutKindExperiment RolloutKind = "experiment"
)

// IsExperiment returns whether this rollout represents an experiment.
func (r Rollout) IsExperiment() bool {
	return r.Kind == RolloutKindExperiment
}

// Clause describes an individual clause within a targeting rule.
type Clause struct {
	// Attribute is the name of the user attribute to be tested by this clause.
	Attribute string `json:"attribute" bson:"attribute"`
	// Op is the operator that this clause uses to compare the user attribute to Values.
	Op Operator `json:"op" bson:"op"`
	// Values is a list of values to be compared to the user attribute.
	//
	// This is interpreted as an OR: if the user attribute matches any of these values with the
	// specified operator, the clause matches.
	Values []interface{} `json:"values" bson:"values"` // An array, interpreted as an OR of values
	// Negate is true if the clause match should be negated.
	Negate bool `json:"negate" bson:"negate"`
}

// WeightedVariation describes a fraction of users who will receive a specific variation.
type WeightedVariation struct {
	// Variation is the index of the variation to be returned if the user is in this bucket.
	Variation int `json:"variation" bson:"variation"`
	// Weight is the proportion of users who should go into this bucket, as an integer from 0 to 100000.
	Weight int `json:"weight" bson:"weight"`
	// Untracked means that users in this bucket should not have tracking events sent. This is used
	// only for experiments, to describe the portion of traffic that is not part of the experiment.
	Untracked bool `json:"untracked,omitempty" bson:"untracked,omitempty"`
}

// Rule expresses a set of AND-ed matching conditions for a user, along with either a fixed variation
// or a set of rollout percentages to use if the user matches.
type Rule struct {
	// Id is a randomized identifier assigned to each rule when it is created.
	Id string `json:"id,omitempty" bson:"id,omitempty"` //nolint:golint // struct field Id should be ID
	// VariationOrRollout properties for the rule.
	VariationOrRollout `bson:",inline"`
	// Clauses is a list of test conditions that make up the rule. These are ANDed: every Clause must
	// match in order for the Rule to match.
	Clauses []Clause `json:"clauses" bson:"clauses"`
	// TrackEvents is used internally by the SDK analytics event system.
	//
	// This field is true if the current LaunchDarkly account has data export enabled, and has turned on
	// the "send detailed event information for this rule" option for this rule. This tells the SDK to
	// send full event data for any evaluation where this rule was matched, rather than only aggregate
	// data in a summary event.
	TrackEvents bool `json:"trackEvents,omitempty" bson:"trackEvents,omitempty"`
}

// VariationOrRollout contains either the fixed variation or percent rollout to serve. Invariant:
// one of the variation or rollout must be non-nil.
type VariationOrRollout struct {
	// Variation specifies the index of the variation to return.
	Variation *int `json:"variation,omitempty" bson:"variation,omitempty"`
	// Rollout specifies a percentage rollout to be used instead of a specific variation.
	Rollout *Rollout `json:"rollout,omitempty" bson:"rollout,omitempty"`
}

// Target describes a set of users who will receive a specific variation of a feature flag.
type Target struct {
	// Values is the set of user keys included in this Target.
	Values []string `json:"values" bson:"values"`
	// Variation is the index of the variation to be returned if the user matches one of these keys.
	Variation int `json:"variation" bson:"variation"`
}

// Prerequisite describes a requirement that another feature flag return a specific variation for this
// flag to be evaluated at all.
type Prerequisite struct {
	// Key is the unique key of the feature flag to be evaluated as a prerequisite.
	Key string `json:"key" bson:"key"`
	// Variation is the index of the variation that the prerequisite flag must return in order for the
	// prerequisite condition to be met. If the prerequisite flag has targeting turned on, then the
	// condition is not met even if the flag's OffVariation matches this value.
	Variation int `json:"variation" bson:"variation"`
}

// EvaluateDetail attempts to evaluate the feature flag for the given user and returns its value, the
// reason for that value, and (if the flag has prerequisites) any events that were generated by
// prerequisite flags.
func (f FeatureFlag) EvaluateDetail(user User, store FeatureStore, sendReasonsInEvents bool) (EvaluationDetail, []FeatureRequestEvent) {
	if user.Key == nil {
		return EvaluationDetail{Reason: newEvalReasonError(EvalErrorUserNotSpecified)}, nil
	}
	events := make([]FeatureRequestEvent, 0, len(f.Prerequisites))
	visited := map[string]bool{f.Key: true}
	detail := f.evaluateInternal(user, store, sendReasonsInEvents, visited, &events)
	return detail, events
}

// Evaluate returns the variation selected for a user along with events generated during evaluation.
//
// Deprecated: Use EvaluateDetail instead.
func (f FeatureFlag) Evaluate(user User, store FeatureStore) (interface{}, []FeatureRequestEvent) {
	detail, events := f.EvaluateDetail(user, store, false)
	return detail.Value, events
}

func (f FeatureFlag) evaluateInternal(user User, store FeatureStore, sendReasonsInEvents bool,
	visited map[string]bool, events *[]FeatureRequestEvent) EvaluationDetail {
	if f.On {
		prereqErrorReason, ok := f.checkPrerequisites(user, store, sendReasonsInEvents, visited, events)
		if !ok {
			if errReason, isError := prereqErrorReason.(EvaluationReasonError); isError {
				return EvaluationDetail{Reason: errReason}
			}
			return f.getOffValue(prereqErrorReason)
		}

		// Check to see if any user targets match
		for _, target := range f.Targets {
			for _, value := range target.Values {
				if value == *user.Key {
					return f.getVariation(target.Variation, evalReasonTargetMatchInstance)
				}
			}
		}

		// Now walk through the rules to see if any match
		for ruleIndex, rule := range f.Rules {
			matched, err := rule.matchesUserWithStore(user, store)
			if err != nil {
				return EvaluationDetail{Reason: newEvalReasonError(EvalErrorMalformedFlag)}
			}
			if matched {
				reason := newEvalReasonRuleMatch(ruleIndex, rule.Id)
				return f.getValueForVariationOrRollout(rule.VariationOrRollout, user, reason)
			}
		}

		return f.getValueForVariationOrRollout(f.Fallthrough, user, evalReasonFallthroughInstance)
	}
	return f.getOffValue(evalReasonOffInstance)
}

// Returns nil if all prerequisites are OK, otherwise constructs an error reason that describes the
// failure. The ok result is false if evaluation should stop.
func (f FeatureFlag) checkPrerequisites(user User, store FeatureStore, sendReasonsInEvents bool,
	visited map[string]bool, events *[]FeatureRequestEvent) (EvaluationReason, bool) {
	if len(f.Prerequisites) == 0 {
		return nil, true
	}

	for _, prereq := range f.Prerequisites {
		if visited[prereq.Key] {
			// A cycle in the prerequisite graph could cause unbounded recursion, so the flag data is
			// treated as invalid rather than retrying the same flags forever.
			return newEvalReasonError(EvalErrorMalformedFlag), false
		}
		data, err := store.Get(Features, prereq.Key)
		if err != nil || data == nil {
			return newEvalReasonPrerequisiteFailed(prereq.Key), false
		}
		prereqFeatureFlag, ok := data.(*FeatureFlag)
		if !ok {
			return newEvalReasonError(EvalErrorException), false
		}

		visited[prereq.Key] = true
		prereqResult := prereqFeatureFlag.evaluateInternal(user, store, sendReasonsInEvents, visited, events)
		delete(visited, prereq.Key)
		if errReason, isError := prereqResult.Reason.(EvaluationReasonError); isError &&
			errReason.ErrorKind == EvalErrorMalformedFlag {
			// Invalid data encountered anywhere in the prerequisite graph invalidates the whole
			// evaluation, rather than being reported as a prerequisite failure.
			return errReason, false
		}
		event := newSuccessfulEvalEvent(prereqFeatureFlag, user, prereqResult.VariationIndex,
			prereqResult.Value, nil, prereqResult.Reason, sendReasonsInEvents, &f.Key)
		*events = append(*events, event)

		if !prereqFeatureFlag.On || prereqResult.VariationIndex == nil || *prereqResult.VariationIndex != prereq.Variation {
			return newEvalReasonPrerequisiteFailed(prereq.Key), false
		}
	}
	return nil, true
}

func (f FeatureFlag) getVariation(index int, reason EvaluationReason) EvaluationDetail {
	if index < 0 || index >= len(f.Variations) {
		return EvaluationDetail{Reason: newEvalReasonError(EvalErrorMalformedFlag)}
	}
	result := index
	return EvaluationDetail{
		Value:          f.Variations[index],
		VariationIndex: &result,
		Reason:         reason,
	}
}

func (f FeatureFlag) getOffValue(reason EvaluationReason) EvaluationDetail {
	if f.OffVariation == nil {
		return EvaluationDetail{Reason: reason}
	}
	return f.getVariation(*f.OffVariation, reason)
}

func (f FeatureFlag) getValueForVariationOrRollout(vr VariationOrRollout, user User, reason EvaluationReason) EvaluationDetail {
	index, inExperiment := vr.variationIndexForUserWithExperiment(user, f.Key, f.Salt)
	if index == nil {
		return EvaluationDetail{Reason: newEvalReasonError(EvalErrorMalformedFlag)}
	}
	if inExperiment {
		switch r := reason.(type) {
		case EvaluationReasonFallthrough:
			reason = newEvalReasonFallthroughExperiment(true)
		case EvaluationReasonRuleMatch:
			reason = newEvalReasonRuleMatchExperiment(r.RuleIndex, r.RuleID, true)
		}
	}
	return f.getVariation(*index, reason)
}

func (r Rule) matchesUserWithStore(user User, store FeatureStore) (bool, error) {
	for _, clause := range r.Clauses {
		matched, err := clause.matchesUserWithStore(user, store)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func (r Rule) matchesUser(user User) (bool, error) {
	for _, clause := range r.Clauses {
		matched, err := clause.matchesUser(user)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func (c Clause) matchesUserWithStore(user User, store FeatureStore) (bool, error) {
	if c.Op == operatorSegmentMatch {
		for _, value := range c.Values {
			if vStr, ok := value.(string); ok {
				data, _ := store.Get(Segments, vStr)
				if segment, segmentOk := data.(*Segment); segmentOk {
					match, err := segment.containsUser(user)
					if err != nil {
						return false, err
					}
					if match {
						return c.maybeNegate(true), nil
					}
				}
			}
		}
		return c.maybeNegate(false), nil
	}
	return c.matchesUser(user)
}

func (c Clause) matchesUserNoSegments(user User) (bool, error) {
	return c.matchesUser(user)
}

func (c Clause) matchesUser(user User) (bool, error) {
	uValue := user.valueOf(c.Attribute)
	if uValue == nil {
		// A missing attribute never matches a clause, even if the clause is negated
		return false, nil
	}
	matchFn := operatorFn(c.Op)

	if values := anySliceValues(uValue); values != nil {
		for _, element := range values {
			// Elements of an attribute array must be scalars; anything nested makes the
			// attribute unusable for matching.
			if isNonScalarValue(element) {
				return false, errNonScalarInAttributeArray
			}
			if matchAny(matchFn, element, c.Values) {
				return c.maybeNegate(true), nil
			}
		}
		return c.maybeNegate(false), nil
	}
	return c.maybeNegate(matchAny(matchFn, uValue, c.Values)), nil
}

func (c Clause) maybeNegate(b bool) bool {
	if c.Negate {
		return !b
	}
	return b
}

func matchAny(fn opFn, value interface{}, values []interface{}) bool {
	for _, v := range values {
		if fn(value, v) {
			return true
		}
	}
	return false
}

// variationIndexForUser returns the index of the variation selected for a user by this
// VariationOrRollout, or nil if the data is invalid (e.g. an empty rollout).
func (r VariationOrRollout) variationIndexForUser(user User, key, salt string) *int {
	index, _ := r.variationIndexForUserWithExperiment(user, key, salt)
	return index
}

func (r VariationOrRollout) variationIndexForUserWithExperiment(user User, key, salt string) (*int, bool) {
	if r.Variation != nil {
		return r.Variation, false
	}
	if r.Rollout == nil || len(r.Rollout.Variations) == 0 {
		// This is an error state - one of Variation or Rollout must be non-nil
		return nil, false
	}

	isExperiment := r.Rollout.IsExperiment()
	bucketBy := userKeyAttr
	if !isExperiment && r.Rollout.BucketBy != nil {
		// Experiments always bucket by key
		bucketBy = *r.Rollout.BucketBy
	}

	bucket := bucketUserForRollout(user, r.Rollout.Seed, isExperiment, key, bucketBy, salt)
	var sum float64

	for _, wv := range r.Rollout.Variations {
		sum += float64(wv.Weight) / 100000.0
		if bucket < sum {
			variation := wv.Variation
			return &variation, isExperiment && !wv.Untracked
		}
	}

	// The user's bucket value was greater than or equal to the end of the last bucket. This could
	// happen due to a rounding error, or due to the fact that the flag's total weights are less
	// than 100000. Rather than returning an error in this case, the user is assigned to the last
	// bucket.
	lastVariation := r.Rollout.Variations[len(r.Rollout.Variations)-1]
	variation := lastVariation.Variation
	return &variation, isExperiment && !lastVariation.Untracked
}

// bucketUser returns a float from 0.0 to 1.0 representing the user's position in a percentage
// rollout for the given flag key and salt, bucketing by the named attribute.
func bucketUser(user User, key, attr, salt string) float64 {
	return bucketUserForRollout(user, nil, false, key, attr, salt)
}

func bucketUserForRollout(user User, seed *int, isExperiment bool, key, attr, salt string) float64 {
	uValue := user.valueOf(attr)
	idHash, ok := bucketableStringValue(uValue)
	if !ok {
		return 0
	}

	if !isExperiment && user.Secondary != nil {
		// Experiments ignore the secondary key
		idHash = idHash + "." + *user.Secondary
	}

	var prefix string
	if seed != nil {
		prefix = strconv.Itoa(*seed)
	} else {
		prefix = key + "." + salt
	}

	h := sha1.New() //nolint:gas // just used for insecure hashing
	_, _ = io.WriteString(h, prefix+"."+idHash)
	hash := hex.EncodeToString(h.Sum(nil))[:15]

	intVal, _ := strconv.ParseInt(hash, 16, 64)

	return float64(intVal) / longScale
}

func bucketableStringValue(uValue interface{}) (string, bool) {
	if stringValue, ok := uValue.(string); ok {
		return stringValue, true
	}
	if intValue, ok := uValue.(int); ok {
		return strconv.Itoa(intValue), true
	}
	// JSON-decoded numbers are float64; they are bucketable only if they are integral
	if floatValue, ok := uValue.(float64); ok {
		if floatValue == float64(int(floatValue)) {
			return strconv.Itoa(int(floatValue)), true
		}
	}
	return "", false
}

func isNonScalarValue(value interface{}) bool {
	if value == nil {
		return false
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

func anySliceValues(value interface{}) []interface{} {
	if typedValue, ok := value.([]interface{}); ok {
		return typedValue
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		result := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			result[i] = v.Index(i).Interface()
		}
		return result
	}
	return nil
}
