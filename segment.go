package ldclient

// Segment describes a group of users that can be referenced by feature flag rules, using the
// segmentMatch operator.
type Segment struct {
	// Key is the unique key of the user segment.
	Key string `json:"key" bson:"key"`
	// Included is a list of user keys that are always matched by this segment.
	Included []string `json:"included" bson:"included"`
	// Excluded is a list of user keys that are never matched by this segment, unless the key is
	// also in Included.
	Excluded []string `json:"excluded" bson:"excluded"`
	// Salt is a randomized value assigned to this segment that is used in the hashing function for
	// percentage rollouts.
	Salt string `json:"salt" bson:"salt"`
	// Rules is a list of rules that may match a user.
	Rules []SegmentRule `json:"rules" bson:"rules"`
	// Version is an integer that is incremented by LaunchDarkly every time the configuration of the
	// segment is changed.
	Version int `json:"version" bson:"version"`
	// Deleted is true if this segment has been deleted.
	Deleted bool `json:"deleted" bson:"deleted"`
}

// SegmentRule describes a single rule within a user segment.
type SegmentRule struct {
	// Id is a randomized identifier assigned to each rule when it is created.
	Id string `json:"id,omitempty" bson:"id,omitempty"` //nolint:golint // struct field Id should be ID
	// Clauses is a list of test conditions that make up the rule. These are ANDed: every Clause must
	// match in order for the SegmentRule to match.
	Clauses []Clause `json:"clauses" bson:"clauses"`
	// Weight, if defined, specifies a percentage rollout in which only a subset of users matching this
	// rule are included in the segment. This is specified as an integer from 0 (0%) to 100000 (100%).
	Weight *int `json:"weight,omitempty" bson:"weight,omitempty"`
	// BucketBy specifies which user attribute should be used to distinguish between users in a rollout.
	// The default (when BucketBy is nil) is the user's key.
	BucketBy *string `json:"bucketBy,omitempty" bson:"bucketBy,omitempty"`
}

// GetKey returns the unique key describing a segment.
func (s *Segment) GetKey() string {
	return s.Key
}

// GetVersion returns the version of a segment.
func (s *Segment) GetVersion() int {
	return s.Version
}

// IsDeleted returns whether a segment has been deleted.
func (s *Segment) IsDeleted() bool {
	return s.Deleted
}

// Clone returns a copy of a segment.
func (s *Segment) Clone() VersionedData {
	s1 := *s
	return &s1
}

// SegmentExplanation describes the portion of a segment that determined whether a user was
// included in or excluded from the segment.
type SegmentExplanation struct {
	Kind        string
	MatchedRule *SegmentRule
}

// ContainsUser returns whether a user belongs to this segment, with an explanation of which part
// of the segment produced that result.
func (s Segment) ContainsUser(user User) (bool, *SegmentExplanation) {
	matched, explanation, _ := s.containsUserExplained(user)
	return matched, explanation
}

// containsUser returns whether a user belongs to this segment. The explicit inclusion and exclusion
// lists take precedence over the rules, and inclusion takes precedence over exclusion.
func (s Segment) containsUser(user User) (bool, error) {
	matched, _, err := s.containsUserExplained(user)
	return matched, err
}

func (s Segment) containsUserExplained(user User) (bool, *SegmentExplanation, error) {
	if user.Key == nil {
		return false, nil, nil
	}

	for _, key := range s.Included {
		if *user.Key == key {
			return true, &SegmentExplanation{Kind: "included"}, nil
		}
	}

	for _, key := range s.Excluded {
		if *user.Key == key {
			return false, &SegmentExplanation{Kind: "excluded"}, nil
		}
	}

	for _, rule := range s.Rules {
		matched, err := rule.matchesUser(user, s.Key, s.Salt)
		if err != nil {
			return false, nil, err
		}
		if matched {
			matchedRule := rule
			return true, &SegmentExplanation{Kind: "rule", MatchedRule: &matchedRule}, nil
		}
	}

	return false, nil, nil
}

func (r SegmentRule) matchesUser(user User, key, salt string) (bool, error) {
	for _, clause := range r.Clauses {
		matched, err := clause.matchesUser(user)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}

	// If the Weight is absent, this rule matches
	if r.Weight == nil {
		return true, nil
	}

	bucketBy := userKeyAttr
	if r.BucketBy != nil {
		bucketBy = *r.BucketBy
	}

	bucket := bucketUser(user, key, bucketBy, salt)
	weight := float64(*r.Weight) / 100000.0

	return bucket < weight, nil
}
