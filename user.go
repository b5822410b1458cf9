package ldclient

import (
	"fmt"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// A User contains specific attributes of a user browsing your site. The only mandatory property is the Key,
// which must uniquely identify each user. For authenticated users, this may be a username or e-mail address.
// For anonymous users, this could be an IP address or session ID.
//
// Besides the mandatory Key, User supports two kinds of optional attributes: interpreted attributes (e.g.
// Ip and Country) and custom attributes. Interpreted attributes are special attributes that are used by
// LaunchDarkly to support advanced targeting features. Custom attributes are used to create any kind of
// targeting rule based on your own data.
//
// Instead of accessing the fields of this struct directly, use NewUserBuilder to construct a User and the
// getter methods (GetKey, GetName, etc.) to read its properties. Direct use of the fields is deprecated.
type User struct {
	// Key is the unique key of the user.
	Key *string `json:"key,omitempty" bson:"key,omitempty"`
	// Secondary is the secondary key of the user, used in percentage rollout bucketing.
	Secondary *string `json:"secondary,omitempty" bson:"secondary,omitempty"`
	// Ip is the IP address attribute of the user.
	Ip *string `json:"ip,omitempty" bson:"ip,omitempty"` //nolint (should be IP, but renaming would break API)
	// Country is the country attribute of the user.
	Country *string `json:"country,omitempty" bson:"country,omitempty"`
	// Email is the email address attribute of the user.
	Email *string `json:"email,omitempty" bson:"email,omitempty"`
	// FirstName is the first name attribute of the user.
	FirstName *string `json:"firstName,omitempty" bson:"firstName,omitempty"`
	// LastName is the last name attribute of the user.
	LastName *string `json:"lastName,omitempty" bson:"lastName,omitempty"`
	// Avatar is the avatar URL attribute of the user.
	Avatar *string `json:"avatar,omitempty" bson:"avatar,omitempty"`
	// Name is the full name attribute of the user.
	Name *string `json:"name,omitempty" bson:"name,omitempty"`
	// Anonymous indicates whether the user is anonymous. Anonymous users are not included in the dashboard's
	// Users list.
	Anonymous *bool `json:"anonymous,omitempty" bson:"anonymous,omitempty"`
	// Custom is the user's map of custom attributes.
	Custom *map[string]interface{} `json:"custom,omitempty" bson:"custom,omitempty"`

	// PrivateAttributeNames is a list of attribute names (either built-in or custom) which should be marked
	// as private, and not sent to LaunchDarkly in analytics events.
	PrivateAttributeNames []string `json:"privateAttributeNames,omitempty" bson:"privateAttributeNames,omitempty"`

	// PrivateAttributes contains the names of any attributes that were removed before sending the user in an
	// analytics event. This is set only by the SDK's event processing logic; do not set it yourself.
	PrivateAttributes []string `json:"privateAttrs,omitempty" bson:"privateAttrs,omitempty"`
}

// GetKey gets the unique key of the user.
func (u User) GetKey() string {
	if u.Key == nil {
		// Key is technically mandatory, but the SDK tolerates empty keys rather than crashing.
		return ""
	}
	return *u.Key
}

// GetSecondaryKey returns the secondary key of the user, if any.
func (u User) GetSecondaryKey() ldvalue.OptionalString {
	return ldvalue.NewOptionalStringFromPointer(u.Secondary)
}

// GetIP returns the IP address attribute of the user, if any.
func (u User) GetIP() ldvalue.OptionalString {
	return ldvalue.NewOptionalStringFromPointer(u.Ip)
}

// GetCountry returns the country attribute of the user, if any.
func (u User) GetCountry() ldvalue.OptionalString {
	return ldvalue.NewOptionalStringFromPointer(u.Country)
}

// GetEmail returns the email address attribute of the user, if any.
func (u User) GetEmail() ldvalue.OptionalString {
	return ldvalue.NewOptionalStringFromPointer(u.Email)
}

// GetFirstName returns the first name attribute of the user, if any.
func (u User) GetFirstName() ldvalue.OptionalString {
	return ldvalue.NewOptionalStringFromPointer(u.FirstName)
}

// GetLastName returns the last name attribute of the user, if any.
func (u User) GetLastName() ldvalue.OptionalString {
	return ldvalue.NewOptionalStringFromPointer(u.LastName)
}

// GetAvatar returns the avatar URL attribute of the user, if any.
func (u User) GetAvatar() ldvalue.OptionalString {
	return ldvalue.NewOptionalStringFromPointer(u.Avatar)
}

// GetName returns the full name attribute of the user, if any.
func (u User) GetName() ldvalue.OptionalString {
	return ldvalue.NewOptionalStringFromPointer(u.Name)
}

// GetAnonymous returns the anonymous attribute of the user. If the attribute was not set, it
// returns false.
func (u User) GetAnonymous() bool {
	return u.Anonymous != nil && *u.Anonymous
}

// GetAnonymousOptional returns the anonymous attribute of the user, with a second value indicating
// whether that attribute was defined for the user or not.
func (u User) GetAnonymousOptional() (bool, bool) {
	return u.GetAnonymous(), u.Anonymous != nil
}

// GetCustom returns a custom attribute of the user by name. The boolean second return value
// indicates whether any value was set for this attribute or not.
func (u User) GetCustom(attrName string) (ldvalue.Value, bool) {
	if u.Custom == nil {
		return ldvalue.Null(), false
	}
	value, found := (*u.Custom)[attrName]
	return ldvalue.CopyArbitraryValue(value), found
}

// GetCustomKeys returns the keys of all custom attributes that have been set on this user.
func (u User) GetCustomKeys() []string {
	if u.Custom == nil || len(*u.Custom) == 0 {
		return nil
	}
	keys := make([]string, 0, len(*u.Custom))
	for key := range *u.Custom {
		keys = append(keys, key)
	}
	return keys
}

// Equal tests whether two users have equal attributes.
//
// Regular struct equality comparison is not allowed for User because it can contain slices and
// maps. This method is faster than using reflect.DeepEqual, and also correctly ignores
// insignificant differences in the internal representation of the attributes.
func (u User) Equal(other User) bool {
	if u.GetKey() != other.GetKey() {
		return false
	}
	if !optStringPtrsEqual(u.Secondary, other.Secondary) ||
		!optStringPtrsEqual(u.Ip, other.Ip) ||
		!optStringPtrsEqual(u.Country, other.Country) ||
		!optStringPtrsEqual(u.Email, other.Email) ||
		!optStringPtrsEqual(u.FirstName, other.FirstName) ||
		!optStringPtrsEqual(u.LastName, other.LastName) ||
		!optStringPtrsEqual(u.Avatar, other.Avatar) ||
		!optStringPtrsEqual(u.Name, other.Name) {
		return false
	}
	if (u.Anonymous == nil) != (other.Anonymous == nil) {
		return false
	}
	if u.Anonymous != nil && *u.Anonymous != *other.Anonymous {
		return false
	}
	if (u.Custom == nil) != (other.Custom == nil) {
		return false
	}
	if u.Custom != nil {
		if len(*u.Custom) != len(*other.Custom) {
			return false
		}
		for key, value := range *u.Custom {
			otherValue, found := (*other.Custom)[key]
			if !found || !ldvalue.CopyArbitraryValue(value).Equal(ldvalue.CopyArbitraryValue(otherValue)) {
				return false
			}
		}
	}
	if !stringSlicesMatchAsSets(u.PrivateAttributeNames, other.PrivateAttributeNames) {
		return false
	}
	return true
}

// String returns a simple string representation of a user.
func (u User) String() string {
	return fmt.Sprintf("User(%s)", u.GetKey())
}

func optStringPtrsEqual(p1 *string, p2 *string) bool {
	if p1 == nil || p2 == nil {
		return p1 == nil && p2 == nil
	}
	return *p1 == *p2
}

func stringSlicesMatchAsSets(s1 []string, s2 []string) bool {
	if len(s1) != len(s2) {
		return false
	}
	for _, a := range s1 {
		found := false
		for _, b := range s2 {
			if a == b {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// valueOf returns the value of any user attribute that is addressable by name in a targeting rule,
// or nil if the attribute has no value.
func (u User) valueOf(attr string) interface{} {
	switch attr {
	case "key":
		return stringPtrAsValue(u.Key)
	case "ip":
		return stringPtrAsValue(u.Ip)
	case "country":
		return stringPtrAsValue(u.Country)
	case "email":
		return stringPtrAsValue(u.Email)
	case "firstName":
		return stringPtrAsValue(u.FirstName)
	case "lastName":
		return stringPtrAsValue(u.LastName)
	case "avatar":
		return stringPtrAsValue(u.Avatar)
	case "name":
		return stringPtrAsValue(u.Name)
	case "anonymous":
		if u.Anonymous == nil {
			return nil
		}
		return *u.Anonymous
	}

	// Select a custom attribute
	if u.Custom == nil {
		return nil
	}
	return (*u.Custom)[attr]
}

func stringPtrAsValue(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// NewUser creates a new user identified by the given key.
func NewUser(key string) User {
	return User{Key: &key}
}

// NewAnonymousUser creates a new anonymous user identified by the given key.
func NewAnonymousUser(key string) User {
	anonymous := true
	return User{Key: &key, Anonymous: &anonymous}
}
