package ldclient

import (
	"encoding/json"
	"fmt"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldlog"
)

const userSerializationErrorMessage = "An error occurred while processing custom attributes for %s. If this is a" +
	" concurrent modification of the attributes, you should use an immutable copy of the user instead. The custom" +
	" attributes for this user have been dropped from analytics data. Error: %s"

// userFilter transforms users into the form in which they will be sent in analytics events, applying
// any user attribute privacy rules.
type userFilter struct {
	allAttributesPrivate    bool
	globalPrivateAttributes []string
	loggers                 ldlog.Loggers
	logUserKeyInErrors      bool
}

func newUserFilter(config Config) userFilter {
	return userFilter{
		allAttributesPrivate:    config.AllAttributesPrivate,
		globalPrivateAttributes: config.PrivateAttributeNames,
		loggers:                 config.Loggers,
		logUserKeyInErrors:      config.LogUserKeyInErrors,
	}
}

// Returns a copy of the user with any private attributes removed and listed in PrivateAttributes.
// It also verifies that the user's custom attributes, if any, can be serialized to JSON; if they
// cannot, the custom attributes are dropped from the copy and an error is logged. This ensures
// that one badly behaved attribute value cannot prevent an entire batch of events from being sent.
func (uf *userFilter) scrubUser(user User) *User {
	u := uf.filterAttributes(user)
	if u.Custom != nil && len(*u.Custom) != 0 {
		if err := checkUserAttrsCanBeMarshalled(u.Custom); err != nil {
			uf.loggers.Errorf(userSerializationErrorMessage,
				describeUserForErrorLog(&user, uf.logUserKeyInErrors), err)
			u.Custom = nil
		}
	}
	return u
}

func (uf *userFilter) filterAttributes(user User) *User {
	if len(user.PrivateAttributeNames) == 0 && len(uf.globalPrivateAttributes) == 0 &&
		!uf.allAttributesPrivate {
		return &user
	}

	isPrivate := map[string]bool{}
	for _, n := range uf.globalPrivateAttributes {
		isPrivate[n] = true
	}
	for _, n := range user.PrivateAttributeNames {
		isPrivate[n] = true
	}
	// The PrivateAttributeNames property has no meaning in event data; the scrubbed user
	// instead carries the list of attributes that were actually removed.
	user.PrivateAttributeNames = nil

	if user.Custom != nil {
		custom := map[string]interface{}{}
		for k, v := range *user.Custom {
			if uf.allAttributesPrivate || isPrivate[k] {
				user.PrivateAttributes = append(user.PrivateAttributes, k)
			} else {
				custom[k] = v
			}
		}
		user.Custom = &custom
	}

	scrub := func(attrName string, attr **string) {
		if *attr != nil && (uf.allAttributesPrivate || isPrivate[attrName]) {
			user.PrivateAttributes = append(user.PrivateAttributes, attrName)
			*attr = nil
		}
	}
	scrub("avatar", &user.Avatar)
	scrub("country", &user.Country)
	scrub("email", &user.Email)
	scrub("firstName", &user.FirstName)
	scrub("ip", &user.Ip)
	scrub("lastName", &user.LastName)
	scrub("name", &user.Name)
	scrub("secondary", &user.Secondary)

	return &user
}

func checkUserAttrsCanBeMarshalled(custom *map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	_, err = json.Marshal(custom)
	return
}
