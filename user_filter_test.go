package ldclient

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubUser(t *testing.T) {
	t.Run("private built-in attributes per user", func(t *testing.T) {
		filter := newUserFilter(DefaultConfig)
		user := User{
			Key:       strPtr("user-key"),
			FirstName: strPtr("sam"),
			LastName:  strPtr("smith"),
			Name:      strPtr("sammy"),
			Country:   strPtr("freedonia"),
			Avatar:    strPtr("my-avatar"),
			Ip:        strPtr("123.456.789"),
			Email:     strPtr("me@example.com"),
			Secondary: strPtr("abcdef"),
		}

		for _, attr := range BuiltinAttributes {
			user.PrivateAttributeNames = []string{attr}
			scrubbedUser := *filter.scrubUser(user)
			assert.Equal(t, []string{attr}, scrubbedUser.PrivateAttributes)
			scrubbedUser.PrivateAttributes = nil
			assert.NotEqual(t, user, scrubbedUser)
		}
	})

	t.Run("global private built-in attributes", func(t *testing.T) {
		user := User{
			Key:       strPtr("user-key"),
			FirstName: strPtr("sam"),
			LastName:  strPtr("smith"),
			Name:      strPtr("sammy"),
			Country:   strPtr("freedonia"),
			Avatar:    strPtr("my-avatar"),
			Ip:        strPtr("123.456.789"),
			Email:     strPtr("me@example.com"),
			Secondary: strPtr("abcdef"),
		}

		for _, attr := range BuiltinAttributes {
			filter := newUserFilter(Config{PrivateAttributeNames: []string{attr}})
			scrubbedUser := *filter.scrubUser(user)
			assert.Equal(t, []string{attr}, scrubbedUser.PrivateAttributes)
			scrubbedUser.PrivateAttributes = nil
			assert.NotEqual(t, user, scrubbedUser)
		}
	})

	t.Run("private custom attribute", func(t *testing.T) {
		filter := newUserFilter(DefaultConfig)
		userKey := "userKey"
		user := User{
			Key: &userKey,
			PrivateAttributeNames: []string{"my-secret-attr"},
			Custom: &map[string]interface{}{
				"my-secret-attr": "my secret value",
			}}

		scrubbedUser := *filter.scrubUser(user)

		assert.Equal(t, []string{"my-secret-attr"}, scrubbedUser.PrivateAttributes)
		assert.NotContains(t, *scrubbedUser.Custom, "my-secret-attr")
	})

	t.Run("all attributes private", func(t *testing.T) {
		filter := newUserFilter(Config{AllAttributesPrivate: true})
		userKey := "userKey"
		user := User{
			Key:       &userKey,
			FirstName: strPtr("sam"),
			LastName:  strPtr("smith"),
			Name:      strPtr("sammy"),
			Country:   strPtr("freedonia"),
			Avatar:    strPtr("my-avatar"),
			Ip:        strPtr("123.456.789"),
			Email:     strPtr("me@example.com"),
			Secondary: strPtr("abcdef"),
			Custom: &map[string]interface{}{
				"my-secret-attr": "my secret value",
			}}

		scrubbedUser := *filter.scrubUser(user)
		sort.Strings(scrubbedUser.PrivateAttributes)
		expectedAttributes := append(BuiltinAttributes, "my-secret-attr")
		sort.Strings(expectedAttributes)
		assert.Equal(t, expectedAttributes, scrubbedUser.PrivateAttributes)

		scrubbedUser.PrivateAttributes = nil
		assert.Equal(t, User{Key: &userKey, Custom: &map[string]interface{}{}}, scrubbedUser)
		assert.NotContains(t, *scrubbedUser.Custom, "my-secret-attr")
		assert.Nil(t, scrubbedUser.Name)
	})

	t.Run("anonymous attribute can't be private", func(t *testing.T) {
		filter := newUserFilter(Config{AllAttributesPrivate: true})
		userKey := "userKey"
		anon := true
		user := User{
			Key:       &userKey,
			Anonymous: &anon}

		scrubbedUser := *filter.scrubUser(user)
		assert.Equal(t, scrubbedUser, user)
	})
}

func strPtr(s string) *string {
	return &s
}

// marshalPanicValue is a stand-in for a badly behaved custom attribute value. A panic during
// marshalling, as opposed to an error return, can happen if the value is a map that is being
// modified concurrently.
type marshalPanicValue struct {
	panicMessage string
}

func valueThatPanicsWhenMarshalledToJSON(panicMessage string) marshalPanicValue {
	return marshalPanicValue{panicMessage}
}

func (m marshalPanicValue) MarshalJSON() ([]byte, error) {
	panic(m.panicMessage)
}

type mockLogger struct {
	output []string
	prefix string
}

// newMockLogger returns a test implementation of ldlog.BaseLogger that accumulates its output.
// If prefix is non-empty, only messages beginning with that prefix are captured.
func newMockLogger(prefix string) *mockLogger {
	return &mockLogger{prefix: prefix}
}

func (l *mockLogger) append(line string) {
	if l.prefix == "" || strings.HasPrefix(line, l.prefix) {
		l.output = append(l.output, line)
	}
}

func (l *mockLogger) Println(values ...interface{}) {
	l.append(strings.TrimSuffix(fmt.Sprintln(values...), "\n"))
}

func (l *mockLogger) Printf(format string, values ...interface{}) {
	l.append(fmt.Sprintf(format, values...))
}
