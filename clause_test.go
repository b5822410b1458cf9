package ldclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	key              = "sample-key"
	gmailAddress     = "foo@gmail.com"
	microsoftAddress = "bar@microsoft.com"
)

var yammerGroups interface{} = []string{"Yammer", "Microsoft"}
var youtubeGroups interface{} = []string{"Youtube", "Google"}

var yammerCustom = map[string]interface{}{"group": yammerGroups}
var youtubeCustom = map[string]interface{}{"group": youtubeGroups}

// email in {gmail.com, hotmail.com}
var hotmailOrGmailClause = Clause{
	Attribute: "email",
	Op:        operatorEndsWith,
	Values:    []interface{}{"gmail.com", "hotmail.com"},
	Negate:    false,
}

// group in {Microsoft, Google}
var msOrGoogleClause = Clause{
	Attribute: "group",
	Op:        operatorIn,
	Values:    []interface{}{"Microsoft", "Google"},
	Negate:    false,
}

// not(group in {Youtube, Nest})
var notYoutubeOrNest = Clause{
	Attribute: "group",
	Op:        operatorIn,
	Values:    []interface{}{"Youtube", "Nest"},
	Negate:    true,
}

var msEmployee = User{
	Key:    &key,
	Email:  &microsoftAddress,
	Custom: &yammerCustom,
}

var googleEmployee = User{
	Key:    &key,
	Email:  &gmailAddress,
	Custom: &youtubeCustom,
}

func TestHotmailOrGmailEmail(t *testing.T) {
	matched, err := hotmailOrGmailClause.matchesUser(googleEmployee)
	assert.NoError(t, err)
	if !matched {
		t.Error("Expecting Google employee to match email rule")
	}
}

func TestMsOrGoogleGroup(t *testing.T) {
	matched, err := msOrGoogleClause.matchesUser(googleEmployee)
	assert.NoError(t, err)
	if !matched {
		t.Error("Expecting Google employee to match groups rule")
	}
}

func TestNotYoutubeOrNest(t *testing.T) {
	matched, err := notYoutubeOrNest.matchesUser(msEmployee)
	assert.NoError(t, err)
	if !matched {
		t.Error("Expecting Microsoft employee to match not Youtube rule")
	}
	matched, err = notYoutubeOrNest.matchesUser(googleEmployee)
	assert.NoError(t, err)
	if matched {
		t.Error("Expecting Google employee to not match Youtube rule")
	}
}

func TestClauseErrorsForNonScalarElementInAttributeArray(t *testing.T) {
	nestedGroups := map[string]interface{}{"group": []interface{}{[]interface{}{"Microsoft"}}}
	user := User{Key: &key, Custom: &nestedGroups}

	matched, err := msOrGoogleClause.matchesUser(user)
	assert.Equal(t, errNonScalarInAttributeArray, err)
	assert.False(t, matched)

	nestedObject := map[string]interface{}{"group": []interface{}{map[string]interface{}{"name": "Microsoft"}}}
	user = User{Key: &key, Custom: &nestedObject}

	matched, err = msOrGoogleClause.matchesUser(user)
	assert.Equal(t, errNonScalarInAttributeArray, err)
	assert.False(t, matched)
}
