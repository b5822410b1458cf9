package ldclient

import (
	"encoding/json"
)

// OptionalString is a simple struct representing a string value that may or may not be defined.
// This is used in contexts where the SDK needs to distinguish between "no value" and "an empty
// string value", and where using a string pointer would be error-prone because the referenced
// value could change.
//
// The zero value OptionalString{} is an undefined value. OptionalString instances are comparable
// with ==.
type OptionalString struct {
	value    string
	hasValue bool
}

// NewOptionalStringWithValue constructs an OptionalString that has a string value.
func NewOptionalStringWithValue(value string) OptionalString {
	return OptionalString{value: value, hasValue: true}
}

// NewOptionalStringFromPointer constructs an OptionalString from a string pointer. If the pointer
// is non-nil, the value is copied; otherwise the result is an undefined OptionalString.
func NewOptionalStringFromPointer(valuePointer *string) OptionalString {
	if valuePointer == nil {
		return OptionalString{}
	}
	return OptionalString{value: *valuePointer, hasValue: true}
}

// IsDefined returns true if the OptionalString contains a value, even if the value is "".
func (o OptionalString) IsDefined() bool {
	return o.hasValue
}

// StringValue returns the value, or "" if there is no value.
func (o OptionalString) StringValue() string {
	return o.value
}

// AsPointer returns the value as a string pointer, or nil if there is no value. The referenced
// value is a copy; modifying it does not affect the OptionalString.
func (o OptionalString) AsPointer() *string {
	if !o.hasValue {
		return nil
	}
	v := o.value
	return &v
}

// MarshalJSON converts the OptionalString to its JSON representation. An undefined value
// becomes a JSON null; otherwise it is a JSON string.
func (o OptionalString) MarshalJSON() ([]byte, error) {
	if !o.hasValue {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON parses an OptionalString from JSON. The value must be either a string or null.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = OptionalString{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = NewOptionalStringWithValue(s)
	return nil
}

// String returns a human-readable description of the value, using "[none]" for an undefined
// value and "[empty]" for an empty string. To get the value itself, use StringValue.
func (o OptionalString) String() string {
	if !o.hasValue {
		return "[none]"
	}
	if o.value == "" {
		return "[empty]"
	}
	return o.value
}
