package utils

import (
	"encoding/json"
	"fmt"

	ld "gopkg.in/launchdarkly/go-server-sdk.v4"
)

// UnmarshalItem attempts to unmarshal an entity that has been stored as JSON in a
// FeatureStore. The kind parameter indicates what type of entity is expected.
func UnmarshalItem(kind ld.VersionedDataKind, raw []byte) (ld.VersionedData, error) {
	data := kind.GetDefaultItem()
	if jsonErr := json.Unmarshal(raw, &data); jsonErr != nil {
		return nil, jsonErr
	}
	if item, ok := data.(ld.VersionedData); ok {
		return item, nil
	}
	return nil, fmt.Errorf("unexpected data type from JSON unmarshal: %T", data)
}
