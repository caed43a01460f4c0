// services/gateway/payload.go
package gateway

import "encoding/json"

// decodeJSON accepts raw bytes, strings, or already-decoded maps and
// structs, normalising through encoding/json into T.
func decodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
