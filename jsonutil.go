package jsonapi

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSONTime renders a timestamp-kind field the way JSON:API expects: an
// RFC3339 string. Adapted from the teacher's json.go custom time scalar.
type JSONTime time.Time

func (t JSONTime) MarshalJSON() ([]byte, error) {
	stamp := fmt.Sprintf("%q", time.Time(t).Format(time.RFC3339))
	return []byte(stamp), nil
}

func (t *JSONTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	tt, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	*t = JSONTime(tt)
	return nil
}

func (t JSONTime) Time() time.Time { return time.Time(t) }

// stringifyScalar renders any scalar storage value as the decimal-string
// form JSON:API requires for ids (spec.md §3 invariant), falling back to
// fmt.Sprint for anything else.
func stringifyScalar(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case int:
		return fmt.Sprintf("%d", n)
	case int32:
		return fmt.Sprintf("%d", n)
	case int64:
		return fmt.Sprintf("%d", n)
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	default:
		return fmt.Sprintf("%v", n)
	}
}
