package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Duration is a time.Duration written as "1.5s" in config files. Plain
// integers, quoted or not, are nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDuration(v any) (Duration, error) {
	switch v := v.(type) {
	case string:
		// Environment overrides arrive as strings, so "2000000000" means nanoseconds
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return Duration(n), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, err
		}
		return Duration(d), nil
	case float64:
		return Duration(int64(v)), nil
	case int:
		return Duration(v), nil
	case int64:
		return Duration(v), nil
	}
	return 0, fmt.Errorf("invalid duration %v", v)
}

var durationType = reflect.TypeOf(Duration(0))

// durationHook lets viper decode both "250ms" and plain nanosecond counts.
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	return parseDuration(data)
}
