package ops

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// Guest arguments arrive as whatever the caller's codec produced: JSON
// numbers, goja exports or plain Go values. These helpers coerce them.

func invalid(op, format string, args ...any) error {
	return syserr.Errorf(syserr.InvalidArgument, op, format, args...)
}

func toInt(op string, v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, invalid(op, "integer %d out of range", n)
		}
		return int64(n), nil
	case float32:
		return floatToInt(op, float64(n))
	case float64:
		return floatToInt(op, n)
	case json.Number:
		return n.Int64()
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, invalid(op, "expected an integer, got %q", n)
		}
		return i, nil
	case nil:
		return 0, invalid(op, "missing integer argument")
	}
	return 0, invalid(op, "expected an integer, got %T", v)
}

func floatToInt(op string, f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, invalid(op, "expected an integer, got %v", f)
	}
	return int64(f), nil
}

func toRid(op string, v any) (int, error) {
	n, err := toInt(op, v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, syserr.Errorf(syserr.BadResource, op, "bad resource id %d", n)
	}
	return int(n), nil
}

func toIntOr(op string, v any, def int64) (int64, error) {
	if v == nil {
		return def, nil
	}
	return toInt(op, v)
}

func toString(op string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	case nil:
		return "", invalid(op, "missing string argument")
	}
	return "", invalid(op, "expected a string, got %T", v)
}

func toStringOr(op string, v any, def string) (string, error) {
	if v == nil {
		return def, nil
	}
	return toString(op, v)
}

// toBytes accepts raw bytes, a string, or an array of byte values.
func toBytes(op string, v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case nil:
		return nil, nil
	case []any:
		out := make([]byte, len(b))
		for i, e := range b {
			n, err := toInt(op, e)
			if err != nil || n < 0 || n > 255 {
				return nil, invalid(op, "byte %d out of range", i)
			}
			out[i] = byte(n)
		}
		return out, nil
	}
	return nil, invalid(op, "expected bytes, got %T", v)
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	case nil:
		return false
	}
	n, err := toInt("", v)
	return err == nil && n != 0
}

func toPath(op string, v any) (string, error) {
	s, err := toString(op, v)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", invalid(op, "empty path")
	}
	return s, nil
}

// toTime reads a timestamp given as unix seconds, RFC 3339 text or a time.
func toTime(op string, v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, invalid(op, "bad timestamp %q", t)
		}
		return parsed, nil
	case float64:
		sec, frac := math.Modf(t)
		return time.Unix(int64(sec), int64(frac*1e9)), nil
	}
	n, err := toInt(op, v)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0), nil
}

var bytesType = reflect.TypeOf([]byte(nil))

func bytesHook(from, to reflect.Type, data any) (any, error) {
	if to != bytesType || from == bytesType {
		return data, nil
	}
	return toBytes("decode", data)
}

// decodeOptions fills out from an option object. A nil input leaves out at
// its defaults.
func decodeOptions(op string, in, out any) error {
	if in == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			bytesHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return syserr.Wrap(syserr.InvalidArgument, op, "", err)
	}
	return nil
}
