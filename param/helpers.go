package param

import (
	"fmt"
	"strconv"
	"strings"
)

// Value adapts a plain function into a Getter that replies with the formatted result.
func Value[T any](fn func() T) Getter {
	return func([]any) (string, error) {
		return fmt.Sprint(fn()), nil
	}
}

// ValueErr is like Value for functions that can fail.
func ValueErr[T any](fn func() (T, error)) Getter {
	return func([]any) (string, error) {
		v, err := fn()
		if err != nil {
			return "", err
		}

		return fmt.Sprint(v), nil
	}
}

// IndexedValue adapts a function that takes the collected info values.
func IndexedValue[T any](fn func(info []any) (T, error)) Getter {
	return func(info []any) (string, error) {
		v, err := fn(info)
		if err != nil {
			return "", err
		}

		return fmt.Sprint(v), nil
	}
}

// SetString passes the value text through and echoes it back.
func SetString(fn func(string) error) Setter {
	return func(value string, _ []any) (string, error) {
		if err := fn(value); err != nil {
			return "", err
		}

		return value, nil
	}
}

// SetFloat parses the value as a float and echoes the parsed number.
func SetFloat(fn func(float64) error) Setter {
	return func(value string, _ []any) (string, error) {
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return "", fmt.Errorf("value %q is not a number", value)
		}
		if err := fn(v); err != nil {
			return "", err
		}

		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
}

// SetInt parses the value as a base 10 integer and echoes the parsed number.
func SetInt(fn func(int) error) Setter {
	return func(value string, _ []any) (string, error) {
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return "", fmt.Errorf("value %q is not an integer", value)
		}
		if err := fn(v); err != nil {
			return "", err
		}

		return strconv.Itoa(v), nil
	}
}

// SetBool parses the value with strconv.ParseBool and echoes the parsed flag.
func SetBool(fn func(bool) error) Setter {
	return func(value string, _ []any) (string, error) {
		v, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return "", fmt.Errorf("value %q is not a boolean", value)
		}
		if err := fn(v); err != nil {
			return "", err
		}

		return strconv.FormatBool(v), nil
	}
}

// Toggle adapts an action without result. The reply message is empty.
func Toggle(fn func() error) Toggler {
	return func([]any) (string, error) {
		return "", fn()
	}
}

// IntInfo converts the info text to an int in [minVal, maxVal].
func IntInfo(minVal, maxVal int) InfoConverter {
	return func(info string) (any, error) {
		v, err := strconv.Atoi(strings.TrimSpace(info))
		if err != nil {
			return nil, fmt.Errorf("info %q is not an integer", info)
		}
		if v < minVal || v > maxVal {
			return nil, fmt.Errorf("info %d is out of range [%d, %d]", v, minVal, maxVal)
		}

		return v, nil
	}
}

// StringInfo accepts any info text unchanged.
func StringInfo() InfoConverter {
	return func(info string) (any, error) {
		return info, nil
	}
}

// InfoAt returns the i-th collected info value as T.
func InfoAt[T any](info []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(info) {
		return zero, fmt.Errorf("expected info value %d but received %d values", i, len(info))
	}

	v, ok := info[i].(T)
	if !ok {
		return zero, fmt.Errorf("info value %d has type %T, not %T", i, info[i], zero)
	}

	return v, nil
}
