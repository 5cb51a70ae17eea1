package device

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Validator classifies a reply. A nil error accepts the reply; otherwise the
// error text is the diagnostic recorded for the failed attempt.
type Validator func(command string, lines []string) error

func lineAt(lines []string, line int) (string, error) {
	if line < 0 || line >= len(lines) {
		return "", fmt.Errorf("expected reply line %d but received %d lines", line, len(lines))
	}

	return lines[line], nil
}

// All accepts a reply only if every validator accepts it. Nil validators are skipped.
func All(validators ...Validator) Validator {
	return func(command string, lines []string) error {
		for _, v := range validators {
			if v == nil {
				continue
			}
			if err := v(command, lines); err != nil {
				return err
			}
		}

		return nil
	}
}

// NonEmpty rejects an empty reply line.
func NonEmpty(line int) Validator {
	return func(_ string, lines []string) error {
		s, err := lineAt(lines, line)
		if err != nil {
			return err
		}
		if len(s) == 0 {
			return errors.New("did not receive any response")
		}

		return nil
	}
}

// Finite accepts a line holding a finite number.
func Finite(line int) Validator {
	return func(_ string, lines []string) error {
		s, err := lineAt(lines, line)
		if err != nil {
			return err
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("received illegal value: %s", s)
		}

		return nil
	}
}

// Number accepts a line holding any number except NaN, infinities included.
func Number(line int) Validator {
	return func(_ string, lines []string) error {
		s, err := lineAt(lines, line)
		if err != nil {
			return err
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(v) {
			return fmt.Errorf("received illegal value: %s", s)
		}

		return nil
	}
}

// Bool accepts a line strconv.ParseBool understands.
func Bool(line int) Validator {
	return func(_ string, lines []string) error {
		s, err := lineAt(lines, line)
		if err != nil {
			return err
		}
		if _, err := strconv.ParseBool(strings.TrimSpace(s)); err != nil {
			return fmt.Errorf("did not receive a bool: %s", s)
		}

		return nil
	}
}

// MatchReturn accepts a line equal to value.
func MatchReturn(value string, line int) Validator {
	return func(_ string, lines []string) error {
		s, err := lineAt(lines, line)
		if err != nil {
			return err
		}
		if s != value {
			return fmt.Errorf("return string (%s) is not correct (%s)", s, value)
		}

		return nil
	}
}

// InList accepts a line equal to one of values.
func InList(values []string, line int) Validator {
	return func(_ string, lines []string) error {
		s, err := lineAt(lines, line)
		if err != nil {
			return err
		}
		if !slices.Contains(values, s) {
			return fmt.Errorf("return string (%s) is not in the list %v", s, values)
		}

		return nil
	}
}

// DelimCount accepts a line that splits into count parts on delim.
func DelimCount(count int, delim string, line int) Validator {
	return func(_ string, lines []string) error {
		s, err := lineAt(lines, line)
		if err != nil {
			return err
		}
		if len(strings.Split(s, delim)) != count {
			return fmt.Errorf("return string (%s) does not have the correct number of delimiters (%s)", s, delim)
		}

		return nil
	}
}

// MatchValue reads the actual value back with get after a set command and
// accepts it when it lies within the relative tolerance tol of value.
func MatchValue(value float64, get func() (float64, error), tol float64) (Validator, error) {
	if tol < 0 {
		return nil, &ConfigError{Field: "Tolerance", Value: tol, Min: 0}
	}
	if get == nil {
		return nil, fmt.Errorf("%w: get function is nil", ErrConfiguration)
	}

	return func(string, []string) error {
		actual, err := get()
		if err != nil {
			return fmt.Errorf("unable to read back value: %w", err)
		}
		if math.Abs(actual-value) > tol*math.Abs(value) {
			return fmt.Errorf("value %v is outside the tolerance range of the correct value %v", actual, value)
		}

		return nil
	}, nil
}
