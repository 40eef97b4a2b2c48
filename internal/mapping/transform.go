// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mapping

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var backrefRe = regexp.MustCompile(`\\(\d+)`)

// Transform applies one transformation spec to v.
//
// Supported specs: upper, lower, strip, trim, int, float, url_encode,
// json_encode, substring:start[:end], replace:old:new,
// regex:pattern:replacement and format:template. substring indices count
// runes and may be negative. format substitutes {0} or {} with the value.
func Transform(v any, spec string) (any, error) {
	name, arg, _ := strings.Cut(spec, ":")

	switch name {
	case "upper":
		return strings.ToUpper(String(v)), nil
	case "lower":
		return strings.ToLower(String(v)), nil
	case "strip", "trim":
		return strings.TrimSpace(String(v)), nil

	case "int":
		return toInt(v)

	case "float":
		f, err := strconv.ParseFloat(strings.TrimSpace(String(v)), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: float of %q: %v", ErrBadTransformation, String(v), err)
		}
		return f, nil

	case "url_encode":
		return strings.ReplaceAll(url.QueryEscape(String(v)), "+", "%20"), nil

	case "json_encode":
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: json_encode: %v", ErrBadTransformation, err)
		}
		return string(b), nil

	case "substring":
		return substring(String(v), arg)

	case "replace":
		old, repl, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q needs replace:old:new", ErrBadTransformation, spec)
		}
		return strings.ReplaceAll(String(v), old, repl), nil

	case "regex":
		pattern, repl, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q needs regex:pattern:replacement", ErrBadTransformation, spec)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadTransformation, err)
		}
		return re.ReplaceAllString(String(v), backrefRe.ReplaceAllString(repl, "$${$1}")), nil

	case "format":
		s := String(v)
		out := strings.ReplaceAll(arg, "{0}", s)
		return strings.ReplaceAll(out, "{}", s), nil

	default:
		return nil, fmt.Errorf("%w: unknown %q", ErrBadTransformation, spec)
	}
}

// toInt parses an integer exactly, falling back to truncating a decimal
// value that fits in an int64.
func toInt(v any) (any, error) {
	s := strings.TrimSpace(String(v))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: int of %q: %v", ErrBadTransformation, s, err)
	}
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("%w: int of %q: out of range", ErrBadTransformation, s)
	}
	return int64(f), nil
}

// substring slices s with Python-style bounds: "a:b", "a:" or ":b".
func substring(s, arg string) (any, error) {
	startStr, endStr, _ := strings.Cut(arg, ":")
	r := []rune(s)
	n := len(r)

	start, end := 0, n
	if startStr != "" {
		v, err := strconv.Atoi(startStr)
		if err != nil {
			return nil, fmt.Errorf("%w: substring start %q", ErrBadTransformation, startStr)
		}
		start = v
	}
	if endStr != "" {
		v, err := strconv.Atoi(endStr)
		if err != nil {
			return nil, fmt.Errorf("%w: substring end %q", ErrBadTransformation, endStr)
		}
		end = v
	}

	start, end = clamp(start, n), clamp(end, n)
	if start >= end {
		return "", nil
	}
	return string(r[start:end]), nil
}

func clamp(i, n int) int {
	if i < 0 {
		i += n
		if i < 0 {
			return 0
		}
	}
	if i > n {
		return n
	}
	return i
}

// String renders a resolved value as text.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case decimal.Decimal:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
