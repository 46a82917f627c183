package normalize

import (
	"encoding/json"
	"math"
	"strconv"

	"relight/internal/domain"
)

const (
	DefaultSteps = 8
	DefaultCFG   = 1.0
)

const (
	fieldPrompt    = "prompt"
	fieldMain      = "main_image"
	fieldReference = "reference_image"
	fieldImages    = "images"
	fieldSteps     = "steps"
	fieldCFG       = "cfg"
	fieldSeed      = "seed"
)

// ValidateInput checks raw against the two accepted job shapes and returns the
// canonical form. It performs no I/O and returns exactly one of a result or an
// error. Image strings are returned as supplied; classification happens later.
func ValidateInput(raw domain.JobInput) (*domain.CanonicalInput, error) {
	if raw == nil {
		return nil, domain.NewValidationError("", "job input must be an object")
	}

	prompt, ok := lookup(raw, fieldPrompt)
	if !ok {
		return nil, domain.NewValidationError(fieldPrompt, "is required and must be a string")
	}
	promptText, isString := prompt.(string)
	if !isString {
		return nil, domain.NewValidationError(fieldPrompt, "is required and must be a string")
	}

	images, err := resolveImages(raw)
	if err != nil {
		return nil, err
	}

	out := &domain.CanonicalInput{
		Prompt: promptText,
		Images: images,
		Steps:  DefaultSteps,
		CFG:    DefaultCFG,
	}

	if v, ok := lookup(raw, fieldSteps); ok {
		steps, isInt := asInt64(v)
		if !isInt || steps <= 0 || steps > math.MaxInt32 {
			return nil, domain.NewValidationError(fieldSteps, "must be a positive integer")
		}
		out.Steps = int(steps)
	}

	if v, ok := lookup(raw, fieldCFG); ok {
		cfg, isNum := asFloat(v)
		if !isNum {
			return nil, domain.NewValidationError(fieldCFG, "must be a number")
		}
		out.CFG = cfg
	}

	if v, ok := lookup(raw, fieldSeed); ok {
		seed, isInt := asInt64(v)
		if !isInt {
			return nil, domain.NewValidationError(fieldSeed, "must be an integer")
		}
		out.Seed = &seed
	}

	return out, nil
}

// resolveImages applies the source priority: the named pair first, then the
// legacy images array.
func resolveImages(raw domain.JobInput) ([2]string, error) {
	var pair [2]string

	mainVal, hasMain := lookup(raw, fieldMain)
	refVal, hasRef := lookup(raw, fieldReference)
	if hasMain && hasRef {
		mainStr, ok := mainVal.(string)
		if !ok {
			return pair, domain.NewValidationError(fieldMain, "must be a string")
		}
		refStr, ok := refVal.(string)
		if !ok {
			return pair, domain.NewValidationError(fieldReference, "must be a string")
		}
		pair[0], pair[1] = mainStr, refStr
		return pair, nil
	}

	if v, ok := lookup(raw, fieldImages); ok {
		list, isList := asList(v)
		if !isList {
			return pair, domain.NewValidationError(fieldImages, "must be an array of two strings")
		}
		if len(list) != 2 {
			return pair, domain.NewValidationError(fieldImages, "must contain exactly 2 images, got "+strconv.Itoa(len(list)))
		}
		for i, item := range list {
			s, isString := item.(string)
			if !isString {
				return pair, domain.NewValidationError(fieldImages+"["+strconv.Itoa(i)+"]", "must be a string")
			}
			pair[i] = s
		}
		return pair, nil
	}

	return pair, domain.NewValidationError("", "no valid image input provided: expected main_image and reference_image, or images")
}

// lookup treats a JSON null the same as an absent key.
func lookup(raw domain.JobInput, key string) (any, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		if n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return asInt64(f)
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
