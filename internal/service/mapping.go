package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/orderguard/orderguard/internal/domain/model"
)

// JMESPathEvaluator abstracts JMESPath evaluation for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return errors.New("empty jmespath expression")
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// ErrMalformedItem is wrapped by every mapping failure caused by the item itself.
var ErrMalformedItem = errors.New("malformed item")

// FieldMapper turns raw job items into validation payloads.
// Without a mapping, item keys must match payload keys.
type FieldMapper struct {
	mapping map[string]string
	keys    []string
	jmes    JMESPathEvaluator
}

// NewFieldMapper validates every expression up front. A nil evaluator uses go-jmespath.
func NewFieldMapper(mapping map[string]string, jmes JMESPathEvaluator) (*FieldMapper, error) {
	if jmes == nil {
		jmes = jmespathLibEvaluator{}
	}
	keys := make([]string, 0, len(mapping))
	for field, expr := range mapping {
		if !model.IsPayloadKey(field) {
			return nil, fmt.Errorf("field_mapping: unknown field %q", field)
		}
		if err := jmes.Validate(expr); err != nil {
			return nil, fmt.Errorf("field_mapping %q: %w", field, err)
		}
		keys = append(keys, field)
	}
	sort.Strings(keys)
	return &FieldMapper{mapping: mapping, keys: keys, jmes: jmes}, nil
}

// Map decodes item into a payload. Mapped fields override same-named item keys;
// an expression that yields null leaves the slot empty.
func (m *FieldMapper) Map(item json.RawMessage) (*model.ValidationPayload, error) {
	var payload model.ValidationPayload
	if len(m.mapping) == 0 {
		if err := json.Unmarshal(item, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
		}
		return &payload, nil
	}

	var doc any
	if err := json.Unmarshal(item, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: item must be a JSON object", ErrMalformedItem)
	}

	for _, field := range m.keys {
		v, err := m.jmes.Evaluate(m.mapping[field], doc)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrMalformedItem, field, err)
		}
		if v == nil {
			continue
		}
		if err := assignField(&payload, field, v); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrMalformedItem, field, err)
		}
	}
	return &payload, nil
}

func assignField(p *model.ValidationPayload, field string, v any) error {
	switch field {
	case "email", "phone", "name", "ip", "user_agent", "currency":
		s, err := scalarString(v)
		if err != nil {
			return err
		}
		switch field {
		case "email":
			p.Email = &s
		case "phone":
			p.Phone = &s
		case "name":
			p.Name = &s
		case "ip":
			p.IP = &s
		case "user_agent":
			p.UserAgent = &s
		case "currency":
			p.Currency = &s
		}
	case "address":
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		var a model.Address
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		p.Address = &a
	case "metadata":
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
		md := make(map[string]string, len(obj))
		for k, val := range obj {
			if val == nil {
				continue
			}
			s, err := scalarString(val)
			if err != nil {
				return fmt.Errorf("metadata %s: %w", k, err)
			}
			md[k] = s
		}
		p.Metadata = md
	case "transaction_amount":
		f, err := scalarFloat(v)
		if err != nil {
			return err
		}
		p.TransactionAmount = &f
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("expected scalar, got %T", v)
	}
}

func scalarFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
