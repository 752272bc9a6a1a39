package continuation

import (
	"encoding/json"
	"strings"

	"github.com/jrife/crossquery/routing"
	"github.com/tidwall/gjson"
)

// Composite is a partition resume token bound to the
// key range it applies to. An empty Token means the
// range is read from its start.
type Composite struct {
	Token string
	Range routing.Range
}

type compositeJSON struct {
	Token *string       `json:"token"`
	Range routing.Range `json:"range"`
}

// NewComposite creates a composite token. It panics
// if rng is nil.
func NewComposite(token string, rng *routing.Range) Composite {
	if rng == nil {
		panic("continuation: composite token requires a range")
	}

	return Composite{Token: token, Range: *rng}
}

// String serializes the token. The encoding is deterministic.
func (c Composite) String() string {
	encoded := compositeJSON{Range: c.Range}

	if c.Token != "" {
		token := c.Token
		encoded.Token = &token
	}

	b, err := json.Marshal(encoded)

	if err != nil {
		// Only strings and bools. Marshal can't fail
		panic(err)
	}

	return string(b)
}

// ParseComposite decodes a serialized composite token.
// It returns false if s is not a JSON object or if its
// range is absent or malformed.
func ParseComposite(s string) (Composite, bool) {
	if !gjson.Valid(s) {
		return Composite{}, false
	}

	return parseComposite(gjson.Parse(s))
}

func parseComposite(result gjson.Result) (Composite, bool) {
	if !result.IsObject() {
		return Composite{}, false
	}

	rng, ok := parseRange(result.Get("range"))

	if !ok {
		return Composite{}, false
	}

	token := result.Get("token")

	switch token.Type {
	case gjson.String:
		return Composite{Token: token.Str, Range: rng}, true
	case gjson.Null:
		return Composite{Range: rng}, true
	}

	return Composite{}, false
}

func parseRange(result gjson.Result) (routing.Range, bool) {
	if !result.IsObject() {
		return routing.Range{}, false
	}

	minKey := result.Get("min")
	maxKey := result.Get("max")

	if minKey.Type != gjson.String || maxKey.Type != gjson.String {
		return routing.Range{}, false
	}

	rng := routing.NewRange(minKey.Str, maxKey.Str)

	if v := result.Get("isMinInclusive"); v.Exists() {
		if v.Type != gjson.True && v.Type != gjson.False {
			return routing.Range{}, false
		}

		rng.IsMinInclusive = v.Bool()
	}

	if v := result.Get("isMaxInclusive"); v.Exists() {
		if v.Type != gjson.True && v.Type != gjson.False {
			return routing.Range{}, false
		}

		rng.IsMaxInclusive = v.Bool()
	}

	if rng.IsEmpty() {
		return routing.Range{}, false
	}

	return rng, true
}

// SerializeList serializes a list of composite tokens as a
// JSON array. An empty list serializes to "" which callers
// treat as "nothing left to read".
func SerializeList(tokens []Composite) string {
	if len(tokens) == 0 {
		return ""
	}

	var b strings.Builder

	b.WriteByte('[')

	for i, token := range tokens {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(token.String())
	}

	b.WriteByte(']')

	return b.String()
}

// ParseList decodes a JSON array of composite tokens.
// It returns false if s is not a non-empty array or if
// any element is not a valid composite token.
func ParseList(s string) ([]Composite, bool) {
	if !gjson.Valid(s) {
		return nil, false
	}

	result := gjson.Parse(s)

	if !result.IsArray() {
		return nil, false
	}

	elements := result.Array()

	if len(elements) == 0 {
		return nil, false
	}

	tokens := make([]Composite, 0, len(elements))

	for _, element := range elements {
		token, ok := parseComposite(element)

		if !ok {
			return nil, false
		}

		tokens = append(tokens, token)
	}

	return tokens, true
}
