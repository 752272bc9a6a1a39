package continuation

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
)

// Take is the continuation token of a query limited to
// its first N rows. Limit is the number of rows still to
// be returned and SourceToken is the continuation token of
// the query being limited.
type Take struct {
	Limit       int
	SourceToken string
}

type takeJSON struct {
	Limit       int     `json:"limit"`
	SourceToken *string `json:"sourceToken"`
}

// NewTake creates a take token. It panics if limit
// is negative.
func NewTake(limit int, sourceToken string) Take {
	if limit < 0 {
		panic("continuation: take limit must not be negative")
	}

	return Take{Limit: limit, SourceToken: sourceToken}
}

// String serializes the token. The encoding is deterministic.
func (t Take) String() string {
	encoded := takeJSON{Limit: t.Limit}

	if t.SourceToken != "" {
		sourceToken := t.SourceToken
		encoded.SourceToken = &sourceToken
	}

	b, err := json.Marshal(encoded)

	if err != nil {
		panic(err)
	}

	return string(b)
}

// ParseTake decodes a serialized take token. It returns
// false if s is not a JSON object with a non-negative
// integer limit.
func ParseTake(s string) (Take, bool) {
	if !gjson.Valid(s) {
		return Take{}, false
	}

	result := gjson.Parse(s)

	if !result.IsObject() {
		return Take{}, false
	}

	limit := result.Get("limit")

	if limit.Type != gjson.Number {
		return Take{}, false
	}

	n, err := strconv.Atoi(limit.Raw)

	if err != nil || n < 0 {
		return Take{}, false
	}

	sourceToken := result.Get("sourceToken")

	switch sourceToken.Type {
	case gjson.String:
		return Take{Limit: n, SourceToken: sourceToken.Str}, true
	case gjson.Null:
		return Take{Limit: n}, true
	}

	return Take{}, false
}
