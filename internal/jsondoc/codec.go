// Package jsondoc encodes records as JSON documents and implements the
// structural containment match behind Like queries.
package jsondoc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Codec is the default domain.Codec. Documents are stored exactly as
// encoding/json produces them, null members included; null stripping is
// applied to Like examples only, by StripNulls.
type Codec struct{}

// NewCodec returns a JSON codec.
func NewCodec() *Codec { return &Codec{} }

// Encode marshals v to a JSON document.
func (c *Codec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Decode unmarshals a JSON document into v.
func (c *Codec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// StripNulls removes every object member whose value is null, at any depth.
// Array elements are left in place. Member order is preserved.
func StripNulls(data []byte) ([]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("strip nulls: invalid json")
	}
	var paths []string
	collectNulls(gjson.ParseBytes(data), "", &paths)
	out := data
	for _, path := range paths {
		var err error
		out, err = sjson.DeleteBytes(out, path)
		if err != nil {
			return nil, fmt.Errorf("strip nulls at %s: %w", path, err)
		}
	}
	return out, nil
}

func collectNulls(value gjson.Result, prefix string, paths *[]string) {
	switch {
	case value.IsObject():
		value.ForEach(func(key, member gjson.Result) bool {
			path := join(prefix, escape(key.String()))
			if member.Type == gjson.Null {
				*paths = append(*paths, path)
				return true
			}
			collectNulls(member, path, paths)
			return true
		})
	case value.IsArray():
		i := 0
		value.ForEach(func(_, element gjson.Result) bool {
			collectNulls(element, join(prefix, fmt.Sprint(i)), paths)
			i++
			return true
		})
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

const pathSpecials = `\.*?|#@!=<>%~:`

func escape(key string) string {
	if !strings.ContainsAny(key, pathSpecials) {
		return key
	}
	var b strings.Builder
	for _, r := range key {
		if strings.ContainsRune(pathSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
