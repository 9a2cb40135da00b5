package jsondoc

import "github.com/tidwall/gjson"

// Contains reports whether doc structurally contains example: every member of
// an example object must be present and contained in doc, every element of an
// example array must be contained in some element of the doc array, and
// scalars must be equal. Invalid JSON never matches.
func Contains(doc, example []byte) bool {
	if !gjson.ValidBytes(doc) || !gjson.ValidBytes(example) {
		return false
	}
	return contains(gjson.ParseBytes(doc), gjson.ParseBytes(example))
}

func contains(doc, example gjson.Result) bool {
	switch {
	case example.IsObject():
		if !doc.IsObject() {
			return false
		}
		members := doc.Map()
		ok := true
		example.ForEach(func(key, want gjson.Result) bool {
			got, present := members[key.String()]
			if !present || !contains(got, want) {
				ok = false
			}
			return ok
		})
		return ok
	case example.IsArray():
		if !doc.IsArray() {
			return false
		}
		elements := doc.Array()
		ok := true
		example.ForEach(func(_, want gjson.Result) bool {
			found := false
			for _, got := range elements {
				if contains(got, want) {
					found = true
					break
				}
			}
			ok = found
			return ok
		})
		return ok
	default:
		return scalarEqual(doc, example)
	}
}

func scalarEqual(a, b gjson.Result) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case gjson.Number:
		return a.Num == b.Num
	case gjson.String:
		return a.Str == b.Str
	default:
		return true
	}
}
