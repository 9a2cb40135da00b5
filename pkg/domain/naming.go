package domain

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"
)

var tablePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// TableName converts a Go type name to its table name: camel case becomes
// lower snake case, with acronym runs kept together.
//
//	SomeEntity -> some_entity
//	HTTPRequestLog -> http_request_log
func TableName(typeName string) string {
	runes := []rune(typeName)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TableNameOf derives the table name from the record type T, which is
// normally a pointer to a struct embedding Base.
func TableNameOf[T Record]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return TableName(t.Name())
}

// ValidateTable rejects names that cannot be used verbatim as a SQL
// identifier.
func ValidateTable(name string) error {
	if !tablePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return nil
}
