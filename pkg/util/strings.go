// Package util contains small helpers shared across packages.
package util

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/json"
)

// Map applies f to every element of s: (a -> b) -> [a] -> [b].
func Map[T, U any](f func(T) U, s []T) []U {
	result := make([]U, len(s))
	for i, v := range s {
		result[i] = f(v)
	}
	return result
}

// Stringify renders v as JSON for error messages and logs. Values exposing an unstructured form,
// like observable objects, are rendered through it.
func Stringify(v any) string {
	if u, ok := v.(interface{ Unstructured() map[string]any }); ok {
		v = u.Unstructured()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
