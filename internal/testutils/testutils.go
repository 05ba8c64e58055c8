// Package testutils contains shared test fixtures and helpers.
package testutils

import (
	"github.com/l7mp/livequery/pkg/property"
)

// Service returns a Kubernetes Service-like object with nested observable properties.
func Service(name, namespace string, replicas int64) *property.Object {
	return property.FromUnstructured(map[string]any{
		"apiVersion": "v1",
		"kind":       "Service",
		"metadata": map[string]any{
			"name":      name,
			"namespace": namespace,
		},
		"spec": map[string]any{
			"selector": map[string]any{
				"app": name,
			},
			"ports": []any{
				map[string]any{
					"protocol":   "TCP",
					"port":       int64(80),
					"targetPort": int64(8080),
				},
			},
			"replicas": replicas,
			"type":     "ClusterIP",
		},
	})
}

// Name returns metadata.name of a fixture object.
func Name(o *property.Object) string {
	v, _ := property.Resolve(o, property.Path{"metadata", "name"})
	s, _ := v.(string)
	return s
}

// Names returns the names of a list of fixture objects.
func Names(objs []*property.Object) []string {
	ret := make([]string, 0, len(objs))
	for _, o := range objs {
		ret = append(ret, Name(o))
	}
	return ret
}
