package instrumentation

import "strings"

// NamespaceClass is a low-cardinality grouping of namespace names.
type NamespaceClass string

// Namespace classes for metric labels.
const (
	// NamespaceClassSystem covers namespaces owned by Kubernetes itself.
	NamespaceClassSystem NamespaceClass = "system"

	// NamespaceClassDefault is the default namespace.
	NamespaceClassDefault NamespaceClass = "default"

	// NamespaceClassUser is everything else.
	NamespaceClassUser NamespaceClass = "user"
)

// ClassifyNamespace groups a namespace name for metrics so that a cluster
// with thousands of namespaces yields three label values.
//
//	ClassifyNamespace("kube-system")     // "system"
//	ClassifyNamespace("kube-node-lease") // "system"
//	ClassifyNamespace("default")         // "default"
//	ClassifyNamespace("team-a")          // "user"
func ClassifyNamespace(name string) string {
	switch {
	case name == "default":
		return string(NamespaceClassDefault)
	case strings.HasPrefix(name, "kube-"):
		return string(NamespaceClassSystem)
	default:
		return string(NamespaceClassUser)
	}
}
