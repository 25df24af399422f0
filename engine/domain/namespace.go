package domain

// Knowledge store namespaces.
const (
	NamespaceBusiness   = "business-content"
	NamespaceCompetitor = "competitor-content"
	NamespaceAudit      = "audit-patterns"
	NamespaceMissions   = "gap-missions"
	NamespaceInsights   = "strategic-insights"
)

// AllNamespaces lists every namespace the engine owns, in a stable order.
var AllNamespaces = []string{
	NamespaceBusiness,
	NamespaceCompetitor,
	NamespaceAudit,
	NamespaceMissions,
	NamespaceInsights,
}

// NamespaceFor routes a content type to its namespace.
func NamespaceFor(ct ContentType) string {
	switch ct {
	case ContentClientSite:
		return NamespaceBusiness
	case ContentCompetitorSite:
		return NamespaceCompetitor
	default:
		return NamespaceInsights
	}
}

// Capability describes whether the knowledge store and embedding service are
// usable. It is decided once at bootstrap and handed to every component that
// depends on them.
type Capability struct {
	available bool
	reason    string
}

// Available is the usable variant.
func Available() Capability { return Capability{available: true} }

// Unavailable is the disabled variant with a human-readable reason.
func Unavailable(reason string) Capability { return Capability{reason: reason} }

// Enabled reports whether the engine may touch the knowledge store.
func (c Capability) Enabled() bool { return c.available }

// Reason explains why the capability is unavailable.
func (c Capability) Reason() string { return c.reason }

// Check returns an EngineError wrapping ErrStoreUnavailable when disabled.
func (c Capability) Check(op string) error {
	if c.available {
		return nil
	}
	var cause error
	if c.reason != "" {
		cause = reasonError(c.reason)
	}
	return Fail(op, ErrStoreUnavailable, cause)
}

type reasonError string

func (r reasonError) Error() string { return string(r) }
