package destination

// Type selects which of the two configured destinations is used.
type Type string

const (
	DesignTime Type = "design-time"
	Runtime    Type = "runtime"
)

// Operation is the kind of OData call a destination is resolved for.
type Operation string

const (
	OpDiscovery Operation = "discovery"
	OpMetadata  Operation = "metadata"
	OpRead      Operation = "read"
	OpCreate    Operation = "create"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
)

// Context is the per-call resolution input. Type may be left empty, in which
// case it is derived from Operation.
type Context struct {
	Type      Type
	Operation Operation
}

// ResolvedType returns Type when set. Otherwise discovery and metadata map to
// design-time and everything else to runtime.
func (c Context) ResolvedType() Type {
	if c.Type != "" {
		return c.Type
	}
	switch c.Operation {
	case OpDiscovery, OpMetadata:
		return DesignTime
	default:
		return Runtime
	}
}

// AuthenticationMode is the BTP destination "Authentication" property.
type AuthenticationMode string

const (
	BasicAuthentication       AuthenticationMode = "BasicAuthentication"
	PrincipalPropagation      AuthenticationMode = "PrincipalPropagation"
	NoAuthentication          AuthenticationMode = "NoAuthentication"
	OAuth2SAMLBearerAssertion AuthenticationMode = "OAuth2SAMLBearerAssertion"
	OAuth2UserTokenExchange   AuthenticationMode = "OAuth2UserTokenExchange"
	OAuth2ClientCredentials   AuthenticationMode = "OAuth2ClientCredentials"
)

// AuthToken is a ready-to-use credential the destination service attached to
// a destination, typically the result of a user token exchange.
type AuthToken struct {
	Type        string
	Value       string
	HeaderName  string
	HeaderValue string
	Error       string
}

// Destination is a resolved SAP connection. It is a value owned by the
// caller; cached destinations are copied on the way out.
type Destination struct {
	Name               string
	URL                string
	AuthenticationMode AuthenticationMode
	User               string
	Password           string
	ProxyType          string
	AuthTokens         []AuthToken

	// Properties holds the remaining destination properties, e.g. sap-client.
	Properties map[string]string
}

// HasBasicCredentials reports whether user and password are both set.
func (d *Destination) HasBasicCredentials() bool {
	return d.User != "" && d.Password != ""
}

// Clone returns a deep copy.
func (d *Destination) Clone() *Destination {
	if d == nil {
		return nil
	}
	c := *d
	c.AuthTokens = append([]AuthToken(nil), d.AuthTokens...)
	if d.Properties != nil {
		c.Properties = make(map[string]string, len(d.Properties))
		for k, v := range d.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// Source records where a resolution came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// Propagation is the Principal Propagation outcome of a resolution.
type Propagation string

const (
	// PropagationNone means the destination does not use Principal Propagation.
	PropagationNone Propagation = "none"

	// PropagationActive means a user token was supplied.
	PropagationActive Propagation = "active"

	// PropagationBasicFallback means no user token was supplied and the
	// destination's Basic credentials are used instead.
	PropagationBasicFallback Propagation = "basic-fallback"

	// PropagationMissing means neither a user token nor Basic credentials are
	// available. The backend call is expected to fail with 401.
	PropagationMissing Propagation = "missing"
)

// Resolution is the outcome of Resolver.Resolve.
type Resolution struct {
	Destination *Destination
	Name        string
	Type        Type
	Operation   Operation
	Source      Source
	Propagation Propagation
}

// EffectiveAuthentication is the mode the request client should apply: a
// Principal Propagation destination that fell back is used as Basic.
func (r *Resolution) EffectiveAuthentication() AuthenticationMode {
	if r.Propagation == PropagationBasicFallback {
		return BasicAuthentication
	}
	return r.Destination.AuthenticationMode
}
