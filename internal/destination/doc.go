// Package destination resolves the SAP connection for an OData operation.
//
// Two named destinations exist: a design-time destination used for service
// discovery and metadata, and a runtime destination used for entity reads and
// writes on behalf of the end user. Resolution tries the local override list
// first, then the BTP destination service. Design-time destinations resolved
// without a user token are cached until ClearCache; anything resolved with a
// token is fetched per call.
//
// The caller's token is always passed explicitly in an api.AuthContext.
package destination
