// Package common contains shared constants and sentinel errors used across
// the service layers.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// MaxPageLimit caps the number of items returned by one listing call.
const MaxPageLimit = 100

// DefaultPageLimit is used when the caller omits a limit.
const DefaultPageLimit = 10
