// Package auth declares the external contract the core consumes from
// its authentication collaborator. Nothing in this module implements
// it; every operation accepts a CurrentUser value already resolved by
// the caller, and the core never itself talks to an identity provider.
package auth

import "context"

// CurrentUser is the authoritative identity the core treats as given,
// injected per request by the transport layer.
type CurrentUser struct {
	UserID         string
	UserRootFolder string // FolderId of the caller's home folder
	QuotaBytes     int64
	Role           string
}

// Auth resolves the current user for a request. The core only ever
// consumes this interface; the HTTP/gRPC transport layer that fulfils
// it lives outside this module.
type Auth interface {
	CurrentUser(ctx context.Context) (CurrentUser, error)
}
