// Package session owns the bearer token lifecycle of the admin client.
//
// A Manager logs in, remembers the credentials for the one-shot re-login that
// stands in for a refresh (the backend issues no refresh tokens), persists the
// token in a TokenStore and is the only component that writes the
// Authorization header. Outgoing requests pick it up through Manager.Transport.
//
// State machine:
//
//	LoggedOut -> Authenticating -> LoggedIn
//	LoggedIn  -> Authenticating   (401 retry path)
//	Authenticating -> LoggedOut   (login failure)
//	LoggedIn  -> LoggedOut        (logout)
package session
