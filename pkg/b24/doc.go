/*
Package b24 is a small client for the Bitrix24 REST API as seen from an
installed application.

# Client vs Session

  - Client holds the application's OAuth identity (client id and secret),
    the HTTP client and the renewal subscribers.
  - Session is one portal user's credential pair. Every call through a
    Session checks the access token first and refreshes it through the
    platform OAuth server when it is expired or about to be.

	client := b24.NewClient(clientID, clientSecret)
	client.Subscribe(func(ctx context.Context, ev b24.RenewalEvent) {
		// persist ev.Credentials for ev.Owner
	})

	sess := client.Session(accountID, "portal.example", creds)
	profile, err := sess.Call(ctx, "profile", nil)

# Renewal events

A refresh rotates the refresh token, so the old pair is useless afterwards.
Every successful refresh is published to the subscribers with the Session's
owner, before the call that triggered it continues. Subscribers must not
block; they run on the caller's goroutine.

# Errors

Failures wrap one of two sentinels:

  - ErrRejected: the platform answered and said no (bad token, missing
    scope, unknown method, refused refresh).
  - ErrUnavailable: the platform could not be reached or answered with a
    server error, a rate limit, or something unparseable.

Use errors.As with *APIError to get the platform's code and description.
*/
package b24
