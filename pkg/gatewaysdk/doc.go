/*
Package gatewaysdk provides a client SDK for the b24gate authentication
gateway.

# Overview

An application frame opened by a Bitrix24 portal receives a placement
payload (portal domain, member id, OAuth pair). The frame hands that payload
to the gateway once and gets back a short-lived session token; every later
call carries the token as a Bearer credential.

The package is organized around two types:

  - SDKClient: unauthenticated operations and session creation
  - Session: authenticated operations with automatic token renewal

	client := gatewaysdk.NewSDKClient("https://gateway.example.com")

	// Exchange the placement payload for a session
	session, err := client.AuthenticateWithPlacement(ctx, gatewaysdk.Placement{
		Domain:       "portal.bitrix24.com",
		MemberID:     memberID,
		AccessToken:  authID,
		RefreshToken: refreshID,
		ExpiresIn:    3600,
	})

	// Authenticated calls
	profile, err := session.Profile(ctx)
	items, err := session.Enum(ctx)

# Token Renewal

Session tokens are JWTs. The session reads the exp claim (without verifying
the signature, which only the gateway can do) and asks the gateway for a new
token shortly before it expires. A token that has already expired cannot be
renewed; authenticate with a fresh placement payload instead.

# Error Handling

Every non-2xx response is returned as *APIError:

	_, err := session.Profile(ctx)
	if gatewaysdk.IsUnauthorized(err) {
		// session token rejected, re-run the placement flow
	}

# Thread Safety

SDKClient and Session are safe for concurrent use.
*/
package gatewaysdk
