/*
Package authsdk is a small Go client for the sessiond session service.

# SDKClient vs Session

An SDKClient owns a cookie jar and stands in for one browser. The refresh
token is an HttpOnly cookie scoped to /v1/auth, so it only ever lives in
that jar:

	client := authsdk.NewSDKClient("https://auth.example.com")

	session, err := client.Login(ctx, authsdk.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct horse",
		DeviceID: "laptop",
	})

A Session holds the short lived access token and refreshes it through the
cookie when it is about to expire:

	token, err := session.AccessToken(ctx)

	// End this device only
	err = session.Logout(ctx)

	// End every device
	err = session.LogoutAll(ctx)

# Error Handling

Failures come back as *APIError and compare with errors.Is against the
predefined values:

	if errors.Is(err, authsdk.ErrInvalidRefreshToken) {
		// log in again
	}

A refresh token can only be spent once. Presenting a spent token again
revokes every session of that user, so sharing one SDKClient between
goroutines is fine but copying its cookie into another client is not.
*/
package authsdk
