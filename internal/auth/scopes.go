package auth

// WebhookVerifyToken validates the `hub.verify_token` query parameter
// Strava echoes back during the subscription handshake against the
// fixed value configured for this deployment.
func WebhookVerifyToken(got, want string) bool {
	return got != "" && got == want
}
