package ratelimit

// Key builds the rate limit key for a request. Authenticated requests
// are limited per subject so one identity behind a shared NAT cannot
// exhaust the budget of others; anonymous requests fall back to the
// client IP.
func Key(subject, clientIP string) string {
	if subject != "" {
		return "sub:" + subject
	}
	return "ip:" + clientIP
}
