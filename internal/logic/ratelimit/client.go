package ratelimit

// ClientID derives the rate-limit key for a caller. Authenticated users and
// anonymous IPs are tracked separately, so blocking one never blocks the other.
func ClientID(userID, ip string) string {
	if userID != "" {
		return "user_" + userID
	}
	return "ip_" + ip
}
