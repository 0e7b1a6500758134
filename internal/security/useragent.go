package security

import "regexp"

// suspiciousUA is the ordered table of user-agent heuristics applied during
// upgrade admission, mirroring the teacher's ordered spamCheck table in
// internal/moderation/spam.go: first match wins, each entry self-documents
// its reason for rejection.
var suspiciousUA = []struct {
	name  string
	match func(string) bool
}{
	{name: "empty", match: func(ua string) bool { return ua == "" }},
	{name: "known_scanner", match: scannerPattern.MatchString},
	{name: "headless_without_allowlist", match: headlessPattern.MatchString},
}

var (
	scannerPattern  = regexp.MustCompile(`(?i)(sqlmap|nikto|masscan|nmap|zgrab|curl/7\.0|python-requests/2\.0)`)
	headlessPattern = regexp.MustCompile(`(?i)(headlesschrome|phantomjs)`)
)

// CheckUserAgent returns the name of the first matching suspicious-UA rule,
// or "" if ua passes every check.
func CheckUserAgent(ua string) string {
	for _, c := range suspiciousUA {
		if c.match(ua) {
			return c.name
		}
	}
	return ""
}
