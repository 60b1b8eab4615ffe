package delegate

import "regexp"

// Credential patterns scrubbed from transcripts and envelopes before
// anything is persisted or surfaced.
var secretPatterns = []*regexp.Regexp{
	// Anthropic / OpenAI style keys.
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	// AWS access key IDs.
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// Bearer tokens in headers or logs.
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`),
	// GitHub tokens.
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	// key=value style assignments of likely secrets.
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd)\s*[=:]\s*\S+`),
}

const masked = "***MASKED***"

// MaskSecrets replaces credential-looking substrings with a fixed marker.
// Applied to all delegate output before persistence, so a delegate echoing
// its own environment never leaks keys into transcripts.
func MaskSecrets(text string) string {
	for _, re := range secretPatterns {
		text = re.ReplaceAllString(text, masked)
	}
	return text
}
