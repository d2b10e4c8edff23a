package secrets

// DefaultRules returns the rules applied to generated application files.
//
// Generated code routinely contains identifiers such as "password" or
// "apiKey" as form fields and variable names, so only credential formats
// with a self-identifying prefix are matched here.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `gh[pousr]_[A-Za-z0-9]{36,}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "github-fine-grained",
			Description: "GitHub fine-grained personal access token",
			Pattern:     `github_pat_[A-Za-z0-9_]{22,}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API key",
			Pattern:     `sk-(?:proj-|svcacct-|admin-)?[A-Za-z0-9_\-]{32,}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "anthropic-api-key",
			Description: "Anthropic API key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{40,}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key ID",
			Pattern:     `(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "google-api-key",
			Description: "Google API key",
			Pattern:     `AIza[A-Za-z0-9_\-]{35}`,
			Severity:    SeverityMedium,
		},
		{
			ID:          "stripe-secret-key",
			Description: "Stripe live secret key",
			Pattern:     `(?:sk|rk)_live_[A-Za-z0-9]{24,}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "slack-token",
			Description: "Slack token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "npm-token",
			Description: "npm access token",
			Pattern:     `npm_[A-Za-z0-9]{36}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "private-key",
			Description: "Private key block",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----[\s\S]*?-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "credential-url",
			Description: "Connection URL with embedded password",
			Pattern:     `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?)://[^:\s/]+:[^@\s]+@[^\s'"]+`,
			Severity:    SeverityMedium,
		},
	}
}
