package auth

import "strings"

// AllowList restricts sign-in to listed emails or domains. An empty AllowList admits everyone.
type AllowList struct {
	domains map[string]struct{}
	emails  map[string]struct{}
}

// NewAllowList normalizes the configured domains and emails.
func NewAllowList(domains, emails []string) AllowList {
	domainSet := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domainSet[d] = struct{}{}
		}
	}

	emailSet := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			emailSet[e] = struct{}{}
		}
	}

	return AllowList{domains: domainSet, emails: emailSet}
}

// IsEmailAllowed checks if the given email is allowed based on domain/email allowlists.
func (a AllowList) IsEmailAllowed(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))

	if _, ok := a.emails[email]; ok {
		return true
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 {
		if _, ok := a.domains[parts[1]]; ok {
			return true
		}
	}

	return len(a.domains) == 0 && len(a.emails) == 0
}

// HasAllowlist returns true if any allowlist restrictions are configured.
func (a AllowList) HasAllowlist() bool {
	return len(a.domains) > 0 || len(a.emails) > 0
}
