package identity

import (
	"strings"

	"booking_sync_backend/internal/clients/domain"
)

var handleURLPrefixes = []string{
	"https://",
	"http://",
	"www.",
	"instagram.com/",
	"instagr.am/",
}

// NormalizeHandle reduces a user-entered handle or profile URL to the bare
// lowercase handle.
func NormalizeHandle(raw string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range handleURLPrefixes {
		h = strings.TrimPrefix(h, p)
	}
	if i := strings.IndexAny(h, "?#"); i >= 0 {
		h = h[:i]
	}
	h = strings.Trim(h, "/")
	h = strings.TrimPrefix(h, "@")
	return strings.TrimSpace(h)
}

type handlePolicy struct {
	absent map[string]bool
}

func newHandlePolicy(markers []string) handlePolicy {
	absent := make(map[string]bool, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			absent[m] = true
		}
	}
	return handlePolicy{absent: absent}
}

// resolve returns the handle to store. Without a real handle it returns a
// placeholder keyed by the external id; explicit reports that the customer
// said they have none.
func (p handlePolicy) resolve(raw, externalID string) (handle string, explicit bool) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if p.absent[trimmed] {
		return placeholder(domain.NoneHandle, externalID), true
	}
	if h := NormalizeHandle(raw); h != "" && !p.absent[h] {
		return h, false
	}
	if trimmed != "" {
		return placeholder(domain.NoneHandle, externalID), true
	}
	return placeholder(domain.MissingHandle, externalID), false
}

func placeholder(build func(string) string, externalID string) string {
	if externalID == "" {
		return ""
	}
	return build(externalID)
}
