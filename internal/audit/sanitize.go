package audit

import (
	"fmt"
	"strings"
)

// Field length caps applied before persistence.
const (
	maxReasonLen    = 512
	maxUserAgentLen = 512
	maxPathLen      = 1024
	maxIPLen        = 45
	maxActionLen    = 64
	maxResourceLen  = 128
	maxMetaValueLen = 1024
)

const redactionMarker = "[REDACTED]"

// sensitiveKeys is the metadata redaction denylist, matched as a
// case-insensitive substring of the key.
var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"apikey",
	"api_key",
	"authorization",
	"cookie",
	"credential",
}

// sanitizeText strips control characters (CR/LF included, against log and
// record injection) and truncates to max bytes.
func sanitizeText(s string, max int) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// redactMetadata returns a copy of meta with sensitive values replaced and
// free-text values sanitized.
func redactMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		if isSensitiveKey(key) {
			out[key] = redactionMarker
			continue
		}
		switch v := value.(type) {
		case string:
			out[key] = sanitizeText(v, maxMetaValueLen)
		case []string:
			cleaned := make([]string, len(v))
			for i, s := range v {
				cleaned[i] = sanitizeText(s, maxMetaValueLen)
			}
			out[key] = cleaned
		case fmt.Stringer:
			out[key] = sanitizeText(v.String(), maxMetaValueLen)
		default:
			out[key] = value
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, needle := range sensitiveKeys {
		if strings.Contains(lowered, needle) {
			return true
		}
	}
	return false
}

// sanitizeEvent applies field caps and metadata redaction in place.
func sanitizeEvent(event *Event) {
	event.Action = sanitizeText(event.Action, maxActionLen)
	event.ResourceType = sanitizeText(event.ResourceType, maxResourceLen)
	event.ResourceID = sanitizeText(event.ResourceID, maxResourceLen)
	event.IP = sanitizeText(event.IP, maxIPLen)
	event.UserAgent = sanitizeText(event.UserAgent, maxUserAgentLen)
	event.Path = sanitizeText(event.Path, maxPathLen)
	event.Method = sanitizeText(event.Method, 10)
	if event.RequiredPermission != nil {
		cleaned := sanitizeText(*event.RequiredPermission, maxResourceLen)
		event.RequiredPermission = &cleaned
	}
	if event.FailureReason != nil {
		cleaned := sanitizeText(*event.FailureReason, maxReasonLen)
		event.FailureReason = &cleaned
	}
	event.Metadata = redactMetadata(event.Metadata)
}
