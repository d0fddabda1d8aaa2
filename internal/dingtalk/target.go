package dingtalk

import "strings"

// TargetKind tags the delivery mechanism a target resolves to.
type TargetKind string

const (
	TargetWebhook TargetKind = "webhook"
	TargetGroup   TargetKind = "group"
	TargetUser    TargetKind = "user"
)

// Target is a classified delivery destination. Classification happens once
// at the boundary; downstream code switches on Kind and never re-inspects
// raw strings.
type Target struct {
	Kind  TargetKind
	Value string
}

var targetPrefixes = []string{"user:", "group:", "channel:"}

// ClassifyTarget maps a raw destination string to a delivery target.
// Precedence: a known logical prefix is stripped first; anything containing
// an http(s) scheme is a webhook (session webhooks sometimes arrive with
// leading junk, so the substring check is deliberate); a cid-prefixed value
// is a group conversation id; everything else is a user id.
func ClassifyTarget(raw string) Target {
	value := strings.TrimSpace(raw)
	for _, prefix := range targetPrefixes {
		if strings.HasPrefix(value, prefix) {
			value = value[len(prefix):]
			break
		}
	}

	if strings.Contains(value, "http://") || strings.Contains(value, "https://") {
		return Target{Kind: TargetWebhook, Value: value}
	}
	if strings.HasPrefix(value, "cid") {
		return Target{Kind: TargetGroup, Value: value}
	}
	return Target{Kind: TargetUser, Value: value}
}

// Canonical returns the prefixed form that classifies back to the same
// target.
func (t Target) Canonical() string {
	switch t.Kind {
	case TargetGroup:
		return "group:" + t.Value
	case TargetUser:
		return "user:" + t.Value
	default:
		return t.Value
	}
}
