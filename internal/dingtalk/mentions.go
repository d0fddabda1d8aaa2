package dingtalk

import (
	"regexp"
	"strings"
)

// AtAllSentinel in a mention list means "mention everyone".
const AtAllSentinel = "all"

// mentionAll is the platform's literal marker for mentioning everyone in
// markdown message text.
const mentionAll = "@所有人"

var (
	mobilePattern = regexp.MustCompile(`^\d{11}$`)

	// Headings, emphasis, links, images, code, quotes, and lists, per the
	// markdown subset the platform renders.
	markdownPattern = regexp.MustCompile(`(?m)(^#|[*_]{1,3}|\[.*\]\(.*\)|!\[.*\]\(.*\)|` + "`.*`" + `|^>|^\s*[-*+]\s|^\s*\d+\.\s)`)
)

// AtList is the structured mention payload accepted by group and webhook
// sends. Mobiles and user ids are mutually exclusive buckets.
type AtList struct {
	UserIDs []string `json:"atUserIds"`
	Mobiles []string `json:"atMobiles"`
	AtAll   bool     `json:"isAtAll"`
}

// ParseAtList splits a raw mention list into the structured at-block.
// Entries matching an 11-digit numeric pattern are treated as phone
// numbers; the "all" sentinel sets the mention-everyone flag.
func ParseAtList(atUsers []string) AtList {
	list := AtList{
		UserIDs: []string{},
		Mobiles: []string{},
	}
	for _, id := range atUsers {
		switch {
		case id == AtAllSentinel:
			list.AtAll = true
		case mobilePattern.MatchString(id):
			list.Mobiles = append(list.Mobiles, id)
		default:
			list.UserIDs = append(list.UserIDs, id)
		}
	}
	return list
}

// FormatMentions renders text for markdown delivery: single newlines are
// doubled (the platform's markdown line-break convention) and mentions are
// appended as a trailing line of literal @id tokens.
func FormatMentions(text string, atUsers []string) string {
	formatted := strings.ReplaceAll(text, "\n", "\n\n")
	if len(atUsers) == 0 {
		return formatted
	}

	mention := ""
	all := false
	for _, id := range atUsers {
		if id == AtAllSentinel {
			all = true
			break
		}
	}
	if all {
		mention = " " + mentionAll
	} else {
		tokens := make([]string, 0, len(atUsers))
		for _, id := range atUsers {
			tokens = append(tokens, "@"+id)
		}
		mention = " " + strings.Join(tokens, " ")
	}

	return strings.TrimSpace(formatted) + "\n\n" + mention
}

// IsMarkdown reports whether text uses any markdown syntax the platform
// renders.
func IsMarkdown(text string) bool {
	return markdownPattern.MatchString(text)
}
