package mail

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/junseo/bidwatcher/internal/models"
)

var stripTags = bluemonday.StrictPolicy()

// SyncFailureEmail summarizes windows whose every sub-fetch failed.
func SyncFailureEmail(windows []string) (subject, htmlBody, textBody string) {
	subject = fmt.Sprintf("[bidwatcher] %d sync window(s) failed", len(windows))

	var html strings.Builder
	html.WriteString("<h3>Sync failures</h3><p>The following windows failed every sub-fetch and will be retried next cycle:</p><ul>")
	for _, w := range windows {
		fmt.Fprintf(&html, "<li>%s</li>", stripTags.Sanitize(w))
	}
	html.WriteString("</ul>")

	var text strings.Builder
	text.WriteString("Sync failures. Windows that failed every sub-fetch:\n")
	for _, w := range windows {
		fmt.Fprintf(&text, "  - %s\n", w)
	}
	text.WriteString("They will be retried next cycle.\n")

	return subject, html.String(), text.String()
}

// BidNotificationEmail lists new notices matching a user's saved search.
// Notice names are upstream text, so they go through the sanitizer
// before landing in HTML.
func BidNotificationEmail(username string, notices []models.Payload) (subject, htmlBody, textBody string) {
	subject = fmt.Sprintf("새로운 입찰 공고 %d건이 등록되었습니다", len(notices))

	var html strings.Builder
	fmt.Fprintf(&html, "<p>%s님, 저장된 검색 조건에 맞는 새 공고 %d건입니다.</p><ul>",
		stripTags.Sanitize(username), len(notices))
	var text strings.Builder
	fmt.Fprintf(&text, "%s님, 저장된 검색 조건에 맞는 새 공고 %d건입니다.\n", username, len(notices))

	for _, n := range notices {
		name := n.Get("bidNtceNm")
		no := n.Get("bidNtceNo")
		close := n.Get("bidClseDt")
		fmt.Fprintf(&html, "<li><strong>%s</strong> (%s) 마감: %s</li>",
			stripTags.Sanitize(name), stripTags.Sanitize(no), stripTags.Sanitize(close))
		fmt.Fprintf(&text, "  - %s (%s) 마감: %s\n", name, no, close)
	}
	html.WriteString("</ul>")

	return subject, html.String(), text.String()
}
