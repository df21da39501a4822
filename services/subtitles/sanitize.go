package subtitles

import (
	"strings"

	"golang.org/x/net/html"
)

// allowedTags is the inline formatting preserved in cue text. Everything
// else is stripped: cue text originates from uploaded, untrusted files.
var allowedTags = map[string]bool{
	"b": true, "i": true, "u": true,
	"em": true, "strong": true,
	"br": true,
}

// Sanitize strips all markup from cue text except a small allow-list of
// inline formatting tags. Attributes are dropped even on allowed tags.
func Sanitize(text string) string {
	if !strings.ContainsAny(text, "<>") {
		return text
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(text))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(tokenizer.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if tag := strings.ToLower(string(name)); allowedTags[tag] {
				if tag == "br" {
					b.WriteString("<br>")
				} else {
					b.WriteString("<" + tag + ">")
				}
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := strings.ToLower(string(name)); allowedTags[tag] && tag != "br" {
				b.WriteString("</" + tag + ">")
			}
		}
	}
}
