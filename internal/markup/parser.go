package markup

import (
	"net/url"
	"regexp"
	"strings"
)

// TagWhitelist is the set of bracket-tag names the parser recognizes.
// Anything else stays literal text.
var TagWhitelist = []string{"CHOICES", "PROPERTY", "SCHEDULE", "CONTACT"}

// TagChoices is the tag whose body is an option list rather than
// key-value fields.
const TagChoices = "CHOICES"

var (
	tokenRe    *regexp.Regexp
	mediaRe    = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)]*)\)$`)
	linkRe     = regexp.MustCompile(`^\[([^\]]*)\]\(([^)]*)\)$`)
	tagRe      = regexp.MustCompile(`(?s)^\[([A-Z]+)\](.*)\[/[A-Z]+\]$`)
	emphasisRe = regexp.MustCompile(`\*\*\*(.+?)\*\*\*|\*\*(.+?)\*\*|_(.+?)_|\*(.+?)\*`)
	videoExtRe = regexp.MustCompile(`(?i)\.(mp4|webm|ogg)$`)
)

func init() {
	// One ordered alternation, tested left to right at each position:
	// whitelisted tag blocks first, then media markdown, then links.
	// Each tag gets its own alternative so the closing tag always
	// matches the opening one (no backreferences in RE2).
	var alts []string
	for _, tag := range TagWhitelist {
		alts = append(alts, `\[`+tag+`\](?s:.*?)\[/`+tag+`\]`)
	}
	alts = append(alts, `!\[[^\]]*\]\([^)]*\)`, `\[[^\]]*\]\([^)]*\)`)
	tokenRe = regexp.MustCompile(strings.Join(alts, "|"))
}

// Parse splits assistant reply text into an ordered render-node
// sequence. It is a pure, total function: every string parses, and
// anything unrecognized passes through as plain text.
func Parse(text string) []Node {
	var nodes []Node
	last := 0
	for _, loc := range tokenRe.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			nodes = appendLiteral(nodes, text[last:loc[0]])
		}
		nodes = append(nodes, classifyToken(text[loc[0]:loc[1]]))
		last = loc[1]
	}
	if last < len(text) {
		nodes = appendLiteral(nodes, text[last:])
	}
	return nodes
}

// MediaRefs returns just the media nodes of the parsed text, in order.
func MediaRefs(text string) []Node {
	var refs []Node
	for _, n := range Parse(text) {
		if n.Kind == KindMediaRef {
			refs = append(refs, n)
		}
	}
	return refs
}

func classifyToken(tok string) Node {
	if strings.HasPrefix(tok, "![") {
		m := mediaRe.FindStringSubmatch(tok)
		return mediaRef(mediaKind(m[2]), m[2], m[1])
	}
	if m := tagRe.FindStringSubmatch(tok); m != nil && isWhitelisted(m[1]) {
		return classifyTag(m[1], m[2])
	}
	m := linkRe.FindStringSubmatch(tok)
	return hyperlink(m[1], m[2])
}

func isWhitelisted(tag string) bool {
	for _, t := range TagWhitelist {
		if t == tag {
			return true
		}
	}
	return false
}

func classifyTag(tag, body string) Node {
	if tag == TagChoices {
		var options []string
		for _, opt := range strings.Split(body, "|") {
			if opt = strings.TrimSpace(opt); opt != "" {
				options = append(options, opt)
			}
		}
		return choiceSet(options)
	}
	fields := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return keyValueBlock(tag, fields)
}

// mediaKind reports video for known video extensions (query string
// ignored) or /videos/ paths, image otherwise.
func mediaKind(rawURL string) MediaKind {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	if videoExtRe.MatchString(path) || strings.Contains(path, "/videos/") {
		return MediaVideo
	}
	return MediaImage
}

// appendLiteral scans a literal run line by line: dividers, list
// items, then inline emphasis with ***>**>_>* priority, first match
// from the left. Adjacent plain text coalesces into a single node so
// markup-free input round-trips as one PlainText.
func appendLiteral(nodes []Node, run string) []Node {
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			nodes = append(nodes, plainText(buf.String()))
			buf.Reset()
		}
	}

	sep := false // newline owed before the next buffered text
	for _, line := range strings.Split(run, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "---" {
			flush()
			nodes = append(nodes, divider())
			sep = false
			continue
		}
		if item, ok := bulletContent(trimmed); ok {
			flush()
			nodes = append(nodes, listItem(item))
			sep = false
			continue
		}

		if sep {
			buf.WriteByte('\n')
		}
		rest := line
		for {
			loc := emphasisRe.FindStringSubmatchIndex(rest)
			if loc == nil {
				buf.WriteString(rest)
				break
			}
			buf.WriteString(rest[:loc[0]])
			flush()
			nodes = append(nodes, emphasisNode(rest, loc))
			rest = rest[loc[1]:]
		}
		sep = true
	}
	flush()
	return nodes
}

func bulletContent(trimmed string) (string, bool) {
	for _, marker := range []string{"- ", "• "} {
		if strings.HasPrefix(trimmed, marker) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, marker)), true
		}
	}
	return "", false
}

// emphasisNode maps the matched alternation group to its style:
// groups 1..4 are ***, **, _, * in priority order.
func emphasisNode(s string, loc []int) Node {
	kinds := []EmphasisKind{EmphasisBoldItalic, EmphasisBold, EmphasisItalic, EmphasisItalic}
	for g, kind := range kinds {
		start, end := loc[2+2*g], loc[3+2*g]
		if start >= 0 {
			return emphasis(kind, s[start:end])
		}
	}
	// unreachable: the alternation always captures one group
	return plainText(s[loc[0]:loc[1]])
}
