package markup

// Kind discriminates the render-node union.
type Kind string

const (
	KindPlainText     Kind = "text"
	KindEmphasis      Kind = "emphasis"
	KindListItem      Kind = "list_item"
	KindDivider       Kind = "divider"
	KindHyperlink     Kind = "hyperlink"
	KindMediaRef      Kind = "media"
	KindChoiceSet     Kind = "choices"
	KindKeyValueBlock Kind = "key_value"
)

// EmphasisKind distinguishes inline emphasis styles.
type EmphasisKind string

const (
	EmphasisBold       EmphasisKind = "bold"
	EmphasisItalic     EmphasisKind = "italic"
	EmphasisBoldItalic EmphasisKind = "boldItalic"
)

// MediaKind distinguishes embedded media.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Node is one renderable element produced by Parse. Only the fields
// relevant to Kind are populated; nodes are never mutated after
// construction.
type Node struct {
	Kind     Kind
	Text     string       // PlainText, Emphasis, ListItem content, Hyperlink label
	Emphasis EmphasisKind // Emphasis only
	URL      string       // Hyperlink, MediaRef
	Media    MediaKind    // MediaRef only
	Alt      string       // MediaRef only
	Options  []string     // ChoiceSet only
	Tag      string       // KeyValueBlock only
	Fields   map[string]string
}

func plainText(s string) Node { return Node{Kind: KindPlainText, Text: s} }
func listItem(s string) Node  { return Node{Kind: KindListItem, Text: s} }
func divider() Node           { return Node{Kind: KindDivider} }

func emphasis(kind EmphasisKind, s string) Node {
	return Node{Kind: KindEmphasis, Emphasis: kind, Text: s}
}

func hyperlink(label, url string) Node {
	return Node{Kind: KindHyperlink, Text: label, URL: url}
}

func mediaRef(kind MediaKind, url, alt string) Node {
	return Node{Kind: KindMediaRef, Media: kind, URL: url, Alt: alt}
}

func choiceSet(options []string) Node {
	return Node{Kind: KindChoiceSet, Options: options}
}

func keyValueBlock(tag string, fields map[string]string) Node {
	return Node{Kind: KindKeyValueBlock, Tag: tag, Fields: fields}
}
