package flow

import (
	"fmt"
	"strconv"
	"strings"

	"dreamhome-assistant/internal/models"
)

const maxListingsShown = 3

// currencySymbol infers the display currency from a listing's country.
// The inventory is Philippine-first, so that is also the fallback.
func currencySymbol(country string) string {
	switch strings.ToLower(strings.TrimSpace(country)) {
	case "us", "usa", "united states":
		return "$"
	default:
		return "₱"
	}
}

// formatPrice renders a price with thousands grouping and no decimals.
func formatPrice(symbol string, price float64) string {
	digits := strconv.FormatInt(int64(price), 10)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")

	var grouped strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(d)
	}
	if neg {
		return symbol + "-" + grouped.String()
	}
	return symbol + grouped.String()
}

func composedLocation(l models.Listing) string {
	var parts []string
	for _, p := range []string{l.Address, l.City, l.State, l.Country} {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

func detailsLine(l models.Listing) string {
	var parts []string
	if l.Type != "" {
		parts = append(parts, l.Type)
	}
	if l.Status != "" {
		parts = append(parts, l.Status)
	}
	if l.Bedrooms > 0 {
		parts = append(parts, fmt.Sprintf("%d BR", l.Bedrooms))
	}
	if l.Bathrooms > 0 {
		parts = append(parts, fmt.Sprintf("%d BA", l.Bathrooms))
	}
	return strings.Join(parts, " • ")
}

func statusSlug(status string) string {
	if status == "" || strings.EqualFold(status, "All") {
		return "for-sale"
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(status)), " ", "-")
}

func propertiesLink(status string) string {
	return "/properties/" + statusSlug(status)
}

// formatListings turns lookup results into one assistant reply: up to
// three numbered blocks, each optionally led by a media line, followed by
// a link to the filtered properties page.
func formatListings(listings []models.Listing, status string) string {
	shown := listings
	if len(shown) > maxListingsShown {
		shown = shown[:maxListingsShown]
	}

	var blocks []string
	for i, l := range shown {
		symbol := currencySymbol(l.Country)
		price := formatPrice(symbol, l.Price)

		var b strings.Builder
		if len(l.Images) > 0 && l.Images[0].URL != "" {
			fmt.Fprintf(&b, "![%s — %s](%s)\n", l.Title, price, l.Images[0].URL)
		}
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, l.Title)
		if loc := composedLocation(l); loc != "" {
			fmt.Fprintf(&b, "- Location: %s\n", loc)
		}
		fmt.Fprintf(&b, "- Price: %s\n", price)
		if details := detailsLine(l); details != "" {
			fmt.Fprintf(&b, "- Details: %s\n", details)
		}
		fmt.Fprintf(&b, "- View: %s", l.DeepLink())
		blocks = append(blocks, b.String())
	}

	var reply strings.Builder
	reply.WriteString(strings.Join(blocks, "\n\n"))
	fmt.Fprintf(&reply, "\n\nBrowse more here: [All matching properties](%s)", propertiesLink(status))
	return reply.String()
}
