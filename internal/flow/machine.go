package flow

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"

	"dreamhome-assistant/internal/markup"
	"dreamhome-assistant/internal/models"
)

// Phase is where the guided property search currently stands.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseAwaitingFilterChoice Phase = "awaiting_filter_choice"
	PhaseAwaitingCityText     Phase = "awaiting_city_text"
	PhaseRefined              Phase = "refined"
	PhaseClosed               Phase = "closed"
)

// Quick-action labels the widget renders as buttons. The machine matches
// them verbatim.
const (
	ActionInquire        = "Inquire A Property"
	ActionVisit          = "Property Visit"
	ActionSell           = "Sell your Property"
	ActionRentOut        = "Rent out your Property"
	ActionMainMenu       = "Main Menu"
	ActionOpenProperties = "Open Properties Page"
)

var statusChoices = []string{"For Sale", "For Rent", "Preselling", "RFO", "All"}

const noResultsReply = "No properties were found for that filter. Try adjusting your budget or location, or choose another option below."

const lookupFailedReply = "Sorry, I ran into a problem while searching. Please try again in a moment, or choose another option below."

var (
	budgetRe   = regexp.MustCompile(`^Budget\s*[=≤]\s*₱?\s*([\d,]+)$`)
	bedroomsRe = regexp.MustCompile(`^Bedrooms\s*(\d+)\+$`)
	greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good\s*(morning|afternoon|evening)|kumusta|kamusta)\b`)
	featuredRe = regexp.MustCompile(`(?i)\bfeatured\b`)
)

// Filters accumulate monotonically through one guided traversal; only
// Main Menu clears them.
type Filters struct {
	Status      string
	City        string
	MaxPrice    *int
	MinBedrooms *int
}

func (f Filters) query() models.ListingQuery {
	q := models.ListingQuery{City: f.City, MaxPrice: f.MaxPrice, Bedrooms: f.MinBedrooms}
	if !strings.EqualFold(f.Status, "All") {
		q.Status = f.Status
	}
	return q
}

// Lookup is the external listings search the machine queries on every
// filter transition.
type Lookup interface {
	Search(ctx context.Context, q models.ListingQuery) ([]models.Listing, error)
}

// Reply is what one turn of the guided flow produces. Handled is false
// when the input is outside the flow's vocabulary and should go to
// free-form chat instead.
type Reply struct {
	Messages     []models.Message
	QuickActions []string
	Handled      bool
}

// Machine drives the structured property-search dialogue. It never
// returns an error; every failure becomes an apology reply with the flow
// left navigable.
type Machine struct {
	lookup  Lookup
	phase   Phase
	filters Filters
}

func NewMachine(lookup Lookup) *Machine {
	return &Machine{lookup: lookup, phase: PhaseIdle}
}

func (m *Machine) Phase() Phase     { return m.phase }
func (m *Machine) Filters() Filters { return m.filters }

func mainMenuActions() []string {
	return []string{ActionInquire, ActionVisit, ActionSell, ActionRentOut}
}

func refineActions() []string {
	return []string{
		"Budget = 3000000",
		"Budget = 5000000",
		"Budget = 10000000",
		"Bedrooms 2+",
		"Bedrooms 3+",
		ActionOpenProperties,
		ActionMainMenu,
	}
}

func assistantReply(text string, actions []string) Reply {
	return Reply{
		Messages:     []models.Message{models.NewAssistantMessage(text)},
		QuickActions: actions,
		Handled:      true,
	}
}

// HandleAction consumes one quick-action tap.
func (m *Machine) HandleAction(ctx context.Context, label string) Reply {
	label = strings.TrimSpace(label)

	switch {
	case label == ActionMainMenu:
		m.phase = PhaseIdle
		m.filters = Filters{}
		return assistantReply("What would you like to do next?", mainMenuActions())

	case label == ActionInquire:
		m.phase = PhaseAwaitingFilterChoice
		prompt := "Great! What kind of property are you looking for?\n[" +
			markup.TagChoices + "]" + strings.Join(statusChoices, "|") + "[/" + markup.TagChoices + "]"
		return assistantReply(prompt, nil)

	case label == ActionVisit:
		text := "I'd love to help you arrange a property visit. Share the details below and our team will confirm your schedule.\n" +
			"[SCHEDULE]\nProperty: \nDate: \nTime: \n[/SCHEDULE]"
		return assistantReply(text, []string{ActionMainMenu})

	case label == ActionSell:
		text := "We can help you sell your property. Tell me about it and an agent will reach out with a valuation.\n" +
			"[PROPERTY]\nTitle: \nLocation: \nAsking Price: \nDetails: \n[/PROPERTY]"
		return assistantReply(text, []string{ActionMainMenu})

	case label == ActionRentOut:
		text := "We can list your property for rent. Tell me about it and an agent will reach out shortly.\n" +
			"[PROPERTY]\nTitle: \nLocation: \nMonthly Rate: \nDetails: \n[/PROPERTY]"
		return assistantReply(text, []string{ActionMainMenu})

	case label == ActionOpenProperties:
		link := propertiesLink(m.filters.Status)
		return assistantReply("You can browse the full catalog here: [Open Properties Page]("+link+")", m.currentActions())

	case m.phase == PhaseAwaitingFilterChoice && isStatusChoice(label):
		staged := m.filters
		if strings.EqualFold(label, "All") {
			staged.Status = ""
		} else {
			staged.Status = label
		}
		return m.queryAndAdvance(ctx, staged, PhaseAwaitingCityText,
			"\n\nYou can narrow this down further. Which city are you interested in?")

	case budgetRe.MatchString(label):
		if m.phase != PhaseAwaitingCityText && m.phase != PhaseRefined {
			return m.fallbackMenu()
		}
		amount, err := strconv.Atoi(strings.ReplaceAll(budgetRe.FindStringSubmatch(label)[1], ",", ""))
		if err != nil {
			return m.fallbackMenu()
		}
		staged := m.filters
		staged.MaxPrice = &amount
		return m.queryAndAdvance(ctx, staged, m.phase, "")

	case bedroomsRe.MatchString(label):
		if m.phase != PhaseAwaitingCityText && m.phase != PhaseRefined {
			return m.fallbackMenu()
		}
		n, err := strconv.Atoi(bedroomsRe.FindStringSubmatch(label)[1])
		if err != nil {
			return m.fallbackMenu()
		}
		staged := m.filters
		staged.MinBedrooms = &n
		return m.queryAndAdvance(ctx, staged, m.phase, "")

	default:
		return m.fallbackMenu()
	}
}

// HandleText consumes one free-text user message. Greetings are
// recognized in any phase. During refinement phases a "featured"
// request runs a featured query and any other text is treated as a
// city filter; everything else is left to the free-form chat service.
func (m *Machine) HandleText(ctx context.Context, text string) Reply {
	trimmed := strings.TrimSpace(text)

	if greetingRe.MatchString(trimmed) {
		return assistantReply("Hello! How can I help you with your property search today?", mainMenuActions())
	}

	if m.phase == PhaseAwaitingCityText || m.phase == PhaseRefined {
		if featuredRe.MatchString(trimmed) {
			return m.queryFeatured(ctx, m.filters)
		}
		staged := m.filters
		staged.City = trimmed
		return m.queryAndAdvance(ctx, staged, PhaseRefined, "")
	}

	return Reply{Handled: false}
}

// Close marks the conversation finished. Main Menu reopens it.
func (m *Machine) Close() {
	m.phase = PhaseClosed
}

// queryAndAdvance runs a lookup with staged filters. Filters and phase
// commit only when the query returns results, so an empty or failed
// query never regresses the flow.
func (m *Machine) queryAndAdvance(ctx context.Context, staged Filters, nextPhase Phase, suffix string) Reply {
	listings, err := m.lookup.Search(ctx, staged.query())
	if err != nil {
		log.Printf("listings lookup failed: %v", err)
		return assistantReply(lookupFailedReply, m.currentActions())
	}
	if len(listings) == 0 {
		return assistantReply(noResultsReply, m.currentActions())
	}

	m.filters = staged
	m.phase = nextPhase
	return assistantReply(formatListings(listings, staged.Status)+suffix, refineActions())
}

func (m *Machine) queryFeatured(ctx context.Context, staged Filters) Reply {
	q := staged.query()
	q.Featured = true
	listings, err := m.lookup.Search(ctx, q)
	if err != nil {
		log.Printf("featured lookup failed: %v", err)
		return assistantReply(lookupFailedReply, m.currentActions())
	}
	if len(listings) == 0 {
		return assistantReply(noResultsReply, m.currentActions())
	}
	return assistantReply("Here are our featured properties:\n\n"+formatListings(listings, staged.Status), m.currentActions())
}

func (m *Machine) currentActions() []string {
	switch m.phase {
	case PhaseAwaitingFilterChoice:
		return append([]string(nil), statusChoices...)
	case PhaseAwaitingCityText, PhaseRefined:
		return refineActions()
	default:
		return mainMenuActions()
	}
}

func (m *Machine) fallbackMenu() Reply {
	return assistantReply("I didn't catch that. Here is what I can help with:", mainMenuActions())
}

func isStatusChoice(label string) bool {
	for _, s := range statusChoices {
		if strings.EqualFold(label, s) {
			return true
		}
	}
	return false
}
