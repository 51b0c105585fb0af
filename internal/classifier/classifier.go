// Package classifier decides whether booked service lines are a consultation
// or a paid service by matching titles against a configured vocabulary.
package classifier

import (
	"strings"

	"booking_sync_backend/internal/clients/domain"
	"booking_sync_backend/platform/config"

	"github.com/shopspring/decimal"
)

// Line is one booked service line.
type Line struct {
	ID     string
	Title  string
	Cost   decimal.Decimal
	Amount int
}

// Result summarizes a set of lines.
type Result struct {
	IsConsultation          bool
	IsOnlineConsultation    bool
	HasHairExtensionService bool
	HasOtherPaidService     bool
}

// HasPaidService reports whether any line is not a consultation.
func (r Result) HasPaidService() bool {
	return r.HasHairExtensionService || r.HasOtherPaidService
}

// IsMixed reports whether the event books a consultation and a paid service together.
func (r Result) IsMixed() bool {
	return r.IsConsultation && r.HasPaidService()
}

// PaidSubtype returns the paid-service refinement, or "" without paid lines.
func (r Result) PaidSubtype() string {
	switch {
	case r.HasHairExtensionService:
		return domain.PaidSubtypeHairExtension
	case r.HasOtherPaidService:
		return domain.PaidSubtypeOther
	default:
		return ""
	}
}

// Vocabulary holds lower-cased title fragments.
type Vocabulary struct {
	Consultation  []string
	Online        []string
	HairExtension []string
}

// VocabularyFrom converts the settings section.
func VocabularyFrom(s config.VocabularySettings) Vocabulary {
	return Vocabulary{
		Consultation:  lowerAll(s.Consultation),
		Online:        lowerAll(s.Online),
		HairExtension: lowerAll(s.HairExtension),
	}
}

// Classifier is stateless once constructed.
type Classifier struct {
	vocab Vocabulary
}

// New creates a classifier over vocab.
func New(vocab Vocabulary) *Classifier {
	return &Classifier{vocab: Vocabulary{
		Consultation:  lowerAll(vocab.Consultation),
		Online:        lowerAll(vocab.Online),
		HairExtension: lowerAll(vocab.HairExtension),
	}}
}

// IsConsultationLine reports whether a single title is a consultation.
func (c *Classifier) IsConsultationLine(title string) bool {
	return containsAny(title, c.vocab.Consultation)
}

// Classify summarizes lines. An empty list yields the zero Result.
func (c *Classifier) Classify(lines []Line) Result {
	var r Result
	for _, l := range lines {
		if c.IsConsultationLine(l.Title) {
			r.IsConsultation = true
			if containsAny(l.Title, c.vocab.Online) {
				r.IsOnlineConsultation = true
			}
			continue
		}
		if strings.TrimSpace(l.Title) == "" {
			continue
		}
		if containsAny(l.Title, c.vocab.HairExtension) {
			r.HasHairExtensionService = true
		} else {
			r.HasOtherPaidService = true
		}
	}
	return r
}

// Split separates consultation lines from paid lines, keeping order.
func (c *Classifier) Split(lines []Line) (consultation, paid []Line) {
	for _, l := range lines {
		if c.IsConsultationLine(l.Title) {
			consultation = append(consultation, l)
		} else if strings.TrimSpace(l.Title) != "" {
			paid = append(paid, l)
		}
	}
	return consultation, paid
}

func containsAny(title string, fragments []string) bool {
	t := strings.ToLower(title)
	for _, f := range fragments {
		if f != "" && strings.Contains(t, f) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
