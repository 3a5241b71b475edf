package assembler

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AnTengye/contractforge/model"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// Placeholder replaces any field the wizard left empty.
	Placeholder = "Not Provided"
	// EmptyListPlaceholder replaces an empty list field.
	EmptyListPlaceholder = "None specified"
)

var numberCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

// parseNumber reads wizard input such as "45", "$1,200.50" or "90".
func parseNumber(raw string) (float64, bool) {
	cleaned := numberCleaner.Replace(raw)
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func text(v model.Scalar) string {
	if v.Empty() {
		return Placeholder
	}
	return v.String()
}

func str(s string) string {
	return text(model.Scalar(s))
}

// money renders a fixed two-decimal US currency amount. Non-numeric input is
// rendered verbatim.
func money(v model.Scalar) string {
	if v.Empty() {
		return Placeholder
	}
	f, ok := parseNumber(v.String())
	if !ok {
		return v.String()
	}
	p := message.NewPrinter(language.AmericanEnglish)
	if f < 0 {
		return p.Sprintf("-$%.2f", -f)
	}
	return p.Sprintf("$%.2f", f)
}

// unit renders numeric input followed by a unit, pluralised, e.g. "90 seconds".
func unit(v model.Scalar, singular, plural string) string {
	if v.Empty() {
		return Placeholder
	}
	f, ok := parseNumber(v.String())
	if !ok {
		return v.String()
	}
	n := strconv.FormatFloat(f, 'f', -1, 64)
	if f == 1 {
		return n + " " + singular
	}
	return n + " " + plural
}

func seconds(v model.Scalar) string { return unit(v, "second", "seconds") }

func days(v model.Scalar) string { return unit(v, "day", "days") }

func months(v model.Scalar) string { return unit(v, "month", "months") }

func percent(v model.Scalar) string {
	if v.Empty() {
		return Placeholder
	}
	raw := strings.TrimSuffix(v.String(), "%")
	f, ok := parseNumber(raw)
	if !ok {
		return v.String()
	}
	return strconv.FormatFloat(f, 'f', -1, 64) + "%"
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", time.RFC3339}

func date(v model.Scalar) string {
	if v.Empty() {
		return Placeholder
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v.String()); err == nil {
			return longDate(t)
		}
	}
	return v.String()
}

func longDate(t time.Time) string {
	if t.IsZero() {
		return Placeholder
	}
	return t.Format("January 2, 2006")
}

// list drops blank entries. An empty result renders as EmptyListPlaceholder.
func list(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type partyView struct {
	Label       string
	CompanyName string
	EntityType  string
	Address     string
	Email       string
	Phone       string
	ContactName string
}

func party(label string, p model.PartyInfo) partyView {
	return partyView{
		Label:       label,
		CompanyName: str(p.CompanyName),
		EntityType:  str(p.EntityType),
		Address:     str(p.Address),
		Email:       str(p.Email),
		Phone:       str(p.Phone),
		ContactName: str(p.ContactName),
	}
}
