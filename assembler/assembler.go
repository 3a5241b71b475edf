// Package assembler turns an agreement request into contract markup.
//
// Assembly is a pure function of its inputs: the effective date and any
// signatures are passed in explicitly, nothing is read from the clock or the
// network, and missing form data degrades to placeholder text instead of an
// error. Every contract kind owns a self-contained template; clause numbering
// differs between families, so there is no shared clause library.
package assembler

import (
	"bytes"
	"embed"
	"html"
	"html/template"
	"strings"
	"time"

	"github.com/AnTengye/contractforge/model"
)

// Kind is the resolved contract variant.
type Kind string

const (
	KindPayPerCallCPL Kind = "ppc_cpl"
	KindPayPerCallCPA Kind = "ppc_cpa"
	KindPartnership   Kind = "ppc_partnership"
	KindACACPL        Kind = "aca_cpl"
	KindACACPA        Kind = "aca_cpa"
	KindEmployment    Kind = "employment"
	KindLLC           Kind = "llc"
)

// Signatures carries the optional signatures to embed into the signature block.
type Signatures struct {
	Buyer     *model.Signature
	Publisher *model.Signature
}

// Options are the explicit, non-form inputs to Assemble.
type Options struct {
	// EffectiveDate is printed in the preamble. A zero value renders the placeholder.
	EffectiveDate time.Time
	// DefaultState is the governing-law fallback; DefaultGoverningState when empty.
	DefaultState  string
	Signatures    Signatures
}

// env is what every view builder gets besides the request.
type env struct {
	kind          Kind
	labels        model.PartyLabels
	effectiveDate string
	defaultState  string
	signatures    Signatures
}

type variant struct {
	labels model.PartyLabels
	build  func(req model.AgreementRequest, e env) any
}

var variants = map[Kind]variant{
	KindPayPerCallCPL: {labels: model.PartyLabels{Buyer: "Buyer", Publisher: "Publisher"}, build: buildPayPerCallCPL},
	KindPayPerCallCPA: {labels: model.PartyLabels{Buyer: "Buyer", Publisher: "Publisher"}, build: buildPayPerCallCPA},
	KindPartnership:   {labels: model.PartyLabels{Buyer: "Buyer", Publisher: "Recruiting Partner"}, build: buildPartnership},
	KindACACPL:        {labels: model.PartyLabels{Buyer: "Buyer", Publisher: "Publisher"}, build: buildACACPL},
	KindACACPA:        {labels: model.PartyLabels{Buyer: "Buyer", Publisher: "Publisher"}, build: buildACACPA},
	KindEmployment:    {labels: model.PartyLabels{Buyer: "Employer", Publisher: "Employee"}, build: buildEmployment},
	KindLLC:           {labels: model.PartyLabels{Buyer: "Investor", Publisher: "Managing Member"}, build: buildLLC},
}

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("contracts").ParseFS(templateFS, "templates/*.html.tmpl"))

// Kinds lists every contract variant in a stable order.
func Kinds() []Kind {
	return []Kind{KindPayPerCallCPL, KindPayPerCallCPA, KindPartnership, KindACACPL, KindACACPA, KindEmployment, KindLLC}
}

func squash(s string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}

// subType returns the normalised campaign sub-type, or "" when s is not one.
func subType(s string) string {
	switch squash(s) {
	case "cpl", "costperlead":
		return "cpl"
	case "cpa", "costperacquisition":
		return "cpa"
	case "partnership", "recruitment", "recruitmentpartnership":
		return "partnership"
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Resolve picks exactly one contract kind for req.
func Resolve(req model.AgreementRequest) Kind {
	switch squash(req.ContractType) {
	case "employment", "employmentagreement":
		return KindEmployment
	case "llcoperatingagreement", "llc", "operatingagreement":
		return KindLLC
	}

	if squash(req.ContractType) == "acahealth" || squash(req.Vertical) == "acahealth" {
		if firstNonEmpty(subType(req.ACASubType), subType(req.CampaignSubType), subType(req.ContractType)) == "cpa" {
			return KindACACPA
		}
		return KindACACPL
	}

	switch firstNonEmpty(subType(req.CampaignSubType), subType(req.ContractType)) {
	case "cpa":
		return KindPayPerCallCPA
	case "partnership":
		return KindPartnership
	}
	return KindPayPerCallCPL
}

// PartyLabels names the buyer-side and publisher-side signers for kind.
func PartyLabels(kind Kind) model.PartyLabels {
	if v, ok := variants[kind]; ok {
		return v.labels
	}
	return variants[KindPayPerCallCPL].labels
}

// Assemble renders the contract body for req. It never fails: unknown or
// missing data renders as placeholder text.
func Assemble(req model.AgreementRequest, opts Options) string {
	kind := Resolve(req)
	v := variants[kind]
	e := env{
		kind:          kind,
		labels:        v.labels,
		effectiveDate: longDate(opts.EffectiveDate),
		defaultState:  opts.DefaultState,
		signatures:    opts.Signatures,
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, string(kind), v.build(req, e)); err != nil {
		// Templates are embedded and parsed at init, so this only trips on a
		// programming error; keep the document producible anyway.
		return `<article class="contract" data-kind="` + string(kind) + `"><p>` +
			html.EscapeString(err.Error()) + `</p></article>`
	}
	return buf.String()
}
