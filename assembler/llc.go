package assembler

import (
	"strings"

	"github.com/AnTengye/contractforge/model"
)

type memberView struct {
	Name                string
	Address             string
	Role                string
	CapitalContribution string
	OwnershipPercent    string
}

type llcView struct {
	EffectiveDate       string
	GoverningState      string
	CompanyName         string
	StateOfFormation    string
	PrincipalOffice     string
	BusinessPurpose     string
	ManagementStructure string
	ManagerName         string
	FiscalYearEnd       string
	DistributionPolicy  string
	Members             []memberView

	Signatures signatureBlock
}

// memberWithRole returns the first member whose role mentions want.
func memberWithRole(members []model.MemberInfo, want string) (model.MemberInfo, bool) {
	for _, m := range members {
		if strings.Contains(strings.ToLower(m.Role), want) && strings.TrimSpace(m.Name) != "" {
			return m, true
		}
	}
	return model.MemberInfo{}, false
}

// buildLLC signs the investor on the buyer side and the managing member on the
// publisher side. The commercial party records are not read.
func buildLLC(req model.AgreementRequest, e env) any {
	members := make([]memberView, 0, len(req.Members))
	addresses := []string{req.StateOfFormation.String(), req.PrincipalOffice.String()}
	for _, m := range req.Members {
		if strings.TrimSpace(m.Name) == "" && strings.TrimSpace(m.Address) == "" {
			continue
		}
		members = append(members, memberView{
			Name:                str(m.Name),
			Address:             str(m.Address),
			Role:                str(m.Role),
			CapitalContribution: money(m.CapitalContribution),
			OwnershipPercent:    percent(m.OwnershipPercent),
		})
		addresses = append(addresses, m.Address)
	}

	formation := text(req.StateOfFormation)
	state := normalizeState(req.StateOfFormation.String())
	if state != "" {
		formation = state
	} else {
		state = governingState(e.defaultState, addresses...)
	}

	investor := Placeholder
	if m, ok := memberWithRole(req.Members, "investor"); ok {
		investor = m.Name
	}
	manager := req.ManagerName.String()
	if manager == "" {
		if m, ok := memberWithRole(req.Members, "manag"); ok {
			manager = m.Name
		}
	}

	return llcView{
		EffectiveDate:       e.effectiveDate,
		GoverningState:      state,
		CompanyName:         text(req.CompanyName),
		StateOfFormation:    formation,
		PrincipalOffice:     text(req.PrincipalOffice),
		BusinessPurpose:     text(req.BusinessPurpose),
		ManagementStructure: text(req.ManagementStructure),
		ManagerName:         str(manager),
		FiscalYearEnd:       text(req.FiscalYearEnd),
		DistributionPolicy:  text(req.DistributionPolicy),
		Members:             members,
		Signatures:          signatureBlockFor(e, investor, str(manager)),
	}
}
