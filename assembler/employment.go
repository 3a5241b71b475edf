package assembler

import "github.com/AnTengye/contractforge/model"

type employmentView struct {
	EffectiveDate  string
	GoverningState string
	Employer       partyView
	Employee       partyView

	JobTitle         string
	StartDate        string
	EmploymentType   string
	WorkLocation     string
	Salary           string
	PayFrequency     string
	PTODays          string
	ProbationPeriod  string
	NoticePeriod     string
	NonCompetePeriod string
	Duties           []string
	Benefits         []string

	Signatures signatureBlock
}

// buildEmployment reads the buyer record as the employer and the publisher
// record as the employee.
func buildEmployment(req model.AgreementRequest, e env) any {
	employee := req.Publisher
	if employee.CompanyName == "" {
		employee.CompanyName = employee.ContactName
	}
	return employmentView{
		EffectiveDate:    e.effectiveDate,
		GoverningState:   governingState(e.defaultState, req.Buyer.Address, req.Publisher.Address),
		Employer:         party(e.labels.Buyer, req.Buyer),
		Employee:         party(e.labels.Publisher, employee),
		JobTitle:         text(req.JobTitle),
		StartDate:        date(req.StartDate),
		EmploymentType:   text(req.EmploymentType),
		WorkLocation:     text(req.WorkLocation),
		Salary:           money(req.Salary),
		PayFrequency:     text(req.PayFrequency),
		PTODays:          days(req.PTODays),
		ProbationPeriod:  days(req.ProbationDays),
		NoticePeriod:     days(req.NoticePeriodDays),
		NonCompetePeriod: months(req.NonCompeteMonths),
		Duties:           list(req.Duties),
		Benefits:         list(req.Benefits),
		Signatures:       signatureBlockFor(e, str(req.Buyer.CompanyName), str(req.Publisher.ContactName)),
	}
}
