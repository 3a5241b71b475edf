package assembler

import "github.com/AnTengye/contractforge/model"

// campaignView feeds the pay-per-call and ACA Health templates. Each builder
// fills only the terms its template prints.
type campaignView struct {
	Title          string
	EffectiveDate  string
	GoverningState string
	Buyer          partyView
	Publisher      partyView

	Payout           string
	BufferTime       string
	BillingCycle     string
	PaymentTerms     string
	ChargebackPeriod string
	DailyCap         string
	ConcurrencyCap   string
	HoursOfOperation string
	TargetStates     string
	TrackingPlatform string
	DuplicateWindow  string
	Requirements     []string
	DatapassFields   []string

	ConversionEvent string
	RefundWindow    string

	RevenueShare   string
	RecruitmentFee string
	Term           string

	LicensedStates   string
	EnrollmentPeriod string

	Signatures signatureBlock
}

func baseCampaignView(title string, req model.AgreementRequest, e env) campaignView {
	return campaignView{
		Title:            title,
		EffectiveDate:    e.effectiveDate,
		GoverningState:   governingState(e.defaultState, req.Buyer.Address, req.Publisher.Address),
		Buyer:            party(e.labels.Buyer, req.Buyer),
		Publisher:        party(e.labels.Publisher, req.Publisher),
		BillingCycle:     text(req.BillingCycle),
		PaymentTerms:     days(req.PaymentTerms),
		DailyCap:         text(req.DailyCap),
		ConcurrencyCap:   text(req.ConcurrencyCap),
		HoursOfOperation: text(req.HoursOfOperation),
		TargetStates:     text(req.TargetStates),
		TrackingPlatform: text(req.TrackingPlatform),
		DuplicateWindow:  days(req.DuplicateWindow),
		Requirements:     list(req.Requirements),
		DatapassFields:   list(req.DatapassFields),
		Signatures:       signatureBlockFor(e, str(req.Buyer.CompanyName), str(req.Publisher.CompanyName)),
	}
}

func buildPayPerCallCPL(req model.AgreementRequest, e env) any {
	v := baseCampaignView("PAY-PER-CALL LEAD GENERATION AGREEMENT", req, e)
	v.Payout = money(req.PayoutAmount)
	v.BufferTime = seconds(req.BufferTime)
	v.ChargebackPeriod = days(req.ChargebackPeriod)
	return v
}

func buildPayPerCallCPA(req model.AgreementRequest, e env) any {
	v := baseCampaignView("PAY-PER-CALL COST PER ACQUISITION AGREEMENT", req, e)
	v.Payout = money(req.CPAPayout)
	v.BufferTime = seconds(req.BufferTime)
	v.ChargebackPeriod = days(req.ChargebackPeriod)
	v.ConversionEvent = text(req.ConversionEvent)
	v.RefundWindow = days(req.RefundWindow)
	return v
}

func buildPartnership(req model.AgreementRequest, e env) any {
	v := baseCampaignView("RECRUITMENT PARTNERSHIP AGREEMENT", req, e)
	v.RevenueShare = percent(req.RevenueSharePercent)
	v.RecruitmentFee = money(req.RecruitmentFee)
	v.Term = months(req.PartnershipTerm)
	v.ChargebackPeriod = days(req.ChargebackPeriod)
	return v
}

func buildACACPL(req model.AgreementRequest, e env) any {
	v := baseCampaignView("ACA HEALTH INSURANCE PAY-PER-CALL AGREEMENT", req, e)
	v.Payout = money(req.ACACplPayout)
	v.BufferTime = seconds(req.ACACplBufferTime)
	v.ChargebackPeriod = days(req.ACAChargebackPeriod)
	v.LicensedStates = text(req.ACALicensedStates)
	v.EnrollmentPeriod = text(req.ACAEnrollmentPeriod)
	return v
}

func buildACACPA(req model.AgreementRequest, e env) any {
	v := baseCampaignView("ACA HEALTH INSURANCE ENROLLMENT AGREEMENT", req, e)
	v.Payout = money(req.ACACpaPayout)
	v.ChargebackPeriod = days(req.ACAChargebackPeriod)
	v.LicensedStates = text(req.ACALicensedStates)
	v.EnrollmentPeriod = text(req.ACAEnrollmentPeriod)
	v.ConversionEvent = text(req.ConversionEvent)
	return v
}
