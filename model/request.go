package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Scalar is a wizard field value. The wizard posts numbers, strings and booleans
// interchangeably, so every form scalar keeps its literal text.
type Scalar string

// UnmarshalJSON accepts strings, numbers, booleans and null.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	switch v.(type) {
	case float64, bool:
		*s = Scalar(trimmed)
		return nil
	}
	return fmt.Errorf("scalar: unsupported JSON value %s", trimmed)
}

// String returns the value with surrounding whitespace removed.
func (s Scalar) String() string {
	return strings.TrimSpace(string(s))
}

// Empty reports whether the value is blank.
func (s Scalar) Empty() bool {
	return s.String() == ""
}

// PartyInfo describes one commercial party to an agreement.
type PartyInfo struct {
	CompanyName string `json:"companyName,omitempty"`
	EntityType  string `json:"entityType,omitempty"`
	Address     string `json:"address,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	ContactName string `json:"contactName,omitempty"`
}

// MemberInfo describes an LLC member or investor.
type MemberInfo struct {
	Name                string `json:"name,omitempty"`
	Address             string `json:"address,omitempty"`
	Role                string `json:"role,omitempty"`
	CapitalContribution Scalar `json:"capitalContribution,omitempty"`
	OwnershipPercent    Scalar `json:"ownershipPercent,omitempty"`
}

// AgreementRequest is the wizard's form state. Only the fields of the branch
// selected by ContractType/Vertical are read; the rest are ignored.
type AgreementRequest struct {
	ContractType    string `json:"contractType"`
	Vertical        string `json:"vertical,omitempty"`
	CampaignSubType string `json:"campaignSubType,omitempty"`
	ACASubType      string `json:"acaSubType,omitempty"`

	Buyer     PartyInfo `json:"buyer"`
	Publisher PartyInfo `json:"publisher"`

	// Pay-per-call campaign terms.
	PayoutAmount     Scalar   `json:"payoutAmount,omitempty"`
	BufferTime       Scalar   `json:"bufferTime,omitempty"`
	BillingCycle     Scalar   `json:"billingCycle,omitempty"`
	PaymentTerms     Scalar   `json:"paymentTerms,omitempty"`
	ChargebackPeriod Scalar   `json:"chargebackPeriod,omitempty"`
	DailyCap         Scalar   `json:"dailyCap,omitempty"`
	ConcurrencyCap   Scalar   `json:"concurrencyCap,omitempty"`
	HoursOfOperation Scalar   `json:"hoursOfOperation,omitempty"`
	TargetStates     Scalar   `json:"targetStates,omitempty"`
	TrackingPlatform Scalar   `json:"trackingPlatform,omitempty"`
	DuplicateWindow  Scalar   `json:"duplicateWindow,omitempty"`
	Requirements     []string `json:"requirements,omitempty"`
	DatapassFields   []string `json:"datapassFields,omitempty"`

	// CPA campaign terms.
	CPAPayout       Scalar `json:"cpaPayout,omitempty"`
	ConversionEvent Scalar `json:"conversionEvent,omitempty"`
	RefundWindow    Scalar `json:"refundWindow,omitempty"`

	// Recruitment partnership terms.
	RevenueSharePercent Scalar `json:"revenueSharePercent,omitempty"`
	RecruitmentFee      Scalar `json:"recruitmentFee,omitempty"`
	PartnershipTerm     Scalar `json:"partnershipTerm,omitempty"`

	// ACA Health terms.
	ACACplPayout        Scalar `json:"acaCplPayout,omitempty"`
	ACACplBufferTime    Scalar `json:"acaCplBufferTime,omitempty"`
	ACACpaPayout        Scalar `json:"acaCpaPayout,omitempty"`
	ACAChargebackPeriod Scalar `json:"acaChargebackPeriod,omitempty"`
	ACALicensedStates   Scalar `json:"acaLicensedStates,omitempty"`
	ACAEnrollmentPeriod Scalar `json:"acaEnrollmentPeriod,omitempty"`

	// Employment terms. Buyer is the employer, Publisher the employee.
	JobTitle         Scalar   `json:"jobTitle,omitempty"`
	StartDate        Scalar   `json:"startDate,omitempty"`
	Salary           Scalar   `json:"salary,omitempty"`
	PayFrequency     Scalar   `json:"payFrequency,omitempty"`
	EmploymentType   Scalar   `json:"employmentType,omitempty"`
	WorkLocation     Scalar   `json:"workLocation,omitempty"`
	PTODays          Scalar   `json:"ptoDays,omitempty"`
	ProbationDays    Scalar   `json:"probationDays,omitempty"`
	NoticePeriodDays Scalar   `json:"noticePeriodDays,omitempty"`
	NonCompeteMonths Scalar   `json:"nonCompeteMonths,omitempty"`
	Duties           []string `json:"duties,omitempty"`
	Benefits         []string `json:"benefits,omitempty"`

	// LLC operating agreement terms.
	CompanyName         Scalar       `json:"companyName,omitempty"`
	StateOfFormation    Scalar       `json:"stateOfFormation,omitempty"`
	PrincipalOffice     Scalar       `json:"principalOffice,omitempty"`
	BusinessPurpose     Scalar       `json:"businessPurpose,omitempty"`
	ManagementStructure Scalar       `json:"managementStructure,omitempty"`
	ManagerName         Scalar       `json:"managerName,omitempty"`
	FiscalYearEnd       Scalar       `json:"fiscalYearEnd,omitempty"`
	DistributionPolicy  Scalar       `json:"distributionPolicy,omitempty"`
	Members             []MemberInfo `json:"members,omitempty"`
}
