package model

type UrgencyLevel string

const (
	UrgencyLow       UrgencyLevel = "low"
	UrgencyMedium    UrgencyLevel = "medium"
	UrgencyHigh      UrgencyLevel = "high"
	UrgencyEmergency UrgencyLevel = "emergency"
)

func (u UrgencyLevel) IsValid() bool {
	switch u {
	case "", UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyEmergency:
		return true
	}
	return false
}

type LegalIssueType string

const (
	IssueTenantRights       LegalIssueType = "tenant_rights"
	IssueFamilyLaw          LegalIssueType = "family_law"
	IssueImmigration        LegalIssueType = "immigration"
	IssueEmployment         LegalIssueType = "employment"
	IssueConsumerProtection LegalIssueType = "consumer_protection"
	IssueBenefits           LegalIssueType = "benefits"
	IssueCriminal           LegalIssueType = "criminal"
	IssueOther              LegalIssueType = "other"
)

func (t LegalIssueType) IsValid() bool {
	switch t {
	case "", IssueTenantRights, IssueFamilyLaw, IssueImmigration, IssueEmployment,
		IssueConsumerProtection, IssueBenefits, IssueCriminal, IssueOther:
		return true
	}
	return false
}
