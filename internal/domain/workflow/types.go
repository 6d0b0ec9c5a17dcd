package workflow

import (
	"time"

	"github.com/Leochrono/dinero-tikee-sub001/internal/platform/httpapi"
)

// Status is the application draft lifecycle state. Transitions only move
// forward through statusRank; ResetWorkflow is the single backward move.
type Status string

const (
	StatusDrafting            Status = "drafting"
	StatusInstitutionSelected Status = "institution_selected"
	StatusDocumentsSubmitted  Status = "documents_submitted"
	StatusUnderReview         Status = "under_review"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
)

// statusRank orders the forward-only transition graph. The two terminal
// statuses share a rank: an application is approved or rejected, never both.
var statusRank = map[Status]int{
	StatusDrafting:            0,
	StatusInstitutionSelected: 1,
	StatusDocumentsSubmitted:  2,
	StatusUnderReview:         3,
	StatusApproved:            4,
	StatusRejected:            4,
}

// Terminal reports whether the status ends the workflow.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// canAdvance reports whether from → to is a legal forward step.
func canAdvance(from, to Status) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if from.Terminal() {
		return false
	}
	return toRank > fromRank
}

// FormData is the structured credit-application input collected from the
// user before any remote call happens.
type FormData struct {
	Amount         int    `json:"amount"`
	TermMonths     int    `json:"term_months"`
	MonthlyIncome  int    `json:"monthly_income"`
	Location       string `json:"location,omitempty"`
	ApplicantName  string `json:"applicant_name,omitempty"`
	ApplicantRUT   string `json:"applicant_rut,omitempty"`
	ApplicantEmail string `json:"applicant_email,omitempty"`
	Consent        bool   `json:"consent"`
}

func (f FormData) payload() httpapi.ApplicationPayload {
	return httpapi.ApplicationPayload{
		Amount:         f.Amount,
		TermMonths:     f.TermMonths,
		MonthlyIncome:  f.MonthlyIncome,
		Location:       f.Location,
		ApplicantName:  f.ApplicantName,
		ApplicantRUT:   f.ApplicantRUT,
		ApplicantEmail: f.ApplicantEmail,
		Consent:        f.Consent,
	}
}

// Document slots every application must fill before submission.
const (
	SlotIDFront     = "id_front"
	SlotIDBack      = "id_back"
	SlotIncomeProof = "income_proof"
)

// RequiredSlots lists the document slots submission validates against.
var RequiredSlots = []string{SlotIDFront, SlotIDBack, SlotIncomeProof}

// DocumentFile is a locally attached document awaiting upload.
type DocumentFile struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// Draft is the client-side application under construction. ID is empty
// until the remote create call confirms the application; ClientRef is
// assigned locally at creation and survives resets only by being replaced.
type Draft struct {
	ID                    string                  `json:"id,omitempty"`
	ClientRef             string                  `json:"client_ref"`
	Form                  FormData                `json:"form"`
	Status                Status                  `json:"status"`
	SelectedInstitutionID string                  `json:"selected_institution_id,omitempty"`
	Documents             map[string]DocumentFile `json:"documents,omitempty"`
	CreatedAt             time.Time               `json:"created_at"`
	UpdatedAt             time.Time               `json:"updated_at"`
}

func (d *Draft) clone() *Draft {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Documents != nil {
		cp.Documents = make(map[string]DocumentFile, len(d.Documents))
		for slot, doc := range d.Documents {
			cp.Documents[slot] = doc
		}
	}
	return &cp
}

// DeferredKind names the replayable operations. Submission is the only one.
type DeferredKind string

const KindSubmitApplication DeferredKind = "SubmitApplication"

// DeferredAction is the single-slot pending intent written when a mutation
// needs authentication and none exists. A newer enqueue overwrites an older
// one; only the most recent intent survives the interruption.
type DeferredAction struct {
	Kind      DeferredKind `json:"kind"`
	Payload   FormData     `json:"payload"`
	CreatedAt time.Time    `json:"created_at"`
}

// Outcome distinguishes a completed mutation from one blocked on login.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeAuthRequired Outcome = "auth_required"
)
