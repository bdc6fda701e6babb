package model

// ContractData is the normalized, immutable view of one card's fields.
// Pointer fields distinguish "absent" from zero values: a currency that did
// not parse is nil, never NaN or a half-parsed number.
type ContractData struct {
	ContactName        *string  `json:"contact_name"`
	BrandName          *string  `json:"brand_name"`
	Phone              *string  `json:"phone"`
	Email              *string  `json:"email"`
	DealValue          *float64 `json:"deal_value"`
	Installments       *int     `json:"installments"`
	ServiceDescription *string  `json:"service_description"`
	TaxCategory        *string  `json:"tax_category"`
	TaxAmount          *float64 `json:"tax_amount"`
	PostalCode         *string  `json:"postal_code"`
	State              *string  `json:"state"`
	City               *string  `json:"city"`
	Neighborhood       *string  `json:"neighborhood"`
	Street             *string  `json:"street"`
	Number             *string  `json:"number"`
	TaxID              *string  `json:"tax_id"`
	AttachmentURL      *string  `json:"attachment_url"`
	Salesperson        *string  `json:"salesperson"`
}

// DisplayName is the name used when titling generated documents: the brand
// name when present, otherwise the contact name.
func (d *ContractData) DisplayName() string {
	if d.BrandName != nil {
		return *d.BrandName
	}
	if d.ContactName != nil {
		return *d.ContactName
	}
	return "Sem Nome"
}

// TemplateVars maps template placeholder names to scalar values. Every key of
// the translation table is always present; nil means "unavailable", so the
// provider never silently drops a placeholder.
type TemplateVars map[string]any

// SignerSpec describes one required signatory. JSON tags follow the D4Sign
// addsigner wire contract.
type SignerSpec struct {
	Email            string `json:"email"`
	Act              string `json:"act"`
	Foreign          string `json:"foreign"`
	CertificadoICPBR string `json:"certificadoicpbr"`
}

// VaultResolution is the storage target for this run's documents. FolderID is
// always empty in this design: documents live at the safe root.
type VaultResolution struct {
	SafeID   string `json:"safe_id"`
	FolderID string `json:"folder_id,omitempty"`
}

// DocumentJob statuses. A job progresses pending -> created -> signers-added
// -> dispatched; a failure freezes it at failed@<stage> without touching
// sibling jobs. Jobs never attempted are skipped.
const (
	JobPending        = "pending"
	JobCreated        = "created"
	JobSignersAdded   = "signers-added"
	JobDispatched     = "dispatched"
	JobSkipped        = "skipped"
	JobFailedCreate   = "failed@create"
	JobFailedSigners  = "failed@signers-added"
	JobFailedDispatch = "failed@dispatched"
)

// DocumentJob is one in-flight document-creation-and-signature unit of work.
type DocumentJob struct {
	Kind       string `json:"kind"`
	TemplateID string `json:"template_id"`
	DocumentID string `json:"document_id,omitempty"`
	Link       string `json:"link,omitempty"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}

// Failed reports whether the job ended at a failed@<stage> status.
func (j *DocumentJob) Failed() bool {
	switch j.Status {
	case JobFailedCreate, JobFailedSigners, JobFailedDispatch:
		return true
	}
	return false
}

// WorkflowResult aggregates the terminal state of every job in one run.
type WorkflowResult struct {
	Jobs        []DocumentJob `json:"jobs"`
	PrimaryLink string        `json:"primary_link,omitempty"`
	Success     bool          `json:"success"`
	// DegradedSigners flags the single-signer fallback taken when the
	// company signature email is not configured.
	DegradedSigners bool `json:"degraded_signers,omitempty"`
}
