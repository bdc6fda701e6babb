package service

import (
	"context"
	"fmt"

	"github.com/provinciadigital41-cpu/provincia/config"
	"github.com/provinciadigital41-cpu/provincia/model"
	"github.com/provinciadigital41-cpu/provincia/pkg/logger"
)

// Pipeline turns one card's data into N signed-document workflows: normalize
// fields, resolve the vault, create each configured document from its
// template, register signers, dispatch for signature, then write the primary
// link and phase transition back to the card.
type Pipeline struct {
	cfg    *config.Config
	pipefy *PipefyService
	d4sign *D4SignService
	vaults *VaultResolver
}

func NewPipeline(cfg *config.Config, pipefySvc *PipefyService, d4Svc *D4SignService, vaults *VaultResolver) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		pipefy: pipefySvc,
		d4sign: d4Svc,
		vaults: vaults,
	}
}

// Outcome is the terminal state of one pipeline execution.
type Outcome struct {
	Data   *model.ContractData
	Result *model.WorkflowResult
	// Aborted is set when a creation failure stopped the run under the
	// abort policy; AbortErr is that failure. No card mutation happens on
	// an aborted run.
	Aborted  bool
	AbortErr error
}

// Execute runs the full pipeline for an already-fetched card. The only error
// returned directly is a vault-resolution miss; every per-document failure is
// isolated into its job's terminal status.
func (p *Pipeline) Execute(ctx context.Context, card *Card) (*Outcome, error) {
	data := BuildContractData(card)
	vars := BuildTemplateVars(data)

	signers, degraded := BuildSigners(data, p.cfg.D4Sign.CompanySignerEmail)
	if degraded {
		logger.Warn(ctx, "company signature email not configured, degrading to client signer only")
	}

	vault, err := p.vaults.Resolve(data.Salesperson)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "starting document pipeline",
		"safe_id", vault.SafeID,
		"documents", len(p.cfg.D4Sign.Documents),
	)

	outcome := &Outcome{Data: data}
	jobs := p.createDocuments(ctx, outcome, vault, data, vars)
	p.dispatchDocuments(ctx, jobs, signers)

	result := p.aggregate(jobs, degraded)
	outcome.Result = result

	if !outcome.Aborted {
		p.writeCard(ctx, card.ID, result)
	}

	return outcome, nil
}

// createDocuments walks the configured document kinds in order. Under the
// abort policy the first creation failure freezes the remaining kinds as
// skipped; under the continue policy every kind is attempted independently.
func (p *Pipeline) createDocuments(ctx context.Context, outcome *Outcome, vault *model.VaultResolution, data *model.ContractData, vars model.TemplateVars) []model.DocumentJob {
	jobs := make([]model.DocumentJob, len(p.cfg.D4Sign.Documents))
	for i, doc := range p.cfg.D4Sign.Documents {
		jobs[i] = model.DocumentJob{
			Kind:       doc.Kind,
			TemplateID: doc.TemplateID,
			Status:     model.JobPending,
		}
	}

	for i := range jobs {
		job := &jobs[i]

		if outcome.Aborted {
			job.Status = model.JobSkipped
			job.Detail = "run aborted by earlier creation failure"
			continue
		}

		if err := p.createOne(ctx, job, vault, data, vars); err != nil {
			job.Status = model.JobFailedCreate
			job.Detail = err.Error()
			logger.Error(ctx, "document creation failed", "kind", job.Kind, "error", err)

			if p.cfg.D4Sign.AbortPolicy == config.AbortPolicyAbort {
				outcome.Aborted = true
				outcome.AbortErr = err
			}
			continue
		}

		job.Status = model.JobCreated
		logger.Info(ctx, "document created", "kind", job.Kind, "document_id", job.DocumentID)
	}

	return jobs
}

// createOne checks the preconditions and issues the creation call. A missing
// template id, vault id or credential is a configuration error: the job fails
// without any network call being attempted.
func (p *Pipeline) createOne(ctx context.Context, job *model.DocumentJob, vault *model.VaultResolution, data *model.ContractData, vars model.TemplateVars) error {
	switch {
	case job.TemplateID == "":
		return fmt.Errorf("configuration error: no template id for %q", job.Kind)
	case vault.SafeID == "":
		return fmt.Errorf("configuration error: no vault configured")
	case p.cfg.D4Sign.Token == "" || p.cfg.D4Sign.CryptKey == "":
		return fmt.Errorf("configuration error: d4sign credentials missing")
	}

	name := fmt.Sprintf("%s - %s", job.Kind, data.DisplayName())
	created, err := p.d4sign.CreateFromTemplate(ctx, vault, job.TemplateID, name, vars)
	if err != nil {
		return err
	}

	job.DocumentID = created.UUID
	job.Link = created.Link
	return nil
}

// dispatchDocuments registers signers and sends each created document for
// signature, sequentially. A signer-registration failure halts that job
// before the send attempt; jobs that never reached created are skipped.
func (p *Pipeline) dispatchDocuments(ctx context.Context, jobs []model.DocumentJob, signers []model.SignerSpec) {
	for i := range jobs {
		job := &jobs[i]

		if job.Status != model.JobCreated {
			if job.Status == model.JobPending {
				job.Status = model.JobSkipped
				job.Detail = "document not created"
			}
			continue
		}

		if err := p.d4sign.AddSigners(ctx, job.DocumentID, signers); err != nil {
			job.Status = model.JobFailedSigners
			job.Detail = err.Error()
			logger.Error(ctx, "signer registration failed", "kind", job.Kind, "error", err)
			continue
		}
		job.Status = model.JobSignersAdded

		if err := p.d4sign.SendToSign(ctx, job.DocumentID); err != nil {
			job.Status = model.JobFailedDispatch
			job.Detail = err.Error()
			logger.Error(ctx, "send to sign failed", "kind", job.Kind, "error", err)
			continue
		}
		job.Status = model.JobDispatched
		logger.Info(ctx, "document dispatched for signature", "kind", job.Kind, "document_id", job.DocumentID)
	}
}

// aggregate selects the primary document's link and composes the summary.
func (p *Pipeline) aggregate(jobs []model.DocumentJob, degraded bool) *model.WorkflowResult {
	result := &model.WorkflowResult{
		Jobs:            jobs,
		Success:         len(jobs) > 0,
		DegradedSigners: degraded,
	}

	primaryKind := p.cfg.D4Sign.PrimaryKind()
	for i := range jobs {
		if jobs[i].Status != model.JobDispatched {
			result.Success = false
		}
		if jobs[i].Kind == primaryKind && jobs[i].Link != "" {
			result.PrimaryLink = jobs[i].Link
		}
	}

	return result
}

// writeCard issues the two card mutations. Their failures are logged, never
// fatal to the run. The phase transition follows the configured policy:
// "always" preserves the historical behavior of advancing the card even when
// every document failed.
func (p *Pipeline) writeCard(ctx context.Context, cardID string, result *model.WorkflowResult) {
	if result.PrimaryLink != "" {
		if err := p.pipefy.UpdateCardField(ctx, cardID, p.cfg.Pipefy.LinkFieldID, result.PrimaryLink); err != nil {
			logger.Error(ctx, "failed to write document link to card", "error", err)
		} else {
			logger.Info(ctx, "document link written to card", "field_id", p.cfg.Pipefy.LinkFieldID)
		}
	}

	if p.cfg.Pipefy.DestinationPhaseID == "" {
		return
	}
	if p.cfg.Pipefy.PhasePolicy == config.PhasePolicyOnSuccess && !result.Success {
		logger.Info(ctx, "skipping phase transition, run did not fully succeed")
		return
	}

	if err := p.pipefy.MoveCardToPhase(ctx, cardID, p.cfg.Pipefy.DestinationPhaseID); err != nil {
		logger.Error(ctx, "failed to move card to destination phase", "error", err)
	} else {
		logger.Info(ctx, "card moved to destination phase", "phase_id", p.cfg.Pipefy.DestinationPhaseID)
	}
}
