package service

import (
	"github.com/provinciadigital41-cpu/provincia/model"
)

// Default signing policy applied to every signatory: plain signature, not a
// foreign signer, no ICP-Brasil certificate requirement.
const (
	signerActSign     = "1"
	signerNotForeign  = "0"
	signerNoICPBRCert = "0"
)

// BuildSigners derives the ordered signer list: the client first, then the
// company counterparty. When the company signature email is not configured
// the list degrades to the client alone and degraded is true so the caller
// can surface the configuration gap instead of treating it as a clean run.
func BuildSigners(data *model.ContractData, companyEmail string) (signers []model.SignerSpec, degraded bool) {
	clientEmail := ""
	if data.Email != nil {
		clientEmail = *data.Email
	}

	client := model.SignerSpec{
		Email:            clientEmail,
		Act:              signerActSign,
		Foreign:          signerNotForeign,
		CertificadoICPBR: signerNoICPBRCert,
	}

	if companyEmail == "" {
		return []model.SignerSpec{client}, true
	}

	if companyEmail == clientEmail {
		// Same address on both sides: collapse to a single entry rather
		// than registering a duplicate signer.
		return []model.SignerSpec{client}, false
	}

	company := model.SignerSpec{
		Email:            companyEmail,
		Act:              signerActSign,
		Foreign:          signerNotForeign,
		CertificadoICPBR: signerNoICPBRCert,
	}

	return []model.SignerSpec{client, company}, false
}
