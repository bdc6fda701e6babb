package service

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/provinciadigital41-cpu/provincia/model"
)

// Pipefy field IDs read off the card. Pipefy derives these from the
// Portuguese field labels, accents dropped.
const (
	fieldContactName        = "nome_do_contato"
	fieldBrandName          = "neg_cio"
	fieldPhone              = "telefone"
	fieldEmail              = "email_profissional"
	fieldDealValue          = "valor_do_neg_cio"
	fieldInstallments       = "parcelas"
	fieldServiceDescription = "descri_o_do_servi_o"
	fieldTax                = "taxa_de_servi_o"
	fieldPostalCode         = "cep"
	fieldState              = "estado"
	fieldCity               = "cidade"
	fieldNeighborhood       = "bairro"
	fieldStreet             = "rua"
	fieldNumber             = "n_mero"
	fieldTaxID              = "cnpj"
	fieldAttachment         = "anexo"
)

var (
	nonCurrencyRe = regexp.MustCompile(`[^0-9,]`)
	digitRunRe    = regexp.MustCompile(`\d+`)
	taxAmountRe   = regexp.MustCompile(`R\$\s*([\d.,]+)`)
)

// cleanStr trims s and collapses the empty string to nil, so no empty-string
// leakage reaches the template payload.
func cleanStr(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// ParseCurrencyBRL parses a Brazilian-convention currency string (comma as
// decimal separator, dot as thousands separator) into a value rounded to two
// decimals. Anything that does not parse cleanly yields nil, never NaN.
func ParseCurrencyBRL(s string) *float64 {
	cleaned := nonCurrencyRe.ReplaceAllString(s, "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return nil
	}

	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}

	n = math.Round(n*100) / 100
	return &n
}

// ParseInstallments extracts the first run of digits from the raw string.
func ParseInstallments(s string) *int {
	match := digitRunRe.FindString(s)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &n
}

// ParseTax splits a raw tax label like "Taxa de adesão (R$ 1.200,00)" into
// its category and embedded amount. The amount is nil when no parenthesized
// "R$ <amount>" is present.
func ParseTax(s string) (*string, *float64) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, nil
	}

	category := trimmed
	if idx := strings.Index(trimmed, "("); idx >= 0 {
		category = strings.TrimSpace(trimmed[:idx])
	}

	var amount *float64
	if m := taxAmountRe.FindStringSubmatch(trimmed); m != nil {
		amount = ParseCurrencyBRL(m[1])
	}

	if category == "" {
		return nil, amount
	}
	return &category, amount
}

// ParseAttachment takes the first element of a serialized attachment list.
// Values that are not list-shaped, or lists that fail to parse, pass through
// as plain strings.
func ParseAttachment(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var items []string
		if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
			if len(items) == 0 {
				return nil
			}
			first := strings.TrimSpace(items[0])
			if first == "" {
				return nil
			}
			return &first
		}
	}

	return &trimmed
}

// BuildContractData normalizes the card's raw field values into ContractData.
// The salesperson comes from the card's first assignee.
func BuildContractData(card *Card) *model.ContractData {
	data := &model.ContractData{
		ContactName:        cleanStr(card.FieldValue(fieldContactName)),
		BrandName:          cleanStr(card.FieldValue(fieldBrandName)),
		Phone:              cleanStr(card.FieldValue(fieldPhone)),
		Email:              cleanStr(card.FieldValue(fieldEmail)),
		ServiceDescription: cleanStr(card.FieldValue(fieldServiceDescription)),
		PostalCode:         cleanStr(card.FieldValue(fieldPostalCode)),
		State:              cleanStr(card.FieldValue(fieldState)),
		City:               cleanStr(card.FieldValue(fieldCity)),
		Neighborhood:       cleanStr(card.FieldValue(fieldNeighborhood)),
		Street:             cleanStr(card.FieldValue(fieldStreet)),
		Number:             cleanStr(card.FieldValue(fieldNumber)),
		TaxID:              cleanStr(card.FieldValue(fieldTaxID)),
	}

	if raw := card.FieldValue(fieldDealValue); raw != nil {
		data.DealValue = ParseCurrencyBRL(*raw)
	}
	if raw := card.FieldValue(fieldInstallments); raw != nil {
		data.Installments = ParseInstallments(*raw)
	}
	if raw := card.FieldValue(fieldTax); raw != nil {
		data.TaxCategory, data.TaxAmount = ParseTax(*raw)
	}
	if raw := card.FieldValue(fieldAttachment); raw != nil {
		data.AttachmentURL = ParseAttachment(*raw)
	}

	if len(card.Assignees) > 0 {
		name := card.Assignees[0].Name
		data.Salesperson = cleanStr(&name)
	}

	return data
}

// BuildTemplateVars applies the fixed translation table from ContractData to
// template placeholder names. Every key is always present; nil stands for
// "unavailable", never omission.
func BuildTemplateVars(d *model.ContractData) model.TemplateVars {
	return model.TemplateVars{
		"NOME_CLIENTE":      strVal(d.ContactName),
		"NOME_MARCA":        strVal(d.BrandName),
		"TELEFONE":          strVal(d.Phone),
		"EMAIL_CLIENTE":     strVal(d.Email),
		"VALOR_NEGOCIO":     floatVal(d.DealValue),
		"PARCELAS":          intVal(d.Installments),
		"DESCRICAO_SERVICO": strVal(d.ServiceDescription),
		"CATEGORIA_TAXA":    strVal(d.TaxCategory),
		"VALOR_TAXA":        floatVal(d.TaxAmount),
		"CEP":               strVal(d.PostalCode),
		"ESTADO":            strVal(d.State),
		"CIDADE":            strVal(d.City),
		"BAIRRO":            strVal(d.Neighborhood),
		"RUA":               strVal(d.Street),
		"NUMERO":            strVal(d.Number),
		"CNPJ":              strVal(d.TaxID),
		"ANEXO":             strVal(d.AttachmentURL),
		"VENDEDOR":          strVal(d.Salesperson),
	}
}

func strVal(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatVal(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func intVal(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
