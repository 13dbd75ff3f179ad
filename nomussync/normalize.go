package nomussync

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/letmesee/nomus_sync_backend/models"
)

// dateFormats is tried in order after a direct RFC3339 parse. Nomus mixes ISO
// and pt-BR day-first formats across endpoints.
var dateFormats = []string{
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// ParseDate turns a Nomus date string into a time.Time. Values that fit none
// of the known formats come back as the zero time so a bad date never aborts
// a record.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ParseCurrency parses a pt-BR formatted amount ("1.234,56"): dots are
// thousand separators, the comma is the decimal mark. Inputs with no
// separator at all parse as written; garbage comes back as zero.
func ParseCurrency(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	normalized := strings.ReplaceAll(s, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	if d, err := decimal.NewFromString(normalized); err == nil {
		return d
	}
	if !strings.Contains(s, ",") {
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	return decimal.Zero
}

var nonDigit = regexp.MustCompile(`\D`)

// CleanDocument strips everything but digits from a tax document so
// "12.345.678/0001-99" and "12345678000199" compare equal downstream.
func CleanDocument(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}

var installmentPattern = regexp.MustCompile(`(?i)parcela\s*(\d+)`)

// InstallmentNumber extracts the installment index from a receivable
// description. Descriptions without the marker count as installment 1.
func InstallmentNumber(description string) int {
	m := installmentPattern.FindStringSubmatch(description)
	if len(m) < 2 {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

const wireDateLayout = "2006-01-02"

func formatWireDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(wireDateLayout)
}

// NormalizeReceivable maps one conta-a-receber wire record to the canonical
// model.
func NormalizeReceivable(tenantGroupId int64, in contaReceberDTO) models.Receivable {
	return models.Receivable{
		ExternalId:        in.Id,
		TenantGroupId:     tenantGroupId,
		DebtorId:          in.IdPessoa,
		DebtorName:        in.NomePessoa,
		DebtorDocument:    CleanDocument(in.CnpjCpfPessoa),
		DueDate:           in.DataVencimento.Time,
		CompetenceDate:    in.DataCompetencia.Time,
		AmountDue:         ParseCurrency(in.ValorReceber.String()),
		AmountPaid:        ParseCurrency(in.ValorRecebido.String()),
		Balance:           ParseCurrency(in.SaldoReceber.String()),
		Status:            in.Status,
		Type:              in.Tipo,
		Classification:    in.Classificacao,
		PaymentMethodName: in.NomeFormaPagamento,
	}
}

func NormalizePayment(tenantGroupId int64, in recebimentoDTO) models.Payment {
	return models.Payment{
		ExternalId:           in.Id,
		TenantGroupId:        tenantGroupId,
		ReceivableExternalId: in.IdContaReceber,
		ReceivedDate:         in.DataRecebimento.Time,
		CompetenceDate:       in.DataCompetencia.Time,
		Amount:               ParseCurrency(in.ValorRecebido.String()),
		Discount:             ParseCurrency(in.Desconto.String()),
		PenaltyInterest:      ParseCurrency(in.MultaJuros.String()),
		SettlesReceivable:    in.BaixaContaReceber,
		PaymentMethodName:    in.NomeFormaPagamento,
		BankAccountName:      in.NomeContaBancaria,
		Description:          in.Descricao,
	}
}

func NormalizeBankSlip(tenantGroupId int64, in boletoDTO) models.BankSlip {
	return models.BankSlip{
		ExternalId:           in.Id,
		TenantGroupId:        tenantGroupId,
		ReceivableExternalId: in.IdContaReceber,
		IssuedAt:             in.DataHoraEmissao.Time,
		DueDate:              in.DataVencimento.Time,
		Value:                ParseCurrency(in.Valor.String()),
		Status:               in.Status,
		Cancelled:            in.Cancelado,
		BankReference:        in.NossoNumeroBoletoBancario,
		DocumentNumber:       in.NumeroDocumento,
	}
}

func NormalizeCustomer(tenantGroupId int64, in customerDTO) models.Customer {
	out := models.Customer{
		ExternalId:    in.Id,
		TenantGroupId: tenantGroupId,
		Active:        in.Ativo,
		Name:          in.Nome,
		TaxDocument:   CleanDocument(in.Cnpj),
		Email:         in.Email,
		Phone:         in.Telefone,
		Address:       in.Endereco,
		Number:        in.Numero,
		Complement:    in.Complemento,
		Neighborhood:  in.Bairro,
		City:          in.Municipio,
		State:         in.Uf,
		ZipCode:       CleanDocument(in.Cep),
		Country:       in.Pais,
		RegisteredAt:  in.DataCriacao.Time,
	}
	// The registry keeps the full credit-analysis history; only the most
	// recent entry carries the effective limit.
	var latest *creditAnalysisDTO
	for i := range in.AnalisesCredito {
		a := &in.AnalisesCredito[i]
		if latest == nil || a.DataAnalise.After(latest.DataAnalise.Time) {
			latest = a
		}
	}
	if latest != nil {
		limit := ParseCurrency(latest.LimiteCredito.String())
		out.CreditLimit = &limit
	}
	return out
}

// paidStatuses are the receivable statuses Nomus uses for fully settled
// installments.
var paidStatuses = map[string]bool{
	"PAGO":      true,
	"RECEBIDO":  true,
	"QUITADO":   true,
	"LIQUIDADO": true,
}

func receivableIsPaid(r models.Receivable) bool {
	if paidStatuses[strings.ToUpper(strings.TrimSpace(r.Status))] {
		return true
	}
	return r.Balance.IsZero() && r.AmountPaid.IsPositive()
}

// BuildInvoice composes the downstream invoice for one receivable. Payment
// and bank slip are matched by receivable id, first occurrence wins; both
// are optional.
func BuildInvoice(tenant Tenant, r models.Receivable, payments []models.Payment, slips []models.BankSlip) RequestInvoice {
	var payment *models.Payment
	for i := range payments {
		if payments[i].ReceivableExternalId == r.ExternalId {
			payment = &payments[i]
			break
		}
	}
	var slip *models.BankSlip
	for i := range slips {
		if slips[i].ReceivableExternalId == r.ExternalId {
			slip = &slips[i]
			break
		}
	}

	paid := receivableIsPaid(r)
	inv := RequestInvoice{
		UserGroupId:            tenant.GroupId,
		CreditorDocument:       CleanDocument(tenant.CreditorDocument),
		InvoiceNumber:          strconv.FormatInt(r.ExternalId, 10),
		InvoiceValue:           r.AmountDue.StringFixed(2),
		InvoiceDueDate:         formatWireDate(r.DueDate),
		IssueDate:              formatWireDate(r.CompetenceDate),
		BuyerId:                strconv.FormatInt(r.DebtorId, 10),
		BuyerName:              r.DebtorName,
		BuyerDocument:          r.DebtorDocument,
		Description:            fmt.Sprintf("Conta a Receber %d - %s", r.ExternalId, r.Classification),
		Type:                   r.Type,
		InvoiceInstallment:     1,
		ManagementOfDefaulters: !paid,
		InExtract:              paid,
	}

	if payment != nil {
		inv.Discount = payment.Discount.StringFixed(2)
		inv.Fees = payment.PenaltyInterest.StringFixed(2)
		inv.InvoiceInstallment = InstallmentNumber(payment.Description)
	}
	if slip != nil {
		if doc := strings.TrimSpace(slip.DocumentNumber); doc != "" {
			inv.InvoiceNumber = doc
		}
		inv.OurNumber = slip.BankReference
		if ref := strings.TrimSpace(slip.BankReference); ref != "" {
			url := "boleto/" + ref
			inv.BankSlipUrl = &url
		}
	}
	return inv
}

// BuildCustomer maps a canonical customer to the downstream shape.
func BuildCustomer(tenant Tenant, c models.Customer) RequestCustomer {
	out := RequestCustomer{
		UserGroupId:   tenant.GroupId,
		UserCompanyId: tenant.CompanyId,
		Name:          c.Name,
		Cnpj:          c.TaxDocument,
		Email:         c.Email,
		PhoneNumber:   c.Phone,
		Address:       c.Address,
		Neighborhood:  c.Neighborhood,
		ZipCode:       c.ZipCode,
		City:          c.City,
		State:         c.State,
		Number:        c.Number,
		Complement:    c.Complement,
		RegistratedAt: formatWireDate(c.RegisteredAt),
	}
	if c.CreditLimit != nil {
		limit := c.CreditLimit.StringFixed(2)
		out.CreditLimit = &limit
	}
	return out
}
