package nomussync

import (
	"bytes"
	"encoding/json"
	"time"
)

// FlexTime accepts the date shapes Nomus actually sends: a plain string in
// any of the known formats, or a structured object carrying the string under
// "date". Unparseable input degrades to the zero time, never an error.
type FlexTime struct {
	time.Time
}

func (t *FlexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			t.Time = time.Time{}
			return nil
		}
		t.Time = ParseDate(s)
	case '{':
		var obj struct {
			Date string `json:"date"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			t.Time = time.Time{}
			return nil
		}
		t.Time = ParseDate(obj.Date)
	default:
		t.Time = time.Time{}
	}
	return nil
}

// RawAmount captures a monetary wire value as text. Nomus sends amounts as
// locale-formatted strings ("1.234,56") but some endpoints emit bare numbers.
type RawAmount string

func (a *RawAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*a = ""
			return nil
		}
		*a = RawAmount(s)
		return nil
	}
	// Bare numbers carry a "." decimal mark; rewrite into the locale
	// convention so ParseCurrency reads every amount the same way.
	*a = RawAmount(bytes.ReplaceAll(b, []byte("."), []byte(",")))
	return nil
}

func (a RawAmount) String() string { return string(a) }

// ---------------------------------------------------------------------------
// Nomus wire records
// ---------------------------------------------------------------------------

type contaReceberDTO struct {
	Id                 int64     `json:"id"`
	IdPessoa           int64     `json:"idPessoa"`
	IdEmpresa          int64     `json:"idEmpresa"`
	DataVencimento     FlexTime  `json:"dataVencimento"`
	DataCompetencia    FlexTime  `json:"dataCompetencia"`
	ValorReceber       RawAmount `json:"valorReceber"`
	ValorRecebido      RawAmount `json:"valorRecebido"`
	SaldoReceber       RawAmount `json:"saldoReceber"`
	Status             string    `json:"status"`
	Tipo               string    `json:"tipo"`
	Classificacao      string    `json:"classificacao"`
	NomePessoa         string    `json:"nomePessoa"`
	CnpjCpfPessoa      string    `json:"cnpjCpfPessoa"`
	NomeEmpresa        string    `json:"nomeEmpresa"`
	NomeFormaPagamento string    `json:"nomeFormaPagamento"`
}

type boletoDTO struct {
	Id                        int64     `json:"id"`
	IdContaReceber            int64     `json:"idContaReceber"`
	IdPessoa                  int64     `json:"idPessoa"`
	IdEmpresa                 int64     `json:"idEmpresa"`
	DataHoraEmissao           FlexTime  `json:"dataHoraEmissao"`
	DataVencimento            FlexTime  `json:"dataVencimento"`
	Valor                     RawAmount `json:"valor"`
	Status                    string    `json:"status"`
	Cancelado                 bool      `json:"cancelado"`
	NossoNumeroBoletoBancario string    `json:"nossoNumeroBoletoBancario"`
	NumeroDocumento           string    `json:"numeroDocumento"`
	NomePessoa                string    `json:"nomePessoa"`
	NomeEmpresa               string    `json:"nomeEmpresa"`
}

type recebimentoDTO struct {
	Id                 int64     `json:"id"`
	IdContaReceber     int64     `json:"idContaReceber"`
	IdEmpresa          int64     `json:"idEmpresa"`
	DataRecebimento    FlexTime  `json:"dataRecebimento"`
	DataCompetencia    FlexTime  `json:"dataCompetencia"`
	ValorRecebido      RawAmount `json:"valorRecebido"`
	Desconto           RawAmount `json:"desconto"`
	MultaJuros         RawAmount `json:"multaJuros"`
	BaixaContaReceber  bool      `json:"baixaContaReceber"`
	NomeFormaPagamento string    `json:"nomeFormaPagamento"`
	NomeContaBancaria  string    `json:"nomeContaBancaria"`
	NomePessoa         string    `json:"nomePessoa"`
	Descricao          string    `json:"descricao"`
}

type creditAnalysisDTO struct {
	DataAnalise   FlexTime  `json:"dataAnalise"`
	LimiteCredito RawAmount `json:"limiteCredito"`
}

type customerDTO struct {
	Id              int64               `json:"id"`
	Ativo           bool                `json:"ativo"`
	Nome            string              `json:"nome"`
	Cnpj            string              `json:"cnpj"`
	Email           string              `json:"email"`
	Telefone        string              `json:"telefone"`
	Endereco        string              `json:"endereco"`
	Numero          string              `json:"numero"`
	Complemento     string              `json:"complemento"`
	Bairro          string              `json:"bairro"`
	Municipio       string              `json:"municipio"`
	Uf              string              `json:"uf"`
	Cep             string              `json:"cep"`
	Pais            string              `json:"pais"`
	DataCriacao     FlexTime            `json:"dataCriacao"`
	AnalisesCredito []creditAnalysisDTO `json:"analisesCredito"`
}

// ---------------------------------------------------------------------------
// Letmesee wire records
// ---------------------------------------------------------------------------

// Tenant is one registry entry from the Letmesee side: a Nomus-connected
// customer organization with its own token and base URL. Immutable for the
// duration of one sync run.
type Tenant struct {
	GroupId          int64     `json:"userGroupId"`
	CompanyId        int64     `json:"userCompanyId"`
	Name             string    `json:"name"`
	CreditorDocument string    `json:"creditorDocument"`
	HashToken        string    `json:"hashToken"`
	BaseUrl          string    `json:"baseUrl"`
	LastUpdate       *FlexTime `json:"lastUpdate"`
}

// RequestInvoice is the composite downstream record: one receivable joined
// with its first matching payment and bank slip.
type RequestInvoice struct {
	UserGroupId            int64   `json:"userGroupId"`
	CreditorDocument       string  `json:"creditorDocument"`
	InvoiceNumber          string  `json:"invoiceNumber"`
	InvoiceValue           string  `json:"invoiceValue"`
	InvoiceDueDate         string  `json:"invoiceDueDate"`
	IssueDate              string  `json:"issueDate"`
	BuyerId                string  `json:"buyerId"`
	BuyerName              string  `json:"buyerName"`
	BuyerDocument          string  `json:"buyerDocument"`
	Description            string  `json:"description"`
	Type                   string  `json:"type"`
	Discount               string  `json:"discount"`
	Fees                   string  `json:"fees"`
	OurNumber              string  `json:"ourNumber"`
	BankSlipUrl            *string `json:"bankSlipUrl"`
	InvoiceInstallment     int     `json:"invoiceInstallment"`
	ManagementOfDefaulters bool    `json:"managementOfDefaulters"`
	InExtract              bool    `json:"inExtract"`
}

type RequestCustomer struct {
	UserGroupId   int64   `json:"userGroupId"`
	UserCompanyId int64   `json:"userCompanyId"`
	Name          string  `json:"name"`
	Cnpj          string  `json:"cnpj"`
	Email         string  `json:"email"`
	PhoneNumber   string  `json:"phoneNumber"`
	Address       string  `json:"address"`
	Neighborhood  string  `json:"neighborhood"`
	ZipCode       string  `json:"zipCode"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Number        string  `json:"number"`
	Complement    string  `json:"complement"`
	CreditLimit   *string `json:"creditLimit"`
	RegistratedAt string  `json:"registratedAt"`
}

// ---------------------------------------------------------------------------
// Task queue payloads
// ---------------------------------------------------------------------------

// SyncTaskPayload is one tenant sync task on the queue.
type SyncTaskPayload struct {
	TenantGroupId    int64  `json:"tenant_group_id"`
	CompanyId        int64  `json:"company_id"`
	CreditorDocument string `json:"creditor_document"`
	HashToken        string `json:"hash_token"`
	BaseUrl          string `json:"base_url"`
	FullSync         bool   `json:"full_sync"`
	TriggeredBy      string `json:"triggered_by"`
	CorrelationId    string `json:"correlation_id"`
	Attempt          int    `json:"attempt"`
}

func (p SyncTaskPayload) Tenant() Tenant {
	return Tenant{
		GroupId:          p.TenantGroupId,
		CompanyId:        p.CompanyId,
		CreditorDocument: p.CreditorDocument,
		HashToken:        p.HashToken,
		BaseUrl:          p.BaseUrl,
	}
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
