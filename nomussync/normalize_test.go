package nomussync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/letmesee/nomus_sync_backend/models"
)

func TestParseCurrency(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.234,56", "1234.56"},
		{"50,75", "50.75"},
		{"1.234", "1234"},
		{"1234.56", "123456"},
		{"1234", "1234"},
		{"0,00", "0"},
		{"  2.500,00 ", "2500"},
		{"", "0"},
		{"abc", "0"},
		{"R$ tudo errado", "0"},
	}
	for _, tc := range cases {
		got := ParseCurrency(tc.in)
		want := decimal.RequireFromString(tc.want)
		if !got.Equal(want) {
			t.Errorf("ParseCurrency(%q) = %s, want %s", tc.in, got.String(), tc.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	cases := []string{
		"2024-03-15",
		"15/03/2024",
		"2024/03/15",
	}
	for _, in := range cases {
		got := ParseDate(in)
		if !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", in, got, want)
		}
	}

	withTime := ParseDate("2024-03-15T10:30:00")
	if withTime.Year() != 2024 || withTime.Month() != 3 || withTime.Day() != 15 || withTime.Hour() != 10 {
		t.Errorf("ParseDate ISO datetime = %v", withTime)
	}
	withMillis := ParseDate("2024-03-15T10:30:00.000")
	if withMillis.Day() != 15 || withMillis.Hour() != 10 {
		t.Errorf("ParseDate ISO millis = %v", withMillis)
	}

	if !ParseDate("not a date").IsZero() {
		t.Error("garbage date should come back zero")
	}
	if !ParseDate("").IsZero() {
		t.Error("empty date should come back zero")
	}
}

func TestCleanDocument(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12.345.678/0001-99", "12345678000199"},
		{"123.456.789-00", "12345678900"},
		{"12345678000199", "12345678000199"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CleanDocument(tc.in); got != tc.want {
			t.Errorf("CleanDocument(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInstallmentNumber(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"Parcela 3 de 12", 3},
		{"PARCELA 10", 10},
		{"parcela2", 2},
		{"Mensalidade de abril", 1},
		{"", 1},
		{"Parcela 0", 1},
	}
	for _, tc := range cases {
		if got := InstallmentNumber(tc.in); got != tc.want {
			t.Errorf("InstallmentNumber(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFlexTimeUnmarshal(t *testing.T) {
	var t1 FlexTime
	if err := json.Unmarshal([]byte(`"2024-03-15"`), &t1); err != nil {
		t.Fatal(err)
	}
	if t1.Day() != 15 {
		t.Errorf("string form = %v", t1.Time)
	}

	var t2 FlexTime
	if err := json.Unmarshal([]byte(`{"date":"15/03/2024"}`), &t2); err != nil {
		t.Fatal(err)
	}
	if t2.Day() != 15 || t2.Month() != 3 {
		t.Errorf("object form = %v", t2.Time)
	}

	var t3 FlexTime
	if err := json.Unmarshal([]byte(`null`), &t3); err != nil {
		t.Fatal(err)
	}
	if !t3.IsZero() {
		t.Errorf("null should be zero, got %v", t3.Time)
	}
}

func TestRawAmountUnmarshal(t *testing.T) {
	var doc struct {
		A RawAmount `json:"a"`
		B RawAmount `json:"b"`
		C RawAmount `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"1.234,56","b":99.5,"c":null}`), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.A.String() != "1.234,56" {
		t.Errorf("string amount = %q", doc.A)
	}
	if doc.B.String() != "99,5" {
		t.Errorf("numeric amount = %q", doc.B)
	}
	if !ParseCurrency(doc.B.String()).Equal(decimal.RequireFromString("99.5")) {
		t.Errorf("numeric amount parsed = %s", ParseCurrency(doc.B.String()))
	}
	if doc.C != "" {
		t.Errorf("null amount = %q", doc.C)
	}
}

func sampleTenant() Tenant {
	return Tenant{
		GroupId:          42,
		CompanyId:        7,
		CreditorDocument: "11.222.333/0001-44",
		HashToken:        "tok",
		BaseUrl:          "https://erp.example.com",
	}
}

func TestBuildInvoice_FirstMatchWins(t *testing.T) {
	tenant := sampleTenant()
	r := models.Receivable{
		ExternalId:     100,
		DebtorId:       9,
		DebtorName:     "Fulano",
		DebtorDocument: "12345678900",
		DueDate:        time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		CompetenceDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		AmountDue:      ParseCurrency("1.500,00"),
		Status:         "ABERTO",
		Classification: "Mensalidade",
	}
	payments := []models.Payment{
		{ExternalId: 1, ReceivableExternalId: 999, Description: "other"},
		{ExternalId: 2, ReceivableExternalId: 100, Description: "Parcela 2 de 6", Discount: ParseCurrency("10,00")},
		{ExternalId: 3, ReceivableExternalId: 100, Description: "Parcela 5 de 6"},
	}
	slips := []models.BankSlip{
		{ExternalId: 5, ReceivableExternalId: 100, BankReference: "ABC123", DocumentNumber: "NF-55"},
		{ExternalId: 6, ReceivableExternalId: 100, BankReference: "ZZZ999"},
	}

	inv := BuildInvoice(tenant, r, payments, slips)

	if inv.UserGroupId != 42 {
		t.Errorf("UserGroupId = %d", inv.UserGroupId)
	}
	if inv.CreditorDocument != "11222333000144" {
		t.Errorf("CreditorDocument = %q", inv.CreditorDocument)
	}
	if inv.InvoiceNumber != "NF-55" {
		t.Errorf("InvoiceNumber = %q, want the slip document number", inv.InvoiceNumber)
	}
	if inv.InvoiceValue != "1500.00" {
		t.Errorf("InvoiceValue = %q", inv.InvoiceValue)
	}
	if inv.Description != "Conta a Receber 100 - Mensalidade" {
		t.Errorf("Description = %q", inv.Description)
	}
	if inv.Discount != "10.00" {
		t.Errorf("Discount = %q, want value from the first matching payment", inv.Discount)
	}
	if inv.OurNumber != "ABC123" {
		t.Errorf("slip match = %q, want first occurrence", inv.OurNumber)
	}
	if inv.BankSlipUrl == nil || *inv.BankSlipUrl != "boleto/ABC123" {
		t.Errorf("BankSlipUrl = %v", inv.BankSlipUrl)
	}
	if inv.InvoiceInstallment != 2 {
		t.Errorf("InvoiceInstallment = %d, want number from the first matching payment", inv.InvoiceInstallment)
	}
	if inv.IssueDate != "2024-03-10" {
		t.Errorf("IssueDate = %q, want the competence date", inv.IssueDate)
	}
}

func TestBuildInvoice_NoPaymentDefaults(t *testing.T) {
	tenant := sampleTenant()
	inv := BuildInvoice(tenant, models.Receivable{ExternalId: 200}, nil, nil)
	if inv.InvoiceNumber != "200" {
		t.Errorf("InvoiceNumber = %q, want the receivable id without a slip", inv.InvoiceNumber)
	}
	if inv.InvoiceInstallment != 1 {
		t.Errorf("InvoiceInstallment = %d, want default", inv.InvoiceInstallment)
	}
	if inv.Discount != "" || inv.Fees != "" {
		t.Errorf("discount/fees should stay empty without a payment")
	}
}

func TestBuildInvoice_OpenVsPaid(t *testing.T) {
	tenant := sampleTenant()

	open := BuildInvoice(tenant, models.Receivable{ExternalId: 1, Status: "ABERTO"}, nil, nil)
	if !open.ManagementOfDefaulters || open.InExtract {
		t.Errorf("open receivable: defaulters=%v extract=%v", open.ManagementOfDefaulters, open.InExtract)
	}

	paid := BuildInvoice(tenant, models.Receivable{ExternalId: 2, Status: "RECEBIDO"}, nil, nil)
	if paid.ManagementOfDefaulters || !paid.InExtract {
		t.Errorf("paid receivable: defaulters=%v extract=%v", paid.ManagementOfDefaulters, paid.InExtract)
	}

	settled := BuildInvoice(tenant, models.Receivable{
		ExternalId: 3,
		Status:     "ABERTO",
		AmountPaid: ParseCurrency("100,00"),
	}, nil, nil)
	if settled.ManagementOfDefaulters || !settled.InExtract {
		t.Errorf("zero-balance receivable should count as paid")
	}
}

func TestBuildInvoice_NoSlipNoUrl(t *testing.T) {
	tenant := sampleTenant()
	inv := BuildInvoice(tenant, models.Receivable{ExternalId: 1}, nil, []models.BankSlip{
		{ExternalId: 9, ReceivableExternalId: 1, BankReference: "  "},
	})
	if inv.BankSlipUrl != nil {
		t.Errorf("blank bank reference should not yield a url, got %q", *inv.BankSlipUrl)
	}
}

func TestNormalizeCustomer_LatestCreditAnalysis(t *testing.T) {
	in := customerDTO{
		Id:   7,
		Nome: "Cliente",
		Cnpj: "11.222.333/0001-44",
		AnalisesCredito: []creditAnalysisDTO{
			{DataAnalise: FlexTime{time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}, LimiteCredito: "1.000,00"},
			{DataAnalise: FlexTime{time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}, LimiteCredito: "5.000,00"},
			{DataAnalise: FlexTime{time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)}, LimiteCredito: "2.000,00"},
		},
	}
	out := NormalizeCustomer(42, in)
	if out.TaxDocument != "11222333000144" {
		t.Errorf("TaxDocument = %q", out.TaxDocument)
	}
	if out.CreditLimit == nil || !out.CreditLimit.Equal(decimal.RequireFromString("5000")) {
		t.Errorf("CreditLimit = %v, want most recent analysis", out.CreditLimit)
	}
}
