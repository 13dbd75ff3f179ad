package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical rows mirrored from the Nomus ERP. The ERP-assigned id is the
// natural key for upserts; the local auto-increment id is storage detail only.

type Receivable struct {
	ID                uint            `gorm:"primary_key" json:"id"`
	ExternalId        int64           `gorm:"uniqueIndex;not null" json:"external_id"`
	TenantGroupId     int64           `gorm:"index;not null" json:"tenant_group_id"`
	DebtorId          int64           `json:"debtor_id"`
	DebtorName        string          `gorm:"size:255" json:"debtor_name"`
	DebtorDocument    string          `gorm:"size:32" json:"debtor_document"`
	DueDate           time.Time       `json:"due_date"`
	CompetenceDate    time.Time       `json:"competence_date"`
	AmountDue         decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount_due"`
	AmountPaid        decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount_paid"`
	Balance           decimal.Decimal `gorm:"type:decimal(20,4)" json:"balance"`
	Status            string          `gorm:"size:50" json:"status"`
	Type              string          `gorm:"size:50" json:"type"`
	Classification    string          `gorm:"size:100" json:"classification"`
	PaymentMethodName string          `gorm:"size:100" json:"payment_method_name"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r Receivable) NaturalKey() int64 { return r.ExternalId }

type Payment struct {
	ID                   uint            `gorm:"primary_key" json:"id"`
	ExternalId           int64           `gorm:"uniqueIndex;not null" json:"external_id"`
	TenantGroupId        int64           `gorm:"index;not null" json:"tenant_group_id"`
	ReceivableExternalId int64           `gorm:"index" json:"receivable_external_id"`
	ReceivedDate         time.Time       `json:"received_date"`
	CompetenceDate       time.Time       `json:"competence_date"`
	Amount               decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	Discount             decimal.Decimal `gorm:"type:decimal(20,4)" json:"discount"`
	PenaltyInterest      decimal.Decimal `gorm:"type:decimal(20,4)" json:"penalty_interest"`
	SettlesReceivable    bool            `json:"settles_receivable"`
	PaymentMethodName    string          `gorm:"size:100" json:"payment_method_name"`
	BankAccountName      string          `gorm:"size:100" json:"bank_account_name"`
	Description          string          `gorm:"type:text" json:"description"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p Payment) NaturalKey() int64 { return p.ExternalId }

type BankSlip struct {
	ID                   uint            `gorm:"primary_key" json:"id"`
	ExternalId           int64           `gorm:"uniqueIndex;not null" json:"external_id"`
	TenantGroupId        int64           `gorm:"index;not null" json:"tenant_group_id"`
	ReceivableExternalId int64           `gorm:"index" json:"receivable_external_id"`
	IssuedAt             time.Time       `json:"issued_at"`
	DueDate              time.Time       `json:"due_date"`
	Value                decimal.Decimal `gorm:"type:decimal(20,4)" json:"value"`
	Status               string          `gorm:"size:50" json:"status"`
	Cancelled            bool            `json:"cancelled"`
	BankReference        string          `gorm:"size:100" json:"bank_reference"`
	DocumentNumber       string          `gorm:"size:100" json:"document_number"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b BankSlip) NaturalKey() int64 { return b.ExternalId }

type Customer struct {
	ID            uint             `gorm:"primary_key" json:"id"`
	ExternalId    int64            `gorm:"uniqueIndex;not null" json:"external_id"`
	TenantGroupId int64            `gorm:"index;not null" json:"tenant_group_id"`
	Active        bool             `json:"active"`
	Name          string           `gorm:"size:255" json:"name"`
	TaxDocument   string           `gorm:"size:32" json:"tax_document"`
	Email         string           `gorm:"size:255" json:"email"`
	Phone         string           `gorm:"size:50" json:"phone"`
	Address       string           `gorm:"size:255" json:"address"`
	Number        string           `gorm:"size:20" json:"number"`
	Complement    string           `gorm:"size:100" json:"complement"`
	Neighborhood  string           `gorm:"size:100" json:"neighborhood"`
	City          string           `gorm:"size:100" json:"city"`
	State         string           `gorm:"size:10" json:"state"`
	ZipCode       string           `gorm:"size:20" json:"zip_code"`
	Country       string           `gorm:"size:100" json:"country"`
	RegisteredAt  time.Time        `json:"registered_at"`
	CreditLimit   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"credit_limit"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c Customer) NaturalKey() int64 { return c.ExternalId }
