/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain types from the wire contract the console expects.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

COUNTS:
  number_of_bags arrives as a JSON number and is decoded into a decimal so
  that 2.5, 0 and -1 are rejected by generic.ParseCount with a 400 instead of
  being silently truncated by an int field.

TIMESTAMPS:
  RFC 3339 in UTC. Absent optional times are omitted.

SEE ALSO:
  - handlers.go: Uses these types
  - report/report.go: Row types converted here
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
	"github.com/Wizard254-ux/gabbage-web-sub000/report"
)

// =============================================================================
// REQUESTS
// =============================================================================

type AddStockRequest struct {
	NumberOfBags decimal.Decimal `json:"number_of_bags"`
}

type RemoveStockRequest struct {
	NumberOfBags decimal.Decimal `json:"number_of_bags"`
	Reason       string          `json:"reason"`
}

type AllocateRequest struct {
	DriverID     string          `json:"driver_id"`
	NumberOfBags decimal.Decimal `json:"number_of_bags"`
}

type IssueRequest struct {
	DriverID     string          `json:"driver_id"`
	ClientID     string          `json:"client_id"`
	ClientEmail  string          `json:"client_email,omitempty"`
	NumberOfBags decimal.Decimal `json:"number_of_bags"`
}

type VerifyRequest struct {
	OTPCode string `json:"otp_code"`
}

type TransferRequest struct {
	FromDriverID string          `json:"from_driver_id"`
	ToDriverID   string          `json:"to_driver_id"`
	NumberOfBags decimal.Decimal `json:"number_of_bags"`
}

type FailTransferRequest struct {
	Notes string `json:"notes"`
}

type ReturnRequest struct {
	DriverID     string          `json:"driver_id"`
	NumberOfBags decimal.Decimal `json:"number_of_bags"`
	Reason       string          `json:"reason"`
}

// =============================================================================
// STOCK
// =============================================================================

type StockDTO struct {
	OrganizationID string     `json:"organization_id"`
	AvailableBags  int        `json:"available_bags"`
	TotalAdded     int        `json:"total_added"`
	TotalRemoved   int        `json:"total_removed"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

func toStockDTO(s bags.Stock) StockDTO {
	dto := StockDTO{
		OrganizationID: string(s.OrganizationID),
		AvailableBags:  s.AvailableBags,
		TotalAdded:     s.TotalAdded,
		TotalRemoved:   s.TotalRemoved,
	}
	if !s.UpdatedAt.IsZero() {
		dto.UpdatedAt = &s.UpdatedAt
	}
	return dto
}

// StockEntryDTO is one line of the stock audit trail.
type StockEntryDTO struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Count       int       `json:"count"`
	Delta       int       `json:"delta"`
	Reason      string    `json:"reason,omitempty"`
	Actor       string    `json:"actor"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type StockHistoryResponse struct {
	Entries    []StockEntryDTO    `json:"entries"`
	Pagination generic.Pagination `json:"pagination"`
}

func toStockHistory(page report.StockHistoryPage) StockHistoryResponse {
	out := StockHistoryResponse{Entries: make([]StockEntryDTO, len(page.Entries)), Pagination: page.Pagination}
	for i, e := range page.Entries {
		out.Entries[i] = StockEntryDTO{
			ID:          string(e.ID),
			Type:        string(e.Type),
			Count:       e.Quantity.Int(),
			Delta:       e.Delta,
			Reason:      e.Reason,
			Actor:       e.ActorID,
			ReferenceID: e.ReferenceID,
			Timestamp:   e.CreatedAt,
		}
	}
	return out
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

type AllocationDTO struct {
	ID               string     `json:"id"`
	DriverID         string     `json:"driver_id"`
	DriverName       string     `json:"driver_name,omitempty"`
	AllocatedBags    int        `json:"allocated_bags"`
	UsedBags         int        `json:"used_bags"`
	AvailableBags    int        `json:"available_bags"`
	BagsFromPrevious int        `json:"bags_from_previous"`
	TransferredIn    int        `json:"transferred_in"`
	TransferredOut   int        `json:"transferred_out"`
	ReturnedBags     int        `json:"returned_bags"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

func toAllocationDTO(p bags.AllocationPeriod, name string) AllocationDTO {
	return AllocationDTO{
		ID:               p.ID,
		DriverID:         string(p.DriverID),
		DriverName:       name,
		AllocatedBags:    p.AllocatedBags,
		UsedBags:         p.UsedBags,
		AvailableBags:    p.AvailableBags(),
		BagsFromPrevious: p.BagsFromPrevious,
		TransferredIn:    p.TransferredIn,
		TransferredOut:   p.TransferredOut,
		ReturnedBags:     p.ReturnedBags,
		Status:           string(p.Status()),
		CreatedAt:        p.OpenedAt,
		ClosedAt:         p.ClosedAt,
	}
}

type AllocationListResponse struct {
	Allocations []AllocationDTO    `json:"allocations"`
	Pagination  generic.Pagination `json:"pagination"`
}

// AllocateResponse returns the new period, the one it closed and the stock.
type AllocateResponse struct {
	Allocation AllocationDTO  `json:"allocation"`
	Previous   *AllocationDTO `json:"previous,omitempty"`
	Stock      StockDTO       `json:"stock"`
}

type DriverAllocationsDTO struct {
	DriverID      string          `json:"driver_id"`
	DriverName    string          `json:"driver_name"`
	AvailableBags int             `json:"available_bags"`
	Current       *AllocationDTO  `json:"current"`
	Previous      []AllocationDTO `json:"previous"`
}

func toDriverAllocations(v report.DriverView) DriverAllocationsDTO {
	out := DriverAllocationsDTO{
		DriverID:      string(v.DriverID),
		DriverName:    v.DriverName,
		AvailableBags: v.Available(),
		Previous:      make([]AllocationDTO, len(v.Previous)),
	}
	if v.Current != nil {
		current := toAllocationDTO(*v.Current, v.DriverName)
		out.Current = &current
	}
	for i, p := range v.Previous {
		out.Previous[i] = toAllocationDTO(p, v.DriverName)
	}
	return out
}

// =============================================================================
// ISSUANCES
// =============================================================================

type IssueDTO struct {
	ID                 string     `json:"id"`
	DriverID           string     `json:"driver_id"`
	DriverName         string     `json:"driver_name,omitempty"`
	ClientID           string     `json:"client_id"`
	ClientName         string     `json:"client_name,omitempty"`
	ClientEmail        string     `json:"client_email"`
	NumberOfBagsIssued int        `json:"number_of_bags_issued"`
	OTPExpiresAt       time.Time  `json:"otp_expires_at"`
	IsVerified         bool       `json:"is_verified"`
	Status             string     `json:"status"`
	IssuedAt           *time.Time `json:"issued_at,omitempty"`
	ResendCount        int        `json:"resend_count"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toIssueDTO(i bags.Issue, now time.Time) IssueDTO {
	return IssueDTO{
		ID:                 i.ID,
		DriverID:           string(i.DriverID),
		ClientID:           string(i.ClientID),
		ClientEmail:        i.ClientEmail,
		NumberOfBagsIssued: i.NumberOfBags,
		OTPExpiresAt:       i.OTPExpiresAt,
		IsVerified:         i.Verified,
		Status:             string(i.Status(now)),
		IssuedAt:           i.IssuedAt,
		ResendCount:        i.ResendCount,
		CreatedAt:          i.CreatedAt,
	}
}

type IssueTotalsDTO struct {
	TotalIssuances int `json:"total_issuances"`
	TotalBags      int `json:"total_bags"`
	VerifiedCount  int `json:"verified_count"`
	VerifiedBags   int `json:"verified_bags"`
	PendingCount   int `json:"pending_count"`
	PendingBags    int `json:"pending_bags"`
	ExpiredCount   int `json:"expired_count"`
}

func toTotalsDTO(t bags.IssueTotals) IssueTotalsDTO {
	return IssueTotalsDTO{
		TotalIssuances: t.Issuances,
		TotalBags:      t.Bags,
		VerifiedCount:  t.VerifiedCount,
		VerifiedBags:   t.VerifiedBags,
		PendingCount:   t.PendingCount,
		PendingBags:    t.PendingBags,
		ExpiredCount:   t.ExpiredCount,
	}
}

// IssuanceListResponse carries both counters: summary over every match,
// page_summary over the returned rows only.
type IssuanceListResponse struct {
	Issuances   []IssueDTO         `json:"issuances"`
	Pagination  generic.Pagination `json:"pagination"`
	Summary     IssueTotalsDTO     `json:"summary"`
	PageSummary IssueTotalsDTO     `json:"page_summary"`
}

func toIssuanceList(page report.IssuancePage) IssuanceListResponse {
	out := IssuanceListResponse{
		Issuances:   make([]IssueDTO, len(page.Rows)),
		Pagination:  page.Pagination,
		Summary:     toTotalsDTO(page.Summary),
		PageSummary: toTotalsDTO(page.PageSummary),
	}
	for i, row := range page.Rows {
		dto := toIssueDTO(row.Issue, time.Time{})
		dto.Status = string(row.State)
		dto.DriverName = row.DriverName
		dto.ClientName = row.ClientName
		out.Issuances[i] = dto
	}
	return out
}

type VerifyResponse struct {
	Issue      IssueDTO      `json:"issue"`
	Allocation AllocationDTO `json:"allocation"`
}

// =============================================================================
// TRANSFERS
// =============================================================================

type TransferDTO struct {
	ID             string     `json:"id"`
	FromDriverID   string     `json:"from_driver_id"`
	FromDriverName string     `json:"from_driver_name,omitempty"`
	ToDriverID     string     `json:"to_driver_id"`
	ToDriverName   string     `json:"to_driver_name,omitempty"`
	NumberOfBags   int        `json:"number_of_bags"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toTransferDTO(t bags.Transfer) TransferDTO {
	return TransferDTO{
		ID:           t.ID,
		FromDriverID: string(t.FromDriverID),
		ToDriverID:   string(t.ToDriverID),
		NumberOfBags: t.NumberOfBags,
		Status:       string(t.Status),
		Notes:        t.Notes,
		CompletedAt:  t.CompletedAt,
		CreatedAt:    t.CreatedAt,
	}
}

type TransferListResponse struct {
	Transfers  []TransferDTO      `json:"transfers"`
	Pagination generic.Pagination `json:"pagination"`
}

func toTransferList(page report.TransferPage) TransferListResponse {
	out := TransferListResponse{Transfers: make([]TransferDTO, len(page.Rows)), Pagination: page.Pagination}
	for i, row := range page.Rows {
		dto := toTransferDTO(row.Transfer)
		dto.FromDriverName = row.FromDriverName
		dto.ToDriverName = row.ToDriverName
		out.Transfers[i] = dto
	}
	return out
}

// TransferResponse returns the transfer and the allocation it changed: the
// sender's on initiate and fail, the receiver's on complete.
type TransferResponse struct {
	Transfer   TransferDTO   `json:"transfer"`
	Allocation AllocationDTO `json:"allocation"`
}

// =============================================================================
// RETURNS
// =============================================================================

type ReturnDTO struct {
	ID           string    `json:"id"`
	DriverID     string    `json:"driver_id"`
	DriverName   string    `json:"driver_name,omitempty"`
	NumberOfBags int       `json:"number_of_bags"`
	Reason       string    `json:"reason"`
	Actor        string    `json:"actor"`
	ProcessedAt  time.Time `json:"processed_at"`
}

func toReturnDTO(r bags.Return, name string) ReturnDTO {
	return ReturnDTO{
		ID:           r.ID,
		DriverID:     string(r.DriverID),
		DriverName:   name,
		NumberOfBags: r.NumberOfBags,
		Reason:       r.Reason,
		Actor:        r.ActorID,
		ProcessedAt:  r.ProcessedAt,
	}
}

type ReturnListResponse struct {
	Returns    []ReturnDTO        `json:"returns"`
	Pagination generic.Pagination `json:"pagination"`
}

type ReturnResponse struct {
	Return     ReturnDTO     `json:"return"`
	Stock      StockDTO      `json:"stock"`
	Allocation AllocationDTO `json:"allocation"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AccountCheckDTO struct {
	Account      string `json:"account"`
	Journal      int    `json:"journal"`
	Materialized int    `json:"materialized"`
	OK           bool   `json:"ok"`
}

type AuditDTO struct {
	OrganizationID string            `json:"organization_id"`
	Balanced       bool              `json:"balanced"`
	Movements      int               `json:"movements"`
	Added          int               `json:"added"`
	Removed        int               `json:"removed"`
	InStock        int               `json:"in_stock"`
	WithDrivers    int               `json:"with_drivers"`
	InTransit      int               `json:"in_transit"`
	WithClients    int               `json:"with_clients"`
	Accounts       []AccountCheckDTO `json:"accounts"`
}

func toAuditDTO(r bags.AuditReport) AuditDTO {
	out := AuditDTO{
		OrganizationID: string(r.OrganizationID),
		Balanced:       r.Balanced(),
		Movements:      r.Movements,
		Added:          r.Added,
		Removed:        r.Removed,
		InStock:        r.InStock,
		WithDrivers:    r.WithDrivers,
		InTransit:      r.InTransit,
		WithClients:    r.WithClients,
		Accounts:       make([]AccountCheckDTO, len(r.Accounts)),
	}
	for i, c := range r.Accounts {
		out.Accounts[i] = AccountCheckDTO{
			Account:      string(c.Account),
			Journal:      c.Journal,
			Materialized: c.Materialized,
			OK:           c.OK(),
		}
	}
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
