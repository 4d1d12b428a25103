package directory

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// HTTP DIRECTORY - Identity service client
// =============================================================================

// HTTP reads parties from the identity service:
//
//	GET /organizations/{org}/drivers/{id}
//	GET /organizations/{org}/clients/{id}
//	GET /organizations/{org}/drivers?search=...
//	GET /organizations/{org}/clients?search=...
type HTTP struct {
	client *resty.Client
}

var _ bags.Directory = (*HTTP)(nil)

// partyDTO is the identity service's JSON shape.
type partyDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// errorDTO is the body of a failed request.
type errorDTO struct {
	Error string `json:"error"`
}

func (e *errorDTO) suffix() string {
	if e == nil || e.Error == "" {
		return ""
	}
	return ": " + e.Error
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTP{client: client}
}

func (h *HTTP) Driver(ctx context.Context, org bags.OrganizationID, id bags.DriverID) (bags.Party, error) {
	return h.get(ctx, org, bags.KindDriver, string(id))
}

func (h *HTTP) Client(ctx context.Context, org bags.OrganizationID, id bags.ClientID) (bags.Party, error) {
	return h.get(ctx, org, bags.KindClient, string(id))
}

func (h *HTTP) get(ctx context.Context, org bags.OrganizationID, kind bags.PartyKind, id string) (bags.Party, error) {
	var (
		dto    partyDTO
		failed errorDTO
	)
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"org": string(org), "kind": string(kind) + "s", "id": id}).
		SetResult(&dto).
		SetError(&failed).
		Get("/organizations/{org}/{kind}/{id}")
	if err != nil {
		return bags.Party{}, fmt.Errorf("directory %s %s: %w", kind, id, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return dto.party(org, kind), nil
	case http.StatusNotFound:
		return bags.Party{}, &generic.NotFoundError{Kind: string(kind), ID: id}
	default:
		return bags.Party{}, fmt.Errorf("directory %s %s: status %d%s", kind, id, resp.StatusCode(), failed.suffix())
	}
}

func (h *HTTP) Search(ctx context.Context, org bags.OrganizationID, kind bags.PartyKind, query string) ([]bags.Party, error) {
	var (
		dtos   []partyDTO
		failed errorDTO
	)
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"org": string(org), "kind": string(kind) + "s"}).
		SetQueryParam("search", query).
		SetResult(&dtos).
		SetError(&failed).
		Get("/organizations/{org}/{kind}")
	if err != nil {
		return nil, fmt.Errorf("directory search %s: %w", kind, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("directory search %s: status %d%s", kind, resp.StatusCode(), failed.suffix())
	}

	out := make([]bags.Party, len(dtos))
	for i, dto := range dtos {
		out[i] = dto.party(org, kind)
	}
	return out, nil
}

func (d partyDTO) party(org bags.OrganizationID, kind bags.PartyKind) bags.Party {
	return bags.Party{ID: d.ID, OrganizationID: org, Kind: kind, Name: d.Name, Email: d.Email}
}
