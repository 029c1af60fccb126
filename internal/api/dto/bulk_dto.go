package dto

import (
	"encoding/json"
	"strings"

	"github.com/spec-kit/property-service/internal/domain"
)

// BulkRequest is the body of POST /tickets/bulk/:operation.
type BulkRequest struct {
	TicketIDs      []string `json:"ticketIds"`
	ContractorID   string   `json:"contractorId"`
	Category       string   `json:"category"`
	Add            []string `json:"add"`
	Remove         []string `json:"remove"`
	Status         string   `json:"status"`
	ResolutionNote string   `json:"resolutionNote"`
}

// UnmarshalJSON folds the snake_case and long-form spellings clients send
// into one shape. The camelCase field wins when both are present.
func (r *BulkRequest) UnmarshalJSON(data []byte) error {
	type plain BulkRequest
	var aux struct {
		plain
		TicketIDsSnake      []string `json:"ticket_ids"`
		ContractorIDSnake   string   `json:"contractor_id"`
		ResolutionNoteSnake string   `json:"resolution_note"`
		AddTags             []string `json:"addTags"`
		RemoveTags          []string `json:"removeTags"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = BulkRequest(aux.plain)
	if r.TicketIDs == nil {
		r.TicketIDs = aux.TicketIDsSnake
	}
	if r.ContractorID == "" {
		r.ContractorID = aux.ContractorIDSnake
	}
	if r.ResolutionNote == "" {
		r.ResolutionNote = aux.ResolutionNoteSnake
	}
	if r.Add == nil {
		r.Add = aux.AddTags
	}
	if r.Remove == nil {
		r.Remove = aux.RemoveTags
	}
	return nil
}

// Validate checks the ids and the payload the operation reads.
func (r *BulkRequest) Validate(op domain.BulkOperation, maxItems int) FieldErrors {
	errs := FieldErrors{}
	if maxItems <= 0 || maxItems > domain.MaxBulkItems {
		maxItems = domain.MaxBulkItems
	}
	switch n := len(r.TicketIDs); {
	case n == 0:
		errs.Add("ticketIds", "must contain at least one id")
	case n > maxItems:
		errs.Add("ticketIds", "must contain at most "+itoa(maxItems)+" ids")
	}
	for _, id := range r.TicketIDs {
		if strings.TrimSpace(id) == "" {
			errs.Add("ticketIds", "ids must be non-empty")
			break
		}
	}

	switch op {
	case domain.BulkAssign, domain.BulkReassign:
		if strings.TrimSpace(r.ContractorID) == "" {
			errs.Add("contractorId", "is required")
		}
	case domain.BulkCategory:
		checkLength(errs, "category", strings.TrimSpace(r.Category), 1, maxCategoryLength)
	case domain.BulkTag:
		if len(r.Add) == 0 && len(r.Remove) == 0 {
			errs.Add("add", "add or remove must list at least one tag")
		}
		validateTags(errs, "add", r.Add)
		validateTags(errs, "remove", r.Remove)
	case domain.BulkStatus:
		if strings.TrimSpace(r.Status) == "" {
			errs.Add("status", "is required")
		} else if _, ok := domain.ParseTicketStatus(r.Status); !ok {
			errs.Add("status", "is not a known status")
		}
	}
	checkLength(errs, "resolutionNote", r.ResolutionNote, 0, maxNoteLength)
	return errs
}

// Params returns the normalised operation payload.
func (r *BulkRequest) Params() domain.BulkParams {
	status, _ := domain.ParseTicketStatus(r.Status)
	return domain.BulkParams{
		ContractorID:   strings.TrimSpace(r.ContractorID),
		Category:       strings.TrimSpace(r.Category),
		AddTags:        trimAll(r.Add),
		RemoveTags:     trimAll(r.Remove),
		Status:         status,
		ResolutionNote: strings.TrimSpace(r.ResolutionNote),
	}
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
