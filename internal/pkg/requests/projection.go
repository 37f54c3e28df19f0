package requests

import (
	"time"

	"github.com/venuekey/venuekey/app/models"
)

// View is the read-boundary projection of a request. Private fields (contact
// details, selected items, special requests) stay in the store but are only
// serialized for viewers entitled to them. This is a projection rule, not a
// deletion: the underlying row always keeps everything.
type View struct {
	ID          uint       `json:"id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	CustomerID  uint       `json:"customer_id"`
	ProviderID  *uint      `json:"provider_id,omitempty"`
	Address     string     `json:"address"`
	EventDate   *time.Time `json:"event_date,omitempty"`
	CostMinor   int64      `json:"cost_minor"`
	PriceInKeys int        `json:"price_in_keys"`
	IsPaid      bool       `json:"is_paid"`
	Acceptors   []uint     `json:"acceptors"`

	// Private fields, empty unless the viewer is entitled.
	ContactName     string `json:"contact_name,omitempty"`
	ContactPhone    string `json:"contact_phone,omitempty"`
	SelectedItems   string `json:"selected_items,omitempty"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

// Project builds the viewer-specific projection of a request.
//
// Entitlement rules:
//   - the customer who created the request always sees everything
//   - on a service request, providers in the acceptor set see everything
//     (that visibility is what their spent key bought)
//   - on a booking, the private fields stay hidden until the one-shot
//     unlock payment flipped is_paid
func Project(req *models.Request, viewerID uint) View {
	v := View{
		ID:          req.ID,
		Kind:        req.Kind,
		Status:      req.Status,
		CustomerID:  req.CustomerID,
		ProviderID:  req.ProviderID,
		Address:     req.Address,
		EventDate:   req.EventDate,
		CostMinor:   req.CostMinor,
		PriceInKeys: req.KeyCost(),
		IsPaid:      req.IsPaid,
	}
	accepted := false
	for _, a := range req.Acceptances {
		v.Acceptors = append(v.Acceptors, a.ProviderID)
		if a.ProviderID == viewerID {
			accepted = true
		}
	}

	if !viewerEntitled(req, viewerID, accepted) {
		return v
	}

	v.ContactName = req.ContactName
	v.ContactPhone = req.ContactPhone
	v.SelectedItems = req.SelectedItems
	v.SpecialRequests = req.SpecialRequests
	return v
}

func viewerEntitled(req *models.Request, viewerID uint, accepted bool) bool {
	if viewerID != 0 && viewerID == req.CustomerID {
		return true
	}
	if req.IsBooking() {
		targeted := req.ProviderID != nil && *req.ProviderID == viewerID
		return req.IsPaid && (accepted || targeted)
	}
	return accepted
}
