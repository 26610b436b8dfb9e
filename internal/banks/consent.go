package banks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"finguru/internal/core"
	"finguru/internal/log"
)

const consentReason = "Aggregation for FinGuru"

type consentRequest struct {
	ClientID           string   `json:"client_id"`
	Permissions        []string `json:"permissions"`
	Reason             string   `json:"reason"`
	RequestingBank     string   `json:"requesting_bank"`
	RequestingBankName string   `json:"requesting_bank_name"`
}

// consentResponse accepts both the flat sandbox shape and the OB style
// "data" envelope some banks return from the status endpoint.
type consentResponse struct {
	Status       string `json:"status"`
	ConsentID    string `json:"consent_id"`
	RequestID    string `json:"request_id"`
	AutoApproved bool   `json:"auto_approved"`
	Data         *struct {
		ConsentID string `json:"consentId"`
		Status    string `json:"status"`
	} `json:"data"`
}

func (r consentResponse) merged() (status, consentID, requestID string) {
	status, consentID, requestID = r.Status, r.ConsentID, r.RequestID
	if r.Data != nil {
		if status == "" {
			status = r.Data.Status
		}
		if consentID == "" {
			consentID = r.Data.ConsentID
		}
	}
	return status, consentID, requestID
}

func parseConsentStatus(s, consentID string) core.ConsentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "authorised", "authorized", "active", "valid":
		return core.ConsentApproved
	case "rejected", "revoked", "denied", "expired":
		return core.ConsentRejected
	case "":
		if consentID != "" {
			return core.ConsentApproved
		}
		return core.ConsentPending
	default:
		return core.ConsentPending
	}
}

func (t *transport) requestConsent(ctx context.Context, token, clientID string, permissions []string) (core.ConsentRecord, error) {
	if len(permissions) == 0 {
		permissions = core.DefaultPermissions
	}
	body := consentRequest{
		ClientID:           clientID,
		Permissions:        permissions,
		Reason:             consentReason,
		RequestingBank:     t.requestingBank,
		RequestingBankName: t.requestingName,
	}

	var resp consentResponse
	err := t.do(ctx, call{
		op:     log.OpRequestConsent,
		method: http.MethodPost,
		path:   "/account-consents/request",
		token:  token,
		body:   body,
	}, &resp)
	if err != nil {
		return core.ConsentRecord{}, err
	}

	status, consentID, requestID := resp.merged()
	rec := core.ConsentRecord{
		Bank:         t.cred.Bank,
		ClientID:     clientID,
		ConsentID:    consentID,
		RequestID:    requestID,
		Status:       parseConsentStatus(status, consentID),
		AutoApproved: resp.AutoApproved,
		Permissions:  permissions,
		CreatedAt:    t.now(),
	}
	return t.checkConsent(log.OpRequestConsent, rec)
}

// consentStatus re-reads a consent previously requested, typically a pending one.
func (t *transport) consentStatus(ctx context.Context, token string, rec core.ConsentRecord) (core.ConsentRecord, error) {
	id := rec.ConsentID
	if id == "" {
		id = rec.RequestID
	}
	if id == "" {
		return rec, t.wrap(log.OpConsentStatus, 0, fmt.Errorf("%w: consent has neither id nor request id", core.ErrInvalidInput))
	}

	var resp consentResponse
	err := t.do(ctx, call{
		op:     log.OpConsentStatus,
		method: http.MethodGet,
		path:   "/account-consents/" + url.PathEscape(id),
		query:  dataQuery(rec.ClientID),
		token:  token,
	}, &resp)
	if err != nil {
		return rec, err
	}

	status, consentID, _ := resp.merged()
	if consentID != "" {
		rec.ConsentID = consentID
	}
	rec.Status = parseConsentStatus(status, rec.ConsentID)
	return t.checkConsent(log.OpConsentStatus, rec)
}

func (t *transport) checkConsent(op string, rec core.ConsentRecord) (core.ConsentRecord, error) {
	switch rec.Status {
	case core.ConsentRejected:
		return rec, t.wrap(op, http.StatusOK, fmt.Errorf("%w: bank rejected the consent", core.ErrConsentDenied))
	case core.ConsentApproved:
		if rec.ConsentID == "" {
			return rec, t.wrap(op, http.StatusOK, fmt.Errorf("%w: approved consent without consent id", core.ErrUpstream))
		}
	case core.ConsentPending:
		if rec.ConsentID == "" && rec.RequestID == "" {
			return rec, t.wrap(op, http.StatusOK, fmt.Errorf("%w: pending consent without request id", core.ErrUpstream))
		}
	}
	return rec, nil
}
