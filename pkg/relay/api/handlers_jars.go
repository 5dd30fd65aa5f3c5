package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ericyarmo/buds-relay/pkg/relay/service"
	"github.com/ericyarmo/buds-relay/pkg/validate"
)

// StoreReceipt appends a signed receipt to a jar's log.
func (h *Handlers) StoreReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptData string `json:"receipt_data"`
		Signature   string `json:"signature"`
		ReceiptCID  string `json:"receipt_cid,omitempty"`
	}
	if !h.decodeJSONBody(w, r, &req) {
		return
	}

	data, err := validate.DecodeBase64(req.ReceiptData)
	if err != nil || len(data) == 0 {
		writeErrorCode(w, r, http.StatusBadRequest, CodeValidation, "receipt_data must be non-empty base64", nil)
		return
	}
	sig, err := validate.DecodeBase64(req.Signature)
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, CodeValidation, "signature must be base64", nil)
		return
	}

	res, err := h.svc.StoreReceipt(r.Context(), &service.StoreReceiptRequest{
		JarID:       chi.URLParam(r, "jar_id"),
		ReceiptData: data,
		Signature:   sig,
		ClaimedCID:  req.ReceiptCID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetReceipts backfills a jar's log for an active member. Query modes:
// after&limit, or from&to.
func (h *Handlers) GetReceipts(w http.ResponseWriter, r *http.Request) {
	did, ok := h.callerDID(w, r)
	if !ok {
		return
	}

	q := service.ReceiptQuery{}
	query := r.URL.Query()
	parse := func(name string) (*int64, bool) {
		s := query.Get(name)
		if s == "" {
			return nil, true
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeErrorCode(w, r, http.StatusBadRequest, CodeValidation, name+" must be an integer", nil)
			return nil, false
		}
		return &v, true
	}

	var okParse bool
	if q.After, okParse = parse("after"); !okParse {
		return
	}
	if q.From, okParse = parse("from"); !okParse {
		return
	}
	if q.To, okParse = parse("to"); !okParse {
		return
	}
	if limit, okParse := parse("limit"); !okParse {
		return
	} else if limit != nil {
		q.Limit = int(*limit)
	}

	receipts, err := h.svc.Receipts(r.Context(), did, chi.URLParam(r, "jar_id"), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

// ListJars returns the caller's active jar memberships.
func (h *Handlers) ListJars(w http.ResponseWriter, r *http.Request) {
	did, ok := h.callerDID(w, r)
	if !ok {
		return
	}
	jars, err := h.svc.ListJars(r.Context(), did)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jars": jars})
}
