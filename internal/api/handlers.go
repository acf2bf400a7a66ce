package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
	"github.com/Klingon-tech/klingnet-faucet/internal/faucetdb"
)

// secretHeader carries the admin secret on the rebalance endpoint.
const secretHeader = "X-Faucet-Secret"

// defaultHistory is the page size of /history without a limit.
const defaultHistory = 50

// Messages shown to faucet users.
const (
	msgInvalidAddress = "Not a valid address."
	msgFaucetEmpty    = "Faucet is temporarily empty :("
	msgServerError    = "Server error."
	msgNoBaton        = "No group token available."
	msgUnauthorized   = "Unauthorized."
	msgRebalanced     = "Token distribution instantiated..."
	msgClosed         = "Faucet is shutting down."
)

type sendRequest struct {
	Address string `json:"address"`
}

type sendResponse struct {
	TxID    string `json:"txid,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
	Spender string `json:"spender,omitempty"`
}

type rebalanceRequest struct {
	Secret string `json:"secret"`
}

type rebalanceResponse struct {
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	BaseTxID  string `json:"base_txid,omitempty"`
	TokenTxID string `json:"token_txid,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type historyResponse struct {
	Entries []faucetdb.Entry `json:"entries"`
}

// handleRequest disburses to the posted address. An address equal to the
// admin secret runs a rebalance instead.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req, func(form url.Values) { req.Address = form.Get("address") }); err != nil {
		s.observe("request", "invalid")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if s.faucet.IsAdminSecret(req.Address) {
		s.rebalance(w, r, req.Address, "request")
		return
	}

	res, err := s.faucet.HandleSend(r.Context(), req.Address)
	if err != nil {
		status, msg := errorStatus(err)
		s.logger.Warn().Err(err).Int("status", status).Msg("Send request failed")
		s.observe("request", outcome(status))
		writeJSON(w, status, sendResponse{Error: msg})
		return
	}

	s.observe("request", "ok")
	writeJSON(w, http.StatusOK, sendResponse{TxID: res.TxID, Spender: res.Spender.String()})
}

func (s *Server) handleAdminRebalance(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(secretHeader)
	if secret == "" {
		var req rebalanceRequest
		if err := decodeBody(r, &req, func(form url.Values) { req.Secret = form.Get("secret") }); err != nil {
			s.observe("rebalance", "invalid")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		secret = req.Secret
	}
	s.rebalance(w, r, secret, "rebalance")
}

func (s *Server) rebalance(w http.ResponseWriter, r *http.Request, secret, route string) {
	res, err := s.faucet.HandleAdminRebalance(r.Context(), secret)
	if err != nil {
		status, msg := errorStatus(err)
		if !errors.Is(err, faucet.ErrUnauthorized) {
			s.logger.Error().Err(err).Msg("Rebalance failed")
		}
		s.observe(route, outcome(status))
		if res != nil {
			// The base split went out before the token step failed.
			writeJSON(w, status, rebalanceResponse{Error: msg, BaseTxID: res.BaseTxID})
			return
		}
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}

	s.observe(route, "ok")
	writeJSON(w, http.StatusOK, rebalanceResponse{
		Status:    msgRebalanced,
		BaseTxID:  res.BaseTxID,
		TokenTxID: res.TokenTxID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.faucet.Status()
	if s.metrics != nil {
		s.metrics.ObserveStatus(st)
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history disabled"})
		return
	}

	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Read history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgServerError})
		return
	}
	if entries == nil {
		entries = []faucetdb.Entry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.metrics.ObserveStatus(s.faucet.Status())
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) observe(route, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(route, outcome)
	}
}

// errorStatus maps a controller error to an HTTP status and the message
// shown to the user.
func errorStatus(err error) (int, string) {
	var subErr *faucet.SubmissionError
	switch {
	case errors.Is(err, faucet.ErrInvalidDestination):
		return http.StatusBadRequest, msgInvalidAddress
	case errors.Is(err, faucet.ErrUnauthorized):
		return http.StatusUnauthorized, msgUnauthorized
	case errors.Is(err, faucet.ErrFaucetEmpty):
		return http.StatusServiceUnavailable, msgFaucetEmpty
	case errors.As(err, &subErr):
		// A ledger error is hidden; a rejected submission shows what the
		// node said.
		if subErr.Err != nil {
			return http.StatusBadGateway, msgServerError
		}
		return http.StatusBadGateway, subErr.Detail
	case errors.Is(err, faucet.ErrLedgerUnavailable):
		return http.StatusBadGateway, msgServerError
	case errors.Is(err, faucet.ErrMissingBaton):
		return http.StatusServiceUnavailable, msgNoBaton
	case errors.Is(err, faucet.ErrClosed):
		return http.StatusServiceUnavailable, msgClosed
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func outcome(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusServiceUnavailable:
		return "empty"
	default:
		return "failed"
	}
}

// decodeBody reads a JSON body into v, or hands a url-encoded form to
// fromForm.
func decodeBody(r *http.Request, v interface{}, fromForm func(url.Values)) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(body) > maxBodySize {
		return errors.New("request body too large")
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return errors.New("invalid form")
		}
		fromForm(form)
		return nil
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
