package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bridgeerrors "github.com/PentesterFlow/WebviewBridge/internal/errors"
	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

type pageResponse struct {
	Success bool              `json:"success"`
	Page    int               `json:"page"`
	Data    []bridge.ListItem `json:"data"`
}

type detailsResponse struct {
	Success bool          `json:"success"`
	Details bridge.Record `json:"details"`
	Prices  bridge.Record `json:"prices"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Type    string `json:"type,omitempty"`
}

// handleFetchPageData navigates the default session to one page of the
// catalog and returns the extracted list.
func (s *Server) handleFetchPageData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parsePage(q.Get("page"))
	base := q.Get("base_url")
	if base == "" {
		base = s.settings.DefaultTargetURL
	}

	sessionID := s.client.DefaultSession()
	target := bridge.SetQueryParam(base, "page", page)
	log := s.log.WithSession(sessionID).WithField("page", page)
	log.Infof("Fetching list page %d: %s", page, target)

	stage := "Navigation"
	var items []bridge.ListItem
	err := s.client.Exclusive(r.Context(), sessionID, func(ctx context.Context) error {
		if _, err := s.client.Navigate(ctx, sessionID, target); err != nil {
			return err
		}
		stage = "Data extraction"
		var err error
		items, err = s.client.ExtractListData(ctx, sessionID, s.settings.ListDelay)
		return err
	})
	if err != nil {
		log.WithError(err).Warnf("%s failed for page %d", stage, page)
		respondFailure(w, fmt.Sprintf("%s failed for page %d", stage, page), err)
		return
	}

	log.Infof("Extracted %d items for page %d", len(items), page)
	respondJSON(w, http.StatusOK, pageResponse{Success: true, Page: page, Data: items})
}

// handleFetchDetails navigates the default session to a product page and
// returns its details and prices.
func (s *Server) handleFetchDetails(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing required 'url' query parameter."})
		return
	}

	target, err := parseTarget(raw)
	if err != nil {
		s.log.WithError(err).Warnf("Rejected url parameter %q", raw)
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("Invalid 'url' parameter format or encoding: %v", err),
		})
		return
	}

	sessionID := s.client.DefaultSession()
	log := s.log.WithSession(sessionID)
	log.Infof("Fetching details and prices: %s", target)

	stage := "Navigation"
	var result *bridge.DetailResult
	err = s.client.Exclusive(r.Context(), sessionID, func(ctx context.Context) error {
		if _, err := s.client.Navigate(ctx, sessionID, target); err != nil {
			return err
		}
		stage = "Data extraction"
		if err := bridge.Pause(ctx, s.settings.DetailDelay); err != nil {
			return err
		}
		var err error
		result, err = s.client.ExtractDetails(ctx, sessionID)
		return err
	})
	if err != nil {
		log.WithError(err).Warnf("%s failed for book page", stage)
		respondFailure(w, stage+" failed for book page", err)
		return
	}

	respondJSON(w, http.StatusOK, detailsResponse{
		Success: true,
		Details: result.Details,
		Prices:  result.Prices,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	session := s.client.DefaultSession()
	limits := s.limiter.Stats()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"session":      session,
		"session_busy": s.client.Busy(session),
		"sessions":     s.client.Config().SessionIDs(),
		"rate_limit":   limits,
		"time":         time.Now().UTC().Format(time.RFC3339),
	})
}

// parsePage returns the requested page, or 1 when it is missing, not a
// number or not positive.
func parsePage(raw string) int {
	page, err := strconv.Atoi(raw)
	if err != nil || page <= 0 {
		return 1
	}
	return page
}

// parseTarget decodes the url parameter once more, since callers commonly
// encode it twice, and requires an absolute URL.
func parseTarget(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	if err := bridge.CheckTarget(decoded); err != nil {
		return "", err
	}
	return decoded, nil
}

// StatusFor maps a bridge failure to the status returned to the caller.
func StatusFor(err error) int {
	switch bridgeerrors.GetErrorType(err) {
	case bridgeerrors.Connection:
		return http.StatusBadGateway
	case bridgeerrors.ClientTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondFailure(w http.ResponseWriter, prefix string, err error) {
	msg := err.Error()
	var be *bridgeerrors.BridgeError
	if errors.As(err, &be) {
		msg = be.Message
	}
	respondJSON(w, StatusFor(err), errorResponse{
		Error: prefix + ": " + msg,
		Type:  bridgeerrors.GetErrorType(err).String(),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
