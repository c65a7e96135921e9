package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/oauth2-device-server/internal/deviceflow"
	"github.com/wrale/oauth2-device-server/internal/templates"
	"github.com/wrale/oauth2-device-server/internal/validation"
)

// tokenError is the OAuth error response body per RFC 6749 section 5.2
type tokenError struct {
	Error    string `json:"error"`
	Interval int    `json:"interval,omitempty"`
}

// Health check handler
func (s *server) handleHealth() http.HandlerFunc {
	type healthResponse struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Version: Version}
		if err := s.checkHealth(r.Context()); err != nil {
			resp.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		s.writeJSON(w, resp)
	}
}

// Device authorization handler implements RFC 8628 section 3.2
func (s *server) handleDeviceAuthorization() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.writeTokenError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		clientID := r.Form.Get("client_id")
		if clientID == "" {
			s.metrics.AuthorizationRequests.WithLabelValues("invalid_request").Inc()
			s.writeTokenError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		authorization, err := s.flow.RequestDeviceCode(r.Context(), clientID, r.Form.Get("scope"))
		if err != nil {
			switch {
			case errors.Is(err, deviceflow.ErrInvalidClient):
				s.metrics.AuthorizationRequests.WithLabelValues("invalid_client").Inc()
				s.writeTokenError(w, http.StatusUnauthorized, "invalid_client")
			case errors.Is(err, deviceflow.ErrInvalidScope):
				s.metrics.AuthorizationRequests.WithLabelValues("invalid_scope").Inc()
				s.writeTokenError(w, http.StatusBadRequest, "invalid_scope")
			default:
				s.metrics.AuthorizationRequests.WithLabelValues("server_error").Inc()
				s.logger.Error("device authorization failed", zap.Error(err))
				s.writeTokenError(w, http.StatusInternalServerError, "server_error")
			}
			return
		}

		s.metrics.AuthorizationRequests.WithLabelValues("ok").Inc()
		s.writeJSON(w, authorization)
	}
}

// Token polling handler implements RFC 8628 sections 3.4 and 3.5
func (s *server) handleToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			s.metrics.PollDuration.Observe(time.Since(start).Seconds())
		}()

		if err := r.ParseForm(); err != nil {
			s.writeTokenError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		if r.Form.Get("grant_type") != deviceflow.GrantType {
			s.writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type")
			return
		}

		deviceCode := r.Form.Get("device_code")
		clientID := r.Form.Get("client_id")
		if deviceCode == "" || clientID == "" {
			s.writeTokenError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		tokens, err := s.flow.Poll(r.Context(), deviceCode, clientID)
		if err != nil {
			s.writePollError(w, err)
			return
		}

		s.metrics.TokenPolls.WithLabelValues("issued").Inc()
		s.writeJSON(w, tokens)
	}
}

// writePollError maps flow sentinels to RFC 8628 section 3.5 error codes
func (s *server) writePollError(w http.ResponseWriter, err error) {
	var slowDown *deviceflow.SlowDownError

	switch {
	case errors.Is(err, deviceflow.ErrAuthorizationPending):
		s.metrics.TokenPolls.WithLabelValues("authorization_pending").Inc()
		s.writeTokenError(w, http.StatusBadRequest, "authorization_pending")
	case errors.As(err, &slowDown):
		s.metrics.TokenPolls.WithLabelValues("slow_down").Inc()
		s.writeJSONStatus(w, http.StatusBadRequest, tokenError{
			Error:    "slow_down",
			Interval: slowDown.Interval,
		})
	case errors.Is(err, deviceflow.ErrAccessDenied):
		s.metrics.TokenPolls.WithLabelValues("access_denied").Inc()
		s.writeTokenError(w, http.StatusBadRequest, "access_denied")
	case errors.Is(err, deviceflow.ErrExpiredCode):
		s.metrics.TokenPolls.WithLabelValues("expired_token").Inc()
		s.writeTokenError(w, http.StatusBadRequest, "expired_token")
	case errors.Is(err, deviceflow.ErrInvalidGrant):
		s.metrics.TokenPolls.WithLabelValues("invalid_grant").Inc()
		s.writeTokenError(w, http.StatusBadRequest, "invalid_grant")
	default:
		s.metrics.TokenPolls.WithLabelValues("server_error").Inc()
		s.logger.Error("token poll failed", zap.Error(err))
		s.writeTokenError(w, http.StatusInternalServerError, "server_error")
	}
}

// Verification form handler per RFC 8628 section 3.3
func (s *server) handleVerifyForm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		csrfToken, err := s.csrf.GenerateToken(r.Context())
		if err != nil {
			s.logger.Error("generating csrf token", zap.Error(err))
			s.renderError(w, http.StatusInternalServerError, "Something went wrong",
				"Please try again.")
			return
		}

		if err := s.templates.RenderVerify(w, templates.VerifyData{
			PrefilledCode: r.URL.Query().Get("user_code"),
			CSRFToken:     csrfToken,
		}); err != nil {
			s.logger.Error("rendering verify page", zap.Error(err))
		}
	}
}

// Verification submit handler: binds an authenticated subject's
// approve/deny decision to the pending device request.
func (s *server) handleVerifySubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.renderError(w, http.StatusBadRequest, "Invalid request", "The form could not be read.")
			return
		}

		if err := s.csrf.ValidateToken(r.Context(), r.Form.Get("csrf_token")); err != nil {
			s.renderError(w, http.StatusBadRequest, "Session expired",
				"Your session expired. Please try again.")
			return
		}

		// Authentication is the host's concern; this server only
		// consumes the already-verified subject it passes along.
		subject := r.Header.Get(s.cfg.SubjectHeader)
		if subject == "" {
			s.renderError(w, http.StatusUnauthorized, "Sign in required",
				"You must be signed in to authorize a device.")
			return
		}

		userCode := r.Form.Get("user_code")
		action := r.Form.Get("action")

		if s.upstream != nil && action == "approve" {
			// Upstream mode: confirm the code exists, then send the
			// user to the upstream server; the callback completes the
			// authorization with upstream tokens.
			if _, err := s.flow.VerifyUserCode(r.Context(), userCode); err != nil {
				s.renderVerifyError(w, r, err)
				return
			}
			state := validation.NormalizeCode(userCode)
			http.Redirect(w, r, s.upstream.AuthCodeURL(state), http.StatusFound)
			return
		}

		var err error
		switch action {
		case "approve":
			err = s.flow.Approve(r.Context(), userCode, subject)
		case "deny":
			err = s.flow.Deny(r.Context(), userCode, subject)
		default:
			s.renderError(w, http.StatusBadRequest, "Invalid request", "Unknown action.")
			return
		}
		if err != nil {
			s.renderVerifyError(w, r, err)
			return
		}

		s.metrics.VerificationDecisions.WithLabelValues(action).Inc()
		message := "You have successfully authorized the device. You may now close this window."
		if action == "deny" {
			message = "The device request has been denied. You may now close this window."
		}
		if err := s.templates.RenderComplete(w, templates.CompleteData{Message: message}); err != nil {
			s.logger.Error("rendering complete page", zap.Error(err))
		}
	}
}

// Upstream callback handler completes an upstream-delegated approval
func (s *server) handleUpstreamCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode := r.URL.Query().Get("state")
		authCode := r.URL.Query().Get("code")
		if userCode == "" || authCode == "" {
			s.renderError(w, http.StatusBadRequest, "Authorization failed",
				"Missing state or authorization code.")
			return
		}

		tokens, subject, err := s.upstream.Exchange(r.Context(), authCode)
		if err != nil {
			s.logger.Error("upstream code exchange failed", zap.Error(err))
			s.renderError(w, http.StatusBadGateway, "Authorization failed",
				"Unable to complete authorization with the identity provider.")
			return
		}

		if err := s.flow.CompleteAuthorization(r.Context(), userCode, subject, tokens); err != nil {
			s.renderVerifyError(w, r, err)
			return
		}

		s.metrics.VerificationDecisions.WithLabelValues("approve").Inc()
		if err := s.templates.RenderComplete(w, templates.CompleteData{
			Message: "You have successfully authorized the device. You may now close this window.",
		}); err != nil {
			s.logger.Error("rendering complete page", zap.Error(err))
		}
	}
}

// renderVerifyError shows verification failures. Unknown and expired
// codes share one generic message so the page is not a guessing oracle.
func (s *server) renderVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, deviceflow.ErrInvalidUserCode):
		csrfToken, tokenErr := s.csrf.GenerateToken(r.Context())
		if tokenErr != nil {
			s.renderError(w, http.StatusInternalServerError, "Something went wrong", "Please try again.")
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		if renderErr := s.templates.RenderVerify(w, templates.VerifyData{
			CSRFToken: csrfToken,
			Error:     "Invalid or expired code. Check the code on your device and try again.",
		}); renderErr != nil {
			s.logger.Error("rendering verify page", zap.Error(renderErr))
		}
	case errors.Is(err, deviceflow.ErrAlreadyActioned):
		s.renderError(w, http.StatusConflict, "Code already used",
			"This code has already been approved or denied.")
	default:
		s.logger.Error("verification failed", zap.Error(err))
		s.renderError(w, http.StatusInternalServerError, "Something went wrong", "Please try again.")
	}
}

func (s *server) renderError(w http.ResponseWriter, status int, title, message string) {
	w.WriteHeader(status)
	if err := s.templates.RenderError(w, templates.ErrorData{Title: title, Message: message}); err != nil {
		s.logger.Error("rendering error page", zap.Error(err))
	}
}

func (s *server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", zap.Error(err))
	}
}

func (s *server) writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", zap.Error(err))
	}
}

func (s *server) writeTokenError(w http.ResponseWriter, status int, code string) {
	s.writeJSONStatus(w, status, tokenError{Error: code})
}
