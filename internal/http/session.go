package http

import (
	"errors"
	"net/http"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/auth"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/identity"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/logging"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Success: false, Message: "Invalid request body"})
		return
	}

	verified, err := s.verifier.Verify(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrMissingCredentials):
			writeJSON(w, http.StatusBadRequest, statusResponse{Success: false, Message: identity.Message(err)})
		case identity.IsRejection(err):
			writeJSON(w, http.StatusUnauthorized, statusResponse{Success: false, Message: identity.Message(err)})
		default:
			s.logger.WithError(err).Error(r.Context(), "credential verification failed")
			writeJSON(w, http.StatusInternalServerError, statusResponse{
				Success: false,
				Message: identity.Message(err),
				Code:    serverErrorCode,
			})
		}
		return
	}

	if !s.issueSession(w, r, verified) {
		return
	}
	s.logger.WithField("userId", verified.UserID).Info(r.Context(), "user logged in")
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: identity.Message(nil)})
}

// handleRefresh rotates the credential pair using the refresh cookie. The
// presented refresh token is consumed before anything is issued, so each one
// rotates at most once.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	value, ok := s.cookies.ReadRefresh(r)
	if !ok {
		s.rejectSession(w, "Session expired")
		return
	}
	claims, err := s.codec.Parse(value, auth.KindRefresh)
	if err != nil {
		s.rejectSession(w, "Session expired")
		return
	}

	consumed, err := s.revocations.Consume(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		s.logger.WithError(err).Error(ctx, "refresh token claim failed")
		writeJSON(w, http.StatusInternalServerError, statusResponse{Success: false, Message: "Internal server error", Code: serverErrorCode})
		return
	}
	if !consumed {
		s.logger.WithField("userId", claims.UserID).Warn(ctx, "refresh token replayed")
		s.rejectSession(w, "Session expired")
		return
	}

	verified, err := s.verifier.Lookup(ctx, claims.UserID)
	if err != nil {
		if identity.IsRejection(err) {
			s.rejectSession(w, identity.Message(err))
			return
		}
		s.logger.WithError(err).Error(ctx, "user lookup failed")
		writeJSON(w, http.StatusInternalServerError, statusResponse{Success: false, Message: "Internal server error", Code: serverErrorCode})
		return
	}

	if !s.issueSession(w, r, verified) {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Session refreshed"})
}

// handleLogout always succeeds: both cookies are cleared whether or not a
// session exists. Revoking the refresh token is best effort.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if value, ok := s.cookies.ReadRefresh(r); ok {
		if claims, err := s.codec.Parse(value, auth.KindRefresh); err == nil {
			if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
				s.logger.WithError(err).Warn(ctx, "failed to revoke refresh token on logout")
			}
			ctx = s.logger.WithContext(ctx, logging.Fields{"userId": claims.UserID})
		}
	}

	s.cookies.Apply(w, s.cookies.Clear())
	s.logger.Info(ctx, "user logged out")
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Logged out successfully"})
}

func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, verified auth.Identity) bool {
	pair, err := s.codec.Issue(verified)
	if err != nil {
		s.logger.WithError(err).Error(r.Context(), "token issue failed")
		writeJSON(w, http.StatusInternalServerError, statusResponse{Success: false, Message: "Internal server error", Code: serverErrorCode})
		return false
	}
	s.cookies.Apply(w, s.cookies.Issue(pair, s.opts.Now()))
	return true
}

func (s *Server) rejectSession(w http.ResponseWriter, message string) {
	s.cookies.Apply(w, s.cookies.Clear())
	writeJSON(w, http.StatusUnauthorized, statusResponse{Success: false, Message: message})
}
