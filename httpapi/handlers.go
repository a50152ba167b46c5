package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/deskflow/authcore"
	"github.com/deskflow/authcore/external"
	"github.com/deskflow/authcore/middleware"
)

type credentialsRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type externalRequest struct {
	Proof      map[string]string `json:"proof"`
	RememberMe bool              `json:"remember_me"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	IdentityID  string `json:"identity_id,omitempty"`
	Role        string `json:"role,omitempty"`
	Provisioned bool   `json:"provisioned,omitempty"`
}

type sessionResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
	UserAgent string `json:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "not ready")
		return
	}
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	res, err := h.engine.Register(r.Context(), authcore.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
	}, h.client(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{
		"identity_id":       res.IdentityID,
		"verification_sent": res.VerificationSent,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	res, err := h.engine.Login(r.Context(), req.Email, req.Password, req.RememberMe, h.client(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeLogin(w, res)
}

func (h *Handler) external(w http.ResponseWriter, r *http.Request) {
	var req externalRequest
	if err := decodeBody(r, &req); err != nil || len(req.Proof) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	res, err := h.engine.AuthenticateExternal(r.Context(), external.Proof(req.Proof), req.RememberMe, h.client(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeLogin(w, res)
}

func (h *Handler) writeLogin(w http.ResponseWriter, res *authcore.LoginResult) {
	h.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeSuccess(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(res.ExpiresIn.Seconds()),
		IdentityID:  res.IdentityID,
		Role:        res.Role,
		Provisioned: res.Provisioned,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	token := h.refreshCookie(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "TOKEN_MALFORMED", "missing refresh cookie")
		return
	}
	res, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		if !errorIsUnavailable(err) {
			h.clearRefreshCookie(w)
		}
		writeEngineError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(res.ExpiresIn.Seconds()),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if token := h.refreshCookie(r); token != "" {
		if err := h.engine.Logout(r.Context(), token); err != nil && errorIsUnavailable(err) {
			writeEngineError(w, err)
			return
		}
	}
	h.clearRefreshCookie(w)
	writeMessage(w, http.StatusOK, "logged out")
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.LogoutAll(r.Context(), auth.IdentityID); err != nil {
		writeEngineError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	writeMessage(w, http.StatusOK, "all sessions revoked")
}

func (h *Handler) passwordForgot(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if err := h.engine.RequestPasswordReset(r.Context(), req.Email, h.client(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeMessage(w, http.StatusAccepted, "if the address is registered, a reset link is on its way")
}

func (h *Handler) passwordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeEngineError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "password updated")
}

func (h *Handler) passwordChange(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	auth, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.ChangePassword(r.Context(), auth.IdentityID, req.CurrentPassword, req.NewPassword); err != nil {
		writeEngineError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	writeMessage(w, http.StatusOK, "password updated")
}

func (h *Handler) emailVerify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if err := h.engine.VerifyEmail(r.Context(), req.Token); err != nil {
		writeEngineError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "email verified")
}

func (h *Handler) emailVerifyRequest(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.RequestEmailVerification(r.Context(), auth.IdentityID, h.client(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeMessage(w, http.StatusAccepted, "verification email sent")
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	list, err := h.engine.Sessions(r.Context(), auth.IdentityID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, sessionResponse{
			ID:        s.ID,
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
			ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
			UserAgent: s.UserAgent,
			IP:        s.IP,
		})
	}
	writeSuccess(w, http.StatusOK, map[string]any{"sessions": out})
}
