package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scms-access-service/internal/domain/identity"
	"scms-access-service/internal/middleware"
	xerrors "scms-access-service/internal/pkg/errors"
	"scms-access-service/internal/pkg/jwt"
	"scms-access-service/internal/pkg/rbac"
	"scms-access-service/internal/pkg/response"
	"scms-access-service/internal/pkg/session"
	"scms-access-service/internal/service/access"
)

type AuthHandler struct {
	controller *access.Controller
	jwtManager *jwt.Manager
	sessions   session.Store
	logger     *zap.Logger
}

func NewAuthHandler(controller *access.Controller, jwtManager *jwt.Manager, sessions session.Store, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		controller: controller,
		jwtManager: jwtManager,
		sessions:   sessions,
		logger:     logger,
	}
}

// Login authenticates the dashboard user and issues an access token. The
// response carries the resolved role so the client can route to the right
// dashboard.
func (h *AuthHandler) Login(c *gin.Context) {
	var req identity.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	role, err := h.controller.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Warn("login failed",
			zap.String("email", req.Email),
			zap.Error(err),
		)
		response.Error(c, statusForAuthErr(err), "login failed", err)
		return
	}

	resp, err := h.issueToken(c, role)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to issue token", err)
		return
	}

	response.Success(c, http.StatusOK, "login successful", resp)
}

// Register creates a manager account and signs it in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req identity.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	role, err := h.controller.Register(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("registration failed",
			zap.String("email", req.Email),
			zap.Error(err),
		)
		response.Error(c, statusForAuthErr(err), "registration failed", err)
		return
	}

	resp, err := h.issueToken(c, role)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to issue token", err)
		return
	}

	response.Success(c, http.StatusCreated, "registration successful", resp)
}

// Logout ends the session and revokes the caller's token.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	jti, _ := middleware.GetJTI(c)

	logoutErr := h.controller.Logout(c.Request.Context())

	// The token is revoked even when the audit write failed: the session is
	// already cleared and a live token must not outlive it.
	if jti != "" {
		if err := h.sessions.Invalidate(c.Request.Context(), userID, jti); err != nil {
			h.logger.Error("failed to invalidate session cache", zap.Error(err))
		}
		if err := h.sessions.BlacklistToken(c.Request.Context(), jti, h.jwtManager.Generator.TTL); err != nil {
			h.logger.Error("failed to blacklist token", zap.Error(err))
		}
	}

	if logoutErr != nil {
		response.Error(c, http.StatusInternalServerError, "logout completed with errors", logoutErr)
		return
	}

	response.Success(c, http.StatusOK, "logout successful", nil)
}

// GetSession returns the current session snapshot. The dashboard renders
// its loading view while the state is pending.
func (h *AuthHandler) GetSession(c *gin.Context) {
	snap := h.controller.Session()

	view := identity.SessionView{State: snap.State}
	if snap.User != nil {
		view.User = &identity.UserInfo{
			ID:          snap.User.ID,
			Email:       snap.User.Email,
			Username:    snap.User.Username,
			Role:        snap.User.Role,
			Permissions: rbac.PermissionsFor(snap.User.Role),
		}
	}

	response.Success(c, http.StatusOK, "session", view)
}

// CheckPermission answers a single permission query for the current session.
func (h *AuthHandler) CheckPermission(c *gin.Context) {
	token := rbac.Permission(c.Param("token"))
	response.Success(c, http.StatusOK, "permission", gin.H{
		"permission": token,
		"allowed":    h.controller.HasPermission(token),
	})
}

// Guard is the routing layer's admission query: admit the navigation or
// say where to redirect.
func (h *AuthHandler) Guard(c *gin.Context) {
	var req identity.GuardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	required := make([]rbac.Permission, 0, len(req.Required))
	for _, p := range req.Required {
		required = append(required, rbac.Permission(p))
	}

	response.Success(c, http.StatusOK, "guard decision", h.controller.Guard(required, req.Path))
}

// issueToken builds the login response for the now-authenticated session.
func (h *AuthHandler) issueToken(c *gin.Context, role rbac.Role) (*identity.LoginResponse, error) {
	snap := h.controller.Session()
	if snap.User == nil {
		return nil, xerrors.ErrUnexpected
	}
	user := snap.User
	perms := rbac.PermissionsFor(role)

	token, jti, err := h.jwtManager.Generator.GenerateAccessToken(user.ID, role, perms)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(h.jwtManager.Generator.TTL)
	if err := h.sessions.Create(c.Request.Context(), &session.Data{
		JTI:         jti,
		UserID:      user.ID,
		Email:       user.Email,
		Role:        role,
		Permissions: perms,
		LoginAt:     time.Now(),
		ExpiresAt:   expiresAt,
	}); err != nil {
		return nil, err
	}

	return &identity.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.jwtManager.Generator.TTL.Seconds()),
		ExpiresAt:   expiresAt,
		User: identity.UserInfo{
			ID:          user.ID,
			Email:       user.Email,
			Username:    user.Username,
			Role:        role,
			Permissions: perms,
		},
	}, nil
}

// statusForAuthErr maps the failure taxonomy onto HTTP statuses so the
// client can tell retry apart from correction.
func statusForAuthErr(err error) int {
	switch {
	case errors.Is(err, xerrors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, xerrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, xerrors.ErrNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, xerrors.ErrAccountIncomplete), errors.Is(err, xerrors.ErrInvalidRole):
		return http.StatusForbidden
	case errors.Is(err, xerrors.ErrDuplicateEntry):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
