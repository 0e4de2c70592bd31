package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"authapi/config"
	"authapi/crypto"
	"authapi/database"
	"authapi/metrics"
	"authapi/middleware"
	"authapi/services"
	"authapi/utils"
)

// UserStore is the user persistence the auth handlers rely on.
type UserStore interface {
	Create(ctx context.Context, email, name, passwordHash string) (*database.User, error)
	GetByEmail(ctx context.Context, email string) (*database.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*database.User, error)
	RecordFailedLogin(ctx context.Context, id uuid.UUID) (int, error)
	LockUntil(ctx context.Context, id uuid.UUID, until time.Time) error
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetMFASecret(ctx context.Context, id uuid.UUID, encrypted []byte) error
	EnableMFA(ctx context.Context, id uuid.UUID) error
	DisableMFA(ctx context.Context, id uuid.UUID) error
	SetBackupCodes(ctx context.Context, id uuid.UUID, hashes [][]byte) error
	ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash []byte) (bool, error)
	BackupCodesRemaining(ctx context.Context, id uuid.UUID) (int, error)
	LogAudit(ctx context.Context, userID uuid.UUID, action, ip, userAgent string) error
}

// SessionManager is the session lifecycle the auth handlers rely on.
type SessionManager interface {
	middleware.SessionChecker
	Create(ctx context.Context, userID uuid.UUID, ipAddr, userAgent string) (*services.SessionData, string, error)
	Rotate(ctx context.Context, refreshToken string) (*services.SessionData, string, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAll(ctx context.Context, userID uuid.UUID, keepSessionID string) (int, error)
}

// RegistrationPolicy decides which addresses may create accounts.
type RegistrationPolicy interface {
	Allows(email string) bool
}

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	users    UserStore
	sessions SessionManager
	tokens   *services.TokenIssuer
	crypto   *crypto.CryptoService
	events   services.EventPublisher
	validate *validator.Validate
	domains  RegistrationPolicy

	maxLoginAttempts    int
	lockoutDuration     time.Duration
	mfaIssuer           string
	registrationEnabled bool
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(users UserStore, sessions SessionManager, tokens *services.TokenIssuer, cryptoService *crypto.CryptoService, events services.EventPublisher, cfg *config.Config) *AuthHandler {
	if events == nil {
		events = services.NopPublisher{}
	}
	return &AuthHandler{
		users:               users,
		sessions:            sessions,
		tokens:              tokens,
		crypto:              cryptoService,
		events:              events,
		validate:            NewValidator(),
		maxLoginAttempts:    cfg.MaxLoginAttempts,
		lockoutDuration:     cfg.LockoutDuration,
		mfaIssuer:           cfg.MFAIssuer,
		registrationEnabled: cfg.RegistrationEnabled,
	}
}

// SetRegistrationPolicy restricts Register to addresses p allows.
func (h *AuthHandler) SetRegistrationPolicy(p RegistrationPolicy) {
	h.domains = p
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=12,max=128"`
	Name     string `json:"name" validate:"omitempty,max=100"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,max=128"`
	MFACode    string `json:"mfa_code,omitempty" validate:"omitempty,len=6,numeric"`
	BackupCode string `json:"backup_code,omitempty" validate:"omitempty,max=32"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,hexadecimal,len=64"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,min=12,max=128,nefield=CurrentPassword"`
}

type mfaCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// TokenResponse is returned by register, login, and refresh.
type TokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int            `json:"expires_in"`
	User         *database.User `json:"user,omitempty"`
}

// RegisterRoutes mounts the auth endpoints on router (the /api/auth group).
func (h *AuthHandler) RegisterRoutes(router fiber.Router, limits *middleware.RateLimitConfig) {
	requireAuth := middleware.JWTMiddleware(h.tokens, h.sessions)

	router.Get("/registration", limits.LightweightLimiter, h.RegistrationStatus)
	router.Post("/register", limits.RegisterLimiter, h.Register)
	router.Post("/login", limits.AuthLimiter, h.Login)
	router.Post("/refresh", limits.RefreshLimiter, h.Refresh)

	router.Post("/logout", requireAuth, h.Logout)
	router.Post("/logout-all", requireAuth, h.LogoutAll)
	router.Get("/me", limits.LightweightLimiter, requireAuth, h.Me)
	router.Put("/password", limits.AuthLimiter, requireAuth, h.ChangePassword)

	router.Get("/mfa/status", limits.LightweightLimiter, requireAuth, h.MFAStatus)
	router.Post("/mfa/begin", limits.MFAVerifyLimiter, requireAuth, h.BeginMFA)
	router.Post("/mfa/enable", limits.MFAVerifyLimiter, requireAuth, h.EnableMFA)
	router.Post("/mfa/disable", limits.MFAVerifyLimiter, requireAuth, h.DisableMFA)
	router.Post("/mfa/backup-codes", limits.MFAVerifyLimiter, requireAuth, h.RegenerateBackupCodes)
}

// RegistrationStatus reports whether new accounts can be created.
func (h *AuthHandler) RegistrationStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"enabled": h.registrationEnabled})
}

// Register creates an account and signs it in.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	if !h.registrationEnabled {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Registration is disabled"})
	}

	var req RegisterRequest
	if handled, err := bindJSON(c, h.validate, &req); handled {
		return err
	}

	if h.domains != nil && !h.domains.Allows(req.Email) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Email domain is not allowed to register"})
	}

	ctx := c.UserContext()

	hash, err := crypto.HashNewPassword(req.Password)
	if err != nil {
		utils.LogRequestError(c, "REGISTER", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Registration failed"})
	}

	user, err := h.users.Create(ctx, req.Email, req.Name, hash)
	if err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already registered"})
		}
		utils.LogRequestError(c, "REGISTER", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Registration failed"})
	}

	h.audit(c, user.ID, "user.registered")
	h.emit(c, services.EventUserRegistered, user.ID, nil)

	resp, err := h.startSession(c, user)
	if err != nil {
		utils.LogRequestError(c, "REGISTER_SESSION", err, "user_id", user.ID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Session creation failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Login verifies credentials (and TOTP when enabled) and opens a session.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if handled, err := bindJSON(c, h.validate, &req); handled {
		return err
	}

	ctx := c.UserContext()

	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			// keep response time independent of account existence
			crypto.VerifyPassword(req.Password, dummyPasswordHash())
			h.emit(c, services.EventLoginFailed, uuid.Nil, map[string]string{"reason": "unknown_email"})
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
		}
		utils.LogRequestError(c, "LOGIN_LOOKUP", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Authentication failed"})
	}

	if user.IsLocked(time.Now()) {
		return lockedResponse(c, *user.LockedUntil)
	}

	if !crypto.VerifyPassword(req.Password, user.PasswordHash) {
		return h.rejectLogin(c, user, "login.failed", "bad_password", "Invalid credentials")
	}

	loginMethod := "password"
	if user.MFAEnabled {
		var ok bool
		switch {
		case strings.TrimSpace(req.MFACode) != "":
			loginMethod = "totp"
			ok, err = h.checkTOTP(user, req.MFACode)
		case strings.TrimSpace(req.BackupCode) != "":
			loginMethod = "backup_code"
			ok, err = h.users.ConsumeBackupCode(ctx, user.ID, services.HashBackupCode(req.BackupCode))
		default:
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"mfa_required": true})
		}
		if err != nil {
			utils.LogRequestError(c, "LOGIN_MFA", err, "user_id", user.ID)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "MFA validation failed"})
		}
		if !ok {
			return h.rejectLogin(c, user, "login.mfa_failed", "bad_mfa_code", "Invalid MFA code")
		}
	}

	if err := h.users.RecordSuccessfulLogin(ctx, user.ID); err != nil {
		utils.LogRequestError(c, "LOGIN_RESET", err, "user_id", user.ID)
	}
	h.upgradePasswordHash(c, user, req.Password)

	resp, err := h.startSession(c, user)
	if err != nil {
		utils.LogRequestError(c, "LOGIN_SESSION", err, "user_id", user.ID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Session creation failed"})
	}

	h.audit(c, user.ID, "login.success")
	h.emit(c, services.EventUserLogin, user.ID, map[string]string{"method": loginMethod})
	return c.JSON(resp)
}

// Refresh rotates a refresh token and issues a new access token.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if handled, err := bindJSON(c, h.validate, &req); handled {
		return err
	}

	sess, refreshToken, err := h.sessions.Rotate(c.UserContext(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid refresh token"})
		}
		utils.LogRequestError(c, "REFRESH", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Token refresh failed"})
	}

	accessToken, _, err := h.tokens.Issue(sess.UserID, sess.ID)
	if err != nil {
		utils.LogRequestError(c, "REFRESH_SIGN", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Token refresh failed"})
	}

	return c.JSON(TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.tokens.TTL().Seconds()),
	})
}

// Logout revokes the session bound to the presented access token.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	userID, sessionID, err := requestIdentity(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	if err := h.sessions.Revoke(c.UserContext(), sessionID); err != nil && !errors.Is(err, services.ErrSessionNotFound) {
		utils.LogRequestError(c, "LOGOUT", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Logout failed"})
	}

	h.audit(c, userID, "logout")
	h.emit(c, services.EventUserLogout, userID, nil)
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// LogoutAll revokes every session of the current user.
func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	userID, _, err := requestIdentity(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	n, err := h.sessions.RevokeAll(c.UserContext(), userID, "")
	if err != nil {
		utils.LogRequestError(c, "LOGOUT_ALL", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Logout failed"})
	}

	h.audit(c, userID, "logout.all")
	h.emit(c, services.EventUserLogout, userID, map[string]string{"scope": "all", "sessions": fmt.Sprint(n)})
	return c.JSON(fiber.Map{"message": "Logged out from all sessions", "revoked_sessions": n})
}

// Me returns the current user's profile.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, handled, err := h.currentUser(c)
	if handled {
		return err
	}
	return c.JSON(user)
}

// ChangePassword replaces the password and signs out every other session.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
	if handled, err := bindJSON(c, h.validate, &req); handled {
		return err
	}

	user, handled, err := h.currentUser(c)
	if handled {
		return err
	}
	if !crypto.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		h.audit(c, user.ID, "password.change_failed")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Current password is incorrect"})
	}

	hash, err := crypto.HashNewPassword(req.NewPassword)
	if err != nil {
		utils.LogRequestError(c, "PASSWORD_HASH", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Password update failed"})
	}
	ctx := c.UserContext()
	if err := h.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		utils.LogRequestError(c, "PASSWORD_UPDATE", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Password update failed"})
	}

	sessionID, _ := middleware.GetSessionIDFromToken(c)
	revoked, err := h.sessions.RevokeAll(ctx, user.ID, sessionID)
	if err != nil {
		utils.LogRequestError(c, "PASSWORD_REVOKE", err)
	}

	h.audit(c, user.ID, "password.changed")
	h.emit(c, services.EventPasswordChanged, user.ID, nil)
	return c.JSON(fiber.Map{"message": "Password updated", "revoked_sessions": revoked})
}

// MFAStatus reports whether TOTP is enabled and whether a secret is pending.
func (h *AuthHandler) MFAStatus(c *fiber.Ctx) error {
	user, handled, err := h.currentUser(c)
	if handled {
		return err
	}
	status := fiber.Map{
		"enabled":    user.MFAEnabled,
		"has_secret": len(user.MFASecretEncrypted) > 0,
	}
	if user.MFAEnabled {
		remaining, err := h.users.BackupCodesRemaining(c.UserContext(), user.ID)
		if err != nil {
			utils.LogRequestError(c, "MFA_STATUS", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load MFA status"})
		}
		status["backup_codes_remaining"] = remaining
	}
	return c.JSON(status)
}

// BeginMFA generates a TOTP secret and stores it sealed until confirmed.
func (h *AuthHandler) BeginMFA(c *fiber.Ctx) error {
	user, handled, err := h.currentUser(c)
	if handled {
		return err
	}
	if user.MFAEnabled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "MFA is already enabled"})
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      h.mfaIssuer,
		AccountName: user.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		utils.LogRequestError(c, "MFA_GENERATE", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate MFA secret"})
	}

	sealed, err := h.crypto.EncryptString(key.Secret())
	if err != nil {
		utils.LogRequestError(c, "MFA_SEAL", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to secure MFA secret"})
	}
	if err := h.users.SetMFASecret(c.UserContext(), user.ID, sealed); err != nil {
		utils.LogRequestError(c, "MFA_STORE", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to persist MFA secret"})
	}

	h.audit(c, user.ID, "mfa.setup_started")
	return c.JSON(fiber.Map{
		"secret":      key.Secret(),
		"otpauth_url": key.URL(),
		"issuer":      key.Issuer(),
		"account":     key.AccountName(),
	})
}

// EnableMFA confirms the pending secret with a valid code.
func (h *AuthHandler) EnableMFA(c *fiber.Ctx) error {
	var req mfaCodeRequest
	if handled, err := bindJSON(c, h.validate, &req); handled {
		return err
	}

	user, handled, err := h.currentUser(c)
	if handled {
		return err
	}
	if user.MFAEnabled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "MFA is already enabled"})
	}
	if len(user.MFASecretEncrypted) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "MFA setup has not been started"})
	}

	ok, err := h.checkTOTP(user, req.Code)
	if err != nil {
		utils.LogRequestError(c, "MFA_ENABLE", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "MFA validation failed"})
	}
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid MFA code"})
	}

	if err := h.users.EnableMFA(c.UserContext(), user.ID); err != nil {
		utils.LogRequestError(c, "MFA_ENABLE", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to enable MFA"})
	}

	codes, err := h.issueBackupCodes(c, user.ID)
	if err != nil {
		utils.LogRequestError(c, "MFA_BACKUP_CODES", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate backup codes"})
	}

	h.audit(c, user.ID, "mfa.enabled")
	h.emit(c, services.EventMFAEnabled, user.ID, nil)
	return c.JSON(fiber.Map{"enabled": true, "backup_codes": codes})
}

// RegenerateBackupCodes replaces every recovery code after a valid TOTP code.
func (h *AuthHandler) RegenerateBackupCodes(c *fiber.Ctx) error {
	var req mfaCodeRequest
	if handled, err := bindJSON(c, h.validate, &req); handled {
		return err
	}

	user, handled, err := h.currentUser(c)
	if handled {
		return err
	}
	if !user.MFAEnabled {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "MFA is not enabled"})
	}

	ok, err := h.checkTOTP(user, req.Code)
	if err != nil {
		utils.LogRequestError(c, "MFA_BACKUP_CODES", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "MFA validation failed"})
	}
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid MFA code"})
	}

	codes, err := h.issueBackupCodes(c, user.ID)
	if err != nil {
		utils.LogRequestError(c, "MFA_BACKUP_CODES", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate backup codes"})
	}

	h.audit(c, user.ID, "mfa.backup_codes_regenerated")
	return c.JSON(fiber.Map{"backup_codes": codes})
}

// DisableMFA turns TOTP off after a valid code and wipes the secret.
func (h *AuthHandler) DisableMFA(c *fiber.Ctx) error {
	var req mfaCodeRequest
	if handled, err := bindJSON(c, h.validate, &req); handled {
		return err
	}

	user, handled, err := h.currentUser(c)
	if handled {
		return err
	}
	if !user.MFAEnabled {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "MFA is not enabled"})
	}

	ok, err := h.checkTOTP(user, req.Code)
	if err != nil {
		utils.LogRequestError(c, "MFA_DISABLE", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "MFA validation failed"})
	}
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid MFA code"})
	}

	if err := h.users.DisableMFA(c.UserContext(), user.ID); err != nil {
		utils.LogRequestError(c, "MFA_DISABLE", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to disable MFA"})
	}

	h.audit(c, user.ID, "mfa.disabled")
	h.emit(c, services.EventMFADisabled, user.ID, nil)
	return c.JSON(fiber.Map{"enabled": false})
}

// rejectLogin counts a failed credential check and locks the account once the
// stored count reaches the threshold. The count is incremented by the store, so
// concurrent failures all add up.
func (h *AuthHandler) rejectLogin(c *fiber.Ctx, user *database.User, action, reason, message string) error {
	ctx := c.UserContext()

	attempts, err := h.users.RecordFailedLogin(ctx, user.ID)
	if err != nil {
		utils.LogRequestError(c, "LOGIN_FAILED", err, "user_id", user.ID)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": message})
	}

	if lock := lockoutFor(attempts, h.maxLoginAttempts, h.lockoutDuration); lock > 0 {
		lockUntil := time.Now().Add(lock)
		if err := h.users.LockUntil(ctx, user.ID, lockUntil); err != nil {
			utils.LogRequestError(c, "LOGIN_LOCK", err, "user_id", user.ID)
		}
		h.audit(c, user.ID, "login.locked")
		h.emit(c, services.EventUserLocked, user.ID, map[string]string{"attempts": fmt.Sprint(attempts), "reason": reason})
		return lockedResponse(c, lockUntil)
	}

	h.audit(c, user.ID, action)
	h.emit(c, services.EventLoginFailed, user.ID, map[string]string{"reason": reason})
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": message})
}

func (h *AuthHandler) startSession(c *fiber.Ctx, user *database.User) (*TokenResponse, error) {
	sess, refreshToken, err := h.sessions.Create(c.UserContext(), user.ID, utils.ClientIP(c), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	accessToken, _, err := h.tokens.Issue(user.ID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.tokens.TTL().Seconds()),
		User:         user,
	}, nil
}

// currentUser loads the authenticated user. When it cannot, it writes the
// error response and returns handled=true.
func (h *AuthHandler) currentUser(c *fiber.Ctx) (user *database.User, handled bool, err error) {
	userID, err := middleware.GetUserIDFromToken(c)
	if err != nil {
		return nil, true, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	user, err = h.users.GetByID(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, true, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		utils.LogRequestError(c, "USER_LOOKUP", err)
		return nil, true, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load user"})
	}
	return user, false, nil
}

// issueBackupCodes stores fresh recovery code hashes and returns the plain
// codes. They are shown to the user exactly once.
func (h *AuthHandler) issueBackupCodes(c *fiber.Ctx, userID uuid.UUID) ([]string, error) {
	codes, err := services.GenerateBackupCodes(services.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := h.users.SetBackupCodes(c.UserContext(), userID, services.HashBackupCodes(codes)); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}
	return codes, nil
}

func (h *AuthHandler) checkTOTP(user *database.User, code string) (bool, error) {
	if len(user.MFASecretEncrypted) == 0 {
		return false, fmt.Errorf("mfa secret missing for user %s", user.ID)
	}
	secret, err := h.crypto.DecryptString(user.MFASecretEncrypted)
	if err != nil {
		return false, fmt.Errorf("decrypt mfa secret: %w", err)
	}
	return totp.Validate(strings.TrimSpace(code), strings.TrimSpace(secret)), nil
}

// upgradePasswordHash rehashes with current parameters after a successful login.
func (h *AuthHandler) upgradePasswordHash(c *fiber.Ctx, user *database.User, password string) {
	if !crypto.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := crypto.HashNewPassword(password)
	if err == nil {
		err = h.users.UpdatePassword(c.UserContext(), user.ID, hash)
	}
	if err != nil {
		utils.LogRequestError(c, "PASSWORD_REHASH", err, "user_id", user.ID)
	}
}

func (h *AuthHandler) audit(c *fiber.Ctx, userID uuid.UUID, action string) {
	if err := h.users.LogAudit(c.UserContext(), userID, action, utils.ClientIP(c), c.Get(fiber.HeaderUserAgent)); err != nil {
		utils.LogRequestError(c, "AUDIT", err, "action", action)
	}
}

func (h *AuthHandler) emit(c *fiber.Ctx, eventType string, userID uuid.UUID, metadata map[string]string) {
	metrics.IncrementAuthEvent(eventType)
	ev := services.Event{
		Type:      eventType,
		IPAddress: utils.ClientIP(c),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Metadata:  metadata,
	}
	if userID != uuid.Nil {
		ev.UserID = userID.String()
	}
	h.events.Publish(c.UserContext(), ev)
}

func requestIdentity(c *fiber.Ctx) (uuid.UUID, string, error) {
	userID, err := middleware.GetUserIDFromToken(c)
	if err != nil {
		return uuid.Nil, "", err
	}
	sessionID, err := middleware.GetSessionIDFromToken(c)
	if err != nil {
		return uuid.Nil, "", err
	}
	return userID, sessionID, nil
}

// lockoutFor escalates lockouts once failures reach maxAttempts: one minute,
// then five, then the configured duration. Steps never exceed the configured value.
func lockoutFor(attempts, maxAttempts int, configured time.Duration) time.Duration {
	var step time.Duration
	switch {
	case attempts < maxAttempts:
		return 0
	case attempts == maxAttempts:
		step = time.Minute
	case attempts == maxAttempts+1:
		step = 5 * time.Minute
	default:
		return configured
	}
	if step > configured {
		return configured
	}
	return step
}

func lockedResponse(c *fiber.Ctx, until time.Time) error {
	remaining := time.Until(until)
	minutes := int(remaining.Minutes())
	seconds := int(remaining.Seconds()) % 60

	var timeMessage string
	if minutes > 0 {
		timeMessage = fmt.Sprintf("%d minutes and %d seconds", minutes, seconds)
	} else {
		timeMessage = fmt.Sprintf("%d seconds", seconds)
	}

	return c.Status(fiber.StatusLocked).JSON(fiber.Map{
		"error":               fmt.Sprintf("Account locked due to too many failed login attempts. Please try again in %s.", timeMessage),
		"locked_until":        until.UTC().Format(time.RFC3339),
		"retry_after_seconds": int(remaining.Seconds()),
	})
}

var dummyPasswordHash = sync.OnceValue(func() string {
	return crypto.HashPassword("not-a-real-password", make([]byte, 16))
})
