package api

import (
	"net/http"
	"time"

	"StrikeRate/internal/auth"
	"StrikeRate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthHandler 签名准备、钱包登录与注册
type AuthHandler struct {
	authService *service.AuthService
	cookieName  string
	logger      *logrus.Logger
}

// NewAuthHandler 创建 AuthHandler
func NewAuthHandler(svc *service.AuthService, cookieName string, logger *logrus.Logger) *AuthHandler {
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	return &AuthHandler{authService: svc, cookieName: cookieName, logger: logger}
}

// PrepareRequest 获取待签名文本
type PrepareRequest struct {
	WalletAddress string      `json:"walletAddress" binding:"required"`
	Action        auth.Action `json:"action" binding:"required"`
	Params        auth.Params `json:"params"`
}

// Prepare 返回 nonce 与待签名文本 POST /api/prepare
func (h *AuthHandler) Prepare(c *gin.Context) {
	var req PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.authService.Prepare(c.Request.Context(), req.WalletAddress, req.Action, req.Params)
	if err != nil {
		respondError(c, h.logger, "Prepare", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SignInRequest 登录请求，timestamp 为 prepare 时签入消息的时间戳
type SignInRequest struct {
	SignedBody
	Timestamp string `json:"timestamp" binding:"required"`
}

// SignIn 钱包签名登录，写入会话 cookie POST /api/auth/sign-in
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.authService.SignIn(c.Request.Context(), req.fields(), req.Timestamp)
	if err != nil {
		respondError(c, h.logger, "SignIn", err)
		return
	}
	if result.Token != "" {
		maxAge := int(time.Until(result.ExpiresAt).Seconds())
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(h.cookieName, result.Token, maxAge, "/", "", c.Request.TLS != nil, true)
	}
	c.JSON(http.StatusOK, result)
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
}

// Register 幂等注册 POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	wallet, err := h.authService.Register(c.Request.Context(), req.WalletAddress)
	if err != nil {
		respondError(c, h.logger, "Register", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"walletAddress": wallet})
}
