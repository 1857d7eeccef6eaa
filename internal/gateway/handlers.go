package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentineld/runtime/internal/audit"
	"github.com/sentineld/runtime/internal/auth"
	"github.com/sentineld/runtime/internal/errors"
	"github.com/sentineld/runtime/internal/executor"
)

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": Version,
		"uptime":  time.Since(g.startedAt).String(),
		"checks": gin.H{
			"auditChain": g.chainHealthy(),
		},
	})
}

func (g *Gateway) chainHealthy() string {
	result, err := g.chain.Verify(context.Background())
	if err != nil || !result.Valid {
		return "broken"
	}
	return "ok"
}

func (g *Gateway) handleLogin(c *gin.Context) {
	var req struct {
		Password   string `json:"password" binding:"required"`
		RememberMe bool   `json:"rememberMe"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := g.authSvc.Login(c.Request.Context(), req.Password, c.ClientIP(), req.RememberMe)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  result.AccessToken,
		"refreshToken": result.RefreshToken,
		"expiresIn":    int64(time.Until(result.ExpiresAt).Seconds()),
	})
}

func (g *Gateway) handleRefresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := g.authSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  result.AccessToken,
		"refreshToken": result.RefreshToken,
		"expiresIn":    int64(time.Until(result.ExpiresAt).Seconds()),
	})
}

func (g *Gateway) handleLogout(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication credentials"})
		return
	}
	g.authSvc.Logout(user.JTI, user.UserID, time.Unix(user.Exp, 0))
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (g *Gateway) handleResetPassword(c *gin.Context) {
	var req struct {
		NewPasswordHash string `json:"newPasswordHash" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := g.authSvc.ResetPassword(c.Request.Context(), req.NewPasswordHash); err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password reset"})
}

func (g *Gateway) handleVerify(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":     user.UserID,
		"role":       user.Role,
		"authMethod": user.AuthMethod,
	})
}

func (g *Gateway) handleListApiKeys(c *gin.Context) {
	user, _ := CurrentUser(c)
	keys, err := g.apiKeys.List(c.Request.Context(), user.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"apiKeys": keys})
}

func (g *Gateway) handleCreateApiKey(c *gin.Context) {
	user, _ := CurrentUser(c)
	var req struct {
		Name          string `json:"name" binding:"required"`
		Role          string `json:"role" binding:"required"`
		ExpiresInDays int    `json:"expiresInDays"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := auth.CreateApiKey(c.Request.Context(), g.apiKeys, auth.CreateApiKeyRequest{
		Name: req.Name, Role: req.Role, UserID: user.UserID, ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": result.ID, "key": result.Key})
}

func (g *Gateway) handleRevokeApiKey(c *gin.Context) {
	id := c.Param("id")
	if err := auth.RevokeApiKey(c.Request.Context(), g.apiKeys, id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (g *Gateway) handleMetrics(c *gin.Context) {
	stats, err := g.limiter.GetStats(c.Request.Context())
	if err != nil {
		writeAppError(c, errors.InternalServer(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"security": gin.H{
			"rateLimiterHits":   stats.TotalHits,
			"rateLimiterChecks": stats.TotalChecks,
			"activeWindows":     stats.ActiveWindows,
		},
		"executor": gin.H{
			"activeTasks": g.executor.ActiveTasks(),
		},
		"gateway": gin.H{
			"wsClients": g.hub.ClientCount(),
		},
	})
}

func (g *Gateway) handleAuditVerify(c *gin.Context) {
	result, err := g.chain.Verify(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "entriesChecked": 0, "error": err.Error()})
		return
	}
	resp := gin.H{"valid": result.Valid, "entriesChecked": result.EntriesChecked}
	if !result.Valid && len(result.Errors) > 0 {
		resp["error"] = result.Errors[0]
	}
	c.JSON(http.StatusOK, resp)
}

func (g *Gateway) handleSubmitTask(c *gin.Context) {
	user, _ := CurrentUser(c)
	var req struct {
		Type        string      `json:"type" binding:"required"`
		Name        string      `json:"name" binding:"required"`
		Description string      `json:"description"`
		Input       interface{} `json:"input"`
		TimeoutMs   int64       `json:"timeoutMs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := g.executor.Submit(c.Request.Context(), executor.TaskCreate{
		Type:          req.Type,
		Name:          req.Name,
		Description:   req.Description,
		Input:         req.Input,
		TimeoutMs:     req.TimeoutMs,
		CorrelationID: RequestIDFromContext(c),
	}, executor.SecurityContext{
		UserID:    user.UserID,
		Role:      user.Role,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, taskSnapshot(task))
}

func (g *Gateway) handleGetTask(c *gin.Context) {
	task, ok := g.executor.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, taskSnapshot(task))
}

func (g *Gateway) handleCancelTask(c *gin.Context) {
	user, _ := CurrentUser(c)
	if err := g.executor.Cancel(c.Request.Context(), c.Param("id"), user.Role); err != nil {
		writeAppError(c, err)
		return
	}
	task, _ := g.executor.Get(c.Param("id"))
	c.JSON(http.StatusOK, taskSnapshot(task))
}

func (g *Gateway) handleMetricsWS(c *gin.Context) {
	g.hub.ServeHTTP(c)
}

func taskSnapshot(t *executor.Task) gin.H {
	if t == nil {
		return gin.H{}
	}
	return gin.H{
		"id":          t.ID,
		"type":        t.Type,
		"name":        t.Name,
		"status":      t.Status,
		"inputHash":   t.InputHash,
		"createdAt":   t.CreatedAt,
		"startedAt":   t.StartedAt,
		"completedAt": t.CompletedAt,
		"durationMs":  t.DurationMs,
		"timeoutMs":   t.TimeoutMs,
		"result":      t.Result,
	}
}

func writeAppError(c *gin.Context, err error) {
	if appErr, ok := asAppError(err); ok {
		if appErr.RetryAfter > 0 {
			c.Header("Retry-After", itoa(appErr.RetryAfter))
		}
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// recordPermissionDenied is passed to RBACMiddleware so a 403 also
// leaves an audit_trail entry, matching the gateway's default-deny
// scenario in §8.
func (g *Gateway) recordPermissionDenied(c *gin.Context, user *auth.AuthUser) {
	uid := user.UserID
	correlationID := RequestIDFromContext(c)
	if _, err := g.chain.Record(c.Request.Context(), audit.PartialEntry{
		Event:         audit.EventPermissionDenied,
		Level:         audit.LevelWarn,
		Message:       "permission denied: " + c.Request.Method + " " + c.FullPath(),
		Metadata:      map[string]interface{}{"role": user.Role, "path": c.FullPath(), "method": c.Request.Method},
		UserID:        &uid,
		CorrelationID: &correlationID,
	}); err != nil && g.logger != nil {
		g.logger.Error().Err(err).Msg("failed to record permission_denied audit entry")
	}
}
