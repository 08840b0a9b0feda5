// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"ctfscore/server/store"
)

// handleLogin 处理登录请求
func handleLogin(c *gin.Context, st store.Store, secret []byte) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	u, err := st.GetUserByUsername(c.Request.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[Auth] login failed: user %q not found (ip=%s)", req.Username, c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password."})
		return
	}
	if err != nil {
		log.Printf("[Auth] query user error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		log.Printf("[Auth] login failed: wrong password for %q (ip=%s)", u.Username, c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password."})
		return
	}

	info := User{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		TeamID:      u.TeamID,
	}
	token, err := generateJWT(info, secret)
	if err != nil {
		log.Printf("[Auth] generate token error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
		return
	}

	log.Printf("[Auth] %s logged in", u.Username)
	c.JSON(http.StatusOK, loginResponse{Token: token, User: info})
}

// generateJWT 生成JWT令牌
func generateJWT(u User, secret []byte) (string, error) {
	claims := jwt.MapClaims{
		"sub":         u.ID,
		"username":    u.Username,
		"displayName": u.DisplayName,
		"role":        u.Role,
		"exp":         time.Now().Add(24 * time.Hour).Unix(),
		"iat":         time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
