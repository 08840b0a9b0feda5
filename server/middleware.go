// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"ctfscore/server/store"
)

// parseToken 校验 Authorization 头中的 Bearer token
func parseToken(c *gin.Context, secret []byte) (jwt.MapClaims, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token."})
		c.Abort()
		return nil, false
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token."})
		c.Abort()
		return nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token."})
		c.Abort()
		return nil, false
	}
	return claims, true
}

// userAuthMiddleware JWT认证中间件（所有登录用户）
func userAuthMiddleware(secret []byte, st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseToken(c, secret)
		if !ok {
			return
		}

		var userID int64
		if sub, ok := claims["sub"].(float64); ok {
			userID = int64(sub)
		}

		// 以存储中的角色为准，token 签发后被删除的用户无法继续访问
		u, err := st.GetUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found."})
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("role", u.Role)
		c.Set("userID", u.ID)
		c.Next()
	}
}

// adminMiddleware 需在 userAuthMiddleware 之后使用
func adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin only."})
			c.Abort()
			return
		}
		c.Next()
	}
}
