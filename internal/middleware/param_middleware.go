package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Форматы идентификаторов протокола сессий
var (
	sessionCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	userIDPattern      = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

// NormalizeSessionCode приводит код к верхнему регистру и проверяет формат.
// Возвращает пустую строку для невалидного кода.
func NormalizeSessionCode(code string) string {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !sessionCodePattern.MatchString(normalized) {
		return ""
	}
	return normalized
}

// ValidUserID проверяет формат идентификатора пользователя
func ValidUserID(userID string) bool {
	return userIDPattern.MatchString(userID)
}

// ExtractUintParam создает middleware для извлечения и валидации числового параметра URL.
// paramName - имя параметра в URL (например, "id").
// contextKey - ключ, под которым значение будет сохранено в контексте Gin.
func ExtractUintParam(paramName, contextKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		idStr := c.Param(paramName)
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid %s", paramName)})
			c.Abort()
			return
		}
		// Сохраняем как uint для единообразия
		c.Set(contextKey, uint(id))
		c.Next()
	}
}

// ExtractSessionCodeParam создает middleware для валидации кода сессии в URL.
// Код нормализуется к верхнему регистру и сохраняется в контексте Gin.
func ExtractSessionCodeParam(paramName, contextKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := NormalizeSessionCode(c.Param(paramName))
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session code format"})
			c.Abort()
			return
		}
		c.Set(contextKey, code)
		c.Next()
	}
}

// ExtractUserIDParam создает middleware для валидации идентификатора пользователя в URL
func ExtractUserIDParam(paramName, contextKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param(paramName)
		if !ValidUserID(userID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id format"})
			c.Abort()
			return
		}
		c.Set(contextKey, userID)
		c.Next()
	}
}
