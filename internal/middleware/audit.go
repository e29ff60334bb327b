package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/kickoff/backend/internal/services"
)

const maxAuditBody = 2000

var sensitiveKeys = []string{"password", "api_key", "secret", "token", "access_token", "refresh_token", "client_secret"}

// AuditLog records write operations (POST/PUT/PATCH/DELETE) to system_logs.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			c.Next()
			return
		}

		var body string
		if c.Request.Body != nil {
			raw, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
			body = maskSensitiveFields(raw)
			if len(body) > maxAuditBody {
				body = body[:maxAuditBody] + "...[truncated]"
			}
		}

		c.Next()

		userID := GetUserID(c)
		var uid *uint
		if userID > 0 {
			uid = &userID
		}
		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)
		path := auditPath(c)

		services.LogInfo(module, action, formatAuditMessage(GetUsername(c), method, path, status), uid, c.ClientIP(), c.Request.UserAgent(), map[string]interface{}{
			"method": method,
			"path":   path,
			"status": status,
			"body":   body,
			"audit":  true,
		})
	}
}

// auditPath is the request path with any share token replaced.
func auditPath(c *gin.Context) string {
	path := c.Request.URL.Path
	if token := c.Param("token"); token != "" {
		path = strings.Replace(path, token, "***", 1)
	}
	return path
}

// parseRouteInfo extracts module and action from a Gin route pattern.
// e.g. "/api/system-config/:key" + "PUT" → module="System Config", action="Update"
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	first, _, _ := strings.Cut(path, "/")
	if first == "" {
		first = "unknown"
	}

	words := strings.Fields(strings.ReplaceAll(first, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	module = strings.Join(words, " ")

	switch method {
	case http.MethodPost:
		action = "Create"
	case http.MethodPut, http.MethodPatch:
		action = "Update"
	case http.MethodDelete:
		action = "Delete"
	default:
		action = method
	}
	return module, action
}

func formatAuditMessage(username, method, path string, status int) string {
	if username == "" {
		username = "anonymous"
	}
	outcome := "Failed"
	if status >= 200 && status < 300 {
		outcome = "OK"
	}
	return "[Audit] " + username + " " + method + " " + path + " → " + outcome
}

// maskSensitiveFields masks credential values in a JSON body. Bodies that
// are not JSON objects are dropped.
func maskSensitiveFields(raw []byte) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "[unparsed body]"
	}
	maskMap(fields)
	out, err := json.Marshal(fields)
	if err != nil {
		return "[unparsed body]"
	}
	return string(out)
}

func maskMap(fields map[string]interface{}) {
	for k, v := range fields {
		if isSensitive(k) {
			fields[k] = "***"
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			maskMap(nested)
		}
	}
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if key == s || strings.HasSuffix(key, "_"+s) {
			return true
		}
	}
	return false
}
