package middleware

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"security-monitor/internal/domain"
	"security-monitor/internal/filter"
)

// bufferedWriter retém o corpo da resposta até o filtro reescrevê-lo
type bufferedWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// NewResponseFilterMiddleware remove das respostas JSON os campos que o chamador não pode ver
func NewResponseFilterMiddleware(fieldFilter *filter.FieldFilter, logger domain.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		original := c.Writer
		buffered := &bufferedWriter{ResponseWriter: original, body: &bytes.Buffer{}}
		c.Writer = buffered

		// em caso de panic o writer original volta para o monitor responder
		defer func() {
			c.Writer = original
		}()

		c.Next()

		body := buffered.body.Bytes()
		status := original.Status()

		if status >= http.StatusOK && status < http.StatusMultipleChoices && isJSON(original.Header().Get("Content-Type")) {
			filtered, _, err := fieldFilter.FilterJSON(c.Request.Context(), body, GetCallerClaims(c))
			if err != nil {
				logger.WithContext(c.Request.Context()).Warn("Response body could not be filtered", map[string]interface{}{
					"error": err.Error(),
					"path":  c.Request.URL.Path,
				})
			}
			body = filtered
		}

		original.Header().Del("Content-Length")
		if _, err := original.Write(body); err != nil {
			logger.WithContext(c.Request.Context()).Error("Failed to write filtered response", err, nil)
		}
	}
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json")
}
