package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"security-monitor/internal/domain"
	"security-monitor/internal/logger"
)

// CallerClaimsKey guarda os claims do chamador no gin.Context
const CallerClaimsKey = "caller_claims"

// accessTokenClaims é o formato do access token emitido pelo servidor OAuth
type accessTokenClaims struct {
	ClientID string   `json:"client_id"`
	Roles    []string `json:"roles"`
	Scope    string   `json:"scope"`
	jwt.RegisteredClaims
}

// ClaimsMiddleware extrai os claims de um Bearer token HMAC.
// A autenticação é responsabilidade do servidor OAuth: token ausente ou inválido
// segue como chamador anônimo, sem papéis.
type ClaimsMiddleware struct {
	signingKey []byte
	logger     domain.Logger
}

// NewClaimsMiddleware cria o middleware de claims
func NewClaimsMiddleware(signingKey string, logger domain.Logger) gin.HandlerFunc {
	m := &ClaimsMiddleware{
		signingKey: []byte(signingKey),
		logger:     logger,
	}
	return m.Handle
}

// Handle é o handler principal do middleware
func (m *ClaimsMiddleware) Handle(c *gin.Context) {
	raw := bearerToken(c.GetHeader("Authorization"))
	if raw == "" || len(m.signingKey) == 0 {
		c.Next()
		return
	}

	claims, err := m.parse(raw)
	if err != nil {
		m.logger.WithContext(c.Request.Context()).Debug("Ignoring invalid bearer token", map[string]interface{}{
			"error": err.Error(),
			"token": logger.MaskSecret(raw),
		})
		c.Next()
		return
	}

	c.Set(CallerClaimsKey, claims)
	c.Next()
}

func (m *ClaimsMiddleware) parse(raw string) (domain.CallerClaims, error) {
	var claims accessTokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return domain.CallerClaims{}, fmt.Errorf("failed to parse bearer token: %w", err)
	}

	caller := domain.CallerClaims{
		ClientID: claims.ClientID,
		Subject:  claims.Subject,
		Roles:    claims.Roles,
	}
	if claims.Scope != "" {
		caller.Scopes = strings.Fields(claims.Scope)
	}
	return caller, nil
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// GetCallerClaims retorna os claims do chamador (vazio se anônimo)
func GetCallerClaims(c *gin.Context) domain.CallerClaims {
	if value, ok := c.Get(CallerClaimsKey); ok {
		if claims, ok := value.(domain.CallerClaims); ok {
			return claims
		}
	}
	return domain.CallerClaims{}
}

// NewRequireRoleMiddleware exige claims válidos contendo role.
// Sem claims responde 401; com claims sem o papel responde 403.
// Deve ser registrado depois do NewClaimsMiddleware.
func NewRequireRoleMiddleware(role string, log domain.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.Get(CallerClaimsKey)
		claims, valid := value.(domain.CallerClaims)
		if !ok || !valid {
			c.Header("WWW-Authenticate", `Bearer realm="admin"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "A valid bearer token is required.",
			})
			return
		}

		if !hasRole(claims, role) {
			log.WithContext(c.Request.Context()).Warn("Caller lacks required role", map[string]interface{}{
				"client_id": claims.ClientID,
				"subject":   claims.Subject,
				"role":      role,
				"path":      c.Request.URL.Path,
			})
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":             "forbidden",
				"error_description": fmt.Sprintf("The %s role is required.", role),
			})
			return
		}

		c.Next()
	}
}

func hasRole(claims domain.CallerClaims, role string) bool {
	for _, r := range claims.Roles {
		if r == role {
			return true
		}
	}
	return false
}
