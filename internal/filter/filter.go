package filter

import (
	"bytes"
	"context"
	"sort"

	"security-monitor/internal/domain"
	"security-monitor/internal/telemetry"

	json "github.com/goccy/go-json"
)

// FieldFilter remove dos payloads de resposta os campos que o chamador não pode ver.
// A tabela de permissões é estática e indexada pelo nome serializado do campo.
type FieldFilter struct {
	rules          map[string]map[string]struct{}
	defaultRoles   map[string]struct{}
	trustedClients map[string]struct{}
	strict         bool
	audit          bool
	logger         domain.Logger
	metrics        *telemetry.Metrics
}

// NewFieldFilter cria o filtro a partir da configuração carregada no startup
func NewFieldFilter(cfg domain.FieldFilterConfig, logger domain.Logger, metrics *telemetry.Metrics) *FieldFilter {
	rules := make(map[string]map[string]struct{}, len(cfg.Rules))
	for field, rule := range cfg.Rules {
		rules[field] = toSet(rule.AllowedRoles)
	}

	return &FieldFilter{
		rules:          rules,
		defaultRoles:   toSet(cfg.DefaultAllowedRoles),
		trustedClients: toSet(cfg.TrustedClients),
		strict:         cfg.StrictMode,
		audit:          cfg.AuditRemovedFields,
		logger:         logger,
		metrics:        metrics,
	}
}

// Allowed informa se o chamador pode ver o campo
func (f *FieldFilter) Allowed(field string, caller domain.CallerClaims) bool {
	if caller.ClientID != "" {
		if _, ok := f.trustedClients[caller.ClientID]; ok {
			return true
		}
	}

	allowed, ok := f.rules[field]
	if !ok {
		if !f.strict {
			return true
		}
		allowed = f.defaultRoles
	}

	return intersects(allowed, caller)
}

// Filter filtra um objeto ou uma coleção de objetos e retorna os campos removidos.
// Outros valores passam inalterados.
func (f *FieldFilter) Filter(payload any, caller domain.CallerClaims) (any, []string) {
	removed := make(map[string]struct{})

	switch value := payload.(type) {
	case map[string]any:
		f.filterObject(value, caller, removed)
	case []any:
		for _, item := range value {
			if object, ok := item.(map[string]any); ok {
				f.filterObject(object, caller, removed)
			}
		}
	}

	return payload, sortedKeys(removed)
}

// FilterJSON decodifica o corpo, filtra e o re-serializa.
// Corpos que não são objeto nem array são devolvidos sem alteração.
func (f *FieldFilter) FilterJSON(ctx context.Context, body []byte, caller domain.CallerClaims) ([]byte, []string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return body, nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return body, nil, err
	}

	filtered, removed := f.Filter(payload, caller)
	if len(removed) == 0 {
		return body, nil, nil
	}

	out, err := json.Marshal(filtered)
	if err != nil {
		return body, nil, err
	}

	f.report(ctx, removed, caller)
	return out, removed, nil
}

func (f *FieldFilter) filterObject(object map[string]any, caller domain.CallerClaims, removed map[string]struct{}) {
	for field := range object {
		if !f.Allowed(field, caller) {
			delete(object, field)
			removed[field] = struct{}{}
		}
	}
}

func (f *FieldFilter) report(ctx context.Context, removed []string, caller domain.CallerClaims) {
	f.metrics.RecordFieldsRemoved(ctx, len(removed))

	if !f.audit || f.logger == nil {
		return
	}
	f.logger.WithContext(ctx).Info("Response fields removed", map[string]interface{}{
		"removed_fields": removed,
		"client_id":      caller.ClientID,
		"subject":        caller.Subject,
	})
}

// intersects verifica papéis e client id do chamador contra o conjunto permitido
func intersects(allowed map[string]struct{}, caller domain.CallerClaims) bool {
	if caller.ClientID != "" {
		if _, ok := allowed[caller.ClientID]; ok {
			return true
		}
	}
	for _, role := range caller.Roles {
		if _, ok := allowed[role]; ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
