package identity

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"security-monitor/internal/domain"
)

const (
	HeaderForwardedFor   = "X-Forwarded-For"
	HeaderForwardedProto = "X-Forwarded-Proto"
	ClientIDParam        = "client_id"
)

// Resolver deriva a PartitionKey de uma requisição.
// É imutável após a construção e seguro para uso concorrente.
type Resolver struct {
	trustedProxies  map[netip.Addr]struct{}
	trustedNetworks []netip.Prefix
	forwardLimit    int
	requireSymmetry bool
}

// NewResolver cria um resolver a partir da configuração de identidade.
// Entradas inválidas são ignoradas: a validação acontece no carregamento da configuração.
func NewResolver(cfg domain.IdentityConfig) *Resolver {
	r := &Resolver{
		trustedProxies:  make(map[netip.Addr]struct{}, len(cfg.TrustedProxies)),
		forwardLimit:    cfg.ForwardLimit,
		requireSymmetry: cfg.RequireHeaderSymmetry,
	}

	for _, proxy := range cfg.TrustedProxies {
		if addr, err := netip.ParseAddr(strings.TrimSpace(proxy)); err == nil {
			r.trustedProxies[addr.Unmap()] = struct{}{}
		}
	}

	for _, network := range cfg.TrustedNetworks {
		if prefix, err := netip.ParsePrefix(strings.TrimSpace(network)); err == nil {
			r.trustedNetworks = append(r.trustedNetworks, prefix.Masked())
		}
	}

	if r.forwardLimit <= 0 {
		r.forwardLimit = 1
	}

	return r
}

// Resolve retorna a PartitionKey da requisição:
// client_id explícito, depois X-Forwarded-For (somente vindo de proxy confiável),
// depois o endereço do peer e por fim o sentinela "ip:unknown".
func (r *Resolver) Resolve(info domain.RequestInfo) domain.PartitionKey {
	if clientID := strings.TrimSpace(info.ClientID); clientID != "" {
		return domain.PartitionKey(domain.ClientKeyPrefix + clientID)
	}

	if addr, ok := r.ResolveAddr(info); ok {
		return domain.PartitionKey(domain.IPKeyPrefix + addr.String())
	}

	return domain.UnknownPartitionKey
}

// ResolveAddr retorna o endereço efetivo do chamador, ignorando o client_id
func (r *Resolver) ResolveAddr(info domain.RequestInfo) (netip.Addr, bool) {
	peer, ok := parsePeer(info.PeerAddr)
	if !ok {
		return netip.Addr{}, false
	}

	if !r.isTrusted(peer) || info.ForwardedFor == "" {
		return peer, true
	}

	forwarded := splitHeader(info.ForwardedFor)
	if r.requireSymmetry && len(splitHeader(info.ForwardedProto)) != len(forwarded) {
		return peer, true
	}

	// Percorre da direita para a esquerda: cada salto só é aceito
	// se o salto anterior (mais próximo de nós) for confiável.
	current := peer
	for i, hops := len(forwarded)-1, 0; i >= 0 && hops < r.forwardLimit; i, hops = i-1, hops+1 {
		addr, err := netip.ParseAddr(forwarded[i])
		if err != nil {
			break
		}
		current = addr.Unmap()
		if !r.isTrusted(current) {
			break
		}
	}

	return current, true
}

func (r *Resolver) isTrusted(addr netip.Addr) bool {
	if _, ok := r.trustedProxies[addr]; ok {
		return true
	}
	for _, prefix := range r.trustedNetworks {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// RequestInfoFromHTTP extrai os sinais de identidade de uma requisição HTTP.
// O client_id é lido do corpo form-urlencoded ou da query string.
func RequestInfoFromHTTP(req *http.Request) domain.RequestInfo {
	return domain.RequestInfo{
		Method:         req.Method,
		Path:           req.URL.Path,
		ClientID:       req.FormValue(ClientIDParam),
		PeerAddr:       req.RemoteAddr,
		ForwardedFor:   req.Header.Get(HeaderForwardedFor),
		ForwardedProto: req.Header.Get(HeaderForwardedProto),
		UserAgent:      req.UserAgent(),
	}
}

// parsePeer aceita "host:port", "[v6]:port" ou apenas o endereço
func parsePeer(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}

	if addrPort, err := netip.ParseAddrPort(raw); err == nil {
		return addrPort.Addr().Unmap(), true
	}

	host := raw
	if h, _, err := net.SplitHostPort(raw); err == nil {
		host = h
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func splitHeader(value string) []string {
	var parts []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
