package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sendgate/internal/apperror"
	"sendgate/pkg/circuitbreaker"
)

// DNSConfig configures the Porkbun-compatible DNS API used to mint per-owner
// sending subdomains.
type DNSConfig struct {
	BaseURL       string `yaml:"base_url"`
	Domain        string `yaml:"domain"`
	APIKey        string `yaml:"api_key"`
	SecretKey     string `yaml:"secret_key"`
	RecordContent string `yaml:"record_content"`
	TTL           string `yaml:"ttl"`
}

type DNSClient struct {
	cfg    DNSConfig
	rest   restClient
	logger *zap.Logger
}

func NewDNSClient(cfg DNSConfig, httpClient *http.Client, breakerCfg circuitbreaker.Config, logger *zap.Logger) *DNSClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.porkbun.com/api/json/v3"
	}
	if cfg.RecordContent == "" {
		cfg.RecordContent = "1.1.1.1"
	}
	if cfg.TTL == "" {
		cfg.TTL = "600"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DNSClient{
		cfg:    cfg,
		rest:   restClient{http: httpClient, breaker: circuitbreaker.NewCircuitBreaker("dns", breakerCfg)},
		logger: logger,
	}
}

type dnsRecordsResponse struct {
	Status  string `json:"status"`
	Records []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"records"`
}

// SanitizeOwner turns an owner id into a DNS label.
func SanitizeOwner(ownerID string) string {
	return strings.ReplaceAll(ownerID, "_", "-")
}

// EnsureSubdomain returns "{owner}.{domain}", creating the A record only when
// the lookup does not already list it.
func (d *DNSClient) EnsureSubdomain(ctx context.Context, ownerID string) (string, error) {
	if d.cfg.Domain == "" {
		return "", apperror.ErrProvisioningFailed.WithMessage("sending domain is not configured")
	}
	label := SanitizeOwner(ownerID)
	fqdn := label + "." + d.cfg.Domain
	auth := map[string]string{
		"secretapikey": d.cfg.SecretKey,
		"apikey":       d.cfg.APIKey,
	}

	resp, err := d.rest.postJSON(ctx, fmt.Sprintf("%s/dns/retrieve/%s", d.cfg.BaseURL, d.cfg.Domain), nil, auth)
	if err != nil {
		return "", apperror.ErrProvisioningFailed.Wrap(err)
	}
	if resp.Status != http.StatusOK {
		return "", apperror.ErrProvisioningFailed.WithMessage("%s", resp.Body)
	}

	var records dnsRecordsResponse
	if err := resp.decode(&records); err != nil {
		return "", apperror.ErrProvisioningFailed.Wrap(err)
	}
	for _, r := range records.Records {
		if r.Name == fqdn {
			return fqdn, nil
		}
	}

	create := map[string]string{
		"secretapikey": d.cfg.SecretKey,
		"apikey":       d.cfg.APIKey,
		"name":         label,
		"type":         "A",
		"content":      d.cfg.RecordContent,
		"ttl":          d.cfg.TTL,
	}
	resp, err = d.rest.postJSON(ctx, fmt.Sprintf("%s/dns/create/%s", d.cfg.BaseURL, d.cfg.Domain), nil, create)
	if err != nil {
		return "", apperror.ErrProvisioningFailed.Wrap(err)
	}
	if resp.Status != http.StatusOK {
		return "", apperror.ErrProvisioningFailed.WithMessage("Failed to create subdomain: %s", resp.Body)
	}

	d.logger.Info("Created subdomain", zap.String("subdomain", fqdn))
	return fqdn, nil
}
