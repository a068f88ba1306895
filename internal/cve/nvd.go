// Package cve maps a detected database version to known vulnerabilities
// via the NIST National Vulnerability Database API. A Source interface
// keeps this optional: connectors that do not configure a feed get a
// no-op source returning no findings.
package cve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const nvdBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// Finding is the simplified shape of one matched CVE, mirroring
// NVDClient.parse_cve_response.
type Finding struct {
	CVEID        string
	Published    string
	LastModified string
	Description  string
	Severity     string
	CVSSScore    float64
	CVSSVector   string
	CVSSVersion  string
	References   []string
	CPEMatches   []string
}

// Source looks up known vulnerabilities for a CPE 2.3 identifier. An
// empty result with a nil error means "no known CVEs"; NVDSource returns
// an error when the API is unreachable or refuses the request.
type Source interface {
	LookupByCPE(ctx context.Context, cpe string) ([]Finding, error)
}

// NoopSource is wired in whenever vulnerability scanning is disabled; checks
// that want CVE data call it exactly like a real Source and receive an
// empty, nil-error result.
type NoopSource struct{}

func (NoopSource) LookupByCPE(context.Context, string) ([]Finding, error) { return nil, nil }

// NVDSource is the real NVD API v2.0 client. Rate limiting follows the
// documented 5 req/30s unauthenticated, 50 req/30s authenticated caps.
type NVDSource struct {
	apiKey      string
	httpClient  *http.Client
	rateLimit   int
	rateWindow  time.Duration
	requestLog  []time.Time
}

// NewNVDSource builds a client; an empty apiKey falls back to the
// unauthenticated rate limit.
func NewNVDSource(apiKey string) *NVDSource {
	limit := 5
	if apiKey != "" {
		limit = 50
	}
	return &NVDSource{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		rateLimit:  limit,
		rateWindow: 30 * time.Second,
	}
}

// CPEForVersion builds a CPE 2.3 "virtual match string" for a vendor and
// version, generalizing cpe_mapper.py's per-technology templates.
func CPEForVersion(vendor, product, version string) string {
	return fmt.Sprintf("cpe:2.3:a:%s:%s:%s", strings.ToLower(vendor), strings.ToLower(product), version)
}

type nvdResponse struct {
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE struct {
			ID           string `json:"id"`
			Published    string `json:"published"`
			LastModified string `json:"lastModified"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			Metrics struct {
				CVSSMetricV31 []cvssMetric `json:"cvssMetricV31"`
				CVSSMetricV30 []cvssMetric `json:"cvssMetricV30"`
				CVSSMetricV2  []cvssMetric `json:"cvssMetricV2"`
			} `json:"metrics"`
			References []struct {
				URL string `json:"url"`
			} `json:"references"`
			Configurations []struct {
				Nodes []struct {
					CPEMatch []struct {
						Vulnerable bool   `json:"vulnerable"`
						Criteria   string `json:"criteria"`
					} `json:"cpeMatch"`
				} `json:"nodes"`
			} `json:"configurations"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

type cvssMetric struct {
	CVSSData struct {
		BaseScore    float64 `json:"baseScore"`
		VectorString string  `json:"vectorString"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
}

// LookupByCPE queries NVD with pagination, honoring the rate limit and
// stopping after the server reports no more results.
func (s *NVDSource) LookupByCPE(ctx context.Context, cpe string) ([]Finding, error) {
	var findings []Finding
	startIndex := 0

	for {
		s.waitForRateLimit()

		resp, err := s.fetchPage(ctx, cpe, startIndex)
		if err != nil {
			return findings, err
		}
		if len(resp.Vulnerabilities) == 0 {
			break
		}

		for _, v := range resp.Vulnerabilities {
			findings = append(findings, parseFinding(v))
		}

		startIndex += len(resp.Vulnerabilities)
		if startIndex >= resp.TotalResults {
			break
		}
	}

	return findings, nil
}

func (s *NVDSource) fetchPage(ctx context.Context, cpe string, startIndex int) (*nvdResponse, error) {
	q := url.Values{}
	q.Set("virtualMatchString", cpe)
	q.Set("resultsPerPage", "50")
	q.Set("startIndex", fmt.Sprintf("%d", startIndex))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nvdBaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("apiKey", s.apiKey)
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cve: nvd request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("cve: nvd API access forbidden (check API key / rate limits)")
	}
	if httpResp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("cve: nvd API service unavailable")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cve: nvd API http status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("cve: reading nvd response: %w", err)
	}

	var decoded nvdResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("cve: parsing nvd response: %w", err)
	}
	return &decoded, nil
}

func (s *NVDSource) waitForRateLimit() {
	now := time.Now()
	cutoff := now.Add(-s.rateWindow)

	kept := s.requestLog[:0]
	for _, t := range s.requestLog {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.requestLog = kept

	if len(s.requestLog) >= s.rateLimit {
		sort.Slice(s.requestLog, func(i, j int) bool { return s.requestLog[i].Before(s.requestLog[j]) })
		oldest := s.requestLog[0]
		sleep := s.rateWindow - now.Sub(oldest) + time.Second
		if sleep > 0 {
			time.Sleep(sleep)
		}
		s.requestLog = nil
	}
	s.requestLog = append(s.requestLog, time.Now())
}

func parseFinding(v struct {
	CVE struct {
		ID           string `json:"id"`
		Published    string `json:"published"`
		LastModified string `json:"lastModified"`
		Descriptions []struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"descriptions"`
		Metrics struct {
			CVSSMetricV31 []cvssMetric `json:"cvssMetricV31"`
			CVSSMetricV30 []cvssMetric `json:"cvssMetricV30"`
			CVSSMetricV2  []cvssMetric `json:"cvssMetricV2"`
		} `json:"metrics"`
		References []struct {
			URL string `json:"url"`
		} `json:"references"`
		Configurations []struct {
			Nodes []struct {
				CPEMatch []struct {
					Vulnerable bool   `json:"vulnerable"`
					Criteria   string `json:"criteria"`
				} `json:"cpeMatch"`
			} `json:"nodes"`
		} `json:"configurations"`
	} `json:"cve"`
}) Finding {
	cve := v.CVE

	description := "No description available"
	for _, d := range cve.Descriptions {
		if d.Lang == "en" {
			description = d.Value
			break
		}
	}
	if len(description) > 500 {
		description = description[:497] + "..."
	}

	var score float64
	var vector, version, severity string
	switch {
	case len(cve.Metrics.CVSSMetricV31) > 0:
		m := cve.Metrics.CVSSMetricV31[0].CVSSData
		score, vector, version, severity = m.BaseScore, m.VectorString, "v3.1", m.BaseSeverity
	case len(cve.Metrics.CVSSMetricV30) > 0:
		m := cve.Metrics.CVSSMetricV30[0].CVSSData
		score, vector, version, severity = m.BaseScore, m.VectorString, "v3.0", m.BaseSeverity
	case len(cve.Metrics.CVSSMetricV2) > 0:
		m := cve.Metrics.CVSSMetricV2[0].CVSSData
		score, vector, version = m.BaseScore, m.VectorString, "v2.0"
		severity = severityFromV2Score(score)
	default:
		version, severity = "unknown", "UNKNOWN"
	}

	var refs []string
	for _, r := range cve.References {
		if r.URL != "" {
			refs = append(refs, r.URL)
			if len(refs) == 10 {
				break
			}
		}
	}

	var cpeMatches []string
	for _, cfg := range cve.Configurations {
		for _, node := range cfg.Nodes {
			for _, match := range node.CPEMatch {
				if match.Vulnerable && match.Criteria != "" {
					cpeMatches = append(cpeMatches, match.Criteria)
				}
			}
		}
	}

	return Finding{
		CVEID:        cve.ID,
		Published:    cve.Published,
		LastModified: cve.LastModified,
		Description:  description,
		Severity:     severity,
		CVSSScore:    score,
		CVSSVector:   vector,
		CVSSVersion:  version,
		References:   refs,
		CPEMatches:   cpeMatches,
	}
}

func severityFromV2Score(score float64) string {
	switch {
	case score >= 9.0:
		return "CRITICAL"
	case score >= 7.0:
		return "HIGH"
	case score >= 4.0:
		return "MEDIUM"
	case score > 0.0:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}
