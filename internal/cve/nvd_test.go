package cve

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPEForVersion(t *testing.T) {
	assert.Equal(t, "cpe:2.3:a:postgresql:postgresql:16.2", CPEForVersion("PostgreSQL", "PostgreSQL", "16.2"))
	assert.Equal(t, "cpe:2.3:a:apache:kafka:3.6.1", CPEForVersion("Apache", "Kafka", "3.6.1"))
}

func TestNoopSourceReturnsNothing(t *testing.T) {
	findings, err := NoopSource{}.LookupByCPE(context.Background(), "cpe:2.3:a:postgresql:postgresql:16.2")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestSeverityFromV2Score(t *testing.T) {
	assert.Equal(t, "CRITICAL", severityFromV2Score(9.8))
	assert.Equal(t, "HIGH", severityFromV2Score(7.5))
	assert.Equal(t, "MEDIUM", severityFromV2Score(5.0))
	assert.Equal(t, "LOW", severityFromV2Score(2.1))
	assert.Equal(t, "UNKNOWN", severityFromV2Score(0))
}

func TestParseFindingFromNVDResponse(t *testing.T) {
	raw := `{
	  "totalResults": 1,
	  "vulnerabilities": [{
	    "cve": {
	      "id": "CVE-2024-0985",
	      "published": "2024-02-08T13:15:00.000",
	      "lastModified": "2024-02-15T00:00:00.000",
	      "descriptions": [
	        {"lang": "es", "value": "descripcion"},
	        {"lang": "en", "value": "Late privilege drop in REFRESH MATERIALIZED VIEW CONCURRENTLY."}
	      ],
	      "metrics": {
	        "cvssMetricV31": [{"cvssData": {"baseScore": 8.0, "vectorString": "CVSS:3.1/AV:N", "baseSeverity": "HIGH"}}]
	      },
	      "references": [{"url": "https://www.postgresql.org/support/security/CVE-2024-0985/"}],
	      "configurations": [{
	        "nodes": [{
	          "cpeMatch": [
	            {"vulnerable": true, "criteria": "cpe:2.3:a:postgresql:postgresql:*"},
	            {"vulnerable": false, "criteria": "cpe:2.3:a:postgresql:postgresql:16.2"}
	          ]
	        }]
	      }]
	    }
	  }]
	}`

	var decoded nvdResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Len(t, decoded.Vulnerabilities, 1)

	finding := parseFinding(decoded.Vulnerabilities[0])
	assert.Equal(t, "CVE-2024-0985", finding.CVEID)
	assert.Equal(t, "Late privilege drop in REFRESH MATERIALIZED VIEW CONCURRENTLY.", finding.Description)
	assert.Equal(t, 8.0, finding.CVSSScore)
	assert.Equal(t, "v3.1", finding.CVSSVersion)
	assert.Equal(t, "HIGH", finding.Severity)
	assert.Equal(t, []string{"https://www.postgresql.org/support/security/CVE-2024-0985/"}, finding.References)
	assert.Equal(t, []string{"cpe:2.3:a:postgresql:postgresql:*"}, finding.CPEMatches, "only vulnerable CPE matches are kept")
}
