package bootstrapfile

import (
	"testing"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
)

const sampleConf = `
[server]
serverURI=coap://lwm2m.example.com:5683
bootstrap=false
securityMode=3
shortServerId=1
lifetime=86400
defaultMinPeriod=1
defaultMaxPeriod=60
binding=U
`

func TestParseSingleRecord(t *testing.T) {
	doc, err := Parse([]byte(sampleConf))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(doc.Records))
	}
	r := doc.Records[0]
	if r.ServerURI != "coap://lwm2m.example.com:5683" {
		t.Errorf("ServerURI = %q", r.ServerURI)
	}
	if r.IsBootstrap {
		t.Error("expected IsBootstrap = false")
	}
	if r.SecurityMode != SecurityModeNoSec {
		t.Errorf("SecurityMode = %v, want NoSec", r.SecurityMode)
	}
	if r.ShortServerID != 1 || r.Lifetime != 86400 {
		t.Errorf("got ShortServerID=%d Lifetime=%d", r.ShortServerID, r.Lifetime)
	}
}

func TestParseMultipleRecords(t *testing.T) {
	conf := `
[bootstrap]
serverURI=coap://bs.example.com:5683
bootstrap=true
securityMode=0
shortServerId=0

[server]
serverURI=coap://lwm2m.example.com:5683
bootstrap=false
securityMode=3
shortServerId=1
`
	doc, err := Parse([]byte(conf))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(doc.Records))
	}
	if !doc.Records[0].IsBootstrap {
		t.Error("expected the first record to be the bootstrap server")
	}
	if doc.Records[1].IsBootstrap {
		t.Error("expected the second record to not be a bootstrap server")
	}
}

func TestParseMalformedLine(t *testing.T) {
	if _, err := Parse([]byte("[server]\nnotakeyvalue\n")); lwm2merr.CodeOf(err) != lwm2merr.BadRequest {
		t.Fatalf("expected BadRequest for a malformed line, got %v", err)
	}
}

func TestParseBadSecurityMode(t *testing.T) {
	if _, err := Parse([]byte("[server]\nsecurityMode=notanumber\n")); lwm2merr.CodeOf(err) != lwm2merr.BadRequest {
		t.Fatalf("expected BadRequest for a bad securityMode, got %v", err)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(sampleConf))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	body := Encode(doc)
	reparsed, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse(Encode(doc)): %v", err)
	}
	if len(reparsed.Records) != 1 || reparsed.Records[0].ServerURI != doc.Records[0].ServerURI {
		t.Errorf("round trip mismatch: %+v vs %+v", reparsed.Records[0], doc.Records[0])
	}
	if reparsed.Records[0].Lifetime != 86400 {
		t.Errorf("Lifetime round trip = %d, want 86400", reparsed.Records[0].Lifetime)
	}
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	conf := "# a comment\n\n[server]\n# another comment\nserverURI=coap://x:5683\n"
	doc, err := Parse([]byte(conf))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Records) != 1 || doc.Records[0].ServerURI != "coap://x:5683" {
		t.Errorf("got %+v", doc.Records)
	}
}
