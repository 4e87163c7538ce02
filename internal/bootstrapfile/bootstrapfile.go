// Package bootstrapfile parses the persisted plain-text key/value
// bootstrap-configuration record §6 describes ("Persisted state"): one or
// more security and server object descriptions applied at startup, each
// record's Security+Server pair whole or not at all.
//
// Grounded on inventoryd_prepare.go's SetSecurityParams, which populates
// exactly this field set (serverURI, identity, PSK, shortServerId,
// lifetime) programmatically from CLI flags; this package parses the
// same fields out of an externally-authored file instead.
package bootstrapfile

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
)

// SecurityMode mirrors the OMA Security object's Resource 2 enum.
type SecurityMode int

const (
	SecurityModePSK SecurityMode = 0
	SecurityModeRPK SecurityMode = 1
	SecurityModeCertificate SecurityMode = 2
	SecurityModeNoSec SecurityMode = 3
)

// ServerRecord is one security+server object pair described by the file.
type ServerRecord struct {
	ServerURI        string
	IsBootstrap      bool
	SecurityMode     SecurityMode
	Identity         []byte
	Key              []byte
	ShortServerID    uint16
	Lifetime         int
	DefaultMinPeriod int
	DefaultMaxPeriod int
	Binding          string
}

// Document is the parsed bootstrap-configuration file: one or more
// records, each introduced by a "[server]" or "[bootstrap]" section
// header, §6's "one or more security and server objects".
type Document struct {
	Records []ServerRecord
}

// Parse reads a flat "key=value" record, one or more records separated by
// "[server]"/"[bootstrap]" section headers, matching the single-record
// shape inventoryd_prepare.go hard-codes but generalized to the
// multi-record case §6 names ("one or more security and server objects").
func Parse(data []byte) (*Document, error) {
	doc := &Document{}
	var cur *ServerRecord

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			doc.Records = append(doc.Records, ServerRecord{Binding: "U"})
			cur = &doc.Records[len(doc.Records)-1]
			if strings.EqualFold(strings.Trim(line, "[]"), "bootstrap") {
				cur.IsBootstrap = true
			}
			continue
		}
		if cur == nil {
			doc.Records = append(doc.Records, ServerRecord{Binding: "U"})
			cur = &doc.Records[len(doc.Records)-1]
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			return nil, lwm2merr.Newf(lwm2merr.BadRequest, "bootstrapfile: malformed line %q", line)
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if err := applyField(cur, key, val); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Encode renders doc back into Parse's flat "[server]"/"key=value"
// format, used to persist a completed bootstrap-server walk's result for
// a later `run` invocation to reload.
func Encode(doc *Document) []byte {
	var b bytes.Buffer
	for _, r := range doc.Records {
		if r.IsBootstrap {
			b.WriteString("[bootstrap]\n")
		} else {
			b.WriteString("[server]\n")
		}
		fmt.Fprintf(&b, "serverURI=%s\n", r.ServerURI)
		fmt.Fprintf(&b, "bootstrap=%t\n", r.IsBootstrap)
		fmt.Fprintf(&b, "securityMode=%d\n", r.SecurityMode)
		fmt.Fprintf(&b, "identity=%s\n", r.Identity)
		fmt.Fprintf(&b, "key=%s\n", r.Key)
		fmt.Fprintf(&b, "shortServerId=%d\n", r.ShortServerID)
		fmt.Fprintf(&b, "lifetime=%d\n", r.Lifetime)
		fmt.Fprintf(&b, "defaultMinPeriod=%d\n", r.DefaultMinPeriod)
		fmt.Fprintf(&b, "defaultMaxPeriod=%d\n", r.DefaultMaxPeriod)
		fmt.Fprintf(&b, "binding=%s\n", r.Binding)
	}
	return b.Bytes()
}

func applyField(r *ServerRecord, key, val string) error {
	switch strings.ToLower(key) {
	case "serveruri":
		r.ServerURI = val
	case "bootstrap":
		r.IsBootstrap = strings.EqualFold(val, "true")
	case "securitymode":
		n, err := strconv.Atoi(val)
		if err != nil {
			return lwm2merr.Newf(lwm2merr.BadRequest, "bootstrapfile: bad securityMode %q", val)
		}
		r.SecurityMode = SecurityMode(n)
	case "identity":
		r.Identity = []byte(val)
	case "key":
		r.Key = []byte(val)
	case "shortserverid":
		n, err := strconv.ParseUint(val, 10, 16)
		if err != nil {
			return lwm2merr.Newf(lwm2merr.BadRequest, "bootstrapfile: bad shortServerId %q", val)
		}
		r.ShortServerID = uint16(n)
	case "lifetime":
		n, err := strconv.Atoi(val)
		if err != nil {
			return lwm2merr.Newf(lwm2merr.BadRequest, "bootstrapfile: bad lifetime %q", val)
		}
		r.Lifetime = n
	case "defaultminperiod":
		n, err := strconv.Atoi(val)
		if err != nil {
			return lwm2merr.Newf(lwm2merr.BadRequest, "bootstrapfile: bad defaultMinPeriod %q", val)
		}
		r.DefaultMinPeriod = n
	case "defaultmaxperiod":
		n, err := strconv.Atoi(val)
		if err != nil {
			return lwm2merr.Newf(lwm2merr.BadRequest, "bootstrapfile: bad defaultMaxPeriod %q", val)
		}
		r.DefaultMaxPeriod = n
	case "binding":
		r.Binding = val
	}
	return nil
}
