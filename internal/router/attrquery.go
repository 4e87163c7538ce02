package router

import (
	"strconv"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/observe"
)

// parseAttributeQuery parses the Write-Attributes query string into an
// observe.Attributes overlay, per §4.E's "PUT with empty body and a
// query string" rule. Recognized keys: pmin, pmax, gt, lt, stp.
func parseAttributeQuery(query map[string]string) (observe.Attributes, error) {
	var attrs observe.Attributes
	for key, raw := range query {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return observe.Attributes{}, lwm2merr.Newf(lwm2merr.BadRequest, "write-attributes: bad value for %s: %q", key, raw)
		}
		switch key {
		case "pmin":
			attrs.Pmin = &f
		case "pmax":
			attrs.Pmax = &f
		case "gt":
			attrs.Gt = &f
		case "lt":
			attrs.Lt = &f
		case "stp":
			attrs.Stp = &f
		}
	}
	return attrs, nil
}
