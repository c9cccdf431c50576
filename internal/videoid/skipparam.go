package videoid

import (
	"net/url"

	"github.com/izumilab/adskip/internal/interval"
)

// SkipParamName is the query parameter carrying ad intervals in shared links.
const SkipParamName = "adskip"

// SkipParam parses the adskip query parameter of a URL snapshot. A missing
// parameter yields nil with no error; a malformed one is an error so the
// caller can log and fall back to other sources.
func SkipParam(raw string) ([]interval.AdInterval, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	v := u.Query().Get(SkipParamName)
	if v == "" {
		return nil, nil
	}
	return interval.Parse(v)
}
