package transcribe

import (
	"fmt"
	"net/url"
	"strconv"
)

// Defaults applied to [StreamingOptions] fields left empty.
const (
	DefaultLanguage = "en"
	DefaultModel    = "nova-2"
)

// StreamingOptions configures one connection. The client keeps the options of
// the last Connect and reuses them when it reconnects.
type StreamingOptions struct {
	// Language is a BCP 47 tag such as "en" or "en-US". Defaults to "en".
	Language string

	// Model selects the recognition model. Defaults to "nova-2".
	Model string

	// Punctuate enables punctuation. Nil means true.
	Punctuate *bool

	// Diarize enables speaker labelling.
	Diarize bool

	// InterimResults enables non-final transcripts. Nil means true.
	InterimResults *bool
}

// Bool returns a pointer to v, for the optional flags of [StreamingOptions].
func Bool(v bool) *bool { return &v }

// Query returns the five query parameters sent to the service, with defaults
// applied.
func (o StreamingOptions) Query() url.Values {
	lang := o.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	model := o.Model
	if model == "" {
		model = DefaultModel
	}
	punctuate := o.Punctuate == nil || *o.Punctuate
	interim := o.InterimResults == nil || *o.InterimResults

	q := url.Values{}
	q.Set("language", lang)
	q.Set("model", model)
	q.Set("punctuate", strconv.FormatBool(punctuate))
	q.Set("diarize", strconv.FormatBool(o.Diarize))
	q.Set("interim_results", strconv.FormatBool(interim))
	return q
}

// BuildURL returns endpoint with the streaming query parameters. Parameters
// already present on endpoint are replaced.
func (o StreamingOptions) BuildURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("transcribe: parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("transcribe: endpoint scheme %q: want ws or wss", u.Scheme)
	}
	q := u.Query()
	for k, v := range o.Query() {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Equal reports whether o and other produce the same connection parameters.
func (o StreamingOptions) Equal(other StreamingOptions) bool {
	a, b := o.Query(), other.Query()
	for k := range a {
		if a.Get(k) != b.Get(k) {
			return false
		}
	}
	return true
}
