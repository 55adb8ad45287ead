// Package classifier derives a summary and a type for a URL.
package classifier

import "context"

// Types reported by the classifiers.
const (
	TypeUnknown = "unknown"
	TypeArticle = "article"
	TypePage    = "page"
	TypePDF     = "pdf"
	TypeImage   = "image"
	TypeVideo   = "video"
	TypeAudio   = "audio"
)

// Classifier returns a summary and a type for a URL.
type Classifier interface {
	Classify(ctx context.Context, url string) (summary, typ string, err error)
}

// Stub never looks at the URL. It reports an empty summary and
// TypeUnknown.
type Stub struct{}

// Classify implements Classifier.
func (Stub) Classify(ctx context.Context, url string) (string, string, error) {
	return "", TypeUnknown, nil
}

// New returns the classifier registered under name. An empty name selects
// the stub.
func New(name string, opts ...Option) (Classifier, bool) {
	switch name {
	case "", "stub":
		return Stub{}, true
	case "readability":
		return NewReadability(opts...), true
	default:
		return nil, false
	}
}
