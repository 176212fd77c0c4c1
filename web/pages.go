package web

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

const LivenessMarker = "site deployed"

// Liveness is the plain text body served on GET /.
func Liveness() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, LivenessMarker)
		return err
	})
}

// Route describes one endpoint on the docs page rendered by Docs (docs.templ).
type Route struct {
	Method  string
	Path    string
	Gates   string
	Summary string
}
