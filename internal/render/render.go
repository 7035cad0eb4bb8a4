// Package render turns an inventory report into the output formats of the
// command-line tools. Renderers are pure and write into a buffer so that a
// failure never leaves a partial report on stdout.
package render

import (
	"bytes"
	"fmt"
	"strings"

	ierrors "github.com/kubeadapt/gpu-inventory/internal/errors"
	"github.com/kubeadapt/gpu-inventory/internal/observability"
	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// Format selects a renderer.
type Format string

const (
	FormatText       Format = "text"
	FormatCapability Format = "capability"
	FormatJSON       Format = "json"
	FormatYAML       Format = "yaml"
	FormatTable      Format = "table"
	FormatPrometheus Format = "prometheus"
)

var formats = []Format{
	FormatText,
	FormatCapability,
	FormatJSON,
	FormatYAML,
	FormatTable,
	FormatPrometheus,
}

// Formats returns the names of all supported formats.
func Formats() []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = string(f)
	}
	return out
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (want one of %s)", s, strings.Join(Formats(), ", "))
}

// Options carries inputs some renderers need beyond the report.
type Options struct {
	// Metrics are appended to prometheus output when set.
	Metrics *observability.Metrics
}

// Render produces the complete output for r in format f.
func Render(f Format, r model.Report, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch f {
	case FormatText:
		err = writeText(&buf, r)
	case FormatCapability:
		err = writeCapability(&buf, r)
	case FormatJSON:
		err = writeJSON(&buf, r)
	case FormatYAML:
		err = writeYAML(&buf, r)
	case FormatTable:
		err = writeTable(&buf, r)
	case FormatPrometheus:
		err = writePrometheus(&buf, r, opts.Metrics)
	default:
		err = fmt.Errorf("unknown format %q", f)
	}
	if err != nil {
		return nil, ierrors.New(ierrors.ErrRenderFailed, "render", fmt.Sprintf("unable to render %s report", f), err)
	}
	return buf.Bytes(), nil
}
