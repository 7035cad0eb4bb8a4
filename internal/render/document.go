package render

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

func writeJSON(w io.Writer, r model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(model.ToWire(r))
}

func writeYAML(w io.Writer, r model.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(model.ToWire(r)); err != nil {
		return err
	}
	return enc.Close()
}
