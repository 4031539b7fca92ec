package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/krewdev/bluetrap/internal/defense"
)

// JSONFormatter renders trap state as JSON, using the same field names as the HTTP API.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatClients(clients []defense.ClientState) (string, error) {
	if clients == nil {
		clients = []defense.ClientState{}
	}
	return f.marshal(clients)
}

func (f *JSONFormatter) FormatStats(stats defense.Stats) (string, error) {
	return f.marshal(stats)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// YAMLFormatter renders trap state as YAML. Values pass through JSON first
// so keys match the API field names.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatClients(clients []defense.ClientState) (string, error) {
	if clients == nil {
		clients = []defense.ClientState{}
	}
	return toYAML(clients)
}

func (f *YAMLFormatter) FormatStats(stats defense.Stats) (string, error) {
	return toYAML(stats)
}

func toYAML(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	data, err := yaml.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
