package codec

import "gopkg.in/yaml.v3"

type yamlMarshaler struct{}

func (yamlMarshaler) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (yamlMarshaler) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

func fieldYAML(data []byte, field string) (any, bool) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}
