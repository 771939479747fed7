package config

import "dario.cat/mergo"

// mergeOverride overlays a partially-populated YAML override onto the
// built-in defaults: user values win where set, without hand-writing a
// field-by-field copy for every addition to NodeDefaults.
func mergeOverride(base NodeDefaults, override NodeDefaults) (NodeDefaults, error) {
	merged := base
	if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
		return NodeDefaults{}, err
	}
	return merged, nil
}
