// SPDX-License-Identifier: Apache-2.0

package version

import "github.com/noormdev/noorm/pkg/settings"

// SettingsLayerVersion is the current expected version of the parsed
// settings.yml object.
const SettingsLayerVersion = settings.CurrentSchemaVersion

// NewSettingsLayer returns the settings layer's version.Layer: pure
// functions transforming the parsed *settings.Settings from version v to
// v+1. Empty for the same reason as the state layer: v1 is the only
// version this repo ships.
func NewSettingsLayer() *Layer[*settings.Settings] {
	return New("settings", SettingsLayerVersion, []Migration[*settings.Settings]{})
}
