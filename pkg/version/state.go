// SPDX-License-Identifier: Apache-2.0

package version

import "github.com/noormdev/noorm/pkg/state"

// StateLayerVersion is the current expected version of the decrypted state
// object.
const StateLayerVersion = state.CurrentSchemaVersion

// NewStateLayer returns the state layer's version.Layer: a list of pure
// functions transforming the decrypted state.Data from version v to v+1.
// There are no migrations yet beyond v1, the version this repo ships; the
// list exists so a future v2 has somewhere to go.
func NewStateLayer() *Layer[*state.Data] {
	return New("state", StateLayerVersion, []Migration[*state.Data]{})
}
