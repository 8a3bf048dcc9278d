// SPDX-License-Identifier: Apache-2.0

package cmd

import "errors"

var errNoActiveConfig = errors.New("noorm: no active config; run 'noorm config use <name>' or pass --config")
