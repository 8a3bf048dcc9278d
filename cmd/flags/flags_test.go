// SPDX-License-Identifier: Apache-2.0

package flags_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/noormdev/noorm/cmd/flags"
)

func TestHeadlessTrueWhenStdoutIsNotATerminal(t *testing.T) {
	viper.Set("HEADLESS", false)
	t.Setenv("CI", "")

	// go test captures stdout, so it is never a real terminal here; Headless
	// must fall back to that even with no flag and no CI env set.
	assert.True(t, flags.Headless())
}

func TestHeadlessTrueWhenFlagSet(t *testing.T) {
	viper.Set("HEADLESS", true)
	defer viper.Set("HEADLESS", false)

	assert.True(t, flags.Headless())
}
