package subcmd

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/dalybms/state"
)

func TestParse(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *state.Config) error { return nil }
	modules := []Mod{{Name: "poll", Main: noop}, {Name: "cli", Main: noop}}

	m, err := Parse("cli", modules)
	require.NoError(t, err)
	assert.Equal(t, "cli", m.Name)

	_, err = Parse("", modules)
	assert.True(t, errors.IsNotValid(err))
	_, err = Parse("serve", modules)
	assert.True(t, errors.IsNotFound(err))

	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{Name: "x"}}) })
}
