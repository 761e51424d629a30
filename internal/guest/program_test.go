package guest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("b", func(context.Context, *Sys) int { return 2 })
	reg.Register("a", ProgramFunc(func(context.Context, *Sys) int { return 1 }))

	assert.Equal(t, []string{"a", "b"}, reg.Names())

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)

	main, ok := reg.Lookup("b")
	assert.True(t, ok)
	assert.NotNil(t, main)

	e := newTestEnv(t, reg)
	assert.Equal(t, 1, e.run(t, "a").StatusCode)
	assert.Equal(t, 2, e.run(t, "b").StatusCode)
}
