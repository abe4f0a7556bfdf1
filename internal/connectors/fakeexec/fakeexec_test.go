package fakeexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/showerflow/internal/connectors"
)

func TestFakeDispatchAndFailures(t *testing.T) {
	f := New()
	ran := 0
	f.Handle("/bin/a", func(ctx context.Context, inv connectors.Invocation) (int, error) {
		ran++
		return 0, nil
	})
	assert.True(t, f.IsAllowed("/bin/a"))
	assert.False(t, f.IsAllowed("/bin/b"))

	res, err := f.Execute(context.Background(), connectors.Invocation{Executable: "/bin/a"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	f.FailWhen(func(inv connectors.Invocation) bool { return len(inv.Args) > 0 && inv.Args[0] == "bad" }, 2)
	res, err = f.Execute(context.Background(), connectors.Invocation{Executable: "/bin/a", Args: []string{"bad"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, 1, ran)

	_, err = f.Execute(context.Background(), connectors.Invocation{Executable: "/bin/b"})
	assert.Error(t, err)
	assert.Equal(t, 2, f.Count("/bin/a"))
	assert.Equal(t, 3, f.Count(""))
}
