package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunREST(t *testing.T) {
	sb := New(time.Second)
	require.NoError(t, sb.CompileREST("r1", `{"status": 201, "body": {"id": params.id, "role": body.role}}`))

	out, err := sb.Run(context.Background(), "r1", RESTEnv{
		Params: map[string]string{"id": "42"},
		Body:   map[string]interface{}{"role": "admin"},
	})
	require.NoError(t, err)

	envelope, ok := out.(map[string]interface{})
	require.True(t, ok, "expected map result, got %T", out)
	assert.Equal(t, 201, envelope["status"])
	assert.Equal(t, map[string]interface{}{"id": "42", "role": "admin"}, envelope["body"])
}

func TestRunGraphQL(t *testing.T) {
	sb := New(0)
	require.NoError(t, sb.CompileGraphQL("g1", `{"id": args.id, "name": "user-" + args.id}`))

	out, err := sb.Run(context.Background(), "g1", GraphQLEnv{Args: map[string]interface{}{"id": "7"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": "7", "name": "user-7"}, out)
}

func TestHelpers(t *testing.T) {
	sb := New(time.Second)
	require.NoError(t, sb.CompileREST("h", `[uuid(), toJSON({"a": 1}), fromJSON("[1,2]")]`))

	out, err := sb.Run(context.Background(), "h", RESTEnv{})
	require.NoError(t, err)
	list := out.([]interface{})
	assert.Len(t, list[0], 36)
	assert.Contains(t, list[1], `"a"`)
	assert.Len(t, list[2], 2)
}

func TestCompileFailureIsRecordedPerID(t *testing.T) {
	sb := New(time.Second)
	err := sb.CompileREST("bad", `body.role ==`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompile))
	assert.True(t, sb.Has("bad"))

	require.NoError(t, sb.CompileREST("good", `"ok"`))

	_, err = sb.Run(context.Background(), "bad", RESTEnv{})
	assert.True(t, errors.Is(err, ErrCompile))

	out, err := sb.Run(context.Background(), "good", RESTEnv{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestUnknownVariableIsCompileError(t *testing.T) {
	sb := New(time.Second)
	err := sb.CompileREST("x", `process.exit`)
	assert.True(t, errors.Is(err, ErrCompile))
}

func TestRuntimeErrorIsReturned(t *testing.T) {
	sb := New(time.Second)
	require.NoError(t, sb.CompileREST("div", `1 / int(query.n)`))

	_, err := sb.Run(context.Background(), "div", RESTEnv{Query: map[string]interface{}{"n": "abc"}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "div"))
}

func TestNotRegistered(t *testing.T) {
	_, err := New(time.Second).Run(context.Background(), "missing", RESTEnv{})
	assert.True(t, errors.Is(err, ErrNotRegistered))
}

func TestCancelledContext(t *testing.T) {
	sb := New(time.Second)
	require.NoError(t, sb.CompileREST("slow", `len(filter(1..200000, # % 7 == 0))`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sb.Run(ctx, "slow", RESTEnv{})
	// Either the run wins the race or the cancelled context does; it must never hang.
	if err != nil {
		assert.False(t, errors.Is(err, ErrNotRegistered))
	}
}
