package tool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/loom/internal/domain"
	"github.com/gosuda/loom/internal/tool"
)

func TestDispatcher_Dispatch(t *testing.T) {
	t.Parallel()

	t.Run("success with output and duration", func(t *testing.T) {
		t.Parallel()

		reg := tool.NewRegistry()
		reg.Register(&stubTool{name: "get_cwd", call: func(_ context.Context, _ map[string]any) (string, error) {
			time.Sleep(time.Millisecond)
			return "/workspace", nil
		}})
		d := tool.NewDispatcher(reg)

		res := d.Dispatch(context.Background(), &domain.ToolCallRequest{Name: "get_cwd", Input: map[string]any{}})

		assert.True(t, res.Success)
		assert.Equal(t, "/workspace", res.Output)
		assert.Empty(t, res.Err)
		assert.Positive(t, res.Duration)
	})

	t.Run("unknown tool reported in result, not returned", func(t *testing.T) {
		t.Parallel()

		d := tool.NewDispatcher(tool.NewRegistry())

		res := d.Dispatch(context.Background(), &domain.ToolCallRequest{Name: "does_not_exist"})

		assert.False(t, res.Success)
		assert.Contains(t, res.Err, `unknown tool "does_not_exist"`)
	})

	t.Run("tool error wrapped with tool name", func(t *testing.T) {
		t.Parallel()

		reg := tool.NewRegistry()
		reg.Register(&stubTool{name: "read_file", call: func(_ context.Context, _ map[string]any) (string, error) {
			return "", errors.New("open a.txt: no such file or directory")
		}})
		d := tool.NewDispatcher(reg)

		res := d.Dispatch(context.Background(), &domain.ToolCallRequest{Name: "read_file", Input: map[string]any{"path": "a.txt"}})

		assert.False(t, res.Success)
		assert.Contains(t, res.Err, "tool read_file:")
		assert.Contains(t, res.Err, "no such file")
	})

	t.Run("panicking tool is recovered", func(t *testing.T) {
		t.Parallel()

		reg := tool.NewRegistry()
		reg.Register(&stubTool{name: "boom", call: func(_ context.Context, _ map[string]any) (string, error) {
			panic("nil map write")
		}})
		d := tool.NewDispatcher(reg)

		res := d.Dispatch(context.Background(), &domain.ToolCallRequest{Name: "boom"})

		assert.False(t, res.Success)
		assert.Contains(t, res.Err, "panic: nil map write")
	})

	t.Run("nil input invokes with zero parameters", func(t *testing.T) {
		t.Parallel()

		var seen map[string]any
		reg := tool.NewRegistry()
		reg.Register(&stubTool{name: "get_cwd", call: func(_ context.Context, args map[string]any) (string, error) {
			seen = args
			return "/", nil
		}})
		d := tool.NewDispatcher(reg)

		res := d.Dispatch(context.Background(), &domain.ToolCallRequest{Name: "get_cwd", Input: nil})

		require.True(t, res.Success)
		require.NotNil(t, seen)
		assert.Empty(t, seen)
	})
}

func TestArgHelpers(t *testing.T) {
	t.Parallel()

	t.Run("StringArg", func(t *testing.T) {
		t.Parallel()

		args := map[string]any{"path": "a.txt", "num": float64(3)}

		got, err := tool.StringArg(args, "path", true, "")
		require.NoError(t, err)
		assert.Equal(t, "a.txt", got)

		got, err = tool.StringArg(args, "missing", false, "fallback")
		require.NoError(t, err)
		assert.Equal(t, "fallback", got)

		_, err = tool.StringArg(args, "missing", true, "")
		assert.Error(t, err)

		_, err = tool.StringArg(args, "num", true, "")
		assert.Error(t, err)
	})

	t.Run("IntArg", func(t *testing.T) {
		t.Parallel()

		args := map[string]any{"limit": float64(10), "frac": 1.5, "s": "x"}

		got, err := tool.IntArg(args, "limit", true, 0)
		require.NoError(t, err)
		assert.Equal(t, 10, got)

		got, err = tool.IntArg(args, "missing", false, 1000)
		require.NoError(t, err)
		assert.Equal(t, 1000, got)

		_, err = tool.IntArg(args, "frac", true, 0)
		assert.Error(t, err)

		_, err = tool.IntArg(args, "s", true, 0)
		assert.Error(t, err)
	})

	t.Run("BoolArg", func(t *testing.T) {
		t.Parallel()

		args := map[string]any{"clean": true, "s": "yes"}

		got, err := tool.BoolArg(args, "clean", false)
		require.NoError(t, err)
		assert.True(t, got)

		got, err = tool.BoolArg(args, "missing", true)
		require.NoError(t, err)
		assert.True(t, got)

		_, err = tool.BoolArg(args, "s", false)
		assert.Error(t, err)
	})

	t.Run("StringListArg", func(t *testing.T) {
		t.Parallel()

		args := map[string]any{"files": []any{"a.go", "b.go"}, "bad": []any{1}}

		got, err := tool.StringListArg(args, "files")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.go", "b.go"}, got)

		got, err = tool.StringListArg(args, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)

		_, err = tool.StringListArg(args, "bad")
		assert.Error(t, err)
	})

	t.Run("StringMapArg", func(t *testing.T) {
		t.Parallel()

		args := map[string]any{"headers": map[string]any{"User-Agent": "loom"}}

		got, err := tool.StringMapArg(args, "headers")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"User-Agent": "loom"}, got)
	})
}
