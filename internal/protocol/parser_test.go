package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/loom/internal/protocol"
)

func callBlock(payload string) string {
	return protocol.StartMarker + "\n```\n" + payload + "\n```\n" + protocol.EndMarker
}

func TestParse_NoCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		turn string
	}{
		{name: "plain prose", turn: "The answer is 42."},
		{name: "empty turn", turn: ""},
		{name: "end marker only", turn: "some text " + protocol.EndMarker},
		{name: "braces without marker", turn: `{"name":"get_cwd"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req, err := protocol.Parse(tc.turn)
			require.NoError(t, err)
			assert.Nil(t, req)
		})
	}
}

func TestParse_OneCall(t *testing.T) {
	t.Parallel()

	t.Run("well-formed call with input", func(t *testing.T) {
		t.Parallel()

		turn := "Let me look.\n" + callBlock(`{"name":"list_directory","input":{"path":"."}}`)

		req, err := protocol.Parse(turn)
		require.NoError(t, err)
		require.NotNil(t, req)
		assert.Equal(t, "list_directory", req.Name)
		assert.Equal(t, map[string]any{"path": "."}, req.Input)
	})

	t.Run("empty-string input means no parameters", func(t *testing.T) {
		t.Parallel()

		turn := "Let me check.\n" + protocol.StartMarker + "\n```\n{\"name\":\"get_cwd\",\"input\":\"\"}\n```\n" + protocol.EndMarker

		req, err := protocol.Parse(turn)
		require.NoError(t, err)
		require.NotNil(t, req)
		assert.Equal(t, "get_cwd", req.Name)
		assert.Empty(t, req.Input)
		assert.NotNil(t, req.Input)
	})

	t.Run("absent input means no parameters", func(t *testing.T) {
		t.Parallel()

		req, err := protocol.Parse(callBlock(`{"name":"get_cwd"}`))
		require.NoError(t, err)
		assert.Empty(t, req.Input)
		assert.NotNil(t, req.Input)
	})

	t.Run("nested braces in payload", func(t *testing.T) {
		t.Parallel()

		req, err := protocol.Parse(callBlock(`{"name":"x","input":{"a":{"b":1},"c":[{"d":2}]}}`))
		require.NoError(t, err)
		require.NotNil(t, req)
		assert.Equal(t, "x", req.Name)
		inner, ok := req.Input["a"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(1), inner["b"])
	})

	t.Run("missing end marker still parses by stop condition", func(t *testing.T) {
		t.Parallel()

		// The provider stop string eats the end marker; the payload is intact.
		turn := protocol.StartMarker + "\n```\n{\"name\":\"get_cwd\",\"input\":{}}\n```\n"

		req, err := protocol.Parse(turn)
		require.NoError(t, err)
		assert.Equal(t, "get_cwd", req.Name)
	})

	t.Run("surrounding prose ignored", func(t *testing.T) {
		t.Parallel()

		turn := "some prose with { stray } braces\n" +
			callBlock(`{"name":"read_file","input":{"path":"a.txt"}}`) + "\ntrailing"

		// Braces before the marker are irrelevant; the scan starts after it.
		req, err := protocol.Parse(turn)
		require.NoError(t, err)
		assert.Equal(t, "read_file", req.Name)
	})
}

func TestParse_ProtocolErrors(t *testing.T) {
	t.Parallel()

	t.Run("multiple start markers fail fast", func(t *testing.T) {
		t.Parallel()

		turn := callBlock(`{"name":"a"}`) + "\n" + callBlock(`{"name":"b"}`)

		req, err := protocol.Parse(turn)
		assert.Nil(t, req)
		require.Error(t, err)
		assert.ErrorIs(t, err, protocol.ErrProtocol)

		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, protocol.ViolationMultipleCalls, perr.Violation)
	})

	t.Run("truncated payload yields unbalanced braces", func(t *testing.T) {
		t.Parallel()

		turn := protocol.StartMarker + "\n```\n{\"name\":\"write_file\",\"input\":{\"path\":\"x\""

		req, err := protocol.Parse(turn)
		assert.Nil(t, req)

		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, protocol.ViolationUnbalancedBraces, perr.Violation)
	})

	t.Run("invalid JSON inside balanced braces", func(t *testing.T) {
		t.Parallel()

		req, err := protocol.Parse(callBlock(`{name: "x"}`))
		assert.Nil(t, req)

		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, protocol.ViolationInvalidJSON, perr.Violation)
	})

	t.Run("missing name field", func(t *testing.T) {
		t.Parallel()

		req, err := protocol.Parse(callBlock(`{"input":{"path":"."}}`))
		assert.Nil(t, req)

		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, protocol.ViolationMissingName, perr.Violation)
	})

	t.Run("marker with no object at all", func(t *testing.T) {
		t.Parallel()

		req, err := protocol.Parse(protocol.StartMarker + " and then nothing")
		assert.Nil(t, req)

		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, protocol.ViolationInvalidJSON, perr.Violation)
	})

	t.Run("non-empty string input rejected", func(t *testing.T) {
		t.Parallel()

		req, err := protocol.Parse(callBlock(`{"name":"x","input":"path=."}`))
		assert.Nil(t, req)
		assert.ErrorIs(t, err, protocol.ErrProtocol)
	})
}
