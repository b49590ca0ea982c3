package tool

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
)

type testParams struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

func TestDispatch_RoutesToCorrectHandler(t *testing.T) {
	handler := Dispatch(
		func(p testParams) string { return p.Action },
		ActionMap[testParams, string]{
			"create": func(_ context.Context, p testParams) (string, error) {
				return "created:" + p.Value, nil
			},
			"delete": func(_ context.Context, p testParams) (string, error) {
				return "deleted:" + p.Value, nil
			},
		},
	)

	out, err := handler(context.Background(), testParams{Action: "delete", Value: "x"})
	require.NoError(t, err)
	assert.Equal(t, "deleted:x", out)

	_, err = handler(context.Background(), testParams{Action: ""})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "want: create, delete")
}

func TestDispatch_PropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	handler := Dispatch(
		func(p testParams) string { return p.Action },
		ActionMap[testParams, int]{
			"fail": func(context.Context, testParams) (int, error) { return 0, boom },
		},
	)
	_, err := handler(context.Background(), testParams{Action: "fail"})
	assert.ErrorIs(t, err, boom)
}

func TestTraced_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ok := traced("echo", logger, func(ctx context.Context, p testParams) (string, error) {
		assert.True(t, trace.SpanFromContext(ctx) != nil)
		return p.Value, nil
	})
	out, err := ok(context.Background(), testParams{Value: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Empty(t, buf.String())

	bad := traced("echo", logger, func(context.Context, testParams) (string, error) {
		return "", domain.ErrExecution
	})
	_, err = bad(context.Background(), testParams{})
	assert.ErrorIs(t, err, domain.ErrExecution)
	assert.True(t, strings.Contains(buf.String(), "tool.echo failed"))
}

func TestRequired(t *testing.T) {
	assert.NoError(t, required("q", "go"))
	err := required("q", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "q must not be empty")
}
