package logger_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weave-hq/weave/internal/cmn/logger"
	"github.com/weave-hq/weave/internal/cmn/logger/tag"
)

func TestWithValuesBindsAttrs(t *testing.T) {
	var buf bytes.Buffer
	lg := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf))

	ctx := logger.WithLogger(context.Background(), lg)
	ctx = logger.WithValues(ctx, tag.RunID("r-1"), tag.Workflow("wf-1"), tag.Version("v1"))
	logger.Info(ctx, "hello", tag.Node("n1"))

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "run-id=r-1")
	assert.Contains(t, out, "workflow=wf-1")
	assert.Contains(t, out, "version=v1")
	assert.Contains(t, out, "node=n1")
	assert.NotContains(t, out, "BADKEY")
	assert.NotContains(t, out, "MISSING_VALUE")
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	lg := logger.FromContext(context.Background())
	require.NotNil(t, lg)
}
