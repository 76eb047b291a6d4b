package envelope

import (
	"testing"
	"time"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/coreerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ChunksWritten int `json:"chunksWritten"`
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestOk_SetsSchemaAndData(t *testing.T) {
	start := time.Now()
	now := fixedClock(start.Add(50 * time.Millisecond))

	env := Ok("index_bundle", "req-1", start, now, payload{ChunksWritten: 2})

	assert.True(t, env.OK)
	assert.Equal(t, SchemaVersion, env.Meta.SchemaVersion)
	assert.Equal(t, "index_bundle", env.Meta.Tool)
	require.NotNil(t, env.Data)
	assert.Equal(t, 2, env.Data.ChunksWritten)
	assert.Equal(t, int64(50), env.Meta.TimeMs)
	assert.Nil(t, env.Error)
}

func TestFail_CarriesClosedErrorCode(t *testing.T) {
	start := time.Now()
	now := fixedClock(start)
	err := coreerr.New(coreerr.KindInvalidPath, "not-a-uuid").WithHint("pass a valid bundle id")

	env := Fail[payload]("query", "req-2", start, now, err)

	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, coreerr.KindInvalidPath, env.Error.Code)
	assert.Equal(t, "pass a valid bundle id", env.Error.Hint)
	assert.Nil(t, env.Data)
}

func TestWithWarnings_Appends(t *testing.T) {
	start := time.Now()
	now := fixedClock(start)
	env := Ok("query", "req-3", start, now, payload{})

	env = env.WithWarnings(Warning{Code: "LOGPROBS_UNSUPPORTED", Recoverable: true})

	assert.Len(t, env.Warnings, 1)
	assert.True(t, env.Warnings[0].Recoverable)
}
