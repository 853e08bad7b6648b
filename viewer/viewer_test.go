package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/highway"
	"github.com/zeu5/highway-rl/types"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	h.ServeHTTP(w, req)
	return w
}

func TestViewerServesFrames(t *testing.T) {
	framesDir := filepath.Join(t.TempDir(), "frames")
	v := NewViewer(context.Background(), "", framesDir)
	h := v.Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	require.Equal(t, http.StatusNotFound, get(t, h, "/frame.png").Code)
	require.Equal(t, http.StatusNotFound, get(t, h, "/state").Code)

	env := highway.NewEnv(config.Default().Env, 5)
	var hookErr error
	agent := types.NewAgent(&types.AgentConfig{
		Horizon:     3,
		Policy:      types.NewSeededRandomPolicy(2),
		Environment: env,
		StepHook: func(sCtx *types.StepContext) {
			if err := v.Record(env, sCtx); err != nil {
				hookErr = err
			}
		},
	})
	eCtx := types.NewEpisodeContext(context.Background(), 0, 0)
	agent.RunEpisode(eCtx)
	require.NoError(t, eCtx.Err)
	require.NoError(t, hookErr)
	v.EndEpisode(eCtx)
	require.Equal(t, eCtx.Timesteps, v.Frames())

	w := get(t, h, "/frame.png")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = get(t, h, "/state")
	require.Equal(t, http.StatusOK, w.Code)
	var frame Frame
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &frame))
	require.Equal(t, eCtx.Timesteps-1, frame.Step)
	require.InDelta(t, eCtx.Return, frame.Return, 1e-9)
	require.Len(t, frame.Snapshot.Vehicles, len(env.Road().Vehicles))

	w = get(t, h, "/episodes")
	require.Equal(t, http.StatusOK, w.Code)
	var episodes []EpisodeSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &episodes))
	require.Len(t, episodes, 1)
	require.Equal(t, eCtx.Timesteps, episodes[0].Steps)

	files, err := os.ReadDir(framesDir)
	require.NoError(t, err)
	require.Len(t, files, eCtx.Timesteps)
	require.Equal(t, "frame_00000.png", files[0].Name())
}

func TestRecordUnresetScene(t *testing.T) {
	v := NewViewer(context.Background(), "", "")
	env := highway.NewEnv(config.Default().Env, 1)
	sCtx := types.NewStepContext(types.NewEpisodeContext(context.Background(), 0, 0), 0, nil, highway.Idle)
	require.ErrorIs(t, v.Record(env, sCtx), highway.ErrNotReset)
	require.Equal(t, 0, v.Frames())
}
