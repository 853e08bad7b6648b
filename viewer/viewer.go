package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zeu5/highway-rl/highway"
	"github.com/zeu5/highway-rl/logging"
	"github.com/zeu5/highway-rl/types"
	"github.com/zeu5/highway-rl/util"
)

// Scene is what the viewer needs from the environment
type Scene interface {
	Render(w io.Writer) error
	Snapshot() highway.Snapshot
}

// Frame is the latest rendered step
type Frame struct {
	Episode  int              `json:"episode"`
	Step     int              `json:"step"`
	Reward   float64          `json:"reward"`
	Return   float64          `json:"return"`
	Snapshot highway.Snapshot `json:"snapshot"`
	png      []byte
}

type EpisodeSummary struct {
	Episode    int     `json:"episode"`
	Steps      int     `json:"steps"`
	Return     float64 `json:"return"`
	Terminated bool    `json:"terminated"`
	Truncated  bool    `json:"truncated"`
}

// Viewer keeps the latest frame of a running episode and serves it over http.
// Frames can also be written to a directory.
type Viewer struct {
	Addr      string
	framesDir string
	ctx       context.Context
	server    *http.Server
	router    *gin.Engine

	lock     *sync.Mutex
	frame    *Frame
	frames   int
	episodes []EpisodeSummary
}

func NewViewer(ctx context.Context, addr, framesDir string) *Viewer {
	v := &Viewer{
		Addr:      addr,
		framesDir: framesDir,
		ctx:       ctx,
		lock:      new(sync.Mutex),
		episodes:  make([]EpisodeSummary, 0),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/health", healthHandler)
	r.GET("/frame.png", v.handleFrame)
	r.GET("/state", v.handleState)
	r.GET("/episodes", v.handleEpisodes)
	v.router = r
	v.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return v
}

func (v *Viewer) Handler() http.Handler {
	return v.router
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (v *Viewer) handleFrame(c *gin.Context) {
	v.lock.Lock()
	frame := v.frame
	v.lock.Unlock()
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame rendered yet"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", frame.png)
}

func (v *Viewer) handleState(c *gin.Context) {
	v.lock.Lock()
	frame := v.frame
	v.lock.Unlock()
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame rendered yet"})
		return
	}
	c.JSON(http.StatusOK, frame)
}

func (v *Viewer) handleEpisodes(c *gin.Context) {
	c.JSON(http.StatusOK, v.Episodes())
}

// Record renders the scene after a step and makes it the current frame
func (v *Viewer) Record(scene Scene, sCtx *types.StepContext) error {
	buf := new(bytes.Buffer)
	if err := scene.Render(buf); err != nil {
		return fmt.Errorf("rendering frame: %w", err)
	}
	frame := &Frame{
		Episode:  sCtx.Episode,
		Step:     sCtx.Step,
		Reward:   sCtx.RawReward,
		Return:   sCtx.EpisodeContext.Return,
		Snapshot: scene.Snapshot(),
		png:      buf.Bytes(),
	}

	v.lock.Lock()
	v.frame = frame
	index := v.frames
	v.frames += 1
	v.lock.Unlock()

	if v.framesDir == "" {
		return nil
	}
	if err := util.EnsureDir(v.framesDir); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(v.framesDir, fmt.Sprintf("frame_%05d.png", index)), frame.png, 0644)
}

// EndEpisode stores the summary of a finished episode
func (v *Viewer) EndEpisode(eCtx *types.EpisodeContext) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.episodes = append(v.episodes, EpisodeSummary{
		Episode:    eCtx.Episode,
		Steps:      eCtx.Timesteps,
		Return:     eCtx.Return,
		Terminated: eCtx.Terminated,
		Truncated:  eCtx.Truncated,
	})
}

func (v *Viewer) Episodes() []EpisodeSummary {
	v.lock.Lock()
	defer v.lock.Unlock()
	out := make([]EpisodeSummary, len(v.episodes))
	copy(out, v.episodes)
	return out
}

func (v *Viewer) Frames() int {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.frames
}

// Start serves the viewer until the context is cancelled
func (v *Viewer) Start() {
	go func() {
		logging.Info("Serving frames", logging.Viewer, "addr", v.Addr)
		if err := v.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Viewer stopped", logging.Viewer, "error", err)
		}
	}()

	go func() {
		<-v.ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		v.server.Shutdown(ctx)
	}()
}
