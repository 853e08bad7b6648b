package qrdqn

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
	"github.com/zeu5/highway-rl/util"
)

var ErrBadCheckpoint = errors.New("bad checkpoint archive")

const dataEntry = "data.json"

type checkpointData struct {
	Version      int          `json:"version"`
	ObsDim       int          `json:"obs_dim"`
	NActions     int          `json:"n_actions"`
	Seed         uint64       `json:"seed"`
	Config       Config       `json:"config"`
	NumTimesteps int          `json:"num_timesteps"`
	NCalls       int          `json:"n_calls"`
	NUpdates     int          `json:"n_updates"`
	AdamStep     int          `json:"adam_step"`
	LRSchedule   scheduleSpec `json:"lr_schedule"`
	Tensors      []string     `json:"tensors"`
}

func (q *QRDQN) tensors() map[string][]float64 {
	out := make(map[string][]float64)
	for i, p := range q.online.Params() {
		out[fmt.Sprintf("online/%d.npy", i)] = p
	}
	for i, p := range q.target.Params() {
		out[fmt.Sprintf("target/%d.npy", i)] = p
	}
	for i := range q.optimizer.M {
		out[fmt.Sprintf("adam/m/%d.npy", i)] = q.optimizer.M[i]
		out[fmt.Sprintf("adam/v/%d.npy", i)] = q.optimizer.V[i]
	}
	return out
}

func (q *QRDQN) tensorNames() []string {
	names := make([]string, 0)
	for i := range q.online.Params() {
		names = append(names, fmt.Sprintf("online/%d.npy", i))
	}
	for i := range q.target.Params() {
		names = append(names, fmt.Sprintf("target/%d.npy", i))
	}
	for i := range q.optimizer.M {
		names = append(names, fmt.Sprintf("adam/m/%d.npy", i), fmt.Sprintf("adam/v/%d.npy", i))
	}
	return names
}

// Save writes the networks, the optimizer state and the counters into a zip archive
func (q *QRDQN) Save(path string) error {
	spec, err := encodeSchedule(q.lrSchedule)
	if err != nil {
		return err
	}
	names := q.tensorNames()
	data := &checkpointData{
		Version:      1,
		ObsDim:       q.obsDim,
		NActions:     q.nActions,
		Seed:         q.seed,
		Config:       q.config,
		NumTimesteps: q.numTimesteps,
		NCalls:       q.nCalls,
		NUpdates:     q.nUpdates,
		AdamStep:     q.optimizer.Step,
		LRSchedule:   spec,
		Tensors:      names,
	}

	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := writeArchive(f, data, q.tensors()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeArchive(w io.Writer, data *checkpointData, tensors map[string][]float64) error {
	zw := zip.NewWriter(w)
	entry, err := zw.Create(dataEntry)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(entry)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return err
	}
	for _, name := range data.Tensors {
		entry, err := zw.Create(name)
		if err != nil {
			return err
		}
		if err := npyio.Write(entry, tensors[name]); err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
	}
	return zw.Close()
}

// Load restores an agent saved with Save. The replay buffer is not persisted
// and starts empty.
func Load(path string) (*QRDQN, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrBadCheckpoint, path, err)
	}
	defer zr.Close()

	entries := make(map[string]*zip.File)
	for _, f := range zr.File {
		entries[f.Name] = f
	}
	dataFile, ok := entries[dataEntry]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s", ErrBadCheckpoint, path, dataEntry)
	}
	var data checkpointData
	if err := readEntry(dataFile, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&data)
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}
	schedule, err := decodeSchedule(data.LRSchedule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}

	q := NewSeeded(data.Config, data.ObsDim, data.NActions, schedule, data.Seed)
	q.numTimesteps = data.NumTimesteps
	q.nCalls = data.NCalls
	q.nUpdates = data.NUpdates
	q.optimizer.Step = data.AdamStep
	// a resumed run must not replay the random stream of the first one
	q.Reseed(data.Seed + uint64(data.NumTimesteps))

	tensors := q.tensors()
	if len(data.Tensors) != len(tensors) {
		return nil, fmt.Errorf("%w: expected %d tensors, found %d", ErrBadCheckpoint, len(tensors), len(data.Tensors))
	}
	for _, name := range data.Tensors {
		dst, ok := tensors[name]
		if !ok {
			return nil, fmt.Errorf("%w: unexpected tensor %s", ErrBadCheckpoint, name)
		}
		f, ok := entries[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing tensor %s", ErrBadCheckpoint, name)
		}
		var values []float64
		if err := readEntry(f, func(r io.Reader) error {
			return npyio.Read(r, &values)
		}); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrBadCheckpoint, name, err)
		}
		if len(values) != len(dst) {
			return nil, fmt.Errorf("%w: tensor %s has %d values, expected %d", ErrBadCheckpoint, name, len(values), len(dst))
		}
		copy(dst, values)
	}
	return q, nil
}

func readEntry(f *zip.File, read func(io.Reader) error) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return read(rc)
}
