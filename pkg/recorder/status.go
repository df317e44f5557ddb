// Package recorder persists stage outcomes: a flat per-layer status file
// consumed by humans and health checks, and a sqlite run history for the
// status command.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/reforge/reforge/pkg/layer"
)

// statusSuffix trails the layer staging key in every status file name.
const statusSuffix = "playbook.status"

// LayerStatus is the recorded outcome of one layer, keyed by stage name.
type LayerStatus struct {
	Key    string         `yaml:"-" json:"key"`
	Stages map[string]int `yaml:",inline" json:"stages"`
}

// FileRecorder writes one status file per layer into the staging
// directory. Within a file, stages overwrite their own previous entry and
// leave the others alone.
type FileRecorder struct {
	dir string
	log zerolog.Logger
}

// NewFileRecorder returns a recorder writing under dir.
func NewFileRecorder(dir string, log zerolog.Logger) *FileRecorder {
	return &FileRecorder{dir: dir, log: log.With().Str("component", "recorder").Logger()}
}

// Record stores the exit code of one stage of one layer.
func (r *FileRecorder) Record(path layer.Path, stage layer.Stage, exitCode int) error {
	file := filepath.Join(r.dir, path.StagingKey()+statusSuffix)

	stages, err := readStages(file)
	if err != nil {
		return err
	}
	stages[string(stage)] = exitCode

	data, err := yaml.Marshal(stages)
	if err != nil {
		return fmt.Errorf("failed to encode status for %s: %w", file, err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("failed to write status file %s: %w", file, err)
	}

	r.log.Debug().
		Str("layer", path.String()).
		Str("stage", string(stage)).
		Int("exit_code", exitCode).
		Msg("Recorded stage outcome")
	return nil
}

// Outcomes reads every status file in the staging directory, sorted by
// layer key with the root layer first.
func (r *FileRecorder) Outcomes() ([]LayerStatus, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read staging directory %s: %w", r.dir, err)
	}

	var out []LayerStatus
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, statusSuffix) {
			continue
		}
		stages, err := readStages(filepath.Join(r.dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, LayerStatus{
			Key:    strings.TrimSuffix(name, statusSuffix),
			Stages: stages,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return len(out[i].Key) < len(out[j].Key) ||
			(len(out[i].Key) == len(out[j].Key) && out[i].Key < out[j].Key)
	})
	return out, nil
}

func readStages(file string) (map[string]int, error) {
	stages := map[string]int{}
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return stages, nil
		}
		return nil, fmt.Errorf("failed to read status file %s: %w", file, err)
	}
	if err := yaml.Unmarshal(data, &stages); err != nil {
		return nil, fmt.Errorf("failed to parse status file %s: %w", file, err)
	}
	return stages, nil
}
