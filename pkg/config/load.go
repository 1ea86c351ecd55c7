// Copyright 2025 The FlowerPower Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/legout/flowerpower/internal/interpolate"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// LoadOptions parameterizes file loading. The zero value reads from the
// current directory against the process environment.
type LoadOptions struct {
	// BaseDir is the project root holding conf/project.yml and
	// conf/pipelines/<name>.yml.
	BaseDir string

	// Environ overrides the process environment ("K=V" entries). Nil uses
	// os.Environ(). Overlays are evaluated once, at load time.
	Environ []string

	// Lookup overrides the interpolation variable source. Nil uses
	// os.LookupEnv.
	Lookup interpolate.Lookup
}

func (o LoadOptions) environ() []string {
	if o.Environ != nil {
		return o.Environ
	}
	return os.Environ()
}

func (o LoadOptions) lookup() interpolate.Lookup {
	if o.Lookup != nil {
		return o.Lookup
	}
	return os.LookupEnv
}

// LoadPipeline reads, interpolates, and overlays the configuration of one
// pipeline. A missing file yields the environment overlay and shims over an
// empty tree (the hard-coded run defaults are merged only by LoadEffective);
// a present but unparsable file is a ConfigError attributed to the file layer.
func LoadPipeline(name string, opts LoadOptions) (*PipelineConfig, error) {
	tree, err := loadTree(pipelinePath(opts.BaseDir, name), opts.lookup())
	if err != nil {
		return nil, err
	}

	overlay, err := envOverlay(opts.environ(), EnvPipelinePrefix)
	if err != nil {
		return nil, err
	}
	tree = deepMergeMap(tree, overlay)

	if err := applyShims(tree, opts.environ()); err != nil {
		return nil, err
	}

	cfg := &PipelineConfig{}
	if err := decodeTree(tree, cfg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return cfg, nil
}

// LoadProject reads, interpolates, and overlays the project configuration.
func LoadProject(opts LoadOptions) (*ProjectConfig, error) {
	tree, err := loadTree(filepath.Join(opts.BaseDir, "conf", "project.yml"), opts.lookup())
	if err != nil {
		return nil, err
	}

	overlay, err := envOverlay(opts.environ(), EnvProjectPrefix)
	if err != nil {
		return nil, err
	}
	tree = deepMergeMap(tree, overlay)

	cfg := &ProjectConfig{}
	if err := decodeTree(tree, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runDefaultsTree is the hard-coded defaults layer in tree form, so the
// file and environment layers merge over it key-wise.
func runDefaultsTree() map[string]any {
	return map[string]any{
		"executor": map[string]any{"type": ExecutorSynchronous},
		"retry": map[string]any{
			"max_retries":   0,
			"retry_delay":   1.0,
			"jitter_factor": 0.1,
		},
	}
}

// LoadEffective assembles the file-layer view of one pipeline run:
// hard-coded defaults, project run defaults, then the pipeline file with
// its environment overlay and shims, each layer deep-merged over the one
// below. The caller's RunConfig and per-call options still apply on top.
func LoadEffective(name string, opts LoadOptions) (*PipelineConfig, *ProjectConfig, error) {
	projTree, err := loadTree(filepath.Join(opts.BaseDir, "conf", "project.yml"), opts.lookup())
	if err != nil {
		return nil, nil, err
	}
	projOverlay, err := envOverlay(opts.environ(), EnvProjectPrefix)
	if err != nil {
		return nil, nil, err
	}
	projTree = deepMergeMap(projTree, projOverlay)

	project := &ProjectConfig{}
	if err := decodeTree(projTree, project); err != nil {
		return nil, nil, err
	}

	pipeTree, err := loadTree(pipelinePath(opts.BaseDir, name), opts.lookup())
	if err != nil {
		return nil, nil, err
	}
	overlay, err := envOverlay(opts.environ(), EnvPipelinePrefix)
	if err != nil {
		return nil, nil, err
	}
	pipeTree = deepMergeMap(pipeTree, overlay)

	// Shims fill keys absent from the file and environment layers only;
	// they beat defaults and project-level run settings.
	if err := applyShims(pipeTree, opts.environ()); err != nil {
		return nil, nil, err
	}

	base := map[string]any{"run": runDefaultsTree()}
	if projRun, ok := projTree["run"].(map[string]any); ok {
		base = deepMergeMap(base, map[string]any{"run": projRun})
	}
	pipeTree = deepMergeMap(base, pipeTree)

	pipeline := &PipelineConfig{}
	if err := decodeTree(pipeTree, pipeline); err != nil {
		return nil, nil, err
	}
	if pipeline.Name == "" {
		pipeline.Name = name
	}
	return pipeline, project, nil
}

// pipelinePath resolves the pipeline config file, preferring .yml and
// falling back to .yaml.
func pipelinePath(baseDir, name string) string {
	yml := filepath.Join(baseDir, "conf", "pipelines", name+".yml")
	if _, err := os.Stat(yml); err == nil {
		return yml
	}
	alt := filepath.Join(baseDir, "conf", "pipelines", name+".yaml")
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return yml
}

// loadTree reads one YAML file into a map and interpolates its strings.
// Missing files yield an empty tree.
func loadTree(path string, lookup interpolate.Lookup) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, &fperrors.ConfigError{
			Key: path, Layer: "file", Reason: "cannot read config file", Cause: err,
		}
	}

	var decoded any
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, &fperrors.ConfigError{
			Key: path, Layer: "file", Reason: "invalid YAML", Cause: err,
		}
	}
	if decoded == nil {
		return map[string]any{}, nil
	}
	tree, ok := decoded.(map[string]any)
	if !ok {
		return nil, &fperrors.ConfigError{
			Key: path, Layer: "file", Reason: fmt.Sprintf("config file must hold a mapping, got %T", decoded),
		}
	}

	expanded, err := interpolate.ExpandWith(tree, lookup)
	if err != nil {
		return nil, err
	}
	return expanded.(map[string]any), nil
}

// decodeTree types a merged map into a config record through YAML.
func decodeTree(tree map[string]any, out any) error {
	raw, err := yaml.Marshal(tree)
	if err != nil {
		return &fperrors.ConfigError{Layer: "file", Reason: "cannot re-encode config tree", Cause: err}
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return &fperrors.ConfigError{Layer: "file", Reason: "config does not match schema", Cause: err}
	}
	return nil
}
