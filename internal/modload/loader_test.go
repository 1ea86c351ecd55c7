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

package modload

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

type stubModule struct{ name string }

func (m *stubModule) Name() string { return m.name }

func TestResolveCachesModule(t *testing.T) {
	r := NewRegistry("", nil)
	imports := 0
	r.Register("p1", func() (engine.Module, error) {
		imports++
		return &stubModule{name: "p1"}, nil
	})

	first, err := r.Resolve("p1", false)
	require.NoError(t, err)
	second, err := r.Resolve("p1", false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, imports)
}

func TestResolveReloadBypassesCache(t *testing.T) {
	r := NewRegistry("", nil)
	imports := 0
	r.Register("p1", func() (engine.Module, error) {
		imports++
		return &stubModule{name: "p1"}, nil
	})

	_, err := r.Resolve("p1", false)
	require.NoError(t, err)
	_, err = r.Resolve("p1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, imports)
}

func TestResolveUnknownPipeline(t *testing.T) {
	r := NewRegistry("", nil)
	_, err := r.Resolve("ghost", false)

	var importErr *fperrors.PipelineImportError
	require.ErrorAs(t, err, &importErr)
	assert.Equal(t, "ghost", importErr.Pipeline)
}

func TestResolveFactoryFailure(t *testing.T) {
	r := NewRegistry("", nil)
	boom := errors.New("side effects at import")
	r.Register("p1", func() (engine.Module, error) { return nil, boom })

	_, err := r.Resolve("p1", false)
	var importErr *fperrors.PipelineImportError
	require.ErrorAs(t, err, &importErr)
	assert.ErrorIs(t, err, boom)
}

func TestFingerprintInvalidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p1.yml")
	require.NoError(t, os.WriteFile(path, []byte("run: {}\n"), 0o644))

	r := NewRegistry(dir, nil)
	imports := 0
	r.Register("p1", func() (engine.Module, error) {
		imports++
		return &stubModule{name: "p1"}, nil
	})

	_, err := r.Resolve("p1", false)
	require.NoError(t, err)
	_, err = r.Resolve("p1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, imports)

	// A content change rotates the fingerprint and forces re-import.
	require.NoError(t, os.WriteFile(path, []byte("run: {inputs: {x: 1}}\n"), 0o644))
	_, err = r.Resolve("p1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, imports)
}

func TestInvalidate(t *testing.T) {
	r := NewRegistry("", nil)
	imports := 0
	r.Register("p1", func() (engine.Module, error) {
		imports++
		return &stubModule{name: "p1"}, nil
	})

	_, _ = r.Resolve("p1", false)
	r.Invalidate("p1")
	_, _ = r.Resolve("p1", false)
	assert.Equal(t, 2, imports)
}
