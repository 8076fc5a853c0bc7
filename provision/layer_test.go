package provision

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layerYAML = `
packages:
  - torch==2.3.0
plugins_dir: /opt/ComfyUI/custom_nodes
plugins:
  - url: https://github.com/ltdrdata/ComfyUI-Manager
  - url: https://github.com/Fannovel16/comfyui_controlnet_aux.git
    dir: /opt/extra/aux
manifests:
  - name: checkpoints
    entries:
      - https://hostA/model.safetensors
      - https://hostB/x|custom.pt
      - ""
  - name: lora
    dir: lora/sdxl
    entries: []
smoke_test:
  command: python
  args: [main.py, --quick-test-for-ci]
  timeout: 5m
owner: "1000:1000"
`

func TestLoadLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comfyui.yaml")
	require.NoError(t, os.WriteFile(path, []byte(layerYAML), 0o644))

	l, err := LoadLayer(path)
	require.NoError(t, err)

	assert.Equal(t, "comfyui", l.Name, "name defaults to the file name")
	assert.Equal(t, []string{"torch==2.3.0"}, l.Packages)
	require.Len(t, l.Plugins, 2)
	assert.Equal(t, "/opt/ComfyUI/custom_nodes/ComfyUI-Manager", l.Plugins[0].Target(l.PluginsDir))
	assert.Equal(t, "/opt/extra/aux", l.Plugins[1].Target(l.PluginsDir))
	require.NotNil(t, l.SmokeTest)
	assert.Equal(t, 5*time.Minute, l.SmokeTest.Timeout)
	assert.Equal(t, "1000:1000", l.Owner)

	set, err := l.ManifestSet("/models")
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, "/models/ckpt", set[0].TargetDir)
	assert.Equal(t, 2, set[0].Len(), "blank entries are dropped")
	assert.Equal(t, "custom.pt", set[0].Descriptors[1].FilenameOverride)
	assert.Equal(t, "/models/lora/sdxl", set[1].TargetDir)
	assert.True(t, set[1].Empty())
}

func TestPluginTarget(t *testing.T) {
	assert.Equal(t, "/p/repo", Plugin{URL: "https://github.com/o/repo.git"}.Target("/p"))
	assert.Equal(t, "/p/repo", Plugin{URL: "https://github.com/o/repo/"}.Target("/p"))
	assert.Equal(t, "/p/custom", Plugin{URL: "https://github.com/o/repo", Dir: "custom"}.Target("/p"))
}

func TestLayerValidate(t *testing.T) {
	tests := []struct {
		name  string
		layer Layer
		ok    bool
	}{
		{"empty", Layer{}, true},
		{"plugin without dir", Layer{Plugins: []Plugin{{URL: "https://g/x"}}}, false},
		{"plugin with absolute dir", Layer{Plugins: []Plugin{{URL: "https://g/x", Dir: "/opt/x"}}}, true},
		{"plugin without url", Layer{PluginsDir: "/p", Plugins: []Plugin{{}}}, false},
		{"smoke without command", Layer{SmokeTest: &SmokeTest{}}, false},
		{"relative storage root", Layer{StorageRoot: "models"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.layer.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadLayerErrors(t *testing.T) {
	_, err := LoadLayer(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugins: [url: x"), 0o644))
	_, err = LoadLayer(path)
	assert.Error(t, err)
}
