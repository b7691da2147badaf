package dialoginfra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/craftable/errx"
	"gopkg.in/yaml.v3"
)

var flowExtensions = []string{".flow.json", ".flow.yaml", ".flow.yml"}

// FileFlowSource lee flujos desde <root>/<botID>/**/*.flow.{json,yaml,yml}
type FileFlowSource struct {
	root string
}

var _ dialog.FlowSource = (*FileFlowSource)(nil)

func NewFileFlowSource(root string) *FileFlowSource {
	return &FileFlowSource{root: root}
}

func (s *FileFlowSource) LoadAll(_ context.Context, botID kernel.BotID) ([]dialog.Flow, error) {
	if botID.IsEmpty() || strings.ContainsAny(botID.String(), `/\`) || strings.Contains(botID.String(), "..") {
		return nil, dialog.ErrInvalidEvent().WithDetail("bot_id", botID.String())
	}
	return LoadDir(filepath.Join(s.root, botID.String()))
}

// LoadDir reads every flow file below dir. Flow names are the slash
// separated path relative to dir with the .flow.json suffix.
func LoadDir(dir string) ([]dialog.Flow, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to read flow directory", errx.TypeInternal).WithDetail("dir", dir)
	}

	var flows []dialog.Flow
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || flowName(d.Name()) == "" {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		f, err := DecodeFlow(filepath.ToSlash(rel), data)
		if err != nil {
			return err
		}
		flows = append(flows, f)
		return nil
	})
	if err != nil {
		var xerr *errx.Error
		if errors.As(err, &xerr) {
			return nil, err
		}
		return nil, errx.Wrap(err, "failed to load flows", errx.TypeInternal).WithDetail("dir", dir)
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].Name < flows[j].Name })
	return flows, nil
}

// DecodeFlow parses a JSON or YAML flow file. The flow is named after
// filePath, whatever its body says.
func DecodeFlow(filePath string, data []byte) (dialog.Flow, error) {
	name := flowName(filePath)
	if name == "" {
		return dialog.Flow{}, dialog.ErrInvalidFlowDefinition().
			WithDetail("file", filePath).
			WithDetail("reason", "not a flow file")
	}

	raw := data
	if !strings.HasSuffix(filePath, ".json") {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return dialog.Flow{}, dialog.ErrInvalidFlowDefinition().WithDetail("file", filePath).WithCause(err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return dialog.Flow{}, fmt.Errorf("failed to convert %s: %w", filePath, err)
		}
		raw = converted
	}

	var f dialog.Flow
	if err := json.Unmarshal(raw, &f); err != nil {
		return dialog.Flow{}, dialog.ErrInvalidFlowDefinition().WithDetail("file", filePath).WithCause(err)
	}
	f.Name = name
	return f, nil
}

// flowName maps a flow file path to its flow name, or "" for other files.
func flowName(filePath string) string {
	p := path.Clean(filepath.ToSlash(filePath))
	for _, ext := range flowExtensions {
		if strings.HasSuffix(p, ext) {
			return strings.TrimSuffix(p, ext) + dialog.FlowSuffix
		}
	}
	return ""
}
