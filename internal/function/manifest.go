package function

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/ignishq/ignis/internal/bind"
)

// Manifest is one function's YAML manifest file.
type Manifest struct {
	Name   string          `yaml:"name"`
	Filter string          `yaml:"filter"`
	Params []ParamManifest `yaml:"params"`
}

// ParamManifest declares one parameter. Exactly one of Queue, Blob or
// BlobOut makes it an input/output binding; a bare name is a plain
// value parameter.
type ParamManifest struct {
	Name    string `yaml:"name"`
	Queue   string `yaml:"queue"`
	Route   string `yaml:"route"`
	Blob    string `yaml:"blob"`
	BlobOut string `yaml:"blob_out"`
}

// Discover scans dir for *.yaml / *.yml manifests and builds a
// registry from them. Hidden files and files starting with '_' are
// skipped. Unparsable manifests are logged and skipped rather than
// failing the whole scan.
func Discover(dir string) (*StaticRegistry, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Warn().Str("path", dir).Msg("Functions directory does not exist")
		return NewStaticRegistry()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading functions directory: %w", err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		def, err := loadManifest(filepath.Join(dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Failed to parse function manifest")
			continue
		}
		if def.Location == "" {
			def.Location = strings.TrimSuffix(name, ext)
		}

		defs = append(defs, def)
		log.Debug().
			Str("location", def.Location).
			Int("params", len(def.Flow)).
			Msg("Discovered function")
	}

	registry, err := NewStaticRegistry(defs...)
	if err != nil {
		return nil, err
	}

	log.Info().Int("count", len(defs)).Msg("Functions discovered")
	return registry, nil
}

func loadManifest(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	return FromManifest(&manifest)
}

// FromManifest converts a manifest into an immutable definition.
func FromManifest(m *Manifest) (*Definition, error) {
	def := &Definition{
		Location: m.Name,
		Filter:   m.Filter,
	}

	for i, p := range m.Params {
		if p.Name == "" {
			return nil, fmt.Errorf("param %d: name is required", i)
		}

		switch {
		case p.Queue != "":
			var route *bind.Template
			if p.Route != "" {
				tmpl, err := bind.ParseTemplate(p.Route)
				if err != nil {
					return nil, fmt.Errorf("param %q: %w", p.Name, err)
				}
				route = tmpl
			}
			def.Flow = append(def.Flow, bind.QueueInput{Name: p.Name, Queue: p.Queue, Route: route})

		case p.Blob != "":
			tmpl, err := bind.ParseTemplate(p.Blob)
			if err != nil {
				return nil, fmt.Errorf("param %q: %w", p.Name, err)
			}
			def.Flow = append(def.Flow, bind.BlobInput{Name: p.Name, Path: tmpl})

		case p.BlobOut != "":
			tmpl, err := bind.ParseTemplate(p.BlobOut)
			if err != nil {
				return nil, fmt.Errorf("param %q: %w", p.Name, err)
			}
			def.Flow = append(def.Flow, bind.BlobOutput{Name: p.Name, Path: tmpl})

		default:
			def.Flow = append(def.Flow, bind.Value{Name: p.Name})
		}
	}

	return def, nil
}
