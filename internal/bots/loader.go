package bots

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

// File is the on-disk layout of a bot definitions file.
type File struct {
	Bots []fileBot `yaml:"bots"`
}

// fileBot lets an omitted enabled key default to true.
type fileBot struct {
	domain.BotDefinition `yaml:",inline"`
	Enabled              *bool `yaml:"enabled"`
}

// interjectionKeys records which bots set an interjection temperature.
type interjectionKeys struct {
	Bots []struct {
		Temperature struct {
			Interjection *float64 `yaml:"interjection"`
		} `yaml:"temperature"`
	} `yaml:"bots"`
}

// LoadPath reads bot definitions from a YAML file, or from every *.yaml and
// *.yml file in a directory, merged in lexical file order.
func LoadPath(path string) ([]domain.BotDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read bots: %v", domain.ErrConfig, err)
	}
	if !info.IsDir() {
		return loadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read bots dir: %v", domain.ErrConfig, err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)

	var defs []domain.BotDefinition
	for _, f := range files {
		d, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d...)
	}
	return defs, nil
}

func loadFile(path string) ([]domain.BotDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrConfig, path, err)
	}
	return Parse(data, path)
}

// Parse decodes a bot definitions document. Unknown keys are rejected so a
// typo in a definition fails at startup instead of being ignored. Omitted
// interjection settings fall back to the normal ones.
func Parse(data []byte, source string) ([]domain.BotDefinition, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfig, source, err)
	}

	var keys interjectionKeys
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfig, source, err)
	}

	defs := make([]domain.BotDefinition, 0, len(f.Bots))
	for i, fb := range f.Bots {
		def := fb.BotDefinition
		def.Enabled = fb.Enabled == nil || *fb.Enabled
		if def.PersonalityPrompt.Interjection == "" {
			def.PersonalityPrompt.Interjection = def.PersonalityPrompt.Normal
		}
		if i >= len(keys.Bots) || keys.Bots[i].Temperature.Interjection == nil {
			def.Temperature.Interjection = def.Temperature.Normal
		}
		defs = append(defs, def)
	}
	return defs, nil
}
