package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/featherstore/featherstore/pkg/model"
)

// definitionsFile is the YAML shape of a feature definition file. Several
// files may contribute to one project; entities, data sources, and feature
// views concatenate across files.
type definitionsFile struct {
	Project      string           `yaml:"project"`
	Entities     []entityDef      `yaml:"entities,omitempty"`
	DataSources  []dataSourceDef  `yaml:"data_sources,omitempty"`
	FeatureViews []featureViewDef `yaml:"feature_views,omitempty"`
}

type entityDef struct {
	Name        string            `yaml:"name"`
	ValueType   string            `yaml:"value_type"`
	Description string            `yaml:"description,omitempty"`
	Tags        map[string]string `yaml:"tags,omitempty"`
}

type fieldDef struct {
	Name      string `yaml:"name"`
	ValueType string `yaml:"value_type,omitempty"`
}

type dataSourceDef struct {
	Name            string            `yaml:"name"`
	Backend         string            `yaml:"backend"`
	Connection      string            `yaml:"connection,omitempty"`
	Table           string            `yaml:"table"`
	TimestampColumn string            `yaml:"timestamp_column"`
	Schema          []fieldDef        `yaml:"schema,omitempty"`
	Tags            map[string]string `yaml:"tags,omitempty"`
}

type featureViewDef struct {
	Name     string            `yaml:"name"`
	Entities []string          `yaml:"entities"`
	Features []fieldDef        `yaml:"features"`
	TTL      Duration          `yaml:"ttl,omitempty"`
	Source   string            `yaml:"source"`
	Tags     map[string]string `yaml:"tags,omitempty"`
}

// LoadDefinitions reads feature definitions from a YAML file, or from every
// .yaml/.yml file directly under a directory, and merges them into one
// declared set.
func LoadDefinitions(path string) (*model.FeatureSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat definitions path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = listDefinitionFiles(path)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no definition files found in %s", path)
		}
	}

	set := &model.FeatureSet{}
	for _, file := range files {
		if err := mergeDefinitionsFile(set, file); err != nil {
			return nil, err
		}
	}
	if set.Project == "" {
		return nil, fmt.Errorf("definition files declare no project")
	}
	return set, nil
}

func listDefinitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func mergeDefinitionsFile(set *model.FeatureSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read definitions file: %w", err)
	}

	var def definitionsFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if def.Project != "" {
		if set.Project != "" && set.Project != def.Project {
			return fmt.Errorf("definition files declare conflicting projects %q and %q",
				set.Project, def.Project)
		}
		set.Project = def.Project
	}

	for _, e := range def.Entities {
		set.Entities = append(set.Entities, model.Entity{
			Name:        e.Name,
			ValueType:   model.ValueType(e.ValueType),
			Description: e.Description,
			Tags:        e.Tags,
		})
	}
	for _, d := range def.DataSources {
		set.DataSources = append(set.DataSources, model.DataSource{
			Name:            d.Name,
			Backend:         d.Backend,
			Connection:      d.Connection,
			Table:           d.Table,
			TimestampColumn: d.TimestampColumn,
			Schema:          convertFields(d.Schema),
			Tags:            d.Tags,
		})
	}
	for _, v := range def.FeatureViews {
		set.FeatureViews = append(set.FeatureViews, model.FeatureView{
			Name:     v.Name,
			Entities: v.Entities,
			Features: convertFields(v.Features),
			TTL:      v.TTL.Std(),
			Source:   v.Source,
			Tags:     v.Tags,
		})
	}
	return nil
}

func convertFields(defs []fieldDef) []model.Field {
	if len(defs) == 0 {
		return nil
	}
	fields := make([]model.Field, 0, len(defs))
	for _, f := range defs {
		fields = append(fields, model.Field{
			Name:      f.Name,
			ValueType: model.ValueType(f.ValueType),
		})
	}
	return fields
}
