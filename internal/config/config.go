package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"catalogsync/internal/etl"
)

// Config is the static bundle a sync run is built from. It is read once
// at startup and never changed afterwards.
type Config struct {
	ERP   etl.SourceBinding `yaml:"erp"`
	Eshop etl.SourceBinding `yaml:"eshop"`

	OutputFile string `yaml:"output_file"`
	LogFile    string `yaml:"log_file"`

	ERPIdentifierField   string        `yaml:"erp_identifier_field"`
	EshopIdentifierField string        `yaml:"eshop_identifier_field"`
	FieldMappings        FieldMappings `yaml:"field_mappings"`
	ValidationRules      etl.RuleSet   `yaml:"validation_rules"`

	// AuditEshop logs rule violations already present in the Eshop catalog.
	AuditEshop bool `yaml:"audit_eshop"`

	// HistoryDB is the SQLite file run summaries are recorded in. Empty
	// disables run history.
	HistoryDB string `yaml:"history_db"`
	// HistoryKeep caps the stored runs; older ones are pruned after each
	// run. Zero keeps everything.
	HistoryKeep int `yaml:"history_keep"`

	// Schedule is a cron expression; Watch re-runs on source file changes.
	// Either keeps the process running after the first sync.
	Schedule    string `yaml:"schedule"`
	Watch       bool   `yaml:"watch"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the stock configuration: JSON files under data/, the
// ItemSku ↔ sku identifier pair and the standard product mapping.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, false)
	return cfg
}

func defaultMappings() FieldMappings {
	return FieldMappings{
		{ERP: "ItemName", Eshop: "name"},
		{ERP: "ItemPrice", Eshop: "price"},
		{ERP: "ItemDescription", Eshop: "description"},
		{ERP: "ItemStock", Eshop: "stock"},
	}
}

func defaultRules() etl.RuleSet {
	return etl.RuleSet{
		Required: []string{"id", "sku"},
		Positive: []string{"price"},
		NonNull:  []string{"stock"},
	}
}

// LoadFile loads and parses a YAML config file from the given path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML data into a Config and fills in defaults for every
// key the document leaves out.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	// An absent rules block and an empty one decode the same; look at
	// the document to tell them apart.
	var keys struct {
		ValidationRules *yaml.Node `yaml:"validation_rules"`
	}
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	applyDefaults(&cfg, keys.ValidationRules != nil)
	return &cfg, nil
}

// applyDefaults fills in default values for omitted fields. rulesGiven
// reports whether validation_rules was present; within a given block an
// omitted list stays empty.
func applyDefaults(cfg *Config, rulesGiven bool) {
	defaultSource(&cfg.ERP, "data/products_erp.json")
	defaultSource(&cfg.Eshop, "data/products_eshop.json")

	if cfg.OutputFile == "" {
		cfg.OutputFile = "synced_from_erp.json"
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "sync.log"
	}
	if cfg.ERPIdentifierField == "" {
		cfg.ERPIdentifierField = "ItemSku"
	}
	if cfg.EshopIdentifierField == "" {
		cfg.EshopIdentifierField = "sku"
	}
	if cfg.FieldMappings == nil {
		cfg.FieldMappings = defaultMappings()
	}
	if !rulesGiven {
		cfg.ValidationRules = defaultRules()
	}
}

func defaultSource(b *etl.SourceBinding, path string) {
	if b.Type == "" {
		b.Type = "json_file"
	}
	if b.Config == nil {
		b.Config = etl.SourceConfig{}
	}
	if _, ok := b.Config["filePath"]; !ok {
		b.Config["filePath"] = path
	}
	if _, ok := b.Config["dataPath"]; !ok && b.Type == "json_file" {
		b.Config["dataPath"] = "products"
	}
}

// Validate reports configuration errors that would make every run fail.
func (c *Config) Validate() error {
	var errs []error
	if c.ERPIdentifierField == "" {
		errs = append(errs, errors.New("erp_identifier_field is required"))
	}
	if c.EshopIdentifierField == "" {
		errs = append(errs, errors.New("eshop_identifier_field is required"))
	}
	if len(c.FieldMappings) == 0 {
		errs = append(errs, errors.New("field_mappings must not be empty"))
	}
	for i, m := range c.FieldMappings {
		if m.ERP == "" || m.Eshop == "" {
			errs = append(errs, fmt.Errorf("field_mappings[%d]: both erp and eshop names are required", i))
		}
	}
	r := c.ValidationRules
	if len(r.Required)+len(r.Positive)+len(r.NonNull) == 0 {
		errs = append(errs, errors.New("validation_rules must name at least one field"))
	}
	if c.HistoryKeep < 0 {
		errs = append(errs, errors.New("history_keep must not be negative"))
	}
	sides := []struct {
		name    string
		binding etl.SourceBinding
	}{{"erp", c.ERP}, {"eshop", c.Eshop}}
	for _, side := range sides {
		if _, err := etl.GetSource(side.binding.Type); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", side.name, err))
		}
	}
	return errors.Join(errs...)
}

// Job builds the sync job described by the config.
func (c *Config) Job() *etl.SyncJob {
	return &etl.SyncJob{
		ERP:             c.ERP,
		Eshop:           c.Eshop,
		ERPIdentifier:   c.ERPIdentifierField,
		EshopIdentifier: c.EshopIdentifierField,
		Mappings:        []etl.FieldMapping(c.FieldMappings),
		Rules:           c.ValidationRules,
		AuditEshop:      c.AuditEshop,
	}
}

// SourceFiles returns the local files the two sources read, for watching.
func (c *Config) SourceFiles() []string {
	var files []string
	for _, b := range []etl.SourceBinding{c.ERP, c.Eshop} {
		if p, ok := b.Config["filePath"].(string); ok && p != "" {
			files = append(files, p)
		}
	}
	return files
}

// ── FieldMappings YAML ─────────────────────────────────────

// FieldMappings is the ordered ERP → Eshop mapping table. In YAML it is
// either a mapping (`ItemName: name`, order kept as written) or a list of
// {erp, eshop} entries.
type FieldMappings []etl.FieldMapping

// UnmarshalYAML implements custom YAML unmarshaling for FieldMappings.
func (m *FieldMappings) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(FieldMappings, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var erp, eshop string
			if err := node.Content[i].Decode(&erp); err != nil {
				return err
			}
			if err := node.Content[i+1].Decode(&eshop); err != nil {
				return fmt.Errorf("field_mappings.%s: %w", erp, err)
			}
			out = append(out, etl.FieldMapping{ERP: erp, Eshop: eshop})
		}
		*m = out
		return nil

	case yaml.SequenceNode:
		rows := []etl.FieldMapping{}
		if err := node.Decode(&rows); err != nil {
			return err
		}
		*m = rows
		return nil

	default:
		return fmt.Errorf("field_mappings: expected mapping or list, got %v", node.Kind)
	}
}

// MarshalYAML writes the table back as an ordered mapping.
func (m FieldMappings) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, row := range m {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: row.ERP},
			&yaml.Node{Kind: yaml.ScalarNode, Value: row.Eshop},
		)
	}
	return node, nil
}
