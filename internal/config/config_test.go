package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"catalogsync/internal/etl"
	_ "catalogsync/internal/etl/sources"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ItemSku", cfg.ERPIdentifierField)
	assert.Equal(t, "sku", cfg.EshopIdentifierField)
	assert.Equal(t, "synced_from_erp.json", cfg.OutputFile)
	assert.Equal(t, "sync.log", cfg.LogFile)
	assert.Equal(t, "json_file", cfg.ERP.Type)
	assert.Equal(t, "data/products_erp.json", cfg.ERP.Config["filePath"])
	assert.Equal(t, "products", cfg.Eshop.Config["dataPath"])
	assert.Len(t, cfg.FieldMappings, 4)
	assert.Equal(t, []string{"price"}, cfg.ValidationRules.Positive)
}

func TestParse_MappingKeepsOrder(t *testing.T) {
	cfg, err := Parse([]byte(`
erp:
  type: csv_file
  config:
    filePath: exports/erp.csv
    delimiter: ";"
eshop_identifier_field: code
erp_identifier_field: ItemCode
field_mappings:
  ItemStock: stock
  ItemName: name
  ItemPrice: price
validation_rules:
  required_fields: [id]
  positive_fields: [price]
audit_eshop: true
schedule: "@every 5m"
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, FieldMappings{
		{ERP: "ItemStock", Eshop: "stock"},
		{ERP: "ItemName", Eshop: "name"},
		{ERP: "ItemPrice", Eshop: "price"},
	}, cfg.FieldMappings)
	assert.Equal(t, "csv_file", cfg.ERP.Type)
	assert.Equal(t, ";", cfg.ERP.Config["delimiter"])
	assert.NotContains(t, cfg.ERP.Config, "dataPath")
	assert.Equal(t, "data/products_eshop.json", cfg.Eshop.Config["filePath"])
	assert.True(t, cfg.AuditEshop)
	assert.Equal(t, "@every 5m", cfg.Schedule)
	assert.Equal(t, []string{"id"}, cfg.ValidationRules.Required)
	assert.Empty(t, cfg.ValidationRules.NonNull)
}

func TestParse_MappingList(t *testing.T) {
	cfg, err := Parse([]byte(`
erp_identifier_field: ItemSku
eshop_identifier_field: sku
field_mappings:
  - erp: ItemName
    eshop: name
  - erp: ItemPrice
    eshop: price
`))
	require.NoError(t, err)
	assert.Equal(t, FieldMappings{
		{ERP: "ItemName", Eshop: "name"},
		{ERP: "ItemPrice", Eshop: "price"},
	}, cfg.FieldMappings)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("field_mappings: just-a-string\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("erp: [\n"))
	assert.Error(t, err)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.ERP.Type = "ftp"
	cfg.ERPIdentifierField = ""
	cfg.EshopIdentifierField = ""
	cfg.FieldMappings = FieldMappings{{ERP: "ItemName"}}
	cfg.HistoryKeep = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "erp_identifier_field is required")
	assert.Contains(t, err.Error(), "eshop_identifier_field is required")
	assert.Contains(t, err.Error(), "field_mappings[0]")
	assert.Contains(t, err.Error(), "history_keep must not be negative")
	assert.ErrorIs(t, err, etl.ErrUnknownSource)
}

func TestValidate_SourceErrorsInFixedOrder(t *testing.T) {
	cfg := Default()
	cfg.ERP.Type = "ftp"
	cfg.Eshop.Type = "s3"

	for i := 0; i < 20; i++ {
		err := cfg.Validate()
		require.Error(t, err)
		msg := err.Error()
		erpAt := strings.Index(msg, "erp: ")
		eshopAt := strings.Index(msg, "eshop: ")
		require.GreaterOrEqual(t, erpAt, 0)
		require.GreaterOrEqual(t, eshopAt, 0)
		assert.Less(t, erpAt, eshopAt)
	}
}

func TestParse_PartialConfigKeepsDefaultRules(t *testing.T) {
	cfg, err := Parse([]byte("erp_identifier_field: ItemSku\neshop_identifier_field: sku\nfield_mappings:\n  ItemPrice: price\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, FieldMappings{{ERP: "ItemPrice", Eshop: "price"}}, cfg.FieldMappings)
	assert.Equal(t, Default().ValidationRules, cfg.ValidationRules)
	assert.Equal(t, []string{"price"}, cfg.Job().Rules.Positive)
}

func TestParse_EmptyDocumentIsDefault(t *testing.T) {
	cfg, err := Parse([]byte("schedule: \"@hourly\"\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	want := Default()
	want.Schedule = "@hourly"
	assert.Equal(t, want, cfg)
}

func TestParse_EmptyRulesBlockIsRejected(t *testing.T) {
	cfg, err := Parse([]byte("validation_rules: {}\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.ValidationRules.Required)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation_rules must name at least one field")
}

func TestParse_EmptyMappingListIsRejected(t *testing.T) {
	cfg, err := Parse([]byte("field_mappings: []\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.FieldMappings)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field_mappings must not be empty")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	out, err := yaml.Marshal(Default())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestJob(t *testing.T) {
	cfg := Default()
	cfg.AuditEshop = true
	job := cfg.Job()

	assert.Equal(t, "ItemSku", job.ERPIdentifier)
	assert.Equal(t, "sku", job.EshopIdentifier)
	assert.Equal(t, "ItemName", job.Mappings[0].ERP)
	assert.True(t, job.AuditEshop)
	assert.Equal(t, []string{"data/products_erp.json", "data/products_eshop.json"}, cfg.SourceFiles())
}

func TestExampleConfigMatchesDefault(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("..", "..", "sync.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
