package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/stageload/internal/etlerr"
)

// Source types.
const (
	SourceObjectStore = "object_store"
	SourceREST        = "rest"
	SourceSFTP        = "sftp"
	SourceFTP         = "ftp"
	SourceCRM         = "crm"
	SourceWarehouse   = "warehouse"
)

// DatasetConfig describes one pipeline: where records come from, which columns
// to keep, and the staging, persisted and presentation tables they pass
// through.
type DatasetConfig struct {
	Name      string `yaml:"name"`
	Warehouse string `yaml:"warehouse"`
	// CreateTables creates missing persisted and presentation tables from the
	// cast rules before the run.
	CreateTables bool               `yaml:"create_tables"`
	Task         TaskConfig         `yaml:"task"`
	Source       SourceConfig       `yaml:"source"`
	Columns      []string           `yaml:"columns"`
	Separator    string             `yaml:"separator"`
	Staging      StagingConfig      `yaml:"staging"`
	Persisted    PersistedConfig    `yaml:"persisted"`
	Presentation PresentationConfig `yaml:"presentation"`
}

// TaskConfig holds the descriptive fields of the run-metadata row.
type TaskConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Frequency   string `yaml:"frequency"`
	DayOfWeek   string `yaml:"day_of_week"`
	TimeOfDay   string `yaml:"time_of_day"`
	Predecessor string `yaml:"predecessor"`
}

// SourceConfig selects and configures the source reader.
type SourceConfig struct {
	Type        string            `yaml:"type"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	REST        RESTConfig        `yaml:"rest"`
	FileDrop    FileDropConfig    `yaml:"file_drop"`
	CRM         CRMConfig         `yaml:"crm"`
	Warehouse   WarehouseSource   `yaml:"warehouse"`
}

// FileFormat configures how a fetched file is parsed.
type FileFormat struct {
	Format          string `yaml:"format"` // csv (default), xlsx, zip
	Delimiter       string `yaml:"delimiter"`
	DropIndexColumn bool   `yaml:"drop_index_column"`
	TrimSpace       bool   `yaml:"trim_space"`
	SheetName       string `yaml:"sheet_name"`
	SkipRows        int    `yaml:"skip_rows"`
}

// ObjectStoreConfig locates date-named objects in a bucket.
type ObjectStoreConfig struct {
	Bucket string `yaml:"bucket"`
	// KeyPattern is a strftime pattern, e.g. "exports/orders_%Y%m%d.csv".
	KeyPattern string `yaml:"key_pattern"`
	LagDays    int    `yaml:"lag_days"`
	// WindowDays > 1 loads that many consecutive days ending at the lagged
	// date, skipping missing ones.
	WindowDays   int        `yaml:"window_days"`
	CheckListing bool       `yaml:"check_listing"`
	File         FileFormat `yaml:"file"`
}

// RESTConfig configures a paginated JSON endpoint.
type RESTConfig struct {
	BaseURL string            `yaml:"base_url"`
	Path    string            `yaml:"path"`
	Query   map[string]string `yaml:"query"`
	Headers map[string]string `yaml:"headers"`
	Auth    RESTAuthConfig    `yaml:"auth"`
	// RecordsPath and CursorPath are gjson paths into each page body.
	RecordsPath string `yaml:"records_path"`
	CursorPath  string `yaml:"cursor_path"`
	// CursorParam sends the cursor as a query parameter. When empty the cursor
	// is appended to NextPath (or Path) verbatim.
	CursorParam string `yaml:"cursor_param"`
	NextPath    string `yaml:"next_path"`
	MaxPages    int    `yaml:"max_pages"`
	// DateFormat is the strftime layout for {start_date}, {end_date} and
	// {version_date}.
	DateFormat string `yaml:"date_format"`
	LagDays    int    `yaml:"lag_days"`
	WindowDays int    `yaml:"window_days"`
}

// RESTAuthConfig configures the optional token exchange.
type RESTAuthConfig struct {
	URL       string         `yaml:"url"`
	Body      map[string]any `yaml:"body"`
	TokenPath string         `yaml:"token_path"`
	Scheme    string         `yaml:"scheme"`
	Header    string         `yaml:"header"`
}

// FileDropConfig configures an SFTP or FTP drop directory.
type FileDropConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	KeyPath  string `yaml:"key_path"`
	// KnownHostsPath pins SFTP host keys; empty accepts any host key.
	KnownHostsPath string     `yaml:"known_hosts_path"`
	Dir            string     `yaml:"dir"`
	Pattern        string     `yaml:"pattern"`
	Keep           bool       `yaml:"keep"`
	File           FileFormat `yaml:"file"`
}

// CRMConfig configures a SOQL extraction.
type CRMConfig struct {
	Object   string   `yaml:"object"`
	Query    string   `yaml:"query"`
	Fields   []string `yaml:"fields"`
	Where    string   `yaml:"where"`
	Describe bool     `yaml:"describe"`
}

// WarehouseSource reads from a named warehouse connection, either with an
// explicit query or by selecting the dataset columns from Table.
type WarehouseSource struct {
	// Warehouse names an entry of the application's warehouses; empty uses
	// the default warehouse.
	Warehouse string      `yaml:"warehouse"`
	Query     string      `yaml:"query"`
	Table     TableConfig `yaml:"table"`
}

// TableConfig names a warehouse table.
type TableConfig struct {
	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`
}

// StagingConfig configures the transient table.
type StagingConfig struct {
	TableConfig `yaml:",inline"`
	AutoCreate  bool `yaml:"auto_create"`
}

// CastRule declares how one column is cast on its way to the persisted table.
type CastRule struct {
	Column    string   `yaml:"column"`
	Type      string   `yaml:"type"`
	Precision int      `yaml:"precision"`
	Scale     int      `yaml:"scale"`
	Layouts   []string `yaml:"layouts"`
}

// PersistedConfig configures the transform-and-persist step.
type PersistedConfig struct {
	TableConfig `yaml:",inline"`
	Mode        string     `yaml:"mode"` // overwrite (default) or append
	Casts       []CastRule `yaml:"casts"`
	// Filter is a JSONLogic rule evaluated against each cast row.
	Filter     any    `yaml:"filter"`
	Strictness string `yaml:"strictness"` // strict (default) or lenient
}

// PresentationConfig configures the merge step.
type PresentationConfig struct {
	TableConfig `yaml:",inline"`
	Keys        []string `yaml:"keys"`
	Mode        string   `yaml:"mode"` // merge (default) or replace
}

var castTypes = map[string]bool{
	"text": true, "trim": true, "date": true, "numeric": true,
	"integer": true, "boolean": true, "raw": true,
}

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDataset reads a dataset file, expands ${ENV} references and rejects any
// value still carrying a <TOKEN> placeholder.
func LoadDataset(path string) (*DatasetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read dataset %s", path)
	}
	return ParseDataset(data)
}

// ParseDataset decodes a dataset document. See LoadDataset.
func ParseDataset(data []byte) (*DatasetConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, etlerr.New(etlerr.ConfigurationError, "config", eris.Wrap(err, "config: parse dataset"))
	}

	var unresolved []string
	walkScalars(&root, "", func(n *yaml.Node, path string) {
		expanded := envRefRe.ReplaceAllStringFunc(n.Value, func(ref string) string {
			name := envRefRe.FindStringSubmatch(ref)[1]
			val, ok := os.LookupEnv(name)
			if !ok {
				unresolved = append(unresolved, fmt.Sprintf("%s (${%s})", path, name))
				return ref
			}
			return val
		})
		if expanded != n.Value {
			n.Value = expanded
			// Let plain scalars re-resolve, so "${PORT}" can decode into an int.
			if n.Style == 0 {
				n.Tag = ""
			}
		}
		if placeholderRe.MatchString(n.Value) {
			unresolved = append(unresolved, fmt.Sprintf("%s (%s)", path, placeholderRe.FindString(n.Value)))
		}
	})
	if len(unresolved) > 0 {
		return nil, etlerr.Unresolved("config", unresolved)
	}

	var cfg DatasetConfig
	if err := root.Decode(&cfg); err != nil {
		return nil, etlerr.New(etlerr.ConfigurationError, "config", eris.Wrap(err, "config: decode dataset"))
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// walkScalars visits every scalar value node with its dotted key path.
// Mapping keys are not visited.
func walkScalars(n *yaml.Node, path string, fn func(*yaml.Node, string)) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			walkScalars(c, path, fn)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if path != "" {
				key = path + "." + key
			}
			walkScalars(n.Content[i+1], key, fn)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			walkScalars(c, path+"["+strconv.Itoa(i)+"]", fn)
		}
	case yaml.ScalarNode:
		fn(n, path)
	case yaml.AliasNode:
		if n.Alias != nil {
			walkScalars(n.Alias, path, fn)
		}
	}
}

func (c *DatasetConfig) applyDefaults() {
	if c.Task.Name == "" {
		c.Task.Name = c.Name
	}
	if c.Separator == "" {
		c.Separator = "_"
	}
	if c.Persisted.Mode == "" {
		c.Persisted.Mode = "overwrite"
	}
	if c.Persisted.Strictness == "" {
		c.Persisted.Strictness = "strict"
	}
	if c.Presentation.Mode == "" {
		c.Presentation.Mode = "merge"
	}
	if c.Source.ObjectStore.WindowDays == 0 {
		c.Source.ObjectStore.WindowDays = 1
	}
	if c.Source.REST.DateFormat == "" {
		c.Source.REST.DateFormat = "%Y-%m-%d"
	}
	if c.Source.REST.Auth.Scheme == "" {
		c.Source.REST.Auth.Scheme = "Bearer"
	}
	if c.Source.REST.Auth.Header == "" {
		c.Source.REST.Auth.Header = "Authorization"
	}
	if c.Source.FileDrop.Port == 0 {
		switch c.Source.Type {
		case SourceSFTP:
			c.Source.FileDrop.Port = 22
		case SourceFTP:
			c.Source.FileDrop.Port = 21
		}
	}
}

// Validate checks the recognised fields for the configured source type and
// the table layout. Every problem is reported in one ConfigurationError.
func (c *DatasetConfig) Validate() error {
	var errs []string
	req := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	req(c.Name != "", "name is required")
	s := c.Source
	switch s.Type {
	case SourceObjectStore:
		req(s.ObjectStore.Bucket != "", "source.object_store.bucket is required")
		req(s.ObjectStore.KeyPattern != "", "source.object_store.key_pattern is required")
		req(s.ObjectStore.LagDays >= 0, "source.object_store.lag_days must be >= 0")
		req(s.ObjectStore.WindowDays >= 1, "source.object_store.window_days must be >= 1")
		errs = append(errs, s.ObjectStore.File.problems("source.object_store.file")...)
	case SourceREST:
		req(s.REST.BaseURL != "", "source.rest.base_url is required")
		req(s.REST.RecordsPath != "", "source.rest.records_path is required")
		req(s.REST.MaxPages >= 0, "source.rest.max_pages must be >= 0")
		if s.REST.Auth.URL != "" {
			req(s.REST.Auth.TokenPath != "", "source.rest.auth.token_path is required with auth.url")
		}
	case SourceSFTP, SourceFTP:
		req(s.FileDrop.Host != "", "source.file_drop.host is required")
		req(s.FileDrop.User != "", "source.file_drop.user is required")
		req(s.FileDrop.Dir != "", "source.file_drop.dir is required")
		if s.Type == SourceFTP {
			req(s.FileDrop.KeyPath == "", "source.file_drop.key_path is not supported for ftp")
		}
		errs = append(errs, s.FileDrop.File.problems("source.file_drop.file")...)
	case SourceCRM:
		req(s.CRM.Query != "" || (s.CRM.Object != "" && len(s.CRM.Fields) > 0),
			"source.crm.query or source.crm.object with source.crm.fields is required")
		req(!s.CRM.Describe || s.CRM.Object != "", "source.crm.object is required with describe")
	case SourceWarehouse:
		req(s.Warehouse.Query != "" || s.Warehouse.Table.Table != "",
			"source.warehouse.query or source.warehouse.table.table is required")
		req(s.Warehouse.Query == "" || s.Warehouse.Table.Table == "",
			"source.warehouse.query and source.warehouse.table are mutually exclusive")
	case "":
		errs = append(errs, "source.type is required")
	default:
		errs = append(errs, fmt.Sprintf("source.type %q must be one of object_store, rest, sftp, ftp, crm, warehouse", s.Type))
	}

	req(c.Staging.Table != "", "staging.table is required")
	req(c.Persisted.Table != "", "persisted.table is required")
	req(c.Presentation.Table != "", "presentation.table is required")
	req(c.Persisted.Mode == "overwrite" || c.Persisted.Mode == "append",
		fmt.Sprintf("persisted.mode %q must be overwrite or append", c.Persisted.Mode))
	req(c.Persisted.Strictness == "strict" || c.Persisted.Strictness == "lenient",
		fmt.Sprintf("persisted.strictness %q must be strict or lenient", c.Persisted.Strictness))
	req(c.Presentation.Mode == "merge" || c.Presentation.Mode == "replace",
		fmt.Sprintf("presentation.mode %q must be merge or replace", c.Presentation.Mode))

	req(len(c.Columns) > 0, "columns is required")
	cols := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		req(!cols[col], fmt.Sprintf("columns: %q listed twice", col))
		cols[col] = true
	}
	if c.Presentation.Mode == "merge" {
		req(len(c.Presentation.Keys) > 0, "presentation.keys is required for merge")
	}
	for _, k := range c.Presentation.Keys {
		req(cols[k], fmt.Sprintf("presentation.keys: %q is not in columns", k))
	}
	for i, r := range c.Persisted.Casts {
		req(r.Column != "", fmt.Sprintf("persisted.casts[%d].column is required", i))
		req(r.Column == "" || cols[r.Column], fmt.Sprintf("persisted.casts[%d]: %q is not in columns", i, r.Column))
		req(castTypes[r.Type], fmt.Sprintf("persisted.casts[%d].type %q is not a known cast", i, r.Type))
	}

	if len(errs) > 0 {
		return etlerr.New(etlerr.ConfigurationError, "config",
			eris.Errorf("config: dataset %q invalid:\n  - %s", c.Name, strings.Join(errs, "\n  - ")))
	}
	return nil
}

func (f FileFormat) problems(prefix string) []string {
	var errs []string
	switch strings.ToLower(f.Format) {
	case "", "csv", "xlsx", "zip":
	default:
		errs = append(errs, fmt.Sprintf("%s.format %q must be csv, xlsx or zip", prefix, f.Format))
	}
	if f.Delimiter != `\t` && len([]rune(f.Delimiter)) > 1 {
		errs = append(errs, prefix+".delimiter must be a single character")
	}
	return errs
}

// DelimiterRune returns the configured delimiter, or 0 for the default.
func (f FileFormat) DelimiterRune() rune {
	if f.Delimiter == "" {
		return 0
	}
	if f.Delimiter == `\t` {
		return '\t'
	}
	return []rune(f.Delimiter)[0]
}
