// Package bigquery streams analytics rows into BigQuery tables that are checked,
// and optionally created, at startup.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// TableSpec describes a table the client writes to. Schema is optional; when set,
// the live table must contain every column and CreateMissing can create it.
type TableSpec struct {
	Name string
	// PartitionField is a TIMESTAMP column used for daily partitioning on create.
	PartitionField string
	Schema         bigquery.Schema
}

type Client struct {
	bq     *bigquery.Client
	ds     *bigquery.Dataset
	cfg    config.BigQueryConfig
	tables map[string]TableSpec

	mu        sync.Mutex
	inserters map[string]*bigquery.Inserter
}

// NewClient connects and prepares the dataset and tables. Without specs the
// configured payment events table is checked for existence only.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger, specs ...TableSpec) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	cfg.Dataset = strings.TrimSpace(cfg.Dataset)
	if cfg.Dataset == "" {
		return nil, errDatasetRequired
	}
	tables, err := resolveTables(cfg, specs)
	if err != nil {
		return nil, err
	}

	bq, err := bigquery.NewClient(ctx, projectID, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{
		bq:        bq,
		ds:        bq.Dataset(cfg.Dataset),
		cfg:       cfg,
		tables:    tables,
		inserters: make(map[string]*bigquery.Inserter, len(tables)),
	}

	created, err := c.prepare(ctx)
	if err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": cfg.Dataset,
			"tables":  c.tableNames(),
			"created": created,
		}), "bigquery client initialized")
	}
	return c, nil
}

func resolveTables(cfg config.BigQueryConfig, specs []TableSpec) (map[string]TableSpec, error) {
	if len(specs) == 0 {
		specs = []TableSpec{{Name: cfg.PaymentEventsTable}}
	}
	tables := make(map[string]TableSpec, len(specs))
	for _, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			return nil, errTableNameRequired
		}
		if _, dup := tables[spec.Name]; dup {
			return nil, fmt.Errorf("table %q configured twice", spec.Name)
		}
		tables[spec.Name] = spec
	}
	return tables, nil
}

// prepare returns the names of anything it had to create.
func (c *Client) prepare(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	var created []string
	if _, err := c.ds.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("checking dataset %q: %w", c.cfg.Dataset, err)
		}
		if !c.cfg.CreateMissing {
			return nil, fmt.Errorf("dataset %q does not exist", c.cfg.Dataset)
		}
		if err := c.ds.Create(ctx, &bigquery.DatasetMetadata{Location: c.cfg.Location}); err != nil {
			return nil, fmt.Errorf("creating dataset %q: %w", c.cfg.Dataset, err)
		}
		created = append(created, c.cfg.Dataset)
	}

	for _, name := range c.tableNames() {
		spec := c.tables[name]
		made, err := c.prepareTable(ctx, spec)
		if err != nil {
			return nil, err
		}
		if made {
			created = append(created, c.cfg.Dataset+"."+name)
		}
	}
	return created, nil
}

func (c *Client) prepareTable(ctx context.Context, spec TableSpec) (bool, error) {
	table := c.ds.Table(spec.Name)
	meta, err := table.Metadata(ctx)
	switch {
	case err == nil:
		if missing := missingColumns(spec.Schema, meta.Schema); len(missing) > 0 {
			return false, fmt.Errorf("table %q lacks columns %s", spec.Name, strings.Join(missing, ", "))
		}
		return false, nil
	case !isNotFound(err):
		return false, fmt.Errorf("checking table %q: %w", spec.Name, err)
	case !c.cfg.CreateMissing || spec.Schema == nil:
		return false, fmt.Errorf("table %q does not exist", spec.Name)
	}

	if err := table.Create(ctx, tableMetadata(spec)); err != nil {
		return false, fmt.Errorf("creating table %q: %w", spec.Name, err)
	}
	return true, nil
}

func tableMetadata(spec TableSpec) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{Schema: spec.Schema}
	if spec.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: spec.PartitionField,
		}
	}
	return meta
}

// missingColumns lists top-level columns in want that have is lacking.
func missingColumns(want, have bigquery.Schema) []string {
	present := make(map[string]struct{}, len(have))
	for _, f := range have {
		present[strings.ToLower(f.Name)] = struct{}{}
	}
	var missing []string
	for _, f := range want {
		if _, ok := present[strings.ToLower(f.Name)]; !ok {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func (c *Client) tableNames() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

// Ping re-checks the dataset and tables without creating anything.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.bq == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()
	if _, err := c.ds.Metadata(ctx); err != nil {
		return fmt.Errorf("dataset %q: %w", c.cfg.Dataset, err)
	}
	for name := range c.tables {
		if _, err := c.ds.Table(name).Metadata(ctx); err != nil {
			return fmt.Errorf("table %q: %w", name, err)
		}
	}
	return nil
}

// InsertRows streams rows into one of the prepared tables. Rows implementing
// bigquery.ValueSaver supply their own insert ids.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.bq == nil {
		return errClientNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}
	inserter, err := c.inserter(strings.TrimSpace(table))
	if err != nil {
		return err
	}
	return inserter.Put(ctx, rows)
}

func (c *Client) inserter(table string) (*bigquery.Inserter, error) {
	if _, ok := c.tables[table]; !ok {
		return nil, fmt.Errorf("table %q was not prepared", table)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ins, ok := c.inserters[table]
	if !ok {
		ins = c.ds.Table(table).Inserter()
		c.inserters[table] = ins
	}
	return ins, nil
}

func (c *Client) PaymentEventsTable() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.cfg.PaymentEventsTable)
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
