package catalog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"
)

// FileRecord describes one locally ingested file. The record is
// bookkeeping only; chunk presence on disk is always the source of
// truth for what is actually stored.
type FileRecord struct {
	ID         uuid.UUID
	Name       string
	Size       int64
	Chunks     int
	Checksum   string
	UploadedAt time.Time
}

// Catalog is a LevelDB-backed record of files uploaded through this
// node, keyed by file ID.
type Catalog struct {
	files *dslvl.Datastore
}

func NewCatalog(path string) (*Catalog, error) {
	store, err := dslvl.NewDatastore(filepath.Join(path, "files"), nil)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		files: store,
	}, nil
}

func (c *Catalog) Put(ctx context.Context, record FileRecord) error {
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}

	k := ds.NewKey(record.ID.String())
	return c.files.Put(ctx, k, b)
}

func (c *Catalog) Get(ctx context.Context, fileID uuid.UUID) (*FileRecord, error) {
	b, err := c.files.Get(ctx, ds.NewKey(fileID.String()))
	if err != nil {
		return nil, err
	}

	var record FileRecord
	err = json.Unmarshal(b, &record)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (c *Catalog) All(ctx context.Context) ([]FileRecord, error) {
	records := make([]FileRecord, 0)

	res, err := c.files.Query(ctx, dsq.Query{})
	if err != nil {
		return records, err
	}

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}

		var record FileRecord
		err = json.Unmarshal(r.Value, &record)
		if err != nil {
			return records, err
		}

		records = append(records, record)
	}

	return records, nil
}

// FindByName returns records whose name contains query,
// case-insensitively.
func (c *Catalog) FindByName(ctx context.Context, query string) ([]FileRecord, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	matches := make([]FileRecord, 0)
	for _, record := range all {
		if strings.Contains(strings.ToLower(record.Name), query) {
			matches = append(matches, record)
		}
	}

	return matches, nil
}

func (c *Catalog) Close() error {
	return c.files.Close()
}
