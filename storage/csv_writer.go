package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"newhome-tracker/models"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CSVArchive writes every raw (uncleaned) batch to its own CSV file under a
// directory, so a scrape can be replayed or audited later.
// It is safe for concurrent use.
type CSVArchive struct {
	mu  sync.Mutex
	dir string
}

// NewCSVArchive creates the archive directory if needed.
func NewCSVArchive(dir string) (*CSVArchive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("csv: create archive dir: %w", err)
	}
	return &CSVArchive{dir: dir}, nil
}

// PathFor returns the file a batch is archived to.
func (a *CSVArchive) PathFor(batch *models.Batch) string {
	id := unsafeFileChars.ReplaceAllString(batch.ID, "_")
	if id == "" {
		id = "batch"
	}
	stamp := batch.ScrapedAt.UTC().Format("20060102T150405Z")
	return filepath.Join(a.dir, stamp+"_"+id+".csv")
}

// WriteRaw writes all raw listings of the batch, replacing an earlier archive
// of the same batch.
func (a *CSVArchive) WriteRaw(batch *models.Batch) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.PathFor(batch)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("csv: close file %q: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"batch_id", "source", "full", "scraped_at",
		"builder_name", "community", "model_name", "address", "city", "state", "zip_code",
		"homesite", "price", "bedrooms", "bathrooms", "square_feet", "garage_spaces",
		"lot_size", "status", "features", "url",
	}); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	full := "false"
	if batch.Full {
		full = "true"
	}
	scrapedAt := batch.ScrapedAt.UTC().Format(time.RFC3339)

	for _, l := range batch.Listings {
		row := []string{
			batch.ID, batch.Source, full, scrapedAt,
			l.BuilderName, l.Community, l.ModelName, l.Address, l.City, l.State, l.ZipCode,
			l.Homesite, l.RawPrice, l.Bedrooms, l.Bathrooms, l.SquareFeet, l.GarageSpaces,
			l.LotSize, l.Status, strings.Join(l.Features, "|"), l.URL,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv: flush: %w", err)
	}
	return nil
}
