package ratings

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const importBatchSize = 5000

// ImportStats summarizes a dataset import.
type ImportStats struct {
	Rows    int
	Skipped int
}

// ImportFile imports an IMDb title.ratings dataset, gzipped or plain.
func (s *Store) ImportFile(ctx context.Context, path string) (ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportStats{}, fmt.Errorf("failed to open ratings dataset: %w", err)
	}
	defer f.Close()

	return s.Import(ctx, f)
}

// Import reads tab-separated rows of tconst, averageRating and numVotes with a
// header line. Rows with missing or malformed values are skipped.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	reader, err := maybeGunzip(r)
	if err != nil {
		return ImportStats{}, err
	}

	tsv := csv.NewReader(reader)
	tsv.Comma = '\t'
	tsv.LazyQuotes = true
	tsv.ReuseRecord = true
	tsv.FieldsPerRecord = -1

	header, err := tsv.Read()
	if err != nil {
		return ImportStats{}, fmt.Errorf("failed to read dataset header: %w", err)
	}
	if len(header) < 3 || header[0] != "tconst" {
		return ImportStats{}, fmt.Errorf("unexpected dataset header %q", strings.Join(header, "\t"))
	}

	var (
		stats ImportStats
		batch = make([]Rating, 0, importBatchSize)
	)
	flush := func() error {
		n, err := s.UpsertRatings(ctx, batch)
		stats.Rows += n
		batch = batch[:0]
		return err
	}

	for {
		record, err := tsv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read dataset row: %w", err)
		}

		rating, ok := parseRating(record)
		if !ok {
			stats.Skipped++
			continue
		}
		batch = append(batch, rating)

		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
			s.logger.Debug().Int("rows", stats.Rows).Msg("Imported rating batch")
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}

	s.logger.Info().
		Int("rows", stats.Rows).
		Int("skipped", stats.Skipped).
		Msg("Rating dataset imported")

	return stats, nil
}

func parseRating(record []string) (Rating, bool) {
	if len(record) < 3 || !strings.HasPrefix(record[0], "tt") {
		return Rating{}, false
	}
	rating, err := strconv.ParseFloat(record[1], 64)
	if err != nil || rating < 0 || rating > 10 {
		return Rating{}, false
	}
	votes, err := strconv.Atoi(record[2])
	if err != nil || votes < 0 {
		return Rating{}, false
	}
	return Rating{ImdbID: record[0], Rating: rating, Votes: votes}, true
}

// maybeGunzip transparently decompresses gzip input.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	if bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip dataset: %w", err)
		}
		return gz, nil
	}
	return br, nil
}
