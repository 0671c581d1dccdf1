// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/ideal-world/dew-baas/services/action/bundle"
)

// BadgerDB key prefixes for build records.
const (
	keyPrefixBuild      = "dew:build:"
	keyPrefixBuildIndex = "dew:build:index:"
	keySuffixData       = ":data"
	keySuffixMeta       = ":meta"
	keySuffixLatest     = ":latest"
)

// Record is the metadata of one journaled build.
type Record struct {
	BuildID  string `json:"build_id"`
	BaseDir  string `json:"base_dir"`
	BaseHash string `json:"base_hash"`
	Target   Target `json:"target"`
	Env      string `json:"env"`

	// Status is "ok", "failed" or "partial".
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	StartedAtMilli  int64 `json:"started_at_milli"`
	FinishedAtMilli int64 `json:"finished_at_milli"`

	Modules      int    `json:"modules"`
	Stubs        int    `json:"stubs"`
	BundleSHA256 string `json:"bundle_sha256,omitempty"`
	BundleBytes  int    `json:"bundle_bytes,omitempty"`
	Destination  string `json:"destination,omitempty"`

	// CompressedSize and ContentHash describe the stored detail payload.
	CompressedSize int64  `json:"compressed_size"`
	ContentHash    string `json:"content_hash"`
}

// Detail is the per-file part of a build record.
type Detail struct {
	Files  []FileResult    `json:"files"`
	Bundle *bundle.Summary `json:"bundle,omitempty"`
}

// FileResult is the outcome for one module.
type FileResult struct {
	RelPath          string   `json:"rel_path"`
	Module           string   `json:"module"`
	Skipped          bool     `json:"skipped,omitempty"`
	Stubs            []string `json:"stubs,omitempty"`
	DeletedFunctions []string `json:"deleted_functions,omitempty"`
	Deleted          int      `json:"deleted,omitempty"`
	Kept             int      `json:"kept,omitempty"`
	Cleaned          []string `json:"cleaned,omitempty"`
}

// Journal stores build records in BadgerDB.
//
// Description:
//
//	Each build stores gzip-compressed JSON detail plus JSON metadata, a
//	per-base-path latest pointer and a reverse index from build id to
//	base hash.
//
// Key Schema:
//
//	dew:build:{baseHash}:{buildID}:data -> gzip(JSON(Detail))
//	dew:build:{baseHash}:{buildID}:meta -> JSON(Record)
//	dew:build:{baseHash}:latest         -> buildID
//	dew:build:index:{buildID}           -> baseHash
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type Journal struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenJournalDB opens the on-disk journal database at dir.
func OpenJournalDB(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening build journal at %s: %w", dir, err)
	}
	return db, nil
}

// NewJournal creates a journal on an opened database. The caller owns db.
func NewJournal(db *badger.DB, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Journal{db: db, logger: logger}, nil
}

// BaseHash returns SHA256(baseDir)[:16], the key group of a base path.
func BaseHash(baseDir string) string {
	return hashString(baseDir)[:16]
}

// Save persists rec and detail and moves the latest pointer of the base
// path to rec. rec.BaseHash, CompressedSize and ContentHash are filled in.
func (j *Journal) Save(ctx context.Context, rec *Record, detail *Detail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.BuildID == "" {
		return fmt.Errorf("record must have a build id")
	}
	if detail == nil {
		detail = &Detail{}
	}

	jsonData, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshaling build detail: %w", err)
	}
	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return fmt.Errorf("compressing build detail: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}
	data := compressed.Bytes()

	rec.BaseHash = BaseHash(rec.BaseDir)
	rec.CompressedSize = int64(len(data))
	rec.ContentHash = hashBytes(data)
	metaJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling build record: %w", err)
	}

	dataKey := keyPrefixBuild + rec.BaseHash + ":" + rec.BuildID + keySuffixData
	metaKey := keyPrefixBuild + rec.BaseHash + ":" + rec.BuildID + keySuffixMeta
	latestKey := keyPrefixBuild + rec.BaseHash + keySuffixLatest
	indexKey := keyPrefixBuildIndex + rec.BuildID

	err = j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey), data); err != nil {
			return fmt.Errorf("storing detail: %w", err)
		}
		if err := txn.Set([]byte(metaKey), metaJSON); err != nil {
			return fmt.Errorf("storing record: %w", err)
		}
		if err := txn.Set([]byte(latestKey), []byte(rec.BuildID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(indexKey), []byte(rec.BaseHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing build %s to journal: %w", rec.BuildID, err)
	}

	j.logger.Debug("build journaled",
		slog.String("build_id", rec.BuildID),
		slog.String("status", rec.Status),
		slog.Int64("compressed_size", rec.CompressedSize),
	)
	return nil
}

// Get loads a build by id.
func (j *Journal) Get(ctx context.Context, buildID string) (*Record, *Detail, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if buildID == "" {
		return nil, nil, fmt.Errorf("build id must not be empty")
	}

	var baseHash string
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixBuildIndex + buildID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			baseHash = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("looking up build %s: %w", buildID, err)
	}
	return j.load(baseHash, buildID)
}

// Latest loads the most recent build of baseDir.
func (j *Journal) Latest(ctx context.Context, baseDir string) (*Record, *Detail, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	baseHash := BaseHash(baseDir)

	var buildID string
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixBuild + baseHash + keySuffixLatest))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			buildID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: no builds for %s", ErrBuildNotFound, baseDir)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", baseDir, err)
	}
	return j.load(baseHash, buildID)
}

// List returns records newest first. An empty baseDir lists every base
// path. limit <= 0 defaults to 50.
func (j *Journal) List(ctx context.Context, baseDir string, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	prefix := keyPrefixBuild
	if baseDir != "" {
		prefix = keyPrefixBuild + BaseHash(baseDir) + ":"
	}

	var records []*Record
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				j.logger.Warn("skipping corrupt build record", slog.String("key", key), slog.Any("error", err))
				continue
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}

	sort.SliceStable(records, func(a, b int) bool {
		return records[a].StartedAtMilli > records[b].StartedAtMilli
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (j *Journal) load(baseHash, buildID string) (*Record, *Detail, error) {
	dataKey := keyPrefixBuild + baseHash + ":" + buildID + keySuffixData
	metaKey := keyPrefixBuild + baseHash + ":" + buildID + keySuffixMeta

	var data, metaJSON []byte
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dataKey))
		if err != nil {
			return fmt.Errorf("reading detail for %s: %w", buildID, err)
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying detail for %s: %w", buildID, err)
		}
		item, err = txn.Get([]byte(metaKey))
		if err != nil {
			return fmt.Errorf("reading record for %s: %w", buildID, err)
		}
		if metaJSON, err = item.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying record for %s: %w", buildID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var rec Record
	if err := json.Unmarshal(metaJSON, &rec); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling record for %s: %w", buildID, err)
	}
	if rec.ContentHash != "" && rec.ContentHash != hashBytes(data) {
		return nil, nil, fmt.Errorf("integrity check failed for build %s", buildID)
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing build %s: %w", buildID, err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading build %s: %w", buildID, err)
	}
	var detail Detail
	if err := json.Unmarshal(jsonData, &detail); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling detail for %s: %w", buildID, err)
	}
	return &rec, &detail, nil
}

func hashString(s string) string {
	return hashBytes([]byte(s))
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
