// Package boltdb stores download history in a single bbolt file.
package boltdb

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/alanbriolat/bili-archiver/internal/session"
)

var Buckets = struct {
	Metadata  []byte
	Downloads []byte
}{
	Metadata:  []byte("__metadata__"),
	Downloads: []byte("downloads"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

type Database interface {
	Close() error
	Path() string

	session.Database
}

type database struct {
	*bbolt.DB
}

var _ session.Database = database{}

func New(path string) (Database, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		metadata, err := tx.CreateBucketIfNotExists(Buckets.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Downloads); err != nil {
			return err
		}

		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes != nil {
			if err := json.Unmarshal(versionBytes, &version); err != nil {
				return err
			}
		}
		if version > currentVersion {
			return fmt.Errorf("history database version %d is newer than supported version %d", version, currentVersion)
		}

		versionBytes, err := json.Marshal(currentVersion)
		if err != nil {
			return err
		}
		return metadata.Put(MetadataKeys.Version, versionBytes)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return database{db}, nil
}

func (d database) ListDownloads() (downloads []session.DownloadPersistentState, err error) {
	err = d.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Downloads).ForEach(func(k, v []byte) error {
			var state session.DownloadPersistentState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("download %s: %w", k, err)
			}
			downloads = append(downloads, state)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return downloads, nil
}

func (d database) WriteDownload(state *session.DownloadPersistentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return d.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Downloads).Put([]byte(state.ID), data)
	})
}

func (d database) DeleteDownload(state *session.DownloadPersistentState) error {
	return d.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Downloads).Delete([]byte(state.ID))
	})
}
