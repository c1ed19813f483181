package boltdb

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/alanbriolat/bili-archiver/internal/session"
)

func TestDatabase(t *testing.T) {
	assert := assert_.New(t)
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := New(path)
	require.NoError(t, err)
	assert.Equal(path, db.Path())

	list, err := db.ListDownloads()
	require.NoError(t, err)
	assert.Empty(list)

	state := session.DownloadPersistentState{
		ID:                 session.NewDownloadID(),
		Input:              "BV1xx411c7mD",
		Provider:           "bilibili",
		VideoID:            "BV1xx411c7mD",
		Status:             session.DownloadStatusComplete,
		Title:              "Test Video",
		ContentID:          555,
		AvailableQualities: []int{116, 80},
		SelectedQuality:    116,
		AddedAt:            time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, db.WriteDownload(&state))
	state.Title = "Renamed"
	require.NoError(t, db.WriteDownload(&state))
	require.NoError(t, db.Close())

	// Survives reopening
	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()
	list, err = db.ListDownloads()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(state.ID, list[0].ID)
	assert.Equal("Renamed", list[0].Title)
	assert.Equal([]int{116, 80}, list[0].AvailableQualities)
	assert.True(state.AddedAt.Equal(list[0].AddedAt))

	require.NoError(t, db.DeleteDownload(&state))
	list, err = db.ListDownloads()
	require.NoError(t, err)
	assert.Empty(list)
}

func TestDatabase_NewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	raw, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, raw.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(Buckets.Metadata)
		if err != nil {
			return err
		}
		v, _ := json.Marshal(currentVersion + 1)
		return b.Put(MetadataKeys.Version, v)
	}))
	require.NoError(t, raw.Close())

	_, err = New(path)
	assert_.ErrorContains(t, err, "newer than supported")
}
