package metadata

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackcast/internal/stream"
)

func newTestDB(t *testing.T) *MetadataDB {
	t.Helper()
	db, err := NewMetadataDB("", logrus.NewEntry(logrus.StandardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewSessionRecord(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	status := stream.Status{
		SessionID: "abc",
		Origin:    "demo.mp4",
		Reason:    stream.ReasonError,
		Err:       fmt.Errorf("%w: model crashed", stream.ErrInferenceFailure),
		Delivered: 4,
		LastSeq:   3,
		StartedAt: started,
		EndedAt:   started.Add(time.Second),
	}

	r := NewSessionRecord(status, "demo", "10.0.0.5:5000")

	assert.Equal(t, "error", r.Reason)
	assert.Equal(t, "InferenceFailure", r.Kind)
	assert.Equal(t, "inference failure: model crashed", r.Error)
	require.NotNil(t, r.LastSeq)
	assert.Equal(t, uint64(3), *r.LastSeq)

	r = NewSessionRecord(stream.Status{SessionID: "x", Reason: stream.ReasonClientGone}, "", "")
	assert.Nil(t, r.LastSeq)
	assert.Equal(t, "client_gone", r.Kind)
}

func TestSessionHistory(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.PutSession(&SessionRecord{
			Id:        fmt.Sprintf("s%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Reason:    "normal",
			Delivered: uint64(i),
		}))
	}

	all, err := db.ListSessions(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "s4", all[0].Id)
	assert.Equal(t, "s0", all[4].Id)

	latest, err := db.ListSessions(2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "s3", latest[1].Id)

	r, err := db.GetSession("s2")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Delivered)
	_, err = db.GetSession("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := db.Prune(base.Add(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	all, err = db.ListSessions(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
