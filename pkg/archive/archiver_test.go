package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lynex-ai/lynex/pkg/analytics"
)

type fakeSource struct {
	rows      []analytics.StoredEvent
	selectErr error
	deleted   [][]string
}

func (f *fakeSource) SelectOlderThan(context.Context, time.Time, int) ([]analytics.StoredEvent, error) {
	return f.rows, f.selectErr
}

func (f *fakeSource) DeleteByIDs(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids)
	return nil
}

type fakeObjectStore struct {
	objects map[string][]byte
	putErr  error
	class   types.StorageClass
}

func (f *fakeObjectStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*in.Key] = data
	f.class = in.StorageClass
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectStore) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, errors.New("not found")
	}
	return &s3.HeadObjectOutput{}, nil
}

func storedEvent(id string, ts time.Time) analytics.StoredEvent {
	return analytics.StoredEvent{
		EventID:   id,
		ProjectID: "proj_1",
		EventType: "log",
		Timestamp: ts,
		Body:      "{}",
		Context:   "{}",
	}
}

func newTestArchiver(cfg Config, source Source, store ObjectStore) *Archiver {
	a := NewArchiver(cfg, source, store)
	a.now = func() time.Time {
		return time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	return a
}

func TestRunCycleGroupsByMonth(t *testing.T) {
	jan := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, time.February, 5, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{rows: []analytics.StoredEvent{
		storedEvent("e1", jan),
		storedEvent("e2", feb),
		storedEvent("e3", jan),
	}}
	store := &fakeObjectStore{}
	a := newTestArchiver(Config{Bucket: "cold", Prefix: "events"}, source, store)

	require.NoError(t, a.RunCycle(context.Background()))
	require.Len(t, store.objects, 2)

	keyPattern := regexp.MustCompile(`^events/2024-(01|02)/events_20240315_120000\.parquet$`)
	for key := range store.objects {
		assert.Regexp(t, keyPattern, key)
	}
	assert.Equal(t, types.StorageClassStandardIa, store.class)
	assert.Empty(t, source.deleted, "deletion disabled by default")
}

func TestRunCycleDeletesAfterVerify(t *testing.T) {
	jan := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{rows: []analytics.StoredEvent{
		storedEvent("e1", jan),
		storedEvent("e2", jan),
	}}
	store := &fakeObjectStore{}
	a := newTestArchiver(Config{Bucket: "cold", DeleteAfterArchive: true}, source, store)

	require.NoError(t, a.RunCycle(context.Background()))
	require.Len(t, source.deleted, 1)
	assert.ElementsMatch(t, []string{"e1", "e2"}, source.deleted[0])
}

func TestRunCycleUploadFailureSkipsDelete(t *testing.T) {
	source := &fakeSource{rows: []analytics.StoredEvent{
		storedEvent("e1", time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)),
	}}
	store := &fakeObjectStore{putErr: errors.New("s3 unavailable")}
	a := newTestArchiver(Config{Bucket: "cold", DeleteAfterArchive: true}, source, store)
	// skip the real backoff sleeps
	a.newPolicy = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}

	assert.Error(t, a.RunCycle(context.Background()))
	assert.Empty(t, source.deleted)
}

func TestRunCycleEmpty(t *testing.T) {
	store := &fakeObjectStore{}
	a := newTestArchiver(DefaultConfig(), &fakeSource{}, store)

	require.NoError(t, a.RunCycle(context.Background()))
	assert.Empty(t, store.objects)
}

func TestEncodeParquetRoundTrip(t *testing.T) {
	rows := []analytics.StoredEvent{
		storedEvent("e1", time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)),
		storedEvent("e2", time.Date(2024, time.January, 11, 0, 0, 0, 0, time.UTC)),
	}

	data, err := encodeParquet(rows)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := parquet.Read[analytics.StoredEvent](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "e1", decoded[0].EventID)
	assert.Equal(t, "proj_1", decoded[0].ProjectID)
}
