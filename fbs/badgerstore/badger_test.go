package badgerstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibsdb/bibselv/fbs/badgerstore"
)

func openStore(t *testing.T) *badgerstore.Store {
	t.Helper()

	store, err := badgerstore.NewStore(badgerstore.Config{InMemory: true})
	require.NoError(t, err, "Should open an in-memory store")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func Test_NewStore_Error_EmptyPath(t *testing.T) {
	_, err := badgerstore.NewStore(badgerstore.Config{})

	assert.ErrorIs(t, err, badgerstore.ErrEmptyPath)
}

func Test_Store_Append_Error_EmptyFileKey(t *testing.T) {
	store := openStore(t)

	err := store.Append(context.Background(), "", []byte(`{}`))

	assert.ErrorIs(t, err, badgerstore.ErrEmptyFileKey)
}

func Test_Store_AppendAndEntries_PreservesOrderPerFileKey(t *testing.T) {
	// arrange
	store := openStore(t)

	// act - interleave two file keys
	require.NoError(t, store.Append(context.Background(), "patron-0042", []byte(`{"n":1}`)))
	require.NoError(t, store.Append(context.Background(), "txn-7", []byte(`{"n":2}`)))
	require.NoError(t, store.Append(context.Background(), "patron-0042", []byte(`{"n":3}`)))

	// assert
	payloads, err := store.Entries(context.Background(), "patron-0042")
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, `{"n":1}`, string(payloads[0]))
	assert.Equal(t, `{"n":3}`, string(payloads[1]))

	other, err := store.Entries(context.Background(), "txn-7")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, `{"n":2}`, string(other[0]))
}

func Test_Store_FileKeys_ListsDistinctKeys(t *testing.T) {
	// arrange
	store := openStore(t)

	require.NoError(t, store.Append(context.Background(), "patron-0042", []byte(`{}`)))
	require.NoError(t, store.Append(context.Background(), "patron-0042", []byte(`{}`)))
	require.NoError(t, store.Append(context.Background(), "txn-7", []byte(`{}`)))

	// act
	keys, err := store.FileKeys(context.Background())

	// assert
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"patron-0042", "txn-7"}, keys)
}

func Test_Store_Purge_RemovesOnlyTheGivenStream(t *testing.T) {
	// arrange
	store := openStore(t)

	require.NoError(t, store.Append(context.Background(), "patron-0042", []byte(`{}`)))
	require.NoError(t, store.Append(context.Background(), "txn-7", []byte(`{}`)))

	// act
	require.NoError(t, store.Purge(context.Background(), "patron-0042"))

	// assert
	purged, err := store.Entries(context.Background(), "patron-0042")
	require.NoError(t, err)
	assert.Empty(t, purged)

	kept, err := store.Entries(context.Background(), "txn-7")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func Test_Store_SeparatorInFileKey_KeepsStreamsApart(t *testing.T) {
	// arrange - one key is a slash-containing extension of the other, its
	// records must not show up in the shorter key's stream
	store := openStore(t)

	require.NoError(t, store.Append(context.Background(), "abc", []byte(`{"n":1}`)))
	require.NoError(t, store.Append(context.Background(), "abc/x", []byte(`{"n":2}`)))

	// act
	short, err := store.Entries(context.Background(), "abc")
	require.NoError(t, err)
	extended, err := store.Entries(context.Background(), "abc/x")
	require.NoError(t, err)

	// assert
	require.Len(t, short, 1)
	assert.Equal(t, `{"n":1}`, string(short[0]))
	require.Len(t, extended, 1)
	assert.Equal(t, `{"n":2}`, string(extended[0]))

	keys, err := store.FileKeys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"abc", "abc/x"}, keys)

	// purging the shorter key leaves the extension untouched
	require.NoError(t, store.Purge(context.Background(), "abc"))

	kept, err := store.Entries(context.Background(), "abc/x")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func Test_Store_ConcurrentAppendsToOneFileKey_AllSurvive(t *testing.T) {
	// arrange
	store := openStore(t)

	// act
	const writers = 32

	wg := sync.WaitGroup{}
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.Append(context.Background(), "patron-0042", []byte(fmt.Sprintf(`{"writer":%d}`, i)))
		}()
	}
	wg.Wait()

	// assert
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
	}

	payloads, err := store.Entries(context.Background(), "patron-0042")
	require.NoError(t, err)
	assert.Len(t, payloads, writers)
}

func Test_Store_Append_Error_AfterClose(t *testing.T) {
	// arrange
	store, err := badgerstore.NewStore(badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// act
	appendErr := store.Append(context.Background(), "patron-0042", []byte(`{}`))

	// assert
	assert.ErrorIs(t, appendErr, badgerstore.ErrStoreClosed)
	assert.NoError(t, store.Close(), "Repeated close is harmless")
}
