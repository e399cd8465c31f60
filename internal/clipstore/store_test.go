package clipstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRelease(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	clip, err := store.Put([]byte("clip-bytes"), "audio/wav")
	require.NoError(t, err)
	assert.NotEmpty(t, clip.ID)
	assert.Equal(t, "voicetake://clip/"+clip.ID, clip.Ref)
	assert.Equal(t, int64(10), clip.Size)

	data, err := os.ReadFile(clip.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("clip-bytes"), data)

	got, ok := store.Get(clip.ID)
	require.True(t, ok)
	assert.Equal(t, clip.Ref, got.Ref)

	require.NoError(t, store.Release(clip.ID))
	_, ok = store.Get(clip.ID)
	assert.False(t, ok)
	_, err = os.Stat(clip.Path)
	assert.True(t, os.IsNotExist(err), "released clip bytes must be removed")

	// Releasing an already-gone reference is not an error.
	require.NoError(t, store.Release(clip.ID))
}

func TestResolveReference(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	clip, err := store.Put([]byte("x"), "audio/wav")
	require.NoError(t, err)

	got, ok := store.Resolve(clip.Ref)
	require.True(t, ok)
	assert.Equal(t, clip.ID, got.ID)

	_, ok = store.Resolve("https://example.com/not-a-clip")
	assert.False(t, ok)
	_, ok = store.Resolve("voicetake://clip/unknown")
	assert.False(t, ok)
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	clip, err := store.Put([]byte("persisted"), "audio/wav")
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)
	got, ok := reopened.Get(clip.ID)
	require.True(t, ok)
	assert.Equal(t, clip.Ref, got.Ref)
	assert.Equal(t, clip.Path, got.Path)
}

func TestReopenDropsMissingFiles(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	clip, err := store.Put([]byte("gone"), "audio/wav")
	require.NoError(t, err)
	require.NoError(t, os.Remove(clip.Path))

	reopened, err := Open(dir)
	require.NoError(t, err)
	_, ok := reopened.Get(clip.ID)
	assert.False(t, ok)
}

func TestPublisherRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	ref, err := store.Publish([]byte("published"), "audio/wav")
	require.NoError(t, err)

	clip, ok := store.Resolve(ref)
	require.True(t, ok)
	assert.Equal(t, int64(9), clip.Size)

	require.NoError(t, store.Discard(ref))
	_, ok = store.Resolve(ref)
	assert.False(t, ok)

	assert.Error(t, store.Discard("not-a-ref"))
}

func TestListNewestFirst(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	first, err := store.Put([]byte("a"), "audio/wav")
	require.NoError(t, err)
	second, err := store.Put([]byte("b"), "audio/wav")
	require.NoError(t, err)

	clips := store.List()
	require.Len(t, clips, 2)
	assert.Equal(t, second.ID, clips[0].ID)
	assert.Equal(t, first.ID, clips[1].ID)
}

func TestExtForMIME(t *testing.T) {
	cases := map[string]string{
		"audio/wav":                ".wav",
		"audio/wav;codecs=pcm":     ".wav",
		"audio/ogg":                ".ogg",
		"audio/webm;codecs=opus":   ".webm",
		"application/octet-stream": ".bin",
	}
	for mime, want := range cases {
		assert.Equal(t, want, extForMIME(mime), "mime %s", mime)
	}
}
