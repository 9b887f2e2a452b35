package audio

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_SaveOpenSize(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Save(ctx, "../../etc/standup notes.mp3", strings.NewReader("RIFF-audio"))
	require.NoError(t, err)
	assert.Equal(t, store.Root(), filepath.Dir(ref))
	assert.True(t, strings.HasSuffix(ref, "_standup_notes.mp3"))

	size, err := store.Size(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, len("RIFF-audio"), size)

	obj, err := store.Open(ctx, ref)
	require.NoError(t, err)
	defer obj.Body.Close()
	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "RIFF-audio", string(body))
	assert.Equal(t, filepath.Base(ref), obj.Name)

	relSize, err := store.Size(ctx, filepath.Base(ref))
	require.NoError(t, err)
	assert.Equal(t, size, relSize)
}

func TestLocalStore_RejectsPathsOutsideRoot(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "../secret.wav")
	require.ErrorIs(t, err, ErrOutsideRoot)

	_, err = store.Size(context.Background(), "/etc/passwd")
	require.ErrorIs(t, err, ErrOutsideRoot)
}

func TestLocalStore_Missing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Size(context.Background(), "missing.wav")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Open(context.Background(), "missing.wav")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Size(context.Background(), "")
	require.ErrorIs(t, err, ErrNotFound)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	store, err := NewS3Store(newFakeS3(), "meetings", "/audio/")
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Save(ctx, "call.wav", strings.NewReader("pcm"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "s3://meetings/audio/"))

	size, err := store.Size(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)

	obj, err := store.Open(ctx, ref)
	require.NoError(t, err)
	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "pcm", string(body))

	_, err = store.Size(ctx, "s3://meetings/audio/missing.wav")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Open(ctx, "s3://meetings/audio/missing.wav")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3Store_Validation(t *testing.T) {
	_, err := NewS3Store(nil, "b", "")
	require.Error(t, err)
	_, err = NewS3Store(newFakeS3(), " ", "")
	require.Error(t, err)
}

func TestParseS3Ref(t *testing.T) {
	bucket, key, err := ParseS3Ref("s3://bucket/a/b.wav")
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "a/b.wav", key)

	for _, bad := range []string{"bucket/a.wav", "s3://bucket", "s3:///a.wav", "s3://bucket/"} {
		_, _, err := ParseS3Ref(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolver_Dispatch(t *testing.T) {
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("local only", func(t *testing.T) {
		r, err := NewResolver(local, nil)
		require.NoError(t, err)

		ref, err := r.Save(ctx, "a.wav", strings.NewReader("x"))
		require.NoError(t, err)
		size, err := r.Size(ctx, ref)
		require.NoError(t, err)
		assert.EqualValues(t, 1, size)

		_, err = r.Size(ctx, "s3://bucket/key.wav")
		require.Error(t, err)
	})

	t.Run("s3 primary", func(t *testing.T) {
		remote, err := NewS3Store(newFakeS3(), "bucket", "")
		require.NoError(t, err)
		r, err := NewResolver(local, remote)
		require.NoError(t, err)

		ref, err := r.Save(ctx, "a.wav", strings.NewReader("xyz"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ref, S3Scheme))

		size, err := r.Size(ctx, ref)
		require.NoError(t, err)
		assert.EqualValues(t, 3, size)
	})

	_, err = NewResolver(nil, nil)
	require.Error(t, err)
}
