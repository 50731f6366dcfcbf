package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/cache"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/consumer"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
)

func TestHandleAvatarProcessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	u := f.newUser(t, "student@example.com")

	f.resolve(t, u.ID, "http", "")

	writeObject(t, f.storeDir, u.ID+"/md.gif")
	event := &consumer.AvatarProcessedEvent{
		UserID: u.ID,
		Processed: consumer.AvatarProcessedObjects{
			Sm: consumer.AvatarObjectRef{Bucket: "avatars", Key: u.ID + "/sm.gif"},
			Md: consumer.AvatarObjectRef{Bucket: "avatars", Key: u.ID + "/md.gif"},
		},
	}
	require.NoError(t, f.svc.HandleAvatarProcessed(ctx, event))

	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoredAttachment(u.ID+"/md.gif"), got.Avatar)
	assert.Equal(t, "http://someschool.example.com/images/thumbnails/"+u.ID+"/md.gif", f.resolve(t, u.ID, "http", ""))
}

func TestHandleAvatarProcessedMissingObject(t *testing.T) {
	f := newFixture(t, true, nil)
	u := f.newUser(t, "")

	err := f.svc.HandleAvatarProcessed(context.Background(), &consumer.AvatarProcessedEvent{
		UserID:    u.ID,
		Processed: consumer.AvatarProcessedObjects{Md: consumer.AvatarObjectRef{Key: u.ID + "/md.gif"}},
	})
	assert.ErrorIs(t, err, ErrObjectMissing)

	got, err := f.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Gravatar(), got.Avatar)
}

// expiringStore mints a new signature on every GetURL, like an S3 presigner.
type expiringStore struct {
	mu      sync.Mutex
	signed  int
	expires []time.Duration
}

func (s *expiringStore) Exists(context.Context, string) (bool, error) { return true, nil }

func (s *expiringStore) GetURL(_ context.Context, key string, expires time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signed++
	s.expires = append(s.expires, expires)
	return fmt.Sprintf("https://bucket.s3.example.com/%s?X-Amz-Signature=%d", key, s.signed), nil
}

func TestProcessedAvatarURLIsSignedPerResolve(t *testing.T) {
	ctx := context.Background()
	store := &expiringStore{}
	f := newFixtureWithStore(t, true, cache.NoopURLCache{}, store)
	u := f.newUser(t, "")

	require.NoError(t, f.svc.HandleAvatarProcessed(ctx, &consumer.AvatarProcessedEvent{
		UserID:    u.ID,
		Processed: consumer.AvatarProcessedObjects{Md: consumer.AvatarObjectRef{Key: u.ID + "/md.gif"}},
	}))

	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Avatar.Source, "no signed URL is persisted")
	assert.Equal(t, u.ID+"/md.gif", got.Avatar.Object)

	first := f.resolve(t, u.ID, "http", "")
	second := f.resolve(t, u.ID, "http", "")
	assert.Equal(t, "https://bucket.s3.example.com/"+u.ID+"/md.gif?X-Amz-Signature=1", first)
	assert.Equal(t, "https://bucket.s3.example.com/"+u.ID+"/md.gif?X-Amz-Signature=2", second)
	assert.Equal(t, []time.Duration{time.Hour, time.Hour}, store.expires)
}

// failingStore cannot sign URLs.
type failingStore struct{}

func (failingStore) Exists(context.Context, string) (bool, error) { return true, nil }

func (failingStore) GetURL(context.Context, string, time.Duration) (string, error) {
	return "", fmt.Errorf("signer unavailable")
}

func TestStoredAttachmentFallsBackWhenSigningFails(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithStore(t, true, cache.NoopURLCache{}, failingStore{})
	u := f.newUser(t, "")

	_, err := f.svc.UpdateAvatar(ctx, SystemActor, u.ID, domain.StoredAttachment(u.ID+"/md.gif"))
	require.NoError(t, err)

	assert.Equal(t, "https://x.example.com/d.png", f.resolve(t, u.ID, "https", "https://x.example.com/d.png"))
}
