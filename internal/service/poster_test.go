package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/linklink-server/internal/apperror"
	"github.com/iliyamo/linklink-server/internal/logger"
	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/repository"
	"github.com/iliyamo/linklink-server/internal/repository/memory"
	memstorage "github.com/iliyamo/linklink-server/internal/storage/memory"
	"github.com/iliyamo/linklink-server/internal/utils"
)

// --- Mock Notifier / Invalidator ---

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyNewPost(ctx context.Context, username string) error {
	args := m.Called(ctx, username)
	return args.Error(0)
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

// --- Fixture ---

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000000000000000")

type posterFixture struct {
	svc      *PosterService
	store    *memory.Store
	files    *memstorage.Storage
	clock    *utils.ManualClock
	notifier *mockNotifier
	cache    *countingInvalidator
}

func newPosterFixture(t *testing.T) *posterFixture {
	t.Helper()
	clock := utils.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	files := memstorage.New("/uploads")
	images := NewImageService(store.Images(), files, ImageConfig{}, clock, logger.Discard())
	notifier := &mockNotifier{}
	notifier.On("NotifyNewPost", mock.Anything, mock.Anything).Return(nil).Maybe()
	cache := &countingInvalidator{}

	svc := NewPosterService(store.Posters(), store.Archive(), images, notifier, cache, clock, logger.Discard())
	return &posterFixture{svc: svc, store: store, files: files, clock: clock, notifier: notifier, cache: cache}
}

func (f *posterFixture) create(t *testing.T, owner, privacy, message string, uploads ...ImageUpload) *model.Poster {
	t.Helper()
	p, err := f.svc.Create(context.Background(), CreatePosterInput{
		Owner:   owner,
		Message: message,
		Privacy: privacy,
		Images:  uploads,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return p
}

func png(name string) ImageUpload {
	return ImageUpload{OriginalFilename: name, ContentType: "image/png", Data: pngBytes}
}

func ids(ps []model.Poster) []uint64 {
	out := make([]uint64, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// --- Create ---

func TestCreate_DefaultsToPrivateAndDoesNotNotify(t *testing.T) {
	f := newPosterFixture(t)

	p := f.create(t, "alice", "", "hello")
	assert.Equal(t, model.PrivacyPrivate, p.Privacy)
	assert.False(t, p.IsDeleted)
	assert.Nil(t, p.DeletedAt)
	assert.NotZero(t, p.ID)

	f.notifier.AssertNotCalled(t, "NotifyNewPost", mock.Anything, mock.Anything)
}

func TestCreate_PublicAndCommunityNotify(t *testing.T) {
	f := newPosterFixture(t)

	f.create(t, "alice", "public", "a")
	f.create(t, "bob", "COMMUNITY", "b")

	f.notifier.AssertCalled(t, "NotifyNewPost", mock.Anything, "alice")
	f.notifier.AssertCalled(t, "NotifyNewPost", mock.Anything, "bob")
	f.notifier.AssertNumberOfCalls(t, "NotifyNewPost", 2)
}

func TestCreate_NotifierFailureIsSwallowed(t *testing.T) {
	f := newPosterFixture(t)
	failing := &mockNotifier{}
	failing.On("NotifyNewPost", mock.Anything, "alice").Return(errors.New("socket closed"))
	f.svc.notifier = failing

	p, err := f.svc.Create(context.Background(), CreatePosterInput{Owner: "alice", Message: "hi", Privacy: "public"})
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	failing.AssertExpectations(t)
}

func TestCreate_InvalidPrivacy(t *testing.T) {
	f := newPosterFixture(t)

	_, err := f.svc.Create(context.Background(), CreatePosterInput{Owner: "alice", Message: "x", Privacy: "friends"})
	assert.ErrorIs(t, err, apperror.ErrInvalidPrivacy)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestCreate_StoresImagesInOrder(t *testing.T) {
	f := newPosterFixture(t)

	p := f.create(t, "alice", "public", "pics", png("one.png"), png("two.png"))
	require.Len(t, p.Images, 2)
	assert.Equal(t, "one.png", p.Images[0].OriginalFilename)
	assert.Equal(t, "two.png", p.Images[1].OriginalFilename)
	assert.Contains(t, p.Images[0].FilePath, "2024/05/01/alice/alice_")
	assert.True(t, f.files.Has(p.Images[0].FilePath))

	got, err := f.svc.GetDetail(context.Background(), p.ID, "")
	require.NoError(t, err)
	require.Len(t, got.Images, 2)
	assert.Equal(t, p.Images[0].Filename, got.Images[0].Filename)
}

func TestCreate_RejectsDisallowedImageWithoutWritingFiles(t *testing.T) {
	f := newPosterFixture(t)

	_, err := f.svc.Create(context.Background(), CreatePosterInput{
		Owner:  "alice",
		Images: []ImageUpload{png("ok.png"), {OriginalFilename: "x.txt", ContentType: "text/plain", Data: []byte("hello")}},
	})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Zero(t, f.files.Len())
}

// --- Edit ---

func TestEdit_PartialUpdate(t *testing.T) {
	f := newPosterFixture(t)
	p := f.create(t, "alice", "private", "original")

	msg := "updated"
	got, err := f.svc.Edit(context.Background(), p.ID, "alice", EditPosterInput{Message: &msg})
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Message)
	assert.Equal(t, model.PrivacyPrivate, got.Privacy)

	priv := "public"
	got, err = f.svc.Edit(context.Background(), p.ID, "alice", EditPosterInput{Privacy: &priv})
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Message)
	assert.Equal(t, model.PrivacyPublic, got.Privacy)
}

func TestEdit_ReplacesImagesAndRemovesOldFiles(t *testing.T) {
	f := newPosterFixture(t)
	p := f.create(t, "alice", "public", "pics", png("old.png"))
	oldPath := p.Images[0].FilePath

	got, err := f.svc.Edit(context.Background(), p.ID, "alice", EditPosterInput{Images: []ImageUpload{png("new.png")}})
	require.NoError(t, err)
	require.Len(t, got.Images, 1)
	assert.Equal(t, "new.png", got.Images[0].OriginalFilename)
	assert.False(t, f.files.Has(oldPath))
	assert.True(t, f.files.Has(got.Images[0].FilePath))
}

func TestEdit_Failures(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "public", "x")
	msg := "y"

	_, err := f.svc.Edit(ctx, 999, "alice", EditPosterInput{Message: &msg})
	assert.ErrorIs(t, err, apperror.ErrPosterNotFound)

	_, err = f.svc.Edit(ctx, p.ID, "bob", EditPosterInput{Message: &msg})
	assert.ErrorIs(t, err, apperror.ErrNotOwner)

	bad := "secret"
	_, err = f.svc.Edit(ctx, p.ID, "alice", EditPosterInput{Privacy: &bad})
	assert.ErrorIs(t, err, apperror.ErrInvalidPrivacy)

	require.NoError(t, f.svc.Delete(ctx, p.ID, "alice"))
	_, err = f.svc.Edit(ctx, p.ID, "alice", EditPosterInput{Message: &msg})
	assert.ErrorIs(t, err, apperror.ErrAlreadyDeleted)
}

// trashingPosters moves the poster to the trash right after it is read,
// the way a concurrent delete request would.
type trashingPosters struct {
	repository.PosterRepository
	at   time.Time
	done bool
}

func (r *trashingPosters) GetByID(ctx context.Context, id uint64) (*model.Poster, error) {
	p, err := r.PosterRepository.GetByID(ctx, id)
	if err == nil && !r.done {
		r.done = true
		if err := r.PosterRepository.SoftDelete(ctx, id, r.at); err != nil {
			return nil, err
		}
	}
	return p, err
}

func TestEdit_TrashedAfterReadIsRefused(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "public", "before", png("keep.png"))

	images := NewImageService(f.store.Images(), f.files, ImageConfig{}, f.clock, logger.Discard())
	svc := NewPosterService(&trashingPosters{PosterRepository: f.store.Posters(), at: f.clock.Now()},
		f.store.Archive(), images, nil, nil, f.clock, logger.Discard())

	msg := "after"
	_, err := svc.Edit(ctx, p.ID, "alice", EditPosterInput{Message: &msg, Images: []ImageUpload{png("swap.png")}})
	assert.ErrorIs(t, err, apperror.ErrAlreadyDeleted)

	stored, err := f.store.Posters().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.Equal(t, "before", stored.Message)
	require.Len(t, stored.Images, 1)
	assert.Equal(t, "keep.png", stored.Images[0].OriginalFilename)
	assert.Equal(t, 1, f.files.Len())
}

func TestEdit_RejectedUploadLeavesPosterUntouched(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "public", "before", png("keep.png"))

	msg := "after"
	bad := ImageUpload{OriginalFilename: "doc.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}
	_, err := f.svc.Edit(ctx, p.ID, "alice", EditPosterInput{Message: &msg, Images: []ImageUpload{bad}})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	stored, err := f.store.Posters().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "before", stored.Message)
	require.Len(t, stored.Images, 1)
	assert.Equal(t, 1, f.files.Len())
}

func TestEdit_StorageFailureLeavesPosterUntouched(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "public", "before")
	f.files.FailUpload = errors.New("disk full")

	msg := "after"
	_, err := f.svc.Edit(ctx, p.ID, "alice", EditPosterInput{Message: &msg, Images: []ImageUpload{png("a.png")}})
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))

	stored, err := f.store.Posters().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "before", stored.Message)
}

// --- Delete / Restore ---

func TestDeleteRestore_RoundTrip(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "community", "keep me", png("a.png"))
	before, err := f.store.Posters().GetByID(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, p.ID, "alice"))
	trashed, err := f.store.Posters().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, trashed.IsDeleted)
	require.NotNil(t, trashed.DeletedAt)
	assert.Equal(t, f.clock.Now(), *trashed.DeletedAt)

	err = f.svc.Delete(ctx, p.ID, "alice")
	assert.ErrorIs(t, err, apperror.ErrAlreadyDeleted)

	restored, err := f.svc.Restore(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)
	assert.Nil(t, restored.DeletedAt)

	after, err := f.store.Posters().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRestore_Failures(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "public", "x")

	_, err := f.svc.Restore(ctx, p.ID, "alice")
	assert.ErrorIs(t, err, apperror.ErrNotDeleted)

	require.NoError(t, f.svc.Delete(ctx, p.ID, "alice"))
	_, err = f.svc.Restore(ctx, p.ID, "bob")
	assert.ErrorIs(t, err, apperror.ErrNotOwner)

	_, err = f.svc.Restore(ctx, 12345, "alice")
	assert.ErrorIs(t, err, apperror.ErrPosterNotFound)
}

func TestDelete_NotOwner(t *testing.T) {
	f := newPosterFixture(t)
	p := f.create(t, "alice", "public", "x")

	err := f.svc.Delete(context.Background(), p.ID, "bob")
	assert.ErrorIs(t, err, apperror.ErrNotOwner)
}

// --- Hard delete ---

func TestHardDelete_RequiresTrash(t *testing.T) {
	f := newPosterFixture(t)
	p := f.create(t, "alice", "public", "x")

	_, err := f.svc.HardDelete(context.Background(), p.ID, "alice")
	assert.ErrorIs(t, err, apperror.ErrNotYetSoftDeleted)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	_, err = f.store.Posters().GetByID(context.Background(), p.ID)
	assert.NoError(t, err)
}

func TestHardDelete_ArchivesAndPurges(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "community", "bye", png("first.png"), png("second.png"))
	first := p.Images[0]
	require.NoError(t, f.svc.Delete(ctx, p.ID, "alice"))
	deletedAt := f.clock.Now()
	f.clock.Advance(time.Hour)

	archived, err := f.svc.HardDelete(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, p.ID, archived.OriginalID)
	assert.Equal(t, "alice", archived.Username)
	assert.Equal(t, "bye", archived.Message)
	assert.Equal(t, model.PrivacyCommunity, archived.Privacy)
	assert.Equal(t, first.FilePath, archived.OriginalImagePath)
	assert.Equal(t, first.Filename, archived.ImageFilename)
	assert.Equal(t, deletedAt, archived.DeletedAt)
	assert.Equal(t, f.clock.Now(), archived.ArchivedAt)

	_, err = f.svc.GetDetail(ctx, p.ID, "alice")
	assert.ErrorIs(t, err, apperror.ErrPosterNotFound)
	_, err = f.svc.HardDelete(ctx, p.ID, "alice")
	assert.ErrorIs(t, err, apperror.ErrPosterNotFound)

	imgs, err := f.store.Images().ListByPoster(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, imgs)
	assert.Zero(t, f.files.Len())

	got, err := f.store.Archive().GetByOriginalID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, archived.ID, got.ID)
}

func TestHardDelete_ArchiveFailureLeavesPosterIntact(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "public", "x", png("a.png"))
	require.NoError(t, f.svc.Delete(ctx, p.ID, "alice"))

	f.store.FailArchive = errors.New("disk full")
	_, err := f.svc.HardDelete(ctx, p.ID, "alice")
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))

	still, err := f.store.Posters().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, still.IsDeleted)
	assert.Len(t, still.Images, 1)
	assert.True(t, f.files.Has(p.Images[0].FilePath))
}

func TestHardDeleteAllTrash(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	a := f.create(t, "alice", "public", "a")
	b := f.create(t, "alice", "private", "b")
	live := f.create(t, "alice", "public", "live")
	other := f.create(t, "bob", "public", "bob's")
	require.NoError(t, f.svc.Delete(ctx, a.ID, "alice"))
	require.NoError(t, f.svc.Delete(ctx, b.ID, "alice"))
	require.NoError(t, f.svc.Delete(ctx, other.ID, "bob"))

	n, err := f.svc.HardDeleteAllTrash(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	trash, err := f.svc.ListTrash(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, trash)

	archived, err := f.svc.ListArchived(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, archived, 2)

	_, err = f.store.Posters().GetByID(ctx, live.ID)
	assert.NoError(t, err)
	bobTrash, err := f.svc.ListTrash(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bobTrash, 1)

	n, err = f.svc.HardDeleteAllTrash(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Visibility ---

func TestListVisible_Scenario(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	a := f.create(t, "carol", "public", "A")
	b := f.create(t, "carol", "community", "B")
	c := f.create(t, "alice", "private", "C")
	d := f.create(t, "bob", "private", "D")
	gone := f.create(t, "carol", "public", "trashed")
	require.NoError(t, f.svc.Delete(ctx, gone.ID, "carol"))

	anon, err := f.svc.ListVisible(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{a.ID}, ids(anon))

	asAlice, err := f.svc.ListVisible(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{c.ID, b.ID, a.ID}, ids(asAlice))

	asBob, err := f.svc.ListVisible(ctx, "bob", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{d.ID, b.ID, a.ID}, ids(asBob))
}

func TestListVisible_PagingIsStable(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	var all []uint64
	for i := 0; i < 5; i++ {
		all = append([]uint64{f.create(t, "alice", "public", "p").ID}, all...)
	}

	page1, err := f.svc.ListVisible(ctx, "", 2, 0)
	require.NoError(t, err)
	page2, err := f.svc.ListVisible(ctx, "", 2, 2)
	require.NoError(t, err)
	again, err := f.svc.ListVisible(ctx, "", 2, 2)
	require.NoError(t, err)
	page3, err := f.svc.ListVisible(ctx, "", 2, 4)
	require.NoError(t, err)

	assert.Equal(t, all[0:2], ids(page1))
	assert.Equal(t, all[2:4], ids(page2))
	assert.Equal(t, ids(page2), ids(again))
	assert.Equal(t, all[4:], ids(page3))

	neg, err := f.svc.ListVisible(ctx, "", 2, -5)
	require.NoError(t, err)
	assert.Equal(t, ids(page1), ids(neg))
}

func TestListVisible_SameTimestampOrdersByID(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	var created []uint64
	for i := 0; i < 3; i++ {
		p, err := f.svc.Create(ctx, CreatePosterInput{Owner: "alice", Message: "same", Privacy: "public"})
		require.NoError(t, err)
		created = append(created, p.ID)
	}

	got, err := f.svc.ListVisible(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{created[2], created[1], created[0]}, ids(got))
}

func TestClampPage(t *testing.T) {
	l, o := ClampPage(0, -1)
	assert.Equal(t, DefaultFeedLimit, l)
	assert.Zero(t, o)

	l, _ = ClampPage(1000, 0)
	assert.Equal(t, MaxFeedLimit, l)

	l, o = ClampPage(5, 10)
	assert.Equal(t, 5, l)
	assert.Equal(t, 10, o)
}

// --- Detail ---

func TestGetDetail_PrivacyRules(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	a := f.create(t, "carol", "public", "A")
	b := f.create(t, "carol", "community", "B")
	c := f.create(t, "alice", "private", "C")

	_, err := f.svc.GetDetail(ctx, a.ID, "")
	assert.NoError(t, err)

	_, err = f.svc.GetDetail(ctx, b.ID, "")
	assert.ErrorIs(t, err, apperror.ErrLoginRequired)
	_, err = f.svc.GetDetail(ctx, b.ID, "bob")
	assert.NoError(t, err)

	_, err = f.svc.GetDetail(ctx, c.ID, "bob")
	assert.ErrorIs(t, err, apperror.ErrUnavailableForLegalReasons)
	assert.Equal(t, 451, apperror.HTTPStatus(err))

	got, err := f.svc.GetDetail(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "C", got.Message)

	_, err = f.svc.GetDetail(ctx, c.ID, "")
	assert.ErrorIs(t, err, apperror.ErrLoginRequired)
}

func TestGetDetail_TrashedIsNotFoundForEveryone(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "public", "x")
	require.NoError(t, f.svc.Delete(ctx, p.ID, "alice"))

	for _, viewer := range []string{"", "alice", "bob"} {
		_, err := f.svc.GetDetail(ctx, p.ID, viewer)
		assert.ErrorIs(t, err, apperror.ErrPosterNotFound, "viewer %q", viewer)
	}
}

// --- Lists and cache ---

func TestListOwn_ExcludesTrash(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	keep := f.create(t, "alice", "private", "keep")
	drop := f.create(t, "alice", "public", "drop")
	f.create(t, "bob", "public", "not mine")
	require.NoError(t, f.svc.Delete(ctx, drop.ID, "alice"))

	own, err := f.svc.ListOwn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []uint64{keep.ID}, ids(own))
}

func TestMutationsInvalidateFeedCache(t *testing.T) {
	f := newPosterFixture(t)
	ctx := context.Background()
	p := f.create(t, "alice", "public", "x")
	require.Equal(t, 1, f.cache.calls)

	require.NoError(t, f.svc.Delete(ctx, p.ID, "alice"))
	_, err := f.svc.Restore(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, f.cache.calls)

	_, err = f.svc.ListVisible(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, f.cache.calls)
}
