package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlreg/internal/admission"
	"mlreg/internal/artifacts"
	"mlreg/internal/blobstore"
	"mlreg/internal/oracle"
)

type scriptedOracle struct {
	score float64
	err   error
	urls  []string
}

func (o *scriptedOracle) Rate(_ context.Context, url, _ string) (oracle.Rating, error) {
	o.urls = append(o.urls, url)
	if o.err != nil {
		return oracle.Rating{}, o.err
	}
	return oracle.Rating{NetScore: o.score, Category: "MODEL"}, nil
}

type fixture struct {
	reg    *Registry
	store  *artifacts.Store
	blobs  *blobstore.MemoryStore
	oracle *scriptedOracle
}

func newFixture(t *testing.T, score float64) fixture {
	t.Helper()
	blobs := blobstore.NewMemoryStore()
	store, err := artifacts.NewStore(blobs, artifacts.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	o := &scriptedOracle{score: score}
	gate, err := admission.New(o, admission.Options{Threshold: 0.5, Logger: zerolog.Nop()})
	require.NoError(t, err)

	reg, err := New(store, gate, o, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return fixture{reg: reg, store: store, blobs: blobs, oracle: o}
}

var alice = Caller{Name: "alice", Credential: "bearer t"}

func TestCreate_Whisper(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.9)

	art, err := f.reg.Create(ctx, "model", "https://huggingface.co/openai/whisper/tree/main", alice)
	require.NoError(t, err)

	assert.Equal(t, "whisper", art.Metadata.Name)
	assert.Equal(t, artifacts.TypeModel, art.Metadata.Type)
	assert.True(t, artifacts.ValidID(art.Metadata.ID))
	assert.Equal(t, "https://huggingface.co/openai/whisper/tree/main", art.Data.URL)

	got, err := f.reg.Get(ctx, "model", art.Metadata.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(art, got); diff != "" {
		t.Fatalf("round trip mismatch (-created +got):\n%s", diff)
	}
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.9)

	_, err := f.reg.Create(ctx, "weights", "https://huggingface.co/a/b", alice)
	assert.True(t, ErrValidation.Has(err))

	_, err = f.reg.Create(ctx, "model", "", alice)
	assert.True(t, ErrValidation.Has(err))

	_, err = f.reg.Create(ctx, "model", "huggingface.co/a/b", alice)
	assert.True(t, ErrValidation.Has(err))

	assert.Empty(t, f.oracle.urls, "invalid requests are never rated")
}

func TestCreate_DuplicateSkipsOracle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.9)

	_, err := f.reg.Create(ctx, "code", "https://github.com/openai/whisper", alice)
	require.NoError(t, err)

	_, err = f.reg.Create(ctx, "code", "https://github.com/openai/whisper/", alice)
	assert.ErrorIs(t, err, artifacts.ErrAlreadyExists)
	assert.Len(t, f.oracle.urls, 1)

	all, err := f.store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreate_DisqualifiedIsNeverPersisted(t *testing.T) {
	for name, o := range map[string]*scriptedOracle{
		"low score":    {score: 0.2},
		"oracle error": {err: errors.New("scorer crashed")},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, 0)
			f.oracle.score, f.oracle.err = o.score, o.err

			_, err := f.reg.Create(ctx, "dataset", "https://huggingface.co/datasets/x/y", alice)
			assert.ErrorIs(t, err, ErrDisqualified)

			keys, err := f.blobs.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestGet_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.9)

	_, err := f.reg.Get(ctx, "model", "bad/id")
	assert.True(t, ErrValidation.Has(err))

	_, err = f.reg.Get(ctx, "model", "missing")
	assert.ErrorIs(t, err, artifacts.ErrNotFound)

	require.NoError(t, f.blobs.Put(ctx, "model/garbled.json", []byte("{")))
	_, err = f.reg.Get(ctx, "model", "garbled")
	assert.ErrorIs(t, err, ErrCorruptRecord)

	require.NoError(t, f.blobs.Put(ctx, "model/nameless.json",
		[]byte(`{"metadata":{"name":"","id":"nameless","type":"model"},"data":{"url":"https://x.io/a"}}`)))
	_, err = f.reg.Get(ctx, "model", "nameless")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.9)

	art, err := f.reg.Create(ctx, "model", "https://huggingface.co/google/gemma-3-270m", alice)
	require.NoError(t, err)

	body := art
	body.Data.URL = "https://huggingface.co/google/gemma-3-270m-it"
	updated, err := f.reg.Update(ctx, "model", art.Metadata.ID, body)
	require.NoError(t, err)

	want := art
	want.Data.URL = "https://huggingface.co/google/gemma-3-270m-it"
	assert.Equal(t, want, updated, "only the url changes")

	renamed := body
	renamed.Metadata.Name = "other"
	_, err = f.reg.Update(ctx, "model", art.Metadata.ID, renamed)
	assert.True(t, ErrValidation.Has(err))

	wrongID := body
	wrongID.Metadata.ID = "someone-else"
	_, err = f.reg.Update(ctx, "model", art.Metadata.ID, wrongID)
	assert.True(t, ErrValidation.Has(err))

	wrongType := body
	wrongType.Metadata.Type = artifacts.TypeCode
	_, err = f.reg.Update(ctx, "model", art.Metadata.ID, wrongType)
	assert.True(t, ErrValidation.Has(err))

	missing := body
	missing.Metadata.ID = "nope"
	_, err = f.reg.Update(ctx, "model", "nope", missing)
	assert.ErrorIs(t, err, artifacts.ErrNotFound)
}

func TestRate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.75)

	art, err := f.reg.Create(ctx, "model", "https://huggingface.co/openai/whisper-tiny", alice)
	require.NoError(t, err)

	rating, err := f.reg.Rate(ctx, art.Metadata.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, 0.75, rating.NetScore)
	assert.Equal(t, "whisper-tiny", rating.Name)

	_, err = f.reg.Rate(ctx, "missing", alice)
	assert.ErrorIs(t, err, artifacts.ErrNotFound)

	_, err = f.reg.Rate(ctx, "", alice)
	assert.True(t, ErrValidation.Has(err))

	f.oracle.err = errors.New("scorer down")
	_, err = f.reg.Rate(ctx, art.Metadata.ID, alice)
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0.9)

	art, err := f.reg.Create(ctx, "model", "https://huggingface.co/a/b", alice)
	require.NoError(t, err)

	require.NoError(t, f.reg.Reset(ctx))

	_, err = f.reg.Get(ctx, "model", art.Metadata.ID)
	assert.ErrorIs(t, err, artifacts.ErrNotFound)
}

func TestRejectReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrValidation.New("bad"), ReasonValidation},
		{artifacts.ErrInvalidURL, ReasonValidation},
		{artifacts.ErrAlreadyExists, ReasonAlreadyExists},
		{ErrDisqualified, ReasonDisqualified},
		{errors.New("disk on fire"), ReasonInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RejectReason(tt.err))
	}
}

func TestCreationStages(t *testing.T) {
	c := &creation{stage: StageReceived}
	c.advance(StageValidated)

	final, reached, reason := c.finish(ErrDisqualified)
	assert.Equal(t, StageRejected, final)
	assert.Equal(t, StageValidated, reached)
	assert.Equal(t, ReasonDisqualified, reason)

	c.advance(StageScreened)
	final, reached, reason = c.finish(nil)
	assert.Equal(t, StagePersisted, final)
	assert.Equal(t, StageScreened, reached)
	assert.Empty(t, reason)
}
