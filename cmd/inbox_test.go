//go:build !integration

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-intake/internal/fetcher"
	"github.com/sells-group/order-intake/internal/model"
)

type fakeInbox struct {
	mu        sync.Mutex
	files     map[string]string
	processed []string
	listErr   error
	moveErr   error
}

func (f *fakeInbox) List(context.Context) ([]fetcher.InboxEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []fetcher.InboxEntry
	for name, body := range f.files {
		out = append(out, fetcher.InboxEntry{Name: name, Size: uint64(len(body))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeInbox) Fetch(_ context.Context, name string) (*fetcher.Document, error) {
	body, ok := f.files[name]
	if !ok {
		return nil, errors.New("550 no such file")
	}
	return &fetcher.Document{Name: name, Data: []byte(body)}, nil
}

func (f *fakeInbox) MarkProcessed(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	f.processed = append(f.processed, name)
	return nil
}

func TestPullInbox(t *testing.T) {
	env := setupTestEnv(t)
	local := filepath.Join(t.TempDir(), "copies")
	inbox := &fakeInbox{files: map[string]string{
		"po-4500123.txt": sampleOrder,
		"scan.txt":       "nothing to see here\n",
	}}

	results, err := pullInbox(context.Background(), env, inbox, pullOptions{LocalDir: local, Save: true})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "po-4500123.txt", results[0].Name)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "inbox:po-4500123.txt", results[0].Result.Source)
	assert.Error(t, results[1].Err)

	// Only the summarized document leaves the inbox.
	assert.Equal(t, []string{"po-4500123.txt"}, inbox.processed)

	copies, err := os.ReadDir(local)
	require.NoError(t, err)
	assert.Len(t, copies, 2)

	rec, err := env.Store.GetDocument(context.Background(), results[0].Result.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSummarized, rec.Status)
}

func TestPullInbox_Keep(t *testing.T) {
	env := setupTestEnv(t)
	inbox := &fakeInbox{files: map[string]string{"po.txt": sampleOrder}}

	results, err := pullInbox(context.Background(), env, inbox, pullOptions{Keep: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Empty(t, inbox.processed)
}

func TestPullInbox_MoveFailureIsNotFatal(t *testing.T) {
	env := setupTestEnv(t)
	inbox := &fakeInbox{files: map[string]string{"po.txt": sampleOrder}, moveErr: errors.New("550 permission denied")}

	results, err := pullInbox(context.Background(), env, inbox, pullOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
}

func TestPullInbox_ListError(t *testing.T) {
	env := setupTestEnv(t)
	inbox := &fakeInbox{listErr: errors.New("421 service not available")}

	_, err := pullInbox(context.Background(), env, inbox, pullOptions{})
	assert.ErrorContains(t, err, "421")
}

func TestPullInbox_Empty(t *testing.T) {
	env := setupTestEnv(t)

	results, err := pullInbox(context.Background(), env, &fakeInbox{}, pullOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
