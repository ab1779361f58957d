package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/humus/pkg/codec"
	"github.com/aretw0/humus/pkg/core"
)

var t0 = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func call(t *testing.T, s *Server, full bool, token, target string, nodes ...*core.Node) (*codec.ChangesResponse, error) {
	t.Helper()
	c := codec.New()
	req := codec.NewChangesRequest(codec.RequestHeader{ClientSessionID: "s1"}, target, t0)
	for _, n := range nodes {
		raw, err := c.Encode(n, nil, true)
		require.NoError(t, err)
		req.Nodes = append(req.Nodes, raw)
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	fn := s.Changes
	if full {
		fn = s.FullDump
	}
	raw, err := fn(context.Background(), core.Request{Token: token, Body: body})
	if err != nil {
		return nil, err
	}
	var resp codec.ChangesResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return &resp, nil
}

func decodeAll(t *testing.T, resp *codec.ChangesResponse) []*codec.Decoded {
	t.Helper()
	out, perrs := codec.New().DecodeNodes(resp.Nodes)
	require.Empty(t, perrs)
	return out
}

func TestAssignsServerIDs(t *testing.T) {
	s := New()
	list := core.NewNode("tmp-1", core.KindList, core.RootID, t0)
	item := core.NewNode("tmp-2", core.KindListItem, "tmp-1", t0)
	item.Text = "Milk"

	resp, err := call(t, s, true, "", "", list, item)
	require.NoError(t, err)
	assert.Equal(t, "2", resp.ToVersion)

	got := decodeAll(t, resp)
	require.Len(t, got, 2)
	assert.Equal(t, "tmp-1", got[0].ProvisionalID)
	assert.Equal(t, "srv-1", got[0].Node.ID)
	assert.Equal(t, "tmp-2", got[1].ProvisionalID)
	assert.Equal(t, "srv-1", got[1].Node.ParentID)

	stored, ok := s.Get("srv-2")
	require.True(t, ok)
	assert.Equal(t, "Milk", stored.Text)
	assert.Equal(t, "srv-1", stored.ParentID)
}

func TestIncrementalAndPaging(t *testing.T) {
	s := New(WithPageSize(1))
	for _, id := range []string{"a", "b"} {
		s.Put(core.NewNode(id, core.KindNote, core.RootID, t0))
	}

	resp, err := call(t, s, false, "", "")
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Equal(t, "1", resp.ToVersion)

	resp, err = call(t, s, false, "", resp.ToVersion)
	require.NoError(t, err)
	assert.False(t, resp.Truncated)
	got := decodeAll(t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Node.ID)

	resp, err = call(t, s, false, "", "2")
	require.NoError(t, err)
	assert.Empty(t, resp.Nodes)
}

func TestPurgeSendsTombstone(t *testing.T) {
	s := New()
	s.Put(core.NewNode("a", core.KindNote, core.RootID, t0))
	s.Purge("a")

	resp, err := call(t, s, false, "", "1")
	require.NoError(t, err)
	got := decodeAll(t, resp)
	require.Len(t, got, 1)
	assert.True(t, got[0].Tombstone)
	assert.Empty(t, s.Nodes())

	resp, err = call(t, s, true, "", "")
	require.NoError(t, err)
	assert.Empty(t, resp.Nodes)
}

func TestFailuresAndAuth(t *testing.T) {
	s := New(WithToken("secret"))
	boom := errors.New("boom")
	s.FailNext(boom)

	_, err := call(t, s, false, "secret", "")
	assert.ErrorIs(t, err, boom)

	_, err = call(t, s, false, "wrong", "")
	var ae *core.AuthError
	assert.ErrorAs(t, err, &ae)

	_, err = call(t, s, false, "secret", "")
	assert.NoError(t, err)
	assert.Len(t, s.Requests(), 1)
}

func TestForceResync(t *testing.T) {
	s := New()
	s.ForceResync()

	resp, err := call(t, s, true, "", "")
	require.NoError(t, err)
	assert.False(t, resp.ForceFullResync, "full dumps are never refused")

	resp, err = call(t, s, false, "", "")
	require.NoError(t, err)
	assert.True(t, resp.ForceFullResync)

	resp, err = call(t, s, false, "", "")
	require.NoError(t, err)
	assert.False(t, resp.ForceFullResync)
}

func TestLabels(t *testing.T) {
	s := New()
	s.PutLabel(&core.Label{ID: "lab-a", Name: "work", Timestamps: core.Timestamps{Created: t0, Updated: t0}})

	resp, err := call(t, s, true, "", "")
	require.NoError(t, err)
	require.NotNil(t, resp.UserInfo)
	require.Len(t, resp.UserInfo.Labels, 1)
	d, err := codec.New().DecodeLabel(resp.UserInfo.Labels[0])
	require.NoError(t, err)
	assert.Equal(t, "work", d.Label.Name)

	resp, err = call(t, s, false, "", resp.ToVersion)
	require.NoError(t, err)
	assert.Empty(t, resp.UserInfo.Labels)
}
