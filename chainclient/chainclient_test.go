package chainclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardaudit/chain"
)

func gateway(t *testing.T) *httptest.Server {

	mux := http.NewServeMux()

	mux.HandleFunc("/blocks/head/header", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"number":"0x64","hash":"0xhead","parentHash":"0xparent"}`))
	})
	mux.HandleFunc("/blocks/42/header", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"number":42,"hash":"0x42","parentHash":"0x41"}`))
	})
	mux.HandleFunc("/blocks/0x42/consts/ParachainStaking/RewardPaymentDelay", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":2}`))
	})
	mux.HandleFunc("/blocks/0x42/storage/ParachainStaking/AwardedPts", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req storageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Args, 2)

		if req.Args[0] == float64(7) {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"value":20}`))
	})
	mux.HandleFunc("/blocks/0x42/storage/ParachainStaking/AtStake/entries", func(w http.ResponseWriter, r *http.Request) {
		var req storageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.PageSize)
		require.Len(t, req.Args, 1)

		switch req.Args[0] {
		case float64(11):
			// Map emptied under the reader.
			if req.StartKey == "k2" {
				http.NotFound(w, r)
				return
			}
		case float64(12):
			http.NotFound(w, r)
			return
		}

		switch req.StartKey {
		case "":
			w.Write([]byte(`{"entries":[{"keys":[10,"0xa"],"value":1},{"keys":[10,"0xb"],"value":2}],"nextKey":"k2"}`))
		case "k2":
			w.Write([]byte(`{"entries":[{"keys":[10,"0xc"],"value":3}],"nextKey":""}`))
		default:
			t.Fatalf("unexpected start key %q", req.StartKey)
		}
	})
	mux.HandleFunc("/blocks/0x42/events", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"phase":"initialization","pallet":"parachainStaking","method":"Rewarded","data":["0xa","100"]}]`))
	})

	return httptest.NewServer(mux)
}

func TestHeaders(t *testing.T) {

	srv := gateway(t)
	defer srv.Close()

	c, err := New(srv.URL, "")
	require.NoError(t, err)

	head, err := c.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), head.Number)
	assert.Equal(t, chain.BlockID("0xhead"), head.Hash)

	hash, err := c.BlockHash(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, chain.BlockID("0x42"), hash)

	_, err = c.BlockHash(context.Background(), 43)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadValue(t *testing.T) {

	srv := gateway(t)
	defer srv.Close()

	c, err := New(srv.URL+"/", "")
	require.NoError(t, err)

	ctx := context.Background()

	v, err := c.ReadValue(ctx, "0x42", chain.AwardedPts, 10, "0xa")
	require.NoError(t, err)
	assert.JSONEq(t, `20`, string(v))

	v, err = c.ReadValue(ctx, "0x42", chain.AwardedPts, 7, "0xa")
	require.NoError(t, err)
	assert.True(t, chain.IsEmpty(v))

	v, err = c.ReadValue(ctx, "0x42", chain.RewardPaymentDelay)
	require.NoError(t, err)
	assert.JSONEq(t, `2`, string(v))
}

func TestReadMapEntriesPaginates(t *testing.T) {

	srv := gateway(t)
	defer srv.Close()

	c, err := New(srv.URL, "")
	require.NoError(t, err)
	c.PageSize = 2

	entries, err := c.ReadMapEntries(context.Background(), "0x42", chain.AtStake, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.JSONEq(t, `"0xc"`, string(entries[2].Keys[1]))
}

func TestReadMapEntriesMissingPage(t *testing.T) {

	srv := gateway(t)
	defer srv.Close()

	c, err := New(srv.URL, "")
	require.NoError(t, err)
	c.PageSize = 2

	ctx := context.Background()

	entries, err := c.ReadMapEntries(ctx, "0x42", chain.AtStake, 11)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, entries)

	entries, err = c.ReadMapEntries(ctx, "0x42", chain.AtStake, 12)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadEvents(t *testing.T) {

	srv := gateway(t)
	defer srv.Close()

	c, err := New(srv.URL, "")
	require.NoError(t, err)

	events, err := c.ReadEvents(context.Background(), "0x42")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Is(chain.PALLET_STAKING, "Rewarded"))
	assert.Equal(t, chain.PhaseInitialization, events[0].Phase)
}

func TestFailsOverToBackup(t *testing.T) {

	var primaryHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		http.Error(w, "node syncing", http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	backup := gateway(t)
	defer backup.Close()

	c, err := New(primary.URL, backup.URL)
	require.NoError(t, err)

	head, err := c.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), head.Number)
	assert.False(t, c.IsPrimary)

	// Stays on the backup afterwards.
	_, err = c.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&primaryHits))
}

func TestClientErrorsDoNotFailOver(t *testing.T) {

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	defer primary.Close()

	backup := gateway(t)
	defer backup.Close()

	c, err := New(primary.URL, backup.URL)
	require.NoError(t, err)

	_, err = c.Head(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 400")
	assert.True(t, c.IsPrimary)
}

func TestNewRejectsBadEndpoints(t *testing.T) {

	_, err := New("", "")
	assert.Error(t, err)

	_, err = New("not a url", "")
	assert.Error(t, err)
}
