// Package chainclient reads historical chain state from a JSON state gateway
// sitting in front of an archive node. A backup gateway takes over when the
// primary fails.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"rewardaudit/chain"
)

const (
	PAGE_SIZE       = 1000
	REQUEST_TIMEOUT = 30 * time.Second
)

var ErrNotFound = errors.New("not found")

type ChainClient struct {
	Current string
	Primary string
	Backup  string

	IsPrimary bool
	lock      sync.Mutex

	PageSize int
	client   *http.Client
}

func New(primary, backup string) (*ChainClient, error) {

	if primary == "" {
		return nil, errors.New("No gateway endpoint configured")
	}

	for _, e := range []string{primary, backup} {
		if e == "" {
			continue
		}
		if _, err := url.ParseRequestURI(e); err != nil {
			return nil, errors.Wrapf(err, "Invalid gateway endpoint %q", e)
		}
	}

	return &ChainClient{
		Current:   strings.TrimRight(primary, "/"),
		Primary:   strings.TrimRight(primary, "/"),
		Backup:    strings.TrimRight(backup, "/"),
		IsPrimary: true,
		PageSize:  PAGE_SIZE,
		client: &http.Client{
			Timeout: REQUEST_TIMEOUT,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 16,
			},
		},
	}, nil
}

func (c *ChainClient) UseBackup() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.Current = c.Backup
	c.IsPrimary = false
}

func (c *ChainClient) UsePrimary() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.Current = c.Primary
	c.IsPrimary = true
}

func (c *ChainClient) current() (string, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.Current, c.IsPrimary
}

type headerJSON struct {
	Number     chain.Quantity `json:"number"`
	Hash       chain.BlockID  `json:"hash"`
	ParentHash chain.BlockID  `json:"parentHash"`
}

func (h headerJSON) header() *chain.Header {
	return &chain.Header{Number: h.Number.Uint64(), Hash: h.Hash, ParentHash: h.ParentHash}
}

type storageRequest struct {
	Args     []interface{} `json:"args"`
	StartKey string        `json:"startKey,omitempty"`
	PageSize int           `json:"pageSize,omitempty"`
}

type valueResponse struct {
	Value json.RawMessage `json:"value"`
}

type entriesResponse struct {
	Entries []chain.Entry `json:"entries"`
	NextKey string        `json:"nextKey"`
}

func (c *ChainClient) Head(ctx context.Context) (*chain.Header, error) {

	var h headerJSON
	if err := c.do(ctx, http.MethodGet, "/blocks/head/header", nil, &h); err != nil {
		return nil, errors.Wrap(err, "Unable to get head header")
	}

	return h.header(), nil
}

func (c *ChainClient) BlockHash(ctx context.Context, height uint64) (chain.BlockID, error) {

	var h headerJSON
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/blocks/%d/header", height), nil, &h); err != nil {
		return "", errors.Wrapf(err, "Unable to get header of block %d", height)
	}
	if h.Hash == "" {
		return "", errors.Errorf("Gateway returned no hash for block %d", height)
	}

	return h.Hash, nil
}

func (c *ChainClient) Header(ctx context.Context, id chain.BlockID) (*chain.Header, error) {

	var h headerJSON
	if err := c.do(ctx, http.MethodGet, "/blocks/"+string(id)+"/header", nil, &h); err != nil {
		return nil, errors.Wrapf(err, "Unable to get header of block %s", id)
	}

	return h.header(), nil
}

// ReadValue returns nil for an absent value.
func (c *ChainClient) ReadValue(ctx context.Context, id chain.BlockID, key chain.StorageKey, args ...interface{}) (json.RawMessage, error) {

	var (
		resp valueResponse
		err  error
	)

	if key.Kind == chain.KindConstant {
		err = c.do(ctx, http.MethodGet, "/blocks/"+string(id)+"/consts/"+key.Pallet+"/"+key.Item, nil, &resp)
	} else {
		err = c.do(ctx, http.MethodPost, "/blocks/"+string(id)+"/storage/"+key.Pallet+"/"+key.Item,
			storageRequest{Args: argsOf(args)}, &resp)
	}

	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to read %s at %s", key, id)
	}

	return resp.Value, nil
}

// ReadMapEntries pages through every entry under the key prefix.
func (c *ChainClient) ReadMapEntries(ctx context.Context, id chain.BlockID, key chain.StorageKey, args ...interface{}) ([]chain.Entry, error) {

	var (
		out  []chain.Entry
		next string
		path = "/blocks/" + string(id) + "/storage/" + key.Pallet + "/" + key.Item + "/entries"
	)

	for {
		var resp entriesResponse
		err := c.do(ctx, http.MethodPost, path, storageRequest{
			Args:     argsOf(args),
			StartKey: next,
			PageSize: c.PageSize,
		}, &resp)
		if errors.Is(err, ErrNotFound) && next == "" {
			return nil, nil
		}
		if err != nil {
			if next != "" {
				return nil, errors.Wrapf(err, "Unable to read %s entries at %s from key %s", key, id, next)
			}
			return nil, errors.Wrapf(err, "Unable to read %s entries at %s", key, id)
		}

		out = append(out, resp.Entries...)

		if resp.NextKey == "" || resp.NextKey == next {
			return out, nil
		}
		next = resp.NextKey
	}
}

func (c *ChainClient) ReadEvents(ctx context.Context, id chain.BlockID) ([]chain.Event, error) {

	var events []chain.Event
	if err := c.do(ctx, http.MethodGet, "/blocks/"+string(id)+"/events", nil, &events); err != nil {
		return nil, errors.Wrapf(err, "Unable to read events at %s", id)
	}

	return events, nil
}

func argsOf(args []interface{}) []interface{} {
	if args == nil {
		return []interface{}{}
	}
	return args
}

// do executes a request against the current gateway, failing over to the
// other one once when the current gateway is unreachable or erroring.
func (c *ChainClient) do(ctx context.Context, method, path string, body, out interface{}) error {

	base, isPrimary := c.current()

	data, err := c.request(ctx, base, method, path, body)
	if err != nil && c.Backup != "" && failover(err) && ctx.Err() == nil {

		if isPrimary {
			c.UseBackup()
		} else {
			c.UsePrimary()
		}

		other, _ := c.current()
		log.WithError(err).WithFields(log.Fields{
			"From": base, "To": other,
		}).Warn("Gateway failed, switching endpoint")

		data, err = c.request(ctx, other, method, path, body)
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "Unable to decode gateway response")
	}

	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("response returned code %d with body %s", e.code, e.body)
}

func failover(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError || se.code == http.StatusTooManyRequests
	}
	return true
}

func (c *ChainClient) request(ctx context.Context, base, method, path string, body interface{}) ([]byte, error) {

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "Unable to encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to construct %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute request")
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "could not read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: string(bodyBytes)}
	}

	log.WithFields(log.Fields{"Method": method, "Path": path}).Trace("Gateway request")

	return bodyBytes, nil
}
