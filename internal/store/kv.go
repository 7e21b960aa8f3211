package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"time"

	json "github.com/goccy/go-json"
	"github.com/imroc/req/v3"

	"github.com/kvsync/kvsync/internal/version"
)

const defaultKVEndpoint = "https://api.cloudflare.com/client/v4"

// Workers KV caps key listings at 1000 names per page.
const kvListLimit = "1000"

var kvUserAgent = fmt.Sprintf("kvsync/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// KVConfig configures the Cloudflare Workers KV backend.
type KVConfig struct {
	AccountID   string
	NamespaceID string
	APIToken    string

	// Endpoint overrides the API base URL, mainly for tests.
	Endpoint string
}

// KVStore keeps assets as values in a Workers KV namespace.
type KVStore struct {
	client *req.Client
	config *KVConfig
}

func NewKVStore(cfg *KVConfig) (*KVStore, error) {
	if cfg.AccountID == "" || cfg.NamespaceID == "" {
		return nil, errors.New("kv: account id and namespace id required")
	}
	if cfg.APIToken == "" {
		return nil, errors.New("kv: api token required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultKVEndpoint
	}

	client := req.C().
		SetBaseURL(endpoint).
		SetCommonBearerAuthToken(cfg.APIToken).
		SetCommonRetryCount(3).
		SetCommonRetryBackoffInterval(1*time.Second, 10*time.Second).
		AddCommonRetryCondition(func(resp *req.Response, err error) bool {
			return err != nil ||
				resp.StatusCode == http.StatusTooManyRequests ||
				resp.StatusCode >= http.StatusInternalServerError
		}).
		SetUserAgent(kvUserAgent).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)

	return &KVStore{
		client: client,
		config: cfg,
	}, nil
}

type kvAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type kvEnvelope struct {
	Success bool         `json:"success"`
	Errors  []kvAPIError `json:"errors"`
}

type kvKeysPage struct {
	kvEnvelope
	Result []struct {
		Name string `json:"name"`
	} `json:"result"`
	ResultInfo struct {
		Cursor string `json:"cursor"`
	} `json:"result_info"`
}

func (k *KVStore) valuesPath(key string) string {
	return fmt.Sprintf("/accounts/%s/storage/kv/namespaces/%s/values/%s",
		k.config.AccountID, k.config.NamespaceID, url.PathEscape(key))
}

func (k *KVStore) keysPath() string {
	return fmt.Sprintf("/accounts/%s/storage/kv/namespaces/%s/keys",
		k.config.AccountID, k.config.NamespaceID)
}

// checkResp folds the transport error and the API error envelope into one error.
func (k *KVStore) checkResp(resp *req.Response, requestErr error, op string) error {
	if requestErr != nil {
		return fmt.Errorf("kv %s: %w", op, requestErr)
	}
	if resp.IsErrorState() {
		if env, ok := resp.ErrorResult().(*kvEnvelope); ok && len(env.Errors) > 0 {
			apiErr := env.Errors[0]
			return fmt.Errorf("kv %s: api error %d: %s", op, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("kv %s: unexpected status %d", op, resp.StatusCode)
	}
	return nil
}

func (k *KVStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	cursor := ""

	for {
		var page kvKeysPage
		var apiErr kvEnvelope

		r := k.client.R().
			SetContext(ctx).
			SetQueryParam("limit", kvListLimit).
			SetSuccessResult(&page).
			SetErrorResult(&apiErr)
		if cursor != "" {
			r.SetQueryParam("cursor", cursor)
		}

		resp, err := r.Get(k.keysPath())
		if err := k.checkResp(resp, err, "list keys"); err != nil {
			return nil, err
		}
		if !page.Success {
			return nil, fmt.Errorf("kv list keys: api reported failure")
		}

		for _, entry := range page.Result {
			keys = append(keys, entry.Name)
		}

		cursor = page.ResultInfo.Cursor
		if cursor == "" {
			break
		}
	}

	return keys, nil
}

func (k *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var apiErr kvEnvelope

	resp, err := k.client.R().
		SetContext(ctx).
		SetErrorResult(&apiErr).
		Get(k.valuesPath(key))
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrKeyNotFound
	}
	if err := k.checkResp(resp, nil, "get"); err != nil {
		return nil, err
	}

	return resp.Bytes(), nil
}

func (k *KVStore) Put(ctx context.Context, key string, data []byte) error {
	var result kvEnvelope
	var apiErr kvEnvelope

	resp, err := k.client.R().
		SetContext(ctx).
		SetContentType("application/octet-stream").
		SetBody(data).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Put(k.valuesPath(key))
	if err := k.checkResp(resp, err, "put"); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("kv put: api reported failure")
	}
	return nil
}

func (k *KVStore) Delete(ctx context.Context, key string) error {
	var apiErr kvEnvelope

	resp, err := k.client.R().
		SetContext(ctx).
		SetErrorResult(&apiErr).
		Delete(k.valuesPath(key))
	if err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	// Absent keys delete cleanly, keeping prune idempotent.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return k.checkResp(resp, nil, "delete")
}

var _ Store = (*KVStore)(nil)
