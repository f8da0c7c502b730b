package cluster

import (
	"context"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/cuemby/deepfreeze/pkg/escli"
	"github.com/cuemby/deepfreeze/pkg/log"
	"github.com/cuemby/deepfreeze/pkg/metrics"
)

// Transport adapts a real *elasticsearch.Client to escli.Doer, timing every
// request and draining/closing its response body so the underlying
// connection is reused.
type Transport struct {
	client *elasticsearch.Client
}

// NewTransport constructs a Transport bound to a configured ES client.
func NewTransport(client *elasticsearch.Client) *Transport {
	return &Transport{client: client}
}

// Config holds the connection parameters for building an elasticsearch.Client.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	CACert    []byte
}

// NewClient builds a Transport from connection settings.
func NewClient(cfg Config) (*Transport, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if len(cfg.CACert) > 0 {
		esCfg.CACert = cfg.CACert
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("building elasticsearch client: %w", err)
	}
	return NewTransport(client), nil
}

func (t *Transport) Do(ctx context.Context, req esapi.Request) (*escli.Response, error) {
	timer := metrics.NewTimer()
	resp, err := req.Do(ctx, t.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading elasticsearch response: %w", err)
	}

	timer.ObserveDurationVec(metrics.ClusterRequestDuration, requestName(req))
	if resp.IsError() {
		log.Logger.Debug().Int("status", resp.StatusCode).Str("request", requestName(req)).Msg("elasticsearch request returned an error status")
	}
	return &escli.Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func requestName(req esapi.Request) string {
	return fmt.Sprintf("%T", req)
}
