// Package escli defines the narrow Elasticsearch request/response shapes
// shared by pkg/statestore and pkg/cluster, so a single concrete transport
// (pkg/cluster/transport.go) can satisfy both packages' ES client
// interfaces instead of each redeclaring its own response type.
package escli

import (
	"context"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Response is the subset of *esapi.Response fields statestore/cluster read.
type Response struct {
	StatusCode int
	Body       []byte
}

// Doer issues one esapi request and returns a narrowed Response.
type Doer interface {
	Do(ctx context.Context, req esapi.Request) (*Response, error)
}
