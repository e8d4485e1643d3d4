package ports

import "net/http"

// HTTPClient is the minimal client surface the hook dispatcher needs.
// Tests substitute a stub Doer; production wires the pooled client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
