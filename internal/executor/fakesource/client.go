// Package fakesource is a deterministic, in-memory fhirexec.SourceClient
// used by jobmanager and fhirexec tests to drive end-to-end scenarios
// without a real upstream.
package fakesource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/riverlane/fhirjob/internal/executor/fhirexec"
)

// Page is one canned page of records for a resource type.
type Page struct {
	Records               []json.RawMessage
	NextContinuationToken string
}

// Client is a fake fhirexec.SourceClient backed by a static, per
// resource type list of pages keyed by continuation token. The empty
// string token selects the first page.
type Client struct {
	mu sync.Mutex

	// pages[resourceType][token] is the page returned for that token.
	pages map[string]map[string]Page

	// failOn, if set, makes Search return err for the given
	// (resourceType, token) pair exactly once, simulating a transient
	// upstream failure mid-pagination.
	failOn map[string]map[string]error

	calls int
}

// New constructs an empty Client; use AddPage to populate it.
func New() *Client {
	return &Client{
		pages:  make(map[string]map[string]Page),
		failOn: make(map[string]map[string]error),
	}
}

// AddPage registers the page returned for (resourceType, token).
func (c *Client) AddPage(resourceType, token string, page Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pages[resourceType] == nil {
		c.pages[resourceType] = make(map[string]Page)
	}
	c.pages[resourceType][token] = page
}

// FailNextOn arranges for the next Search(resourceType, token) call to
// return err instead of the registered page. The injected failure is
// consumed after one call.
func (c *Client) FailNextOn(resourceType, token string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn[resourceType] == nil {
		c.failOn[resourceType] = make(map[string]error)
	}
	c.failOn[resourceType][token] = err
}

// Calls returns the number of Search invocations made so far.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Search implements fhirexec.SourceClient.
func (c *Client) Search(_ context.Context, resourceType, token string) (fhirexec.SearchPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	if byToken, ok := c.failOn[resourceType]; ok {
		if err, ok := byToken[token]; ok {
			delete(byToken, token)
			return fhirexec.SearchPage{}, err
		}
	}

	byToken, ok := c.pages[resourceType]
	if !ok {
		return fhirexec.SearchPage{}, nil
	}
	page, ok := byToken[token]
	if !ok {
		return fhirexec.SearchPage{}, fmt.Errorf("fakesource: no page registered for %s at token %q", resourceType, token)
	}

	return fhirexec.SearchPage{
		Records:               page.Records,
		Total:                 len(page.Records),
		NextContinuationToken: page.NextContinuationToken,
	}, nil
}
