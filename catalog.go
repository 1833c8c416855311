package tiled

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
)

// search projections
const (
	fieldsNone     = ""
	fieldsMetadata = "metadata"
)

// Catalog is a read-only, ordered mapping over one namespace of a remote
// catalog, optionally narrowed by search queries. Nothing is fetched until a
// method asks for it, and nothing fetched is kept: every call goes back to
// the server.
//
// A Catalog is immutable. Search returns a derived catalog and leaves the
// receiver alone; keys resolve to new entries whose paths extend this one.
type Catalog struct {
	client   *Client
	path     Path
	metadata Metadata
	queries  []Query
	registry *Registry
}

var _ Entry = (*Catalog)(nil)

// Item is one key/value pair of a catalog
type Item struct {
	Key   string
	Value Entry
}

// Open connects to the catalog server at baseURL and returns its root
func Open(ctx context.Context, baseURL string, opts ...Option) (*Catalog, error) {
	c, err := NewClient(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return c.Root(ctx)
}

// Root fetches the root catalog's metadata and returns the root catalog
func (c *Client) Root(ctx context.Context) (*Catalog, error) {
	res := struct {
		Data struct {
			Attributes struct {
				Metadata Metadata `json:"metadata"`
			} `json:"attributes"`
		} `json:"data"`
	}{}
	if err := c.getJSON(ctx, endpointMetadata, route("metadata", nil), nil, &res); err != nil {
		return nil, err
	}
	return &Catalog{
		client:   c,
		path:     Path{},
		metadata: res.Data.Attributes.Metadata,
		registry: c.registry(),
	}, nil
}

func newCatalogEntry(c *Client, path Path, md Metadata, reg *Registry) (Entry, error) {
	return &Catalog{
		client:   c,
		path:     path,
		metadata: md,
		registry: reg.Copy(),
	}, nil
}

// Path is the catalog's location relative to the server root
func (c *Catalog) Path() Path { return c.path.Join() }

// Metadata about this catalog
func (c *Catalog) Metadata() Metadata { return c.metadata }

// Queries lists the filters applied to this catalog, oldest first
func (c *Catalog) Queries() []Query { return append([]Query(nil), c.queries...) }

// Registry is the dispatch registry this catalog resolves entries with. It
// belongs to this catalog alone: registering on it affects neither the
// package default nor any other catalog. Entries resolved afterwards start
// from a copy that includes the registration.
func (c *Catalog) Registry() *Registry { return c.registry }

// Client returns the client the catalog issues requests with
func (c *Catalog) Client() *Client { return c.client }

func (c *Catalog) String() string {
	return fmt.Sprintf("<Catalog /%s>", c.path)
}

// Search narrows the catalog with additional queries. The returned catalog
// shares this one's client, path and metadata, and starts from a copy of its
// registry; the receiver is unchanged.
func (c *Catalog) Search(qs ...Query) *Catalog {
	queries := make([]Query, 0, len(c.queries)+len(qs))
	queries = append(queries, c.queries...)
	queries = append(queries, qs...)
	return &Catalog{
		client:   c.client,
		path:     c.path,
		metadata: c.metadata,
		queries:  queries,
		registry: c.registry.Copy(),
	}
}

// Params returns the search parameters this catalog's queries encode to.
// Queries of unregistered types are reported here, and by every method that
// talks to the server.
func (c *Catalog) Params() (url.Values, error) {
	return EncodeQueries(c.queries...)
}

func (c *Catalog) searchParams(fields string, extra ...Query) (url.Values, error) {
	qs := c.queries
	if len(extra) > 0 {
		qs = append(append([]Query(nil), c.queries...), extra...)
	}
	params, err := EncodeQueries(qs...)
	if err != nil {
		return nil, err
	}
	params.Set("fields", fields)
	return params, nil
}

// Len returns the number of entries matching this catalog's queries
func (c *Catalog) Len(ctx context.Context) (int, error) {
	params, err := c.searchParams(fieldsNone)
	if err != nil {
		return 0, err
	}
	res := searchPage{}
	if err := c.client.getJSON(ctx, endpointSearch, route("search", c.path), params, &res); err != nil {
		return 0, err
	}
	return res.Meta.Count, nil
}

// Keys iterates over entry keys in server order. Each range over the
// returned sequence starts a new traversal from the first page. A failure is
// yielded as the final element.
func (c *Catalog) Keys(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		err := c.walk(ctx, fieldsNone, 0, End, func(it searchItem) (bool, error) {
			return yield(it.ID, nil), nil
		})
		if err != nil {
			yield("", err)
		}
	}
}

// Items iterates over key/value pairs in server order. Values are built
// from each page's payload: one request per page, not one per key.
func (c *Catalog) Items(ctx context.Context) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		err := c.walk(ctx, fieldsMetadata, 0, End, func(it searchItem) (bool, error) {
			e, err := c.entry(it)
			if err != nil {
				return false, err
			}
			return yield(Item{Key: it.ID, Value: e}, nil), nil
		})
		if err != nil {
			yield(Item{}, err)
		}
	}
}

// Values iterates over entries in server order, paging like Items
func (c *Catalog) Values(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for it, err := range c.Items(ctx) {
			if !yield(it.Value, err) {
				return
			}
		}
	}
}

// Lookup resolves key within this catalog's search results. A key that
// matches nothing is ErrNotFound. The server guarantees keys are unique, so
// more than one match is ErrInvariant.
func (c *Catalog) Lookup(ctx context.Context, key string) (Entry, error) {
	params, err := c.searchParams(fieldsMetadata, KeyLookup{Key: key})
	if err != nil {
		return nil, err
	}
	res := searchPage{}
	if err := c.client.getJSON(ctx, endpointSearch, route("search", c.path), params, &res); err != nil {
		return nil, err
	}
	switch len(res.Data) {
	case 0:
		return nil, fmt.Errorf("%w: key %q in /%s", ErrNotFound, key, c.path)
	case 1:
		return c.entry(res.Data[0])
	default:
		return nil, fmt.Errorf("%w: lookup of key %q returned %d items", ErrInvariant, key, len(res.Data))
	}
}

// Resolve looks up each segment of p in turn, starting at this catalog. An
// empty path resolves to the catalog itself.
func (c *Catalog) Resolve(ctx context.Context, p Path) (Entry, error) {
	if len(p) == 0 {
		return c, nil
	}
	key, rest := p.Shift()
	e, err := c.Lookup(ctx, key)
	if err != nil || len(rest) == 0 {
		return e, err
	}
	cat, ok := e.(*Catalog)
	if !ok {
		return nil, fmt.Errorf("%w: /%s is not a catalog", ErrNotFound, c.path.Join(key))
	}
	return cat.Resolve(ctx, rest)
}

// KeyAt returns the key at position i. Negative positions count from the
// end. Costs one count request and one single-item page request, however
// large i is.
func (c *Catalog) KeyAt(ctx context.Context, i int) (string, error) {
	it, err := c.itemAt(ctx, fieldsNone, i)
	if err != nil {
		return "", err
	}
	return it.ID, nil
}

// ItemAt returns the key/value pair at position i
func (c *Catalog) ItemAt(ctx context.Context, i int) (Item, error) {
	it, err := c.itemAt(ctx, fieldsMetadata, i)
	if err != nil {
		return Item{}, err
	}
	e, err := c.entry(it)
	if err != nil {
		return Item{}, err
	}
	return Item{Key: it.ID, Value: e}, nil
}

// ValueAt returns the entry at position i
func (c *Catalog) ValueAt(ctx context.Context, i int) (Entry, error) {
	it, err := c.ItemAt(ctx, i)
	if err != nil {
		return nil, err
	}
	return it.Value, nil
}

func (c *Catalog) itemAt(ctx context.Context, fields string, i int) (searchItem, error) {
	n, err := c.Len(ctx)
	if err != nil {
		return searchItem{}, err
	}
	j, err := NormalizeIndex(i, n)
	if err != nil {
		return searchItem{}, err
	}

	params, err := c.searchParams(fields)
	if err != nil {
		return searchItem{}, err
	}
	params.Set("page[offset]", strconv.Itoa(j))
	params.Set("page[limit]", "1")
	res := searchPage{}
	if err := c.client.getJSON(ctx, endpointSearch, route("search", c.path), params, &res); err != nil {
		return searchItem{}, err
	}
	if len(res.Data) == 0 {
		return searchItem{}, &IndexError{Index: i, Length: n}
	}
	return res.Data[0], nil
}

// KeysSlice returns the keys at positions [start, stop) in server order.
// Use End as stop to read through the last entry. Negative bounds count
// from the end and cost an extra count request. No page past stop is ever
// requested.
func (c *Catalog) KeysSlice(ctx context.Context, start, stop int) ([]string, error) {
	start, stop, err := c.bounds(ctx, start, stop)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	err = c.walk(ctx, fieldsNone, start, stop, func(it searchItem) (bool, error) {
		keys = append(keys, it.ID)
		return true, nil
	})
	return keys, err
}

// ItemsSlice returns the key/value pairs at positions [start, stop)
func (c *Catalog) ItemsSlice(ctx context.Context, start, stop int) ([]Item, error) {
	start, stop, err := c.bounds(ctx, start, stop)
	if err != nil {
		return nil, err
	}
	items := []Item{}
	err = c.walk(ctx, fieldsMetadata, start, stop, func(it searchItem) (bool, error) {
		e, err := c.entry(it)
		if err != nil {
			return false, err
		}
		items = append(items, Item{Key: it.ID, Value: e})
		return true, nil
	})
	return items, err
}

// ValuesSlice returns the entries at positions [start, stop)
func (c *Catalog) ValuesSlice(ctx context.Context, start, stop int) ([]Entry, error) {
	items, err := c.ItemsSlice(ctx, start, stop)
	if err != nil {
		return nil, err
	}
	values := make([]Entry, len(items))
	for i, it := range items {
		values[i] = it.Value
	}
	return values, nil
}

// bounds normalizes a slice range, fetching the length only when a
// negative bound needs it
func (c *Catalog) bounds(ctx context.Context, start, stop int) (int, int, error) {
	if start < 0 || stop < 0 {
		n, err := c.Len(ctx)
		if err != nil {
			return 0, 0, err
		}
		start, stop = NormalizeSlice(start, stop, n)
		return start, stop, nil
	}
	if stop < start {
		stop = start
	}
	return start, stop, nil
}

// walk pages through search results for positions [start, stop), calling fn
// for each item until fn declines, stop is reached, or the server stops
// returning a next link
func (c *Catalog) walk(ctx context.Context, fields string, start, stop int, fn func(searchItem) (bool, error)) error {
	if stop <= start {
		return nil
	}
	params, err := c.searchParams(fields)
	if err != nil {
		return err
	}

	first := url.Values{}
	if start > 0 {
		first.Set("page[offset]", strconv.Itoa(start))
	}
	if limit := c.pageLimit(start, stop); limit > 0 {
		first.Set("page[limit]", strconv.Itoa(limit))
	}

	remaining := stop - start
	next := route("search", c.path)
	pageParams := mergeParams(url.Values{}, params, first)
	for next != "" {
		u, err := c.client.resolve(next, pageParams)
		if err != nil {
			return err
		}
		res := searchPage{}
		if err := c.client.getJSON(ctx, endpointSearch, u.String(), nil, &res); err != nil {
			return err
		}
		for _, it := range res.Data {
			ok, err := fn(it)
			if err != nil || !ok {
				return err
			}
			if stop != End {
				if remaining--; remaining == 0 {
					return nil
				}
			}
		}
		if next, err = nextLink(u, res.Links.nextPage()); err != nil {
			return err
		}
		// the next link carries its own pagination; only projection and
		// filters are reapplied
		pageParams = params
	}
	return nil
}

func (c *Catalog) pageLimit(start, stop int) int {
	limit := c.client.pageLimit
	if stop != End {
		if n := stop - start; limit <= 0 || n < limit {
			limit = n
		}
	}
	return limit
}

// entry dispatches a search result to its client-side constructor
func (c *Catalog) entry(it searchItem) (Entry, error) {
	tag := Tag{Module: it.Meta.Module, Qualname: it.Meta.Qualname}
	return c.registry.construct(c.client, tag, c.path.Join(it.ID), it.Attributes.Metadata)
}

// searchPage is one page of /search results
type searchPage struct {
	Data  []searchItem `json:"data"`
	Links pageLinks    `json:"links"`
	Meta  struct {
		Count int `json:"count"`
	} `json:"meta"`
}

type pageLinks struct {
	Next *string `json:"next"`
}

func (l pageLinks) nextPage() string {
	if l.Next == nil {
		return ""
	}
	return *l.Next
}

// nextLink makes a page link absolute. Links without a path, such as a bare
// "?page[offset]=10", are relative to the page that carried them; rooted
// paths are left for Client.resolve to place under the base URL.
func nextLink(page *url.URL, link string) (string, error) {
	if link == "" {
		return "", nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parsing next link %q: %w", link, err)
	}
	if u.IsAbs() || strings.HasPrefix(u.Path, "/") {
		return link, nil
	}
	return page.ResolveReference(u).String(), nil
}

// searchItem is a transient server-reported entry
type searchItem struct {
	ID   string `json:"id"`
	Meta struct {
		Module   string `json:"__module__"`
		Qualname string `json:"__qualname__"`
	} `json:"meta"`
	Attributes struct {
		Metadata Metadata `json:"metadata"`
	} `json:"attributes"`
}
