package fetch

import "context"

// PageSource produces the HTML body for a page URL. The plain HTTP
// fetcher and the headless renderer both satisfy it.
type PageSource interface {
	// FetchPage returns the page body, its content type, and whether the
	// body was served from cache rather than the network.
	FetchPage(ctx context.Context, urlStr string) (body []byte, contentType string, fromCache bool, err error)
}

// HTTPSource adapts a Fetcher to the PageSource interface.
type HTTPSource struct {
	Fetcher *Fetcher
}

func (s *HTTPSource) FetchPage(ctx context.Context, urlStr string) ([]byte, string, bool, error) {
	result, err := s.Fetcher.Fetch(ctx, urlStr)
	if err != nil {
		return nil, "", false, err
	}
	return result.Body, result.ContentType, result.FromCache, nil
}
