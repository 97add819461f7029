package orchestration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gohan/genotypes/services/alleles"
	"gohan/genotypes/services/synonyms"
	"gohan/genotypes/utils"

	"github.com/Jeffail/gabs"
	"github.com/cenkalti/backoff"
)

const defaultRemotePageSize = 1000

type (
	// RemoteSourceError is fatal to the import: a page could not be fetched
	// or decoded once retries were spent.
	RemoteSourceError struct {
		Page   int
		Status int
		Err    error
	}

	RemoteOptions struct {
		Url        string
		PageSize   int
		MaxRetries uint64
		// first retry delay, doubled on each further attempt
		RetryInterval time.Duration
		Client        *http.Client
	}

	remoteCall struct {
		variantId string
		sequence  string
		position  int64
		alleles   []string
		call      Call
	}

	// RemoteSource pages through a genotype API returning
	// {page, pageSize, totalPages, data: [...]} envelopes. Consecutive calls
	// of one variant make one record.
	RemoteSource struct {
		opts   RemoteOptions
		logger *utils.Logger

		page       int
		totalPages int
		buffer     []remoteCall
		next       *remoteCall
		done       bool
	}
)

func (e *RemoteSourceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote page %d: status %d: %v", e.Page, e.Status, e.Err)
	}
	return fmt.Sprintf("remote page %d: %v", e.Page, e.Err)
}

func (e *RemoteSourceError) Unwrap() error { return e.Err }

func NewRemoteSource(opts RemoteOptions, logger *utils.Logger) (*RemoteSource, error) {
	if _, err := url.ParseRequestURI(opts.Url); err != nil {
		return nil, fmt.Errorf("invalid remote url %q: %w", opts.Url, err)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultRemotePageSize
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: time.Minute}
	}
	return &RemoteSource{opts: opts, logger: logger.OrNop(), totalPages: -1}, nil
}

func (s *RemoteSource) pageUrl(page int) string {
	u, _ := url.Parse(s.opts.Url)
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(s.opts.PageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// fetch retrieves one page with bounded exponential backoff. Client errors
// other than 429 are not retried.
func (s *RemoteSource) fetch(ctx context.Context, page int) ([]remoteCall, int, error) {
	var body []byte
	status := 0

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageUrl(page), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.opts.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		if resp.StatusCode >= 400 {
			err := fmt.Errorf("%s", http.StatusText(resp.StatusCode))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			s.logger.Warn("remote page failed, retrying", "page", page, "status", resp.StatusCode)
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.RetryInterval
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, s.opts.MaxRetries), ctx)); err != nil {
		return nil, 0, &RemoteSourceError{Page: page, Status: status, Err: err}
	}

	calls, totalPages, err := decodePage(body)
	if err != nil {
		return nil, 0, &RemoteSourceError{Page: page, Err: err}
	}
	return calls, totalPages, nil
}

func decodePage(body []byte) ([]remoteCall, int, error) {
	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, 0, err
	}
	total, ok := parsed.Path("totalPages").Data().(float64)
	if !ok {
		return nil, 0, fmt.Errorf("missing totalPages")
	}
	items, err := parsed.S("data").Children()
	if err != nil {
		// an empty page may come without data
		return nil, int(total), nil
	}

	calls := make([]remoteCall, 0, len(items))
	for _, item := range items {
		variantId, _ := item.Path("variantId").Data().(string)
		individualId, _ := item.Path("individualId").Data().(string)
		if variantId == "" || individualId == "" {
			return nil, 0, fmt.Errorf("call without variantId or individualId")
		}
		c := remoteCall{variantId: variantId, call: Call{IndividualId: individualId}}
		c.sequence, _ = item.Path("sequence").Data().(string)
		if pos, ok := item.Path("position").Data().(float64); ok {
			c.position = int64(pos)
		}
		c.call.Population, _ = item.Path("population").Data().(string)
		if genotype, ok := item.Path("genotype").Data().(string); ok {
			c.call.Alleles, c.call.Phased = alleles.ParseCall(genotype)
		}
		if declared, err := item.S("alleles").Children(); err == nil {
			for _, a := range declared {
				if symbol, ok := a.Data().(string); ok {
					c.alleles = append(c.alleles, symbol)
				}
			}
		}
		calls = append(calls, c)
	}
	return calls, int(total), nil
}

// pull returns the next call across pages, nil once every page was read.
func (s *RemoteSource) pull(ctx context.Context) (*remoteCall, error) {
	for len(s.buffer) == 0 {
		if s.totalPages >= 0 && s.page >= s.totalPages {
			return nil, nil
		}
		calls, totalPages, err := s.fetch(ctx, s.page)
		if err != nil {
			return nil, err
		}
		s.totalPages = totalPages
		s.page++
		s.buffer = calls
	}
	c := s.buffer[0]
	s.buffer = s.buffer[1:]
	return &c, nil
}

func (s *RemoteSource) Next(ctx context.Context) (*Record, error) {
	if s.done {
		return nil, io.EOF
	}
	first := s.next
	s.next = nil
	if first == nil {
		var err error
		if first, err = s.pull(ctx); err != nil {
			return nil, err
		}
		if first == nil {
			s.done = true
			return nil, io.EOF
		}
	}

	rec := &Record{
		MarkerId: first.variantId,
		Sequence: first.sequence,
		Position: first.position,
		Alleles:  first.alleles,
		Calls:    []Call{first.call},
	}
	for {
		c, err := s.pull(ctx)
		if err != nil {
			return nil, err
		}
		if c == nil {
			s.done = true
			return rec, nil
		}
		if c.variantId != rec.MarkerId {
			s.next = c
			return rec, nil
		}
		rec.Calls = append(rec.Calls, c.call)
	}
}

func (s *RemoteSource) Percent() int {
	if s.totalPages <= 0 {
		return 0
	}
	return s.page * 100 / s.totalPages
}

// EachCall walks every page from the start with a fresh cursor.
func (s *RemoteSource) EachCall(ctx context.Context, fn func(synonyms.Call) error) error {
	walker := &RemoteSource{opts: s.opts, logger: s.logger, totalPages: -1}
	for {
		c, err := walker.pull(ctx)
		if err != nil {
			return err
		}
		if c == nil {
			return nil
		}
		if c.call.IsMissing() {
			continue
		}
		err = fn(synonyms.Call{
			MarkerId:     c.variantId,
			IndividualId: c.call.IndividualId,
			Genotype:     strings.Join(c.call.Alleles, alleles.UnphasedSeparator),
			Sequence:     c.sequence,
			Position:     c.position,
		})
		if err != nil {
			return err
		}
	}
}

func (s *RemoteSource) Close() error {
	s.buffer = nil
	s.done = true
	return nil
}

var (
	_ RecordSource        = (*RemoteSource)(nil)
	_ synonyms.CallSource = (*RemoteSource)(nil)
)
