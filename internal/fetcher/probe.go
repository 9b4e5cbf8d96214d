package fetcher

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/ranger/internal/byterange"
	"github.com/tanq16/ranger/internal/utils"
)

// Info is what a server reports about a resource before any body is read.
type Info struct {
	Size          int64
	Name          string
	ETag          string
	ContentType   string
	AcceptsRanges bool
	LastModified  time.Time
}

// Header is a transport that can also issue HEAD requests.
type Header interface {
	Head(ctx context.Context, url string) (*utils.Response, error)
}

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// Probe reports the size and range support of url. It uses HEAD when the
// transport supports it and falls back to a one-byte ranged GET for servers
// that reject HEAD.
func (f *Fetcher) Probe(ctx context.Context, link string) (*Info, error) {
	if h, ok := f.transport.(Header); ok {
		resp, err := h.Head(ctx, link)
		if err != nil {
			return nil, fmt.Errorf("error probing %s: %w", link, err)
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return infoFromHeader(resp.Header, resp.ContentLength), nil
		case resp.StatusCode != http.StatusMethodNotAllowed && resp.StatusCode != http.StatusNotImplemented:
			return nil, fmt.Errorf("%w: HEAD returned %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		log.Debug().Str("op", "fetcher/probe").Msgf("HEAD rejected with %d, probing with GET", resp.StatusCode)
	}

	resp, err := f.transport.Get(ctx, link, byterange.ByteRange{Start: 0, End: 0}.Header())
	if err != nil {
		return nil, fmt.Errorf("error probing %s: %w", link, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, total, err := byterange.ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, fmt.Errorf("error probing %s: %w", link, err)
		}
		info := infoFromHeader(resp.Header, total)
		info.AcceptsRanges = total >= 0
		return info, nil
	case http.StatusOK:
		info := infoFromHeader(resp.Header, resp.ContentLength)
		info.AcceptsRanges = false
		return info, nil
	case http.StatusRequestedRangeNotSatisfiable:
		// only an empty resource has no byte 0
		info := infoFromHeader(resp.Header, 0)
		info.AcceptsRanges = true
		return info, nil
	}
	return nil, fmt.Errorf("%w: GET returned %d", ErrUnexpectedStatus, resp.StatusCode)
}

func infoFromHeader(h http.Header, size int64) *Info {
	info := &Info{
		Size:          size,
		Name:          filenameFromDisposition(h.Get("Content-Disposition")),
		ETag:          h.Get("ETag"),
		ContentType:   h.Get("Content-Type"),
		AcceptsRanges: strings.EqualFold(h.Get("Accept-Ranges"), "bytes"),
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}
	return info
}

func filenameFromDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	if fn := params["filename"]; fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := strings.CutPrefix(params["filename*"], "UTF-8''"); ok {
		if unescaped, err := url.PathUnescape(fn); err == nil {
			return filenameRegex.ReplaceAllString(unescaped, "_")
		}
	}
	return ""
}
