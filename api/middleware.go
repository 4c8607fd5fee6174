package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// maxInflatedBody bounds how many decompressed bytes a gzip request may
// carry. Reads past the cap fail, so a small compressed payload cannot
// expand into an arbitrarily large buffer.
const maxInflatedBody = 1 << 20

var errBodyTooLarge = errors.New("decompressed request body exceeds limit")

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers
// can work with plain JSON payloads. Requests with invalid gzip payloads are
// rejected with a 400 response; bodies that inflate past maxInflatedBody fail
// at read time.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{reader: gr, body: body, remaining: maxInflatedBody}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	if header == "" {
		return false
	}
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	reader    *gzip.Reader
	body      io.Closer
	remaining int64
}

// Read hands out at most one byte past the remaining allowance; consuming
// that extra byte proves the body is over the cap.
func (g *gzipReadCloser) Read(p []byte) (int, error) {
	if g.remaining < 0 {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > g.remaining+1 {
		p = p[:g.remaining+1]
	}
	n, err := g.reader.Read(p)
	g.remaining -= int64(n)
	if g.remaining < 0 {
		return n, errBodyTooLarge
	}
	return n, err
}

func (g *gzipReadCloser) Close() error {
	var err error
	if g.reader != nil {
		err = g.reader.Close()
	}
	if g.body != nil {
		if cerr := g.body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
