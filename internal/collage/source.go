package collage

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/webp"
)

const maxAvatarBytes = 5 << 20

// Source loads one avatar image by reference.
type Source interface {
	Fetch(ctx context.Context, ref string) (image.Image, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, ref string) (image.Image, error)

func (f SourceFunc) Fetch(ctx context.Context, ref string) (image.Image, error) { return f(ctx, ref) }

// HTTPSource fetches http(s) avatar URLs.
type HTTPSource struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPSource(timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{Client: &http.Client{Timeout: timeout}, UserAgent: "remindbot/1.0"}
}

func (s *HTTPSource) Fetch(ctx context.Context, ref string) (image.Image, error) {
	if !IsURL(ref) {
		return nil, fmt.Errorf("not an http url: %q", ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("avatar %s: http status %d", ref, resp.StatusCode)
	}
	return Decode(resp.Body)
}

// Decode reads a png, jpeg, gif or webp image of bounded size.
func Decode(r io.Reader) (image.Image, error) {
	lr := &io.LimitedReader{R: r, N: maxAvatarBytes + 1}
	img, _, err := image.Decode(lr)
	if err != nil {
		return nil, fmt.Errorf("decode avatar: %w", err)
	}
	if lr.N <= 0 {
		return nil, errors.New("avatar exceeds size limit")
	}
	return img, nil
}

func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Mux routes http(s) references to HTTP and everything else to Fallback
// (for example Telegram file ids).
type Mux struct {
	HTTP     Source
	Fallback Source
}

func (m Mux) Fetch(ctx context.Context, ref string) (image.Image, error) {
	if IsURL(ref) && m.HTTP != nil {
		return m.HTTP.Fetch(ctx, ref)
	}
	if m.Fallback != nil {
		return m.Fallback.Fetch(ctx, ref)
	}
	return nil, fmt.Errorf("no avatar source for %q", ref)
}
