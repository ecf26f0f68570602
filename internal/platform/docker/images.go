package docker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// pullTimeout bounds a single image pull. The pull runs detached from the
// caller that started it because other phases may be waiting on it too.
const pullTimeout = 5 * time.Minute

// imageCache makes sure each image is fetched at most once at a time. A
// pull for one image never blocks phases that need a different one.
type imageCache struct {
	fetch func(ctx context.Context, img string) error

	group  singleflight.Group
	mu     sync.Mutex
	pulled map[string]bool
}

func newImageCache(fetch func(ctx context.Context, img string) error) *imageCache {
	return &imageCache{fetch: fetch, pulled: make(map[string]bool)}
}

// ensure returns once img is available or ctx is done. Failed fetches are
// not remembered, so the next phase tries again.
func (c *imageCache) ensure(ctx context.Context, img string) error {
	c.mu.Lock()
	ok := c.pulled[img]
	c.mu.Unlock()
	if ok {
		return nil
	}

	ch := c.group.DoChan(img, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pullTimeout)
		defer cancel()
		if err := c.fetch(fetchCtx, img); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.pulled[img] = true
		c.mu.Unlock()
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
