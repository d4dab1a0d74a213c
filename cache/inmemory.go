package cache

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

type memoryValue struct {
	object  any
	fields  map[string]any
	expires time.Time
}

func (v *memoryValue) expired(now time.Time) bool {
	return !v.expires.IsZero() && !v.expires.After(now)
}

type inMemoryHandler struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[string]*memoryValue
	tags      map[string]map[string]struct{}
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Handler = (*inMemoryHandler)(nil)

func (c *inMemoryHandler) Name() string {
	return c.cfg.name
}

func (c *inMemoryHandler) CreateKey(segments ...any) (string, error) {
	return c.cfg.keys.Build(segments...)
}

// lookup returns the live entry for container, dropping it if expired.
// Callers must hold the mutex.
func (c *inMemoryHandler) lookup(container string, now time.Time) (*memoryValue, bool) {
	val, ok := c.cache[container]
	if !ok {
		return nil, false
	}
	if val.expired(now) {
		delete(c.cache, container)
		return nil, false
	}
	return val, true
}

func (c *inMemoryHandler) Contains(_ context.Context, key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	k := ParseKey(key)
	val, ok := c.lookup(k.Container, c.cfg.now())
	if !ok {
		return false
	}
	if k.IsComposite() {
		_, ok = val.fields[k.Field]
		return ok
	}
	return val.fields == nil
}

func (c *inMemoryHandler) get(key string, now time.Time) Item[any] {
	k := ParseKey(key)
	val, ok := c.lookup(k.Container, now)
	if !ok {
		return Empty[any](key)
	}
	var object any
	if k.IsComposite() {
		if object, ok = val.fields[k.Field]; !ok {
			return Empty[any](key)
		}
	} else if val.fields != nil {
		return Empty[any](key)
	} else {
		object = val.object
	}
	return Item[any]{Key: key, Value: object, Raw: object, Expires: val.expires, Handler: c.cfg.name, HasValue: true}
}

func (c *inMemoryHandler) Get(_ context.Context, key string) Item[any] {
	c.mutex.Lock()
	item := c.get(key, c.cfg.now())
	c.mutex.Unlock()
	if !item.HasValue {
		c.cfg.logger.Debug("couldn't find cache item with key '%s'", key)
	}
	return item
}

func (c *inMemoryHandler) GetByTag(_ context.Context, tags ...string) []Item[any] {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.cfg.now()
	seen := make(map[string]bool)
	var items []Item[any]
	for _, tag := range tags {
		for key := range c.tags[tag] {
			if seen[key] {
				continue
			}
			seen[key] = true
			if item := c.get(key, now); item.HasValue {
				items = append(items, item)
			}
		}
	}
	return items
}

func (c *inMemoryHandler) AddOrUpdate(_ context.Context, key string, val any, expires time.Time, tags ...string) (any, error) {
	if key == "" {
		return val, invalidArgument("key must not be empty")
	}
	if isNil(val) {
		return val, invalidArgument("cannot store nil value at key '%s'", key)
	}
	now := c.cfg.now()
	expires = c.cfg.expiry(expires)
	if expires.Equal(NoExpiry) {
		expires = time.Time{}
	}
	k := ParseKey(key)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !expires.IsZero() && !expires.After(now) {
		c.remove(k)
		return val, nil
	}
	if k.IsComposite() {
		v, ok := c.lookup(k.Container, now)
		if !ok || v.fields == nil {
			v = &memoryValue{fields: make(map[string]any)}
			c.cache[k.Container] = v
		}
		v.fields[k.Field] = val
		v.expires = expires
	} else {
		c.cache[key] = &memoryValue{object: val, expires: expires}
	}
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	if !expires.IsZero() {
		stampExpiry(val, expires, now)
	}
	return val, nil
}

// remove deletes a plain key or a single field. Callers must hold the mutex.
func (c *inMemoryHandler) remove(k Key) bool {
	v, ok := c.cache[k.Container]
	if !ok {
		return false
	}
	if !k.IsComposite() {
		delete(c.cache, k.Container)
		return true
	}
	if _, ok := v.fields[k.Field]; !ok {
		return false
	}
	delete(v.fields, k.Field)
	if len(v.fields) == 0 {
		delete(c.cache, k.Container)
	}
	return true
}

func (c *inMemoryHandler) RemoveByKey(_ context.Context, key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.remove(ParseKey(key))
}

func (c *inMemoryHandler) removeMatching(match func(string) bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for container, v := range c.cache {
		if match(container) {
			delete(c.cache, container)
			continue
		}
		for field := range v.fields {
			if match(CompositeKey(container, field)) {
				delete(v.fields, field)
			}
		}
		if v.fields != nil && len(v.fields) == 0 {
			delete(c.cache, container)
		}
	}
}

func (c *inMemoryHandler) RemoveByPattern(_ context.Context, pattern string) (bool, error) {
	if pattern == "" {
		return false, invalidArgument("pattern must not be empty")
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return false, invalidArgument("invalid pattern '%s': %v", pattern, err)
	}
	c.removeMatching(g.Match)
	return true, nil
}

func (c *inMemoryHandler) RemoveByRegexp(_ context.Context, re *regexp.Regexp) (bool, error) {
	if re == nil {
		return false, invalidArgument("regexp must not be nil")
	}
	c.removeMatching(re.MatchString)
	return true, nil
}

func (c *inMemoryHandler) RemoveByTag(_ context.Context, tags ...string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, tag := range tags {
		for key := range c.tags[tag] {
			delete(c.cache, containerOf(key))
		}
		delete(c.tags, tag)
	}
	return true
}

func (c *inMemoryHandler) Purge(_ context.Context) bool {
	c.mutex.Lock()
	c.cache = make(map[string]*memoryValue)
	c.tags = make(map[string]map[string]struct{})
	c.mutex.Unlock()
	return true
}

func (c *inMemoryHandler) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

// reap drops expired entries and tag references to keys that are gone.
func (c *inMemoryHandler) reap(now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for key, val := range c.cache {
		if val.expired(now) {
			delete(c.cache, key)
		}
	}
	for tag, keys := range c.tags {
		for key := range keys {
			if _, ok := c.cache[containerOf(key)]; !ok {
				delete(keys, key)
			}
		}
		if len(keys) == 0 {
			delete(c.tags, tag)
		}
	}
}

func (c *inMemoryHandler) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.reap(c.cfg.now())
		}
	}
}

// NewInMemory returns a new in-process Handler. Values are stored as-is, so
// mutations to stored pointers are visible through the cache.
func NewInMemory(parent context.Context, opts ...Option) Handler {
	cfg := applyOptions("memory", opts)
	if cfg.expiryCheck <= 0 {
		cfg.expiryCheck = time.Minute
	}
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryHandler{
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[string]*memoryValue),
		tags:   make(map[string]map[string]struct{}),
		cfg:    cfg,
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}
