package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/duke-git/lancet/v2/strutil"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

const (
	CookieCsrf     = "bili_jct"
	CookieSessData = "SESSDATA"
)

// SplitCookie parses a "k=v; k2=v2" header value, parts without "=" are skipped
func SplitCookie(cookie string) []CookiePart {
	var parts []CookiePart
	for _, part := range strutil.SplitAndTrim(cookie, ";") {
		k, v, ok := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		parts = append(parts, CookiePart{Key: k, Value: strings.TrimSpace(v)})
	}
	return parts
}

// CookieValue returns the last value of key in cookie
func CookieValue(cookie, key string) string {
	value := ""
	for _, part := range SplitCookie(cookie) {
		if part.Key == key {
			value = part.Value
		}
	}
	return value
}

// Credential returns the csrf token and session of cookie
func Credential(cookie string) (csrf, sessData string, err error) {
	csrf, sessData = CookieValue(cookie, CookieCsrf), CookieValue(cookie, CookieSessData)
	if csrf == "" || sessData == "" {
		return "", "", ErrInvalidCookie
	}
	return csrf, sessData, nil
}

type storedCookie struct {
	value     string
	updatedAt time.Time
}

func (c *storedCookie) info(id string) CookieInfo {
	return CookieInfo{
		ID:          id,
		HasBiliJct:  CookieValue(c.value, CookieCsrf) != "",
		HasSessData: CookieValue(c.value, CookieSessData) != "",
		UpdatedAt:   c.updatedAt,
	}
}

// CookieStore keeps named cookies plus a default one, in memory only
type CookieStore struct {
	mu            sync.RWMutex
	cookies       map[string]*storedCookie
	defaultCookie string
}

func NewCookieStore() *CookieStore {
	return &CookieStore{cookies: make(map[string]*storedCookie)}
}

// Add stores cookie under id, a random id is generated when empty
func (s *CookieStore) Add(id, cookie string) (string, error) {
	if _, _, err := Credential(cookie); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cookies[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrCookieExists, id)
	}
	s.cookies[id] = &storedCookie{value: cookie, updatedAt: time.Now()}
	klog.Infof("[Cookie]%s added", id)
	return id, nil
}

func (s *CookieStore) Update(id, cookie string) error {
	if _, _, err := Credential(cookie); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.cookies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCookieNotFound, id)
	}
	stored.value = cookie
	stored.updatedAt = time.Now()
	klog.Infof("[Cookie]%s updated", id)
	return nil
}

func (s *CookieStore) Get(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.cookies[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrCookieNotFound, id)
	}
	return stored.value, nil
}

func (s *CookieStore) Info(id string) (CookieInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.cookies[id]
	if !ok {
		return CookieInfo{}, fmt.Errorf("%w: %s", ErrCookieNotFound, id)
	}
	return stored.info(id), nil
}

func (s *CookieStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cookies[id]; !ok {
		return fmt.Errorf("%w: %s", ErrCookieNotFound, id)
	}
	delete(s.cookies, id)
	klog.Infof("[Cookie]%s deleted", id)
	return nil
}

// List returns the stored cookies ordered by id
func (s *CookieStore) List() []CookieInfo {
	s.mu.RLock()
	infos := make([]CookieInfo, 0, len(s.cookies))
	for id, stored := range s.cookies {
		infos = append(infos, stored.info(id))
	}
	s.mu.RUnlock()
	slice.SortBy(infos, func(a, b CookieInfo) bool {
		return a.ID < b.ID
	})
	return infos
}

// SetDefault replaces the default cookie, an empty value clears it
func (s *CookieStore) SetDefault(cookie string) {
	s.mu.Lock()
	s.defaultCookie = strings.TrimSpace(cookie)
	s.mu.Unlock()
}

func (s *CookieStore) Default() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultCookie
}

// Resolve picks the cookie of a connect: the stored cookieID, then the request cookie,
// then the store default, then fallback. An unknown cookieID is an error.
func (s *CookieStore) Resolve(cookieID, cookie, fallback string) (string, error) {
	if cookieID != "" {
		return s.Get(cookieID)
	}
	if cookie = strings.TrimSpace(cookie); cookie != "" {
		return cookie, nil
	}
	if def := s.Default(); def != "" {
		return def, nil
	}
	return fallback, nil
}
