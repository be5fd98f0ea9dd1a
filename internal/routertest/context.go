// Package routertest provides a router.Context double for handler and
// middleware tests.
package routertest

import (
	"context"
	"strconv"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
)

var _ router.Context = (*MockContext)(nil)

// MockContext serves request data from plain maps. JSON and Bind go
// through the embedded mock so tests can capture or fill payloads.
type MockContext struct {
	mock.Mock
	LocalsMock  map[any]any
	QueriesM    map[string]string
	ParamsM     map[string]string
	HeadersM    map[string]string
	CookiesM    map[string]string
	StatusCode  int
	RequestBody []byte
	Sent        []byte

	store map[string]any
	ctx   context.Context
}

func NewMockContext() *MockContext {
	return &MockContext{
		LocalsMock: map[any]any{},
		QueriesM:   map[string]string{},
		ParamsM:    map[string]string{},
		HeadersM:   map[string]string{},
		CookiesM:   map[string]string{},
		store:      map[string]any{},
		ctx:        context.Background(),
	}
}

func (m *MockContext) Method() string { return string(router.GET) }
func (m *MockContext) Path() string   { return "/" }

func (m *MockContext) Param(name string, def ...string) string {
	if v, ok := m.ParamsM[name]; ok {
		return v
	}
	return first(def)
}

func (m *MockContext) ParamsInt(name string, def int) int {
	return atoi(m.ParamsM[name], def)
}

func (m *MockContext) Query(name, def string) string {
	if v, ok := m.QueriesM[name]; ok {
		return v
	}
	return def
}

func (m *MockContext) QueryInt(name string, def int) int {
	return atoi(m.QueriesM[name], def)
}

func (m *MockContext) Queries() map[string]string { return m.QueriesM }
func (m *MockContext) Body() []byte               { return m.RequestBody }

// Locals stores value under key when given and returns the current value.
func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.LocalsMock[key] = value[0]
	}
	return m.LocalsMock[key]
}

func (m *MockContext) Render(string, any, ...string) error { return nil }
func (m *MockContext) Cookie(c *router.Cookie)             { m.CookiesM[c.Name] = c.Value }

func (m *MockContext) Cookies(key string, def ...string) string {
	if v, ok := m.CookiesM[key]; ok {
		return v
	}
	return first(def)
}

func (m *MockContext) CookieParser(any) error        { return nil }
func (m *MockContext) Redirect(string, ...int) error { return nil }

func (m *MockContext) RedirectToRoute(string, router.ViewContext, ...int) error { return nil }

func (m *MockContext) RedirectBack(string, ...int) error { return nil }
func (m *MockContext) Header(key string) string          { return m.HeadersM[key] }
func (m *MockContext) Referer() string                   { return m.HeadersM["Referer"] }
func (m *MockContext) OriginalURL() string               { return m.Path() }

func (m *MockContext) Status(code int) router.Context {
	m.StatusCode = code
	return m
}

func (m *MockContext) Send(body []byte) error {
	m.Sent = body
	return nil
}

func (m *MockContext) SendString(body string) error {
	m.Sent = []byte(body)
	return nil
}

func (m *MockContext) JSON(code int, v any) error {
	m.StatusCode = code
	return m.Called(code, v).Error(0)
}

func (m *MockContext) NoContent(code int) error {
	m.StatusCode = code
	return nil
}

func (m *MockContext) SetHeader(key, value string) router.Context {
	m.HeadersM[key] = value
	return m
}

func (m *MockContext) Set(key string, value any) { m.store[key] = value }

func (m *MockContext) Get(key string, def any) any {
	if v, ok := m.store[key]; ok {
		return v
	}
	return def
}

func (m *MockContext) GetString(key string, def string) string {
	if v, ok := m.store[key].(string); ok {
		return v
	}
	return def
}

func (m *MockContext) GetInt(key string, def int) int {
	if v, ok := m.store[key].(int); ok {
		return v
	}
	return def
}

func (m *MockContext) GetBool(key string, def bool) bool {
	if v, ok := m.store[key].(bool); ok {
		return v
	}
	return def
}

func (m *MockContext) Bind(v any) error {
	return m.Called(v).Error(0)
}

func (m *MockContext) Context() context.Context       { return m.ctx }
func (m *MockContext) SetContext(ctx context.Context) { m.ctx = ctx }
func (m *MockContext) Next() error                    { return nil }

func first(values []string) string {
	if len(values) > 0 {
		return values[0]
	}
	return ""
}

func atoi(raw string, def int) int {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return def
}
