package transform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"switchyard.dev/common"
)

// MaxResultDepth caps the nesting of script results.
const MaxResultDepth = 50

// ErrTooDeep is the depth-cap failure; the message is part of the observable
// contract with script authors.
var ErrTooDeep = &Error{Reason: "Transformed object too deep"}

// Sandbox runs user-authored Lua with a hard wall-clock budget, a bounded
// result depth and an enumerated capability surface: the payload, a context
// table with an HTTP helper, and the utility functions registered in
// registerUtils. Nothing else from the host reaches the script; in
// particular the os and io libraries are never opened.
type Sandbox struct {
	budget     time.Duration
	httpClient *http.Client
	logger     *common.ContextLogger
}

// NewSandbox builds a sandbox with the given script budget (default 60s).
func NewSandbox(budget time.Duration) *Sandbox {
	if budget <= 0 {
		budget = 60 * time.Second
	}
	return &Sandbox{
		budget:     budget,
		httpClient: &http.Client{},
		logger:     common.ServiceLogger("sandbox"),
	}
}

// Run executes script with payload and tctx injected and returns the decoded
// result. A nil return with nil error means the script returned nil, the
// first-class skip signal. Parse and runtime errors come back as *Error.
func (s *Sandbox) Run(ctx context.Context, script string, payload map[string]interface{}, tctx Context) (interface{}, error) {
	if strings.TrimSpace(script) == "" {
		return nil, &Error{Reason: "empty script"}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(runCtx)

	s.openLibraries(L)
	s.registerUtils(L)

	L.SetGlobal("payload", toLua(L, payload))
	L.SetGlobal("context", s.buildContext(L, runCtx, tctx))

	if err := L.DoString(script); err != nil {
		if runCtx.Err() != nil {
			return nil, &Error{Reason: "script exceeded its time budget", Err: runCtx.Err()}
		}
		return nil, &Error{Reason: "script execution failed", Err: err}
	}

	top := L.GetTop()
	if top == 0 {
		return nil, nil
	}
	result := fromLua(L.Get(-1))
	if result == nil {
		return nil, nil
	}
	if common.ValueDepth(result) > MaxResultDepth {
		return nil, ErrTooDeep
	}
	return result, nil
}

// openLibraries loads the safe standard libraries and strips the base-library
// escape hatches that touch the filesystem or load foreign chunks.
func (s *Sandbox) openLibraries(L *lua.LState) {
	for _, library := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(library.fn))
		L.Push(lua.LString(library.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// registerUtils installs the stable utility set. The names are a
// compatibility contract with existing scripts.
func (s *Sandbox) registerUtils(L *lua.LState) {
	L.SetGlobal("epoch", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().UnixMilli()))
		return 1
	}))

	L.SetGlobal("datetime", L.NewFunction(func(L *lua.LState) int {
		date := L.CheckString(1)
		clock := L.OptString(2, "00:00:00")
		tz := L.OptString(3, "UTC")
		L.Push(lua.LString(combineDatetime(date, clock, tz)))
		return 1
	}))

	L.SetGlobal("uppercase", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(strings.ToUpper(L.CheckString(1))))
		return 1
	}))
	L.SetGlobal("lowercase", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
		return 1
	}))
	L.SetGlobal("trim", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
		return 1
	}))

	L.SetGlobal("formatPhone", L.NewFunction(func(L *lua.LState) int {
		phone := L.CheckString(1)
		countryCode := L.OptString(2, "91")
		L.Push(lua.LString(formatPhone(phone, countryCode)))
		return 1
	}))

	L.SetGlobal("get", L.NewFunction(func(L *lua.LState) int {
		obj := fromLua(L.CheckAny(1))
		path := L.CheckString(2)
		fallback := L.Get(3)

		value, found := common.GetPath(obj, path)
		if !found || value == nil {
			L.Push(fallback)
			return 1
		}
		L.Push(toLua(L, value))
		return 1
	}))
}

// buildContext assembles the context table: event identity plus the HTTP
// helper. Helper calls never raise on non-2xx statuses; network failures
// surface as {status=0, error=...} so scripts can branch instead of dying.
func (s *Sandbox) buildContext(L *lua.LState, ctx context.Context, tctx Context) *lua.LTable {
	contextTable := L.NewTable()
	contextTable.RawSetString("eventType", lua.LString(tctx.EventType))
	contextTable.RawSetString("orgId", lua.LString(tctx.TenantID))
	contextTable.RawSetString("eventId", lua.LString(tctx.EventID))
	contextTable.RawSetString("traceId", lua.LString(tctx.TraceID))

	httpTable := L.NewTable()
	for method, name := range map[string]string{
		"GET": "get", "POST": "post", "PUT": "put", "PATCH": "patch", "DELETE": "delete",
	} {
		httpTable.RawSetString(name, L.NewFunction(s.httpCall(ctx, method, false)))
	}
	httpTable.RawSetString("getBuffer", L.NewFunction(s.httpCall(ctx, "GET", true)))
	contextTable.RawSetString("http", httpTable)

	return contextTable
}

// httpCall builds one helper function. Signature from Lua:
// http.get(url [, options]) where options = {headers=table, body=table or
// string, timeout=seconds}. The response table carries status, body, headers
// and, when the body parses as JSON, data.
func (s *Sandbox) httpCall(ctx context.Context, method string, raw bool) lua.LGFunction {
	return func(L *lua.LState) int {
		url := L.CheckString(1)
		options := L.OptTable(2, L.NewTable())

		timeout := 10 * time.Second
		if t, ok := options.RawGetString("timeout").(lua.LNumber); ok && t > 0 {
			timeout = time.Duration(float64(t) * float64(time.Second))
		}

		var body io.Reader
		switch bodyValue := options.RawGetString("body").(type) {
		case lua.LString:
			body = strings.NewReader(string(bodyValue))
		case *lua.LTable:
			encoded, err := json.Marshal(fromLua(bodyValue))
			if err == nil {
				body = strings.NewReader(string(encoded))
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, method, url, body)
		if err != nil {
			L.Push(errorResponse(L, err))
			return 1
		}
		req.Header.Set("Content-Type", "application/json")
		if headers, ok := options.RawGetString("headers").(*lua.LTable); ok {
			headers.ForEach(func(key, value lua.LValue) {
				req.Header.Set(key.String(), value.String())
			})
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			L.Push(errorResponse(L, err))
			return 1
		}
		defer func() { _ = resp.Body.Close() }()

		responseBody, err := io.ReadAll(resp.Body)
		if err != nil {
			L.Push(errorResponse(L, err))
			return 1
		}

		result := L.NewTable()
		result.RawSetString("status", lua.LNumber(resp.StatusCode))
		result.RawSetString("ok", lua.LBool(resp.StatusCode >= 200 && resp.StatusCode < 300))
		result.RawSetString("body", lua.LString(responseBody))

		headerTable := L.NewTable()
		for key := range resp.Header {
			headerTable.RawSetString(key, lua.LString(resp.Header.Get(key)))
		}
		result.RawSetString("headers", headerTable)

		if !raw {
			var decoded interface{}
			if json.Unmarshal(responseBody, &decoded) == nil {
				result.RawSetString("data", toLua(L, decoded))
			}
		}

		L.Push(result)
		return 1
	}
}

func errorResponse(L *lua.LState, err error) *lua.LTable {
	result := L.NewTable()
	result.RawSetString("status", lua.LNumber(0))
	result.RawSetString("ok", lua.LBool(false))
	result.RawSetString("error", lua.LString(err.Error()))
	return result
}

// combineDatetime renders a date plus time in tz as RFC 3339. Bad inputs
// return the raw concatenation rather than failing the script.
func combineDatetime(date, clock, tz string) string {
	location, err := time.LoadLocation(tz)
	if err != nil {
		location = time.UTC
	}
	layout := "2006-01-02 15:04:05"
	if len(clock) == 5 {
		layout = "2006-01-02 15:04"
	}
	parsed, err := time.ParseInLocation(layout, date+" "+clock, location)
	if err != nil {
		return date + "T" + clock
	}
	return parsed.Format(time.RFC3339)
}

// formatPhone normalizes a phone number to +<countryCode><national>. Numbers
// already carrying the country code keep it; everything non-numeric drops.
func formatPhone(phone, countryCode string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	number := digits.String()
	if number == "" {
		return phone
	}
	if strings.HasPrefix(number, countryCode) && len(number) > 10 {
		return "+" + number
	}
	return "+" + countryCode + number
}

// HTTPClient overrides the helper client, mainly for tests.
func (s *Sandbox) HTTPClient(client *http.Client) {
	if client != nil {
		s.httpClient = client
	}
}

// EvalCondition runs a boolean expression over {eventType, orgId, payload}.
// Any parse or runtime failure answers false, per the multi-action contract.
func (s *Sandbox) EvalCondition(ctx context.Context, expr string, payload map[string]interface{}, tctx Context) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}
	script := expr
	if !strings.Contains(expr, "return") {
		script = "return " + expr
	}
	value, err := s.Run(ctx, script, payload, tctx)
	if err != nil {
		s.logger.WithError(err).WithField("event_type", tctx.EventType).Debug("condition evaluation failed, treating as false")
		return false
	}
	truthy, ok := value.(bool)
	if !ok {
		return value != nil
	}
	return truthy
}
