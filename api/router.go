package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// segment is one slash-separated piece of a compiled path pattern. When
// param is non-empty the segment is a placeholder and literal is unused.
type segment struct {
	literal string
	param   string
}

type pathPattern struct {
	raw      string
	segments []segment
}

// compilePattern turns "/api/todos/:id" into its segments. Placeholders are
// ":name" and match exactly one non-empty path segment.
func compilePattern(pattern string) (pathPattern, error) {
	if !strings.HasPrefix(pattern, "/") {
		return pathPattern{}, fmt.Errorf("pattern %q must start with /", pattern)
	}
	parts := strings.Split(pattern[1:], "/")
	p := pathPattern{raw: pattern, segments: make([]segment, 0, len(parts))}
	seen := make(map[string]bool)
	for _, part := range parts {
		if !strings.HasPrefix(part, ":") {
			p.segments = append(p.segments, segment{literal: part})
			continue
		}
		name := part[1:]
		if name == "" {
			return pathPattern{}, fmt.Errorf("pattern %q has an unnamed placeholder", pattern)
		}
		if seen[name] {
			return pathPattern{}, fmt.Errorf("pattern %q repeats placeholder %q", pattern, name)
		}
		seen[name] = true
		p.segments = append(p.segments, segment{param: name})
	}
	return p, nil
}

// match reports whether the escaped request path fits the pattern and
// returns the unescaped placeholder values keyed by name.
func (p pathPattern) match(escapedPath string) (map[string]string, bool) {
	if !strings.HasPrefix(escapedPath, "/") {
		return nil, false
	}
	parts := strings.Split(escapedPath[1:], "/")
	if len(parts) != len(p.segments) {
		return nil, false
	}
	var params map[string]string
	for i, s := range p.segments {
		if s.param == "" {
			if parts[i] != s.literal {
				return nil, false
			}
			continue
		}
		if parts[i] == "" {
			return nil, false
		}
		v, err := url.PathUnescape(parts[i])
		if err != nil {
			return nil, false
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[s.param] = v
	}
	return params, true
}

type route struct {
	method  string
	pattern pathPattern
	handler http.Handler
}

// router dispatches on an ordered list of routes. Routes are registered
// while the server is being composed and only read afterwards.
type router struct {
	routes []route
}

func newRouter() *router {
	return &router{}
}

// handle registers a route. It panics on a malformed pattern, which can
// only happen at startup.
func (rt *router) handle(method, pattern string, h http.HandlerFunc) {
	p, err := compilePattern(pattern)
	if err != nil {
		panic(err)
	}
	rt.routes = append(rt.routes, route{method: method, pattern: p, handler: h})
}

// ServeHTTP tries routes in registration order; the first match wins.
func (rt *router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()
	for _, ro := range rt.routes {
		if ro.method != r.Method {
			continue
		}
		params, ok := ro.pattern.match(path)
		if !ok {
			continue
		}
		for name, value := range params {
			r.SetPathValue(name, value)
		}
		ro.handler.ServeHTTP(w, r)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}
