// Package moodle implements a typed client for the Moodle web-service REST
// API, keyed by a per-user access token.
//
// Moodle reports business errors inside HTTP 200 bodies, so every response is
// first decoded against the `{errorcode, message}` error envelope before the
// expected payload shape. The token travels only in the request form body —
// never the URL — so it cannot leak into upstream access logs; non-sensitive
// parameters are duplicated onto the query string for log visibility.
package moodle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jkaninda/darasa/internal/upstream"
)

const restEndpoint = "/webservice/rest/server.php"

// Client is a validated Moodle web-service session. Construction performs one
// live `core_webservice_get_site_info` call and fails if Moodle rejects the
// token — a Client never holds a token the LMS has not accepted. Immutable
// and scoped to one request.
type Client struct {
	http    *upstream.Client
	baseURL string
	token   Token
}

// Info is the site info payload used to surface the account owner's name.
type Info struct {
	FullName string `json:"fullname"`
}

// Course is one in-progress course.
type Course struct {
	ID       uint   `json:"id"`
	FullName string `json:"fullname"`
	Category string `json:"coursecategory"`
}

type coursesPage struct {
	Courses []Course `json:"courses"`
}

// Section is an ordered course section holding ordered modules.
type Section struct {
	ID      uint     `json:"id"`
	Name    string   `json:"name"`
	Modules []Module `json:"modules"`
}

// Module is a single activity or resource within a section.
type Module struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	ModName string `json:"modname"`
}

// New builds a Client and validates the token with a live site-info call.
// This call is the system's sole mechanism for confirming the token is
// currently accepted by Moodle; a syntactically valid token that fails here
// is unusable.
func New(ctx context.Context, httpc *upstream.Client, baseURL string, token Token) (*Client, error) {
	c := &Client{
		http:    httpc,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
	if _, err := c.GetInfo(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// GetInfo returns the site info for the token's account.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.call(ctx, "core_webservice_get_site_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetCourses returns the courses the account is currently taking, filtered
// server-side to the "inprogress" classification.
func (c *Client) GetCourses(ctx context.Context) ([]Course, error) {
	var page coursesPage
	params := url.Values{"classification": {"inprogress"}}
	if err := c.call(ctx, "core_courses_get_courses_by_classification", params, &page); err != nil {
		return nil, err
	}
	if page.Courses == nil {
		return []Course{}, nil
	}
	return page.Courses, nil
}

// GetContents returns the ordered sections of one course. Moodle answers this
// function with a top-level JSON array.
func (c *Client) GetContents(ctx context.Context, courseID uint) ([]Section, error) {
	var sections []Section
	params := url.Values{"courseid": {strconv.FormatUint(uint64(courseID), 10)}}
	if err := c.call(ctx, "core_courses_get_contents", params, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// call invokes one web-service function. The token goes in the form body;
// everything else goes on the query string.
func (c *Client) call(ctx context.Context, wsfunction string, params url.Values, out any) error {
	query := url.Values{
		"wsfunction":         {wsfunction},
		"moodlewsrestformat": {"json"},
	}
	for k, vs := range params {
		query[k] = vs
	}

	form := url.Values{"wstoken": {c.token.Secret()}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+restEndpoint+"?"+query.Encode(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building moodle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to moodle: %w", err)
	}

	body, err := upstream.ReadBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("moodle returned status %d for %s", resp.StatusCode, wsfunction)
	}

	return decode(body, out)
}

// decode interprets a Moodle response body: either the error envelope or the
// expected payload. Array-shaped payloads fail the envelope decode and fall
// through to the target type.
func decode(body []byte, out any) error {
	var envelope struct {
		ErrorCode string `json:"errorcode"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.ErrorCode != "" {
		return &APIError{Code: envelope.ErrorCode, Message: envelope.Message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing moodle response: %w", err)
	}
	return nil
}
