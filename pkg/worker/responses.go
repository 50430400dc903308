package worker

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	imageUnavailable    = "Imagem indisponível"
	resourceUnavailable = "Recurso indisponível"
)

var offlineAPIBody = []byte(`{"error":"Offline","cached":true}`)

// OfflineAPIResponse is the 503 returned for API requests that fail
// without a cached copy.
func OfflineAPIResponse(req *http.Request) *http.Response {
	return synthesize(req, http.StatusServiceUnavailable, "application/json", offlineAPIBody)
}

// ImageUnavailableResponse is the 503 returned for images that are
// neither cached nor reachable.
func ImageUnavailableResponse(req *http.Request) *http.Response {
	return synthesize(req, http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte(imageUnavailable))
}

// ResourceUnavailableResponse is the 503 returned for any other request
// that fails without a cached copy.
func ResourceUnavailableResponse(req *http.Request) *http.Response {
	return synthesize(req, http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte(resourceUnavailable))
}

func synthesize(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("X-Cache-Status", "OFFLINE")
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// IsNavigation reports whether req is a page navigation.
func IsNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	if req.Method != http.MethodGet {
		return false
	}
	for _, accept := range req.Header.Values("Accept") {
		if strings.Contains(accept, "text/html") {
			return true
		}
	}
	return false
}
