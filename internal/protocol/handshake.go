package protocol

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Errors
var (
	ErrMalformed  = errors.New("malformed upgrade request")
	ErrMethod     = errors.New("upgrade request method must be GET")
	ErrNotUpgrade = errors.New("not a websocket upgrade request")
	ErrVersion    = errors.New("unsupported websocket version")
	ErrKey        = errors.New("invalid Sec-WebSocket-Key")
)

// handshakeGUID is appended to the client key before hashing (RFC 6455 §1.3).
const handshakeGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// SupportedVersion is the only Sec-WebSocket-Version accepted.
const SupportedVersion = 13

// UpgradeRequest is the part of a client opening handshake the server acts on.
type UpgradeRequest struct {
	Path    string
	Host    string
	Version int
	Key     string
}

// UpgradeResponse is the server's answer to a valid UpgradeRequest.
type UpgradeResponse struct {
	Accept string
}

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(handshakeGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ReadUpgradeRequest reads one HTTP request from r and validates it as a
// WebSocket opening handshake.
func ReadUpgradeRequest(r *bufio.Reader) (*UpgradeRequest, error) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Body != nil {
		req.Body.Close()
	}
	return ParseUpgradeRequest(req)
}

// ParseUpgradeRequest validates an already parsed HTTP request.
func ParseUpgradeRequest(req *http.Request) (*UpgradeRequest, error) {
	if req.Method != http.MethodGet {
		return nil, ErrMethod
	}
	if !httpguts.HeaderValuesContainsToken(req.Header["Upgrade"], "websocket") ||
		!httpguts.HeaderValuesContainsToken(req.Header["Connection"], "upgrade") {
		return nil, ErrNotUpgrade
	}

	version, err := strconv.Atoi(strings.TrimSpace(req.Header.Get("Sec-WebSocket-Version")))
	if err != nil || version != SupportedVersion {
		return nil, ErrVersion
	}

	key := strings.TrimSpace(req.Header.Get("Sec-WebSocket-Key"))
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(decoded) != 16 {
		return nil, ErrKey
	}

	return &UpgradeRequest{
		Path:    req.URL.RequestURI(),
		Host:    req.Host,
		Version: version,
		Key:     key,
	}, nil
}

// Shake answers a validated upgrade request.
func Shake(req *UpgradeRequest) UpgradeResponse {
	return UpgradeResponse{Accept: AcceptKey(req.Key)}
}

// WriteTo writes the 101 Switching Protocols response.
func (r UpgradeResponse) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: "+r.Accept+"\r\n"+
		"\r\n")
	return int64(n), err
}

// WriteReject writes the HTTP error response matching a handshake error.
func WriteReject(w io.Writer, cause error) error {
	status := http.StatusBadRequest
	extra := ""
	if errors.Is(cause, ErrVersion) {
		status = http.StatusUpgradeRequired
		extra = "Sec-WebSocket-Version: " + strconv.Itoa(SupportedVersion) + "\r\n"
	}

	body := http.StatusText(status)
	if cause != nil {
		body = cause.Error()
	}

	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n%sContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), extra, len(body), body)
	return err
}
