package relay

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
)

var (
	// ErrProtocolMismatch marks a transport failure caused by HTTP protocol
	// negotiation (for example an HTTP/2 stream or connection error). The
	// Uploader reacts to it by switching to the fallback transport.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrTransportUnavailable marks a transport that cannot be used at all.
	ErrTransportUnavailable = errors.New("transport unavailable")
)

// maxResponseBody bounds how much of an upload response is read.
const maxResponseBody = 64 * 1024

// UploadForm is the multipart upload request: reqtype=fileupload,
// userhash and the file as fileToUpload.
type UploadForm struct {
	Endpoint string
	UserHash string
	FilePath string
}

// Transport performs one upload attempt and reports the raw HTTP outcome.
// A non-nil error means no usable HTTP response was received.
type Transport interface {
	Name() string
	Send(ctx context.Context, form UploadForm) (status int, body string, err error)
}

// writeForm writes the multipart body for form to mw and closes it.
func writeForm(mw *multipart.Writer, form UploadForm) error {
	if err := mw.WriteField("reqtype", "fileupload"); err != nil {
		return err
	}
	if err := mw.WriteField("userhash", form.UserHash); err != nil {
		return err
	}

	f, err := os.Open(form.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(form.FilePath)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "fileToUpload",
		"filename": name,
	}))
	h.Set("Content-Type", contentTypeFor(name))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ts":
		return "video/mp2t"
	case ".mp4":
		return "video/mp4"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// HTTPTransport uploads with net/http. Its transport is configured for
// HTTP/2 through golang.org/x/net/http2, so negotiation failures surface as
// typed http2 errors that are mapped to ErrProtocolMismatch.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport returns the primary transport. timeout bounds a whole
// attempt.
func NewHTTPTransport(timeout time.Duration, userAgent string) (*HTTPTransport, error) {
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 0,
	}
	if _, err := http2.ConfigureTransports(t); err != nil {
		return nil, fmt.Errorf("%w: configure http2: %v", ErrTransportUnavailable, err)
	}
	return &HTTPTransport{
		client:    &http.Client{Transport: t, Timeout: timeout},
		userAgent: userAgent,
	}, nil
}

// NewHTTPTransportWithClient wraps an existing client, mainly for tests.
func NewHTTPTransportWithClient(client *http.Client, userAgent string) *HTTPTransport {
	return &HTTPTransport{client: client, userAgent: userAgent}
}

// Name implements Transport.Name.
func (t *HTTPTransport) Name() string { return "http" }

// Send implements Transport.Send.
func (t *HTTPTransport) Send(ctx context.Context, form UploadForm) (int, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeForm(mw, form); err != nil {
		return 0, "", fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, form.Endpoint, &buf)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	req.Close = true

	resp, err := t.client.Do(req)
	if err != nil {
		if isProtocolError(err) {
			return 0, "", fmt.Errorf("%w: %v", ErrProtocolMismatch, err)
		}
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if isProtocolError(err) {
			return resp.StatusCode, "", fmt.Errorf("%w: %v", ErrProtocolMismatch, err)
		}
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

// isProtocolError reports whether err comes from HTTP protocol negotiation
// rather than from the network or the server's answer.
func isProtocolError(err error) bool {
	var streamErr http2.StreamError
	if errors.As(err, &streamErr) {
		return true
	}
	var connErr http2.ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var goAway http2.GoAwayError
	if errors.As(err, &goAway) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"HTTP/2", "http2:", "PROTOCOL_ERROR", "malformed HTTP response"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RawTransport writes the multipart upload as a hand-built HTTP/1.1
// request over a plain TCP or TLS connection. It is the fallback when the
// primary transport cannot negotiate a protocol with the endpoint.
type RawTransport struct {
	dialer    *net.Dialer
	tlsConfig *tls.Config
	timeout   time.Duration
	userAgent string
}

// NewRawTransport returns the fallback transport. timeout bounds a whole
// attempt.
func NewRawTransport(timeout time.Duration, userAgent string) *RawTransport {
	return &RawTransport{
		dialer:    &net.Dialer{Timeout: 30 * time.Second},
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// WithTLSConfig sets the TLS configuration used for https endpoints.
func (t *RawTransport) WithTLSConfig(cfg *tls.Config) *RawTransport {
	t.tlsConfig = cfg
	return t
}

// Name implements Transport.Name.
func (t *RawTransport) Name() string { return "raw-http1" }

// Send implements Transport.Send.
func (t *RawTransport) Send(ctx context.Context, form UploadForm) (int, string, error) {
	u, err := url.Parse(form.Endpoint)
	if err != nil {
		return 0, "", fmt.Errorf("parse endpoint: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.SetBoundary("----HLSRelayBoundary" + strings.ReplaceAll(uuid.NewString(), "-", "")); err != nil {
		return 0, "", err
	}
	if err := writeForm(mw, form); err != nil {
		return 0, "", fmt.Errorf("build multipart body: %w", err)
	}

	conn, err := t.dial(ctx, u)
	if err != nil {
		return 0, "", err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if t.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.timeout))
	}

	path := u.RequestURI()
	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "POST %s HTTP/1.1\r\n", path)
	fmt.Fprintf(w, "Host: %s\r\n", u.Host)
	fmt.Fprintf(w, "Content-Type: %s\r\n", mw.FormDataContentType())
	fmt.Fprintf(w, "Content-Length: %d\r\n", body.Len())
	if t.userAgent != "" {
		fmt.Fprintf(w, "User-Agent: %s\r\n", t.userAgent)
	}
	fmt.Fprintf(w, "Connection: close\r\n\r\n")
	if _, err := body.WriteTo(w); err != nil {
		return 0, "", fmt.Errorf("write request: %w", err)
	}
	if err := w.Flush(); err != nil {
		return 0, "", fmt.Errorf("write request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodPost})
	if err != nil {
		return 0, "", fmt.Errorf("read response: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, string(respBody), nil
}

func (t *RawTransport) dial(ctx context.Context, u *url.URL) (net.Conn, error) {
	host := u.Host
	switch u.Scheme {
	case "https":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "443")
		}
		cfg := t.tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		cfg = cfg.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = u.Hostname()
		}
		cfg.NextProtos = []string{"http/1.1"}
		d := &tls.Dialer{NetDialer: t.dialer, Config: cfg}
		return d.DialContext(ctx, "tcp", host)
	case "http":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
		return t.dialer.DialContext(ctx, "tcp", host)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrTransportUnavailable, u.Scheme)
	}
}
