// Package zapi speaks the ONTAPI XML management protocol to a NetApp
// storage controller: version discovery, performance object/counter
// metadata, and the two generation-specific instance iteration protocols.
package zapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	apiEndpoint = "/servlets/netapp.servlets.admin.XMLrequest_filer"
	apiVersion  = "1.12"
	apiXMLNS    = "http://www.netapp.com/filer/admin"

	// perfMaxRecords is the page size for iterated instance calls. A page
	// holding exactly this many records means another page must be fetched.
	perfMaxRecords = 500
)

// Config carries connection settings for one controller.
// Params: address host or host:port; credentials and request timeout.
// Returns: client connection options.
type Config struct {
	Address  string
	User     string
	Password string
	Timeout  time.Duration

	// InsecureTLS connects over HTTPS without certificate verification.
	InsecureTLS bool
}

// Client issues ONTAPI requests over HTTP.
// Params: connection settings from Config.
// Returns: reusable transport for one controller.
type Client struct {
	url        string
	user       string
	password   string
	httpClient *http.Client
}

// APIError is a non-zero errno reported by the controller inside a response.
// Params: errno and reason from the results element.
// Returns: error describing the failed call.
type APIError struct {
	Call   string
	Errno  string
	Reason string
}

// Error formats the controller failure.
// Params: none.
// Returns: human-readable error text.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s error %s: %s", e.Call, e.Errno, e.Reason)
}

// NewClient builds an ONTAPI client.
// Params: cfg connection settings.
// Returns: client or error for empty address.
func NewClient(cfg Config) (*Client, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, fmt.Errorf("device address is required")
	}
	if !strings.Contains(address, "://") {
		scheme := "http"
		if cfg.InsecureTLS {
			scheme = "https"
		}
		address = scheme + "://" + address
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.InsecureTLS {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		url:        strings.TrimRight(address, "/") + apiEndpoint,
		user:       cfg.User,
		password:   cfg.Password,
		httpClient: httpClient,
	}, nil
}

// requestEnvelope wraps one API body in the netapp request element.
// Params: body is a typed request struct with its own XMLName.
// Returns: marshalable request document.
type requestEnvelope struct {
	XMLName xml.Name `xml:"netapp"`
	Version string   `xml:"version,attr"`
	XMLNS   string   `xml:"xmlns,attr"`
	Body    any
}

// responseEnvelope captures the results element with its raw payload.
// Params: decoded from the netapp response element.
// Returns: status attributes plus inner XML for a second typed decode.
type responseEnvelope struct {
	XMLName xml.Name   `xml:"netapp"`
	Results rawResults `xml:"results"`
}

type rawResults struct {
	Status string `xml:"status,attr"`
	Errno  string `xml:"errno,attr"`
	Reason string `xml:"reason,attr"`
	Inner  []byte `xml:",innerxml"`
}

// invoke posts one API body and decodes the results payload into out.
// Params: ctx for cancellation; call element name for errors; body typed
// request; out typed results struct (may be nil to discard the payload).
// Returns: transport error, non-passed status as *APIError, or decode error.
func (c *Client) invoke(ctx context.Context, call string, body any, out any) error {
	payload, err := xml.Marshal(requestEnvelope{
		Version: apiVersion,
		XMLNS:   apiXMLNS,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", call, err)
	}

	document := append([]byte(xml.Header), payload...)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(document))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", call, err)
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: POST %s: %w", call, c.url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: POST %s: unexpected status %s", call, c.url, resp.Status)
	}

	var envelope responseEnvelope
	if err := xml.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", call, err)
	}

	if envelope.Results.Status != "passed" {
		return &APIError{
			Call:   call,
			Errno:  envelope.Results.Errno,
			Reason: envelope.Results.Reason,
		}
	}

	if out == nil {
		return nil
	}

	inner := append(append([]byte("<results>"), envelope.Results.Inner...), []byte("</results>")...)
	if err := xml.Unmarshal(inner, out); err != nil {
		return fmt.Errorf("%s: decode results: %w", call, err)
	}
	return nil
}
