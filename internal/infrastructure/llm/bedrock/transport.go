// Package bedrock implements the pipeline.Poster and pipeline.Signer
// collaborators for AWS Bedrock's Anthropic-compatible InvokeModel API.
package bedrock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// HTTPPoster implements pipeline.Poster over a tuned http.Client. The
// generous response-header timeout accommodates long model generations.
type HTTPPoster struct {
	client *http.Client
}

// NewHTTPPoster builds an HTTPPoster with explicit transport timeouts.
func NewHTTPPoster() *HTTPPoster {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &HTTPPoster{client: &http.Client{Transport: transport}}
}

func (p *HTTPPoster) Post(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, http.Header, time.Duration, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, time.Since(start), fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, nil, time.Since(start), err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, resp.Header, time.Since(start), fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, respBody, resp.Header, time.Since(start), nil
}

// CredentialsProvider is the minimal collaborator SigV4Signer needs,
// satisfied by the pipeline's credential store.
type CredentialsProvider interface {
	AccessKeyID() string
	SecretAccessKey() string
	SessionToken() string
}

// SigV4Signer implements pipeline.Signer using aws-sdk-go-v2's v4 signer.
type SigV4Signer struct {
	Creds  CredentialsProvider
	signer *v4.Signer
}

// NewSigV4Signer builds a signer bound to creds.
func NewSigV4Signer(creds CredentialsProvider) *SigV4Signer {
	return &SigV4Signer{Creds: creds, signer: v4.NewSigner()}
}

// Sign computes the AWS SigV4 Authorization header for one request.
func (s *SigV4Signer) Sign(ctx context.Context, method, url string, body []byte, region, service string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request to sign: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	awsCreds, err := awsCredentialsValue(ctx, s.Creds)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	if err := s.signer.SignHTTP(ctx, awsCreds, req, payloadHash, service, region, time.Now()); err != nil {
		return nil, fmt.Errorf("sigv4 sign: %w", err)
	}

	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[k] = req.Header.Get(k)
	}
	return headers, nil
}
